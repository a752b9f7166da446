package digest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/hochfrequenz/issue-digest/internal/batch"
	"github.com/hochfrequenz/issue-digest/internal/batch/batchtest"
	"github.com/hochfrequenz/issue-digest/internal/domain"
	"github.com/hochfrequenz/issue-digest/internal/notify"
)

var digestDate = time.Date(2024, 11, 5, 9, 0, 0, 0, time.UTC)

func response(customID, content string) batch.Response {
	return batch.Response{
		ID:       "resp-" + customID,
		CustomID: customID,
		Response: &batch.ResponseBody{
			StatusCode: 200,
			Body: openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{{
					Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				}},
			},
		},
	}
}

func outputJSONL(t *testing.T, resps ...batch.Response) []byte {
	t.Helper()
	var b strings.Builder
	for _, r := range resps {
		line, err := json.Marshal(r)
		if err != nil {
			t.Fatal(err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

type fakeIssues struct {
	issues   []domain.Issue
	comments map[int]string
	err      error

	commentCalls []int
}

func (f *fakeIssues) FetchUpdated(ctx context.Context, since time.Time) ([]domain.Issue, error) {
	return f.issues, f.err
}

func (f *fakeIssues) CommentText(ctx context.Context, issue domain.Issue) (string, error) {
	f.commentCalls = append(f.commentCalls, issue.Number)
	return f.comments[issue.Number], nil
}

type fakeLastRun struct {
	since   time.Time
	touched int
}

func (f *fakeLastRun) Read() time.Time { return f.since }
func (f *fakeLastRun) Touch() error    { f.touched++; return nil }

type post struct {
	channel, text string
}

type recordingPoster struct {
	mu    sync.Mutex
	posts []post
}

func (r *recordingPoster) Post(ctx context.Context, channel, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, post{channel, text})
	return nil
}

type recordingNotifier struct {
	sent []notify.Notification
}

func (r *recordingNotifier) Send(ctx context.Context, n notify.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

type harness struct {
	pipeline *Pipeline
	issues   *fakeIssues
	api      *batchtest.FakeAPI
	poster   *recordingPoster
	notifier *recordingNotifier
	lastRun  *fakeLastRun
}

func newHarness(t *testing.T, issues *fakeIssues, api *batchtest.FakeAPI) *harness {
	t.Helper()
	h := &harness{
		issues:   issues,
		api:      api,
		poster:   &recordingPoster{},
		notifier: &recordingNotifier{},
		lastRun:  &fakeLastRun{since: digestDate.Add(-24 * time.Hour)},
	}
	h.pipeline = New(Options{
		Model:        "klusterai/Meta-Llama-3.1-8B-Instruct-Turbo",
		Channel:      "#issues",
		PollInterval: time.Millisecond,
		WorkDir:      t.TempDir(),
		Repository:   "acme/api",
	}, Deps{
		Issues:   issues,
		Batch:    api,
		Poster:   h.poster,
		Notifier: h.notifier,
		LastRun:  h.lastRun,
	})
	h.pipeline.now = func() time.Time { return digestDate }
	return h
}

func twoIssues() *fakeIssues {
	return &fakeIssues{
		issues: []domain.Issue{
			{Number: 11, Title: "Crash on start", Body: "panic", URL: "https://github.com/acme/api/issues/11", CommentCount: 3, Owner: "acme", Repo: "api"},
			{Number: 12, Title: "Docs typo", Body: "teh", URL: "https://github.com/acme/api/issues/12", Owner: "acme", Repo: "api"},
		},
		comments: map[int]string{11: "me too\n---\nsame here\n---\nfixed in main"},
	}
}

func TestRun_EndToEnd(t *testing.T) {
	issues := twoIssues()
	api := batchtest.New(nil, domain.JobQueued, domain.JobRunning, domain.JobCompleted)
	api.Output = outputJSONL(t, response("issue-2", "Typo in docs."), response("issue-1", "Startup crash."))
	api.Total = 2
	h := newHarness(t, issues, api)

	if err := h.pipeline.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(issues.commentCalls) != 1 || issues.commentCalls[0] != 11 {
		t.Errorf("comment fetches = %v, want only issue 11", issues.commentCalls)
	}
	if h.lastRun.touched != 1 {
		t.Errorf("last run touched %d times, want 1", h.lastRun.touched)
	}
	if _, err := uuid.Parse(api.Metadata["run_id"]); err != nil {
		t.Errorf("run_id %q is not a uuid: %v", api.Metadata["run_id"], err)
	}
	if api.Retrieves != 3 {
		t.Errorf("polls = %d, want 3", api.Retrieves)
	}

	reqs, err := batch.ReadRequests(h.pipeline.InputPath())
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 2 {
		t.Fatalf("tasks = %d, want 2", len(reqs))
	}
	if reqs[0].CustomID != "issue-1" || reqs[1].CustomID != "issue-2" {
		t.Errorf("ids = %s, %s", reqs[0].CustomID, reqs[1].CustomID)
	}
	user := reqs[0].Body.Messages[1].Content
	if user != "Title: Crash on start. Body: panic. Comments: me too\n---\nsame here\n---\nfixed in main" {
		t.Errorf("user message = %q", user)
	}
	if got := reqs[1].Body.Messages[1].Content; got != "Title: Docs typo. Body: teh. Comments: " {
		t.Errorf("user message without comments = %q", got)
	}
	if reqs[0].Metadata["repository"] != "acme/api" || reqs[0].Metadata["title"] != "Crash on start" {
		t.Errorf("metadata = %v", reqs[0].Metadata)
	}
	if _, ok := api.Uploads[InputFile]; !ok {
		t.Errorf("uploads = %v, want %s", api.Uploads, InputFile)
	}
	if _, err := os.Stat(h.pipeline.ResultsPath()); err != nil {
		t.Errorf("results file: %v", err)
	}

	if len(h.poster.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(h.poster.posts))
	}
	p := h.poster.posts[0]
	if p.channel != "#issues" {
		t.Errorf("channel = %q", p.channel)
	}
	want := "*Latest api Updates (November 05, 2024)*\n" +
		"*Title:* <https://github.com/acme/api/issues/12|[Docs typo]>\nTypo in docs.\n\n" +
		"*Title:* <https://github.com/acme/api/issues/11|[Crash on start]>\nStartup crash."
	if p.text != want {
		t.Errorf("message = %q\nwant      %q", p.text, want)
	}
	if len(h.notifier.sent) != 0 {
		t.Errorf("unexpected alerts: %v", h.notifier.sent)
	}
}

func TestRun_GroupsByRepository(t *testing.T) {
	issues := &fakeIssues{issues: []domain.Issue{
		{Number: 1, Title: "a", URL: "u1", Owner: "acme", Repo: "api"},
		{Number: 2, Title: "b", URL: "u2", Owner: "acme", Repo: "web"},
		{Number: 3, Title: "c", URL: "u3", Owner: "acme", Repo: "api"},
	}}
	api := batchtest.New(outputJSONL(t,
		response("issue-1", "one"), response("issue-2", "two"), response("issue-3", "three")))
	h := newHarness(t, issues, api)

	if err := h.pipeline.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.poster.posts) != 2 {
		t.Fatalf("posts = %d, want 2", len(h.poster.posts))
	}
	if !strings.HasPrefix(h.poster.posts[0].text, "*Latest api Updates") ||
		!strings.Contains(h.poster.posts[0].text, "three") {
		t.Errorf("first message = %q", h.poster.posts[0].text)
	}
	if !strings.HasPrefix(h.poster.posts[1].text, "*Latest web Updates") {
		t.Errorf("second message = %q", h.poster.posts[1].text)
	}
}

func TestRun_ChunksLongDigest(t *testing.T) {
	line := strings.Repeat("x", 999)
	long := strings.TrimSuffix(strings.Repeat(line+"\n", 60), "\n")

	issues := &fakeIssues{issues: []domain.Issue{{Number: 1, Title: "big", URL: "u", Owner: "acme", Repo: "api"}}}
	api := batchtest.New(outputJSONL(t, response("issue-1", long)))
	h := newHarness(t, issues, api)

	if err := h.pipeline.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.poster.posts) < 2 {
		t.Fatalf("posts = %d, want the digest split over several messages", len(h.poster.posts))
	}
	total := 0
	for i, p := range h.poster.posts {
		if n := len([]rune(p.text)); n > notify.DefaultMessageLimit {
			t.Errorf("message %d has %d chars", i, n)
		}
		total += strings.Count(p.text, line)
	}
	if total != 60 {
		t.Errorf("lines posted = %d, want 60", total)
	}
}

func TestRun_NoIssues(t *testing.T) {
	api := batchtest.New(nil)
	h := newHarness(t, &fakeIssues{}, api)

	if err := h.pipeline.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(api.Uploads) != 0 || api.Retrieves != 0 {
		t.Error("nothing should be submitted without issues")
	}
	if h.lastRun.touched != 0 {
		t.Error("last run should not move without a submission")
	}
	if len(h.poster.posts) != 0 {
		t.Errorf("posts = %d, want 0", len(h.poster.posts))
	}
}

func TestRun_FailedJobAlerts(t *testing.T) {
	for _, status := range []domain.JobStatus{domain.JobFailed, domain.JobCanceled} {
		t.Run(string(status), func(t *testing.T) {
			api := batchtest.New(nil, domain.JobRunning, status)
			h := newHarness(t, twoIssues(), api)

			if err := h.pipeline.Run(context.Background()); err != nil {
				t.Fatalf("Run() = %v, want nil", err)
			}
			if len(h.poster.posts) != 0 {
				t.Errorf("posts = %d, want 0", len(h.poster.posts))
			}
			if len(h.notifier.sent) != 1 {
				t.Fatalf("alerts = %d, want 1", len(h.notifier.sent))
			}
			if n := h.notifier.sent[0]; n.Type != notify.NotifyError || n.JobID != "batch-1" {
				t.Errorf("alert = %+v", n)
			}
			if h.lastRun.touched != 1 {
				t.Error("last run is recorded once the job exists")
			}
			if _, err := os.Stat(h.pipeline.ResultsPath()); !os.IsNotExist(err) {
				t.Errorf("results file should not exist, stat err = %v", err)
			}
		})
	}
}

func TestRun_FetchError(t *testing.T) {
	h := newHarness(t, &fakeIssues{err: errors.New("boom")}, batchtest.New(nil))
	if err := h.pipeline.Run(context.Background()); err == nil {
		t.Error("expected fetch error")
	}
}

func TestRun_CanceledWhilePolling(t *testing.T) {
	api := batchtest.New(nil, domain.JobRunning)
	h := newHarness(t, twoIssues(), api)
	h.pipeline.opts.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := h.pipeline.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}
