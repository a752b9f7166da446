// Package digest runs one pass of the issue summarizer: fetch recently
// updated issues, summarize them in a single batch job and post the
// summaries to Slack grouped by repository.
package digest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/issue-digest/internal/batch"
	"github.com/hochfrequenz/issue-digest/internal/config"
	"github.com/hochfrequenz/issue-digest/internal/domain"
	"github.com/hochfrequenz/issue-digest/internal/log"
	"github.com/hochfrequenz/issue-digest/internal/notify"
	"github.com/hochfrequenz/issue-digest/internal/prompts"
)

// File names of the batch input and output, relative to the work dir.
const (
	InputFile   = "batch_input.jsonl"
	ResultsFile = "batch_results.jsonl"
)

// IssueSource lists updated issues and their comments
type IssueSource interface {
	FetchUpdated(ctx context.Context, since time.Time) ([]domain.Issue, error)
	CommentText(ctx context.Context, issue domain.Issue) (string, error)
}

// LastRun persists the time of the previous submission
type LastRun interface {
	Read() time.Time
	Touch() error
}

// Options are the config values a run needs
type Options struct {
	Model        string
	Channel      string
	MessageLimit int
	PollInterval time.Duration
	WorkDir      string
	// Repository labels results that cannot be matched to an issue.
	Repository string
}

// OptionsFromConfig extracts the run options from a loaded config
func OptionsFromConfig(cfg *config.Config) Options {
	repo := cfg.GitHub.Org
	if repo == "" {
		repo = cfg.GitHub.Owner + "/" + cfg.GitHub.Repo
	}
	return Options{
		Model:        cfg.LLM.Model,
		Channel:      cfg.Slack.Channel,
		MessageLimit: cfg.Limits.MessageChars,
		PollInterval: cfg.LLM.PollInterval.Std(),
		WorkDir:      cfg.State.Dir,
		Repository:   repo,
	}
}

// Deps are the collaborators of a Pipeline
type Deps struct {
	Issues   IssueSource
	Batch    batch.API
	Poster   notify.Poster
	Notifier notify.Notifier
	Prompts  *prompts.Loader
	LastRun  LastRun
}

// Pipeline runs the digest end to end
type Pipeline struct {
	opts     Options
	issues   IssueSource
	api      batch.API
	poster   notify.Poster
	notifier notify.Notifier
	prompts  *prompts.Loader
	lastRun  LastRun

	now func() time.Time
}

// New creates a Pipeline. A nil Notifier disables alerts and a nil Prompts
// loader uses the embedded defaults.
func New(opts Options, deps Deps) *Pipeline {
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = notify.DefaultMessageLimit
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = batch.DefaultPollInterval
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NoopNotifier{}
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.NewLoader()
	}
	return &Pipeline{
		opts:     opts,
		issues:   deps.Issues,
		api:      deps.Batch,
		poster:   deps.Poster,
		notifier: deps.Notifier,
		prompts:  deps.Prompts,
		lastRun:  deps.LastRun,
		now:      time.Now,
	}
}

// InputPath is where the batch input of the current run is written
func (p *Pipeline) InputPath() string { return filepath.Join(p.opts.WorkDir, InputFile) }

// ResultsPath is where the batch output of the current run is written
func (p *Pipeline) ResultsPath() string { return filepath.Join(p.opts.WorkDir, ResultsFile) }

// Run executes one digest pass. Returning nil does not imply anything was
// posted: no new issues and failed jobs both end the run quietly.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := uuid.NewString()
	since := p.lastRun.Read()
	log.Info("digest run started", "run_id", runID)

	found, err := p.issues.FetchUpdated(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch issues: %w", err)
	}
	if len(found) == 0 {
		log.Info("no new issues to report", "run_id", runID)
		return nil
	}
	log.Info("issues fetched", "run_id", runID, "count", len(found))

	tasks, err := p.BuildTasks(ctx, found)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.opts.WorkDir, 0755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	if err := batch.WriteRequests(p.InputPath(), Requests(tasks)); err != nil {
		return err
	}

	job, err := batch.SubmitFile(ctx, p.api, p.InputPath(), map[string]string{"run_id": runID})
	if err != nil {
		return fmt.Errorf("submit batch: %w", err)
	}
	if err := p.lastRun.Touch(); err != nil {
		return fmt.Errorf("record last run: %w", err)
	}

	batchID := job.ID
	job, err = batch.Wait(ctx, p.api, batchID, p.opts.PollInterval, nil)
	if err != nil {
		return fmt.Errorf("wait for batch %s: %w", batchID, err)
	}
	if job.Status != domain.JobCompleted {
		log.Error("batch did not complete", "run_id", runID, "batch_id", job.ID, "status", job.RawStatus)
		p.alert(ctx, job)
		return nil
	}

	if err := batch.SaveResults(ctx, p.api, job, p.ResultsPath()); err != nil {
		return err
	}
	return p.PostResults(ctx)
}

// BuildTasks turns issues into summarization tasks numbered from 1.
// Comments are fetched only for issues that have some.
func (p *Pipeline) BuildTasks(ctx context.Context, found []domain.Issue) ([]domain.Task, error) {
	system, err := p.prompts.SystemPrompt()
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.Task, 0, len(found))
	for i, issue := range found {
		var comments string
		if issue.HasComments() {
			comments, err = p.issues.CommentText(ctx, issue)
			if err != nil {
				return nil, err
			}
		}
		user, err := p.prompts.UserPrompt(prompts.IssueData{
			Title:    issue.Title,
			Body:     issue.Body,
			Comments: comments,
		})
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, domain.Task{
			ID:           domain.TaskID(i + 1),
			Model:        p.opts.Model,
			SystemPrompt: system,
			UserPrompt:   user,
			IssueURL:     issue.URL,
			Title:        issue.Title,
			Repository:   issue.FullName(),
		})
	}
	return tasks, nil
}

// Requests converts tasks into batch request lines
func Requests(tasks []domain.Task) []batch.Request {
	reqs := make([]batch.Request, 0, len(tasks))
	for _, t := range tasks {
		req := batch.NewChatRequest(t.ID, t.Model, t.SystemPrompt, t.UserPrompt)
		req.Metadata = t.Metadata()
		reqs = append(reqs, req)
	}
	return reqs
}

// PostResults correlates the files of the last run and posts one message
// per repository. Posting failures are logged, not returned.
func (p *Pipeline) PostResults(ctx context.Context) error {
	reqs, err := batch.ReadRequests(p.InputPath())
	if err != nil {
		return err
	}
	resps, err := batch.ReadResponses(p.ResultsPath())
	if err != nil {
		return err
	}

	summaries := Correlate(reqs, resps, p.opts.Repository)
	var errs []error
	for _, g := range FormatGroups(summaries, p.now()) {
		n, err := notify.PostChunked(ctx, p.poster, p.opts.Channel, g.Text, p.opts.MessageLimit)
		if err != nil {
			errs = append(errs, err)
		}
		log.Info("digest posted", "repository", g.Repository, "messages", n)
	}
	if err := errors.Join(errs...); err != nil {
		log.Error("some digest messages were not posted", "err", err)
	}
	return nil
}

func (p *Pipeline) alert(ctx context.Context, job domain.Job) {
	n := notify.Notification{
		Title: "Issue digest batch did not complete",
		Message: fmt.Sprintf("Batch %s ended with status %s (%d of %d requests completed)",
			job.ID, job.RawStatus, job.Completed, job.Total),
		Type:  notify.NotifyError,
		JobID: job.ID,
	}
	if err := p.notifier.Send(ctx, n); err != nil {
		log.Warn("failed to send alert", "err", err)
	}
}
