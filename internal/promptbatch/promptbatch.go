// Package promptbatch runs an arbitrary table of prompts through the batch
// API: one chat completion per row, submitted, monitored and collected.
package promptbatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hochfrequenz/issue-digest/internal/batch"
	"github.com/hochfrequenz/issue-digest/internal/domain"
	"github.com/hochfrequenz/issue-digest/internal/log"
)

// DefaultMaxCompletionTokens caps each answer unless Options say otherwise
const DefaultMaxCompletionTokens = 100

// Row is one record of the input table, keyed by column name
type Row map[string]string

// Options tune the generated requests
type Options struct {
	Temperature         float32
	MaxCompletionTokens int
}

// DefaultOptions returns deterministic, short completions
func DefaultOptions() Options {
	return Options{Temperature: 0, MaxCompletionTokens: DefaultMaxCompletionTokens}
}

// CreateTasks builds one request per row with the row's column value as the
// user message. Ids are "<taskType>-<row index>".
func CreateTasks(rows []Row, taskType, systemPrompt, model, column string, opts Options) ([]batch.Request, error) {
	if opts.MaxCompletionTokens <= 0 {
		opts.MaxCompletionTokens = DefaultMaxCompletionTokens
	}

	tasks := make([]batch.Request, 0, len(rows))
	for i, row := range rows {
		content, ok := row[column]
		if !ok {
			return nil, fmt.Errorf("row %d has no column %q", i, column)
		}
		req := batch.NewChatRequest(fmt.Sprintf("%s-%d", taskType, i), model, systemPrompt, content)
		temp := opts.Temperature
		req.Body.Temperature = &temp
		req.Body.MaxCompletionTokens = opts.MaxCompletionTokens
		tasks = append(tasks, req)
	}
	return tasks, nil
}

// TaskFileName is the JSONL file name used for a task type
func TaskFileName(taskType string) string {
	return fmt.Sprintf("batch_tasks_%s.jsonl", taskType)
}

// SaveTasks writes tasks to dir and returns the file path
func SaveTasks(dir string, tasks []batch.Request, taskType string) (string, error) {
	path := filepath.Join(dir, TaskFileName(taskType))
	if err := batch.WriteRequests(path, tasks); err != nil {
		return "", err
	}
	return path, nil
}

// CreateJob uploads a saved task file and starts a batch job for it
func CreateJob(ctx context.Context, api batch.API, path string) (domain.Job, error) {
	log.Info("creating batch job", "file", path)
	return batch.SubmitFile(ctx, api, path, nil)
}

// StatusLine renders the progress line printed while monitoring
func StatusLine(taskType string, job domain.Job) string {
	if job.Status == domain.JobCompleted {
		return fmt.Sprintf("%s job completed!", capitalize(taskType))
	}
	return fmt.Sprintf("%s job status: %s - Progress: %d/%d",
		capitalize(taskType), job.RawStatus, job.Completed, job.Total)
}

// Monitor polls the job until it is terminal, writing a status line to w on
// every poll. A job that ends in anything but completed is an error.
func Monitor(ctx context.Context, api batch.API, id, taskType string, interval time.Duration, w io.Writer) (domain.Job, error) {
	job, err := batch.Wait(ctx, api, id, interval, func(j domain.Job) {
		fmt.Fprintln(w, StatusLine(taskType, j))
	})
	if err != nil {
		return job, err
	}
	if job.Status != domain.JobCompleted {
		return job, fmt.Errorf("%s job %s ended with status %s", taskType, id, job.RawStatus)
	}
	return job, nil
}

// GetResponses downloads and parses the output of a completed job
func GetResponses(ctx context.Context, api batch.API, id string) ([]batch.Response, error) {
	job, err := api.RetrieveJob(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := batch.Download(ctx, api, job)
	if err != nil {
		return nil, err
	}
	return batch.ParseResponses(data), nil
}

// GetResults returns the answer of every output line in output order. Lines
// without a completion yield an empty answer.
func GetResults(ctx context.Context, api batch.API, id string) ([]string, error) {
	resps, err := GetResponses(ctx, api, id)
	if err != nil {
		return nil, err
	}
	answers := make([]string, 0, len(resps))
	for _, r := range resps {
		content, _ := r.Content()
		answers = append(answers, content)
	}
	return answers, nil
}

// capitalize upper-cases the first letter and lower-cases the rest
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// Run saves, submits and monitors tasks, returning the completed job whose
// output GetResults or GetResponses can collect.
func Run(ctx context.Context, api batch.API, dir string, tasks []batch.Request, taskType string, interval time.Duration, w io.Writer) (domain.Job, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return domain.Job{}, fmt.Errorf("create output dir: %w", err)
	}
	path, err := SaveTasks(dir, tasks, taskType)
	if err != nil {
		return domain.Job{}, err
	}
	job, err := CreateJob(ctx, api, path)
	if err != nil {
		return domain.Job{}, err
	}
	return Monitor(ctx, api, job.ID, taskType, interval, w)
}
