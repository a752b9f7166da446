// Package batchtest provides an in-memory batch API for tests.
package batchtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hochfrequenz/issue-digest/internal/domain"
)

// FakeAPI records uploads and replays a scripted sequence of job statuses.
type FakeAPI struct {
	mu sync.Mutex

	// Statuses are returned by successive RetrieveJob calls; the last one repeats.
	Statuses []domain.JobStatus
	// Output is served as the content of the output file.
	Output []byte
	// Total is reported as the job's request count.
	Total int

	Uploads   map[string][]byte
	Metadata  map[string]string
	Retrieves int
	UploadErr error
}

// New creates a FakeAPI that completes after the given statuses
func New(output []byte, statuses ...domain.JobStatus) *FakeAPI {
	if len(statuses) == 0 {
		statuses = []domain.JobStatus{domain.JobCompleted}
	}
	return &FakeAPI{Statuses: statuses, Output: output, Uploads: map[string][]byte{}}
}

func (f *FakeAPI) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UploadErr != nil {
		return "", f.UploadErr
	}
	f.Uploads[name] = append([]byte(nil), data...)
	return "file-" + name, nil
}

func (f *FakeAPI) CreateJob(ctx context.Context, inputFileID string, metadata map[string]string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Metadata = metadata
	return domain.Job{ID: "batch-1", Status: domain.JobQueued, RawStatus: "validating", Total: f.Total}, nil
}

func (f *FakeAPI) RetrieveJob(ctx context.Context, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "batch-1" {
		return domain.Job{}, fmt.Errorf("unknown batch %s", id)
	}
	i := f.Retrieves
	if i >= len(f.Statuses) {
		i = len(f.Statuses) - 1
	}
	f.Retrieves++

	status := f.Statuses[i]
	job := domain.Job{ID: id, Status: status, RawStatus: string(status), Total: f.Total}
	if status == domain.JobCompleted {
		job.Completed = f.Total
		job.OutputFileID = "file-out"
	}
	return job, nil
}

func (f *FakeAPI) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	if fileID != "file-out" {
		return nil, fmt.Errorf("unknown file %s", fileID)
	}
	return f.Output, nil
}
