package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/issue-digest/internal/domain"
	"github.com/hochfrequenz/issue-digest/internal/log"
)

// DefaultPollInterval is the wait between status checks
const DefaultPollInterval = 10 * time.Second

// Submit uploads a JSONL input and creates a job for it
func Submit(ctx context.Context, api API, name string, data []byte, metadata map[string]string) (domain.Job, error) {
	fileID, err := api.UploadFile(ctx, name, data)
	if err != nil {
		return domain.Job{}, err
	}
	log.Info("batch file uploaded", "file_id", fileID, "size", humanize.Bytes(uint64(len(data))))

	job, err := api.CreateJob(ctx, fileID, metadata)
	if err != nil {
		return domain.Job{}, err
	}
	log.Info("batch request submitted", "batch_id", job.ID)
	return job, nil
}

// SubmitFile reads a JSONL file from disk and submits it
func SubmitFile(ctx context.Context, api API, path string, metadata map[string]string) (domain.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Job{}, fmt.Errorf("read batch input: %w", err)
	}
	return Submit(ctx, api, filepath.Base(path), data, metadata)
}

// Wait polls the job every interval until it reaches a terminal status.
// There is no overall timeout; only ctx stops it early. onUpdate, if set,
// sees every observed snapshot.
func Wait(ctx context.Context, api API, id string, interval time.Duration, onUpdate func(domain.Job)) (domain.Job, error) {
	for {
		job, err := api.RetrieveJob(ctx, id)
		if err != nil {
			return domain.Job{}, err
		}
		log.Info("batch status", "batch_id", id, "status", job.RawStatus,
			"completed", job.Completed, "total", job.Total)
		if onUpdate != nil {
			onUpdate(job)
		}
		if job.Status.Terminal() {
			return job, nil
		}

		if err := sleep(ctx, interval); err != nil {
			return job, err
		}
	}
}

// Download fetches the output file of a completed job
func Download(ctx context.Context, api API, job domain.Job) ([]byte, error) {
	if job.Status != domain.JobCompleted {
		return nil, fmt.Errorf("batch %s finished with status %s", job.ID, job.Status)
	}
	if job.OutputFileID == "" {
		return nil, fmt.Errorf("batch %s has no output file", job.ID)
	}
	return api.FileContent(ctx, job.OutputFileID)
}

// SaveResults downloads the output of a completed job into path
func SaveResults(ctx context.Context, api API, job domain.Job, path string) error {
	data, err := Download(ctx, api, job)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write batch results: %w", err)
	}
	log.Info("results saved", "path", path, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
