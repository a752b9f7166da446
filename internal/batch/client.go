package batch

import (
	"context"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/hochfrequenz/issue-digest/internal/domain"
)

// DefaultCompletionWindow is the processing window requested for every job
const DefaultCompletionWindow = "24h"

// API is the subset of an OpenAI-compatible batch API the digest needs.
type API interface {
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	CreateJob(ctx context.Context, inputFileID string, metadata map[string]string) (domain.Job, error)
	RetrieveJob(ctx context.Context, id string) (domain.Job, error)
	FileContent(ctx context.Context, fileID string) ([]byte, error)
}

// OpenAIClient implements API with go-openai
type OpenAIClient struct {
	client *openai.Client
	window string
}

// NewOpenAIClient creates a client for the batch endpoint at baseURL
// (for example https://api.kluster.ai/v1).
func NewOpenAIClient(baseURL, apiKey, completionWindow string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if completionWindow == "" {
		completionWindow = DefaultCompletionWindow
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		window: completionWindow,
	}
}

// UploadFile uploads a JSONL file with purpose "batch"
func (c *OpenAIClient) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	file, err := c.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeBatch,
	})
	if err != nil {
		return "", fmt.Errorf("upload batch file: %w", err)
	}
	return file.ID, nil
}

// CreateJob creates a chat completions batch job for an uploaded file
func (c *OpenAIClient) CreateJob(ctx context.Context, inputFileID string, metadata map[string]string) (domain.Job, error) {
	req := openai.CreateBatchRequest{
		InputFileID:      inputFileID,
		Endpoint:         openai.BatchEndpointChatCompletions,
		CompletionWindow: c.window,
	}
	if len(metadata) > 0 {
		req.Metadata = make(map[string]any, len(metadata))
		for k, v := range metadata {
			req.Metadata[k] = v
		}
	}

	resp, err := c.client.CreateBatch(ctx, req)
	if err != nil {
		return domain.Job{}, fmt.Errorf("create batch: %w", err)
	}
	return toJob(resp.Batch), nil
}

// RetrieveJob fetches the current job state
func (c *OpenAIClient) RetrieveJob(ctx context.Context, id string) (domain.Job, error) {
	resp, err := c.client.RetrieveBatch(ctx, id)
	if err != nil {
		return domain.Job{}, fmt.Errorf("retrieve batch %s: %w", id, err)
	}
	return toJob(resp.Batch), nil
}

// FileContent downloads a file, typically the job's output file
func (c *OpenAIClient) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	raw, err := c.client.GetFileContent(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("get file content %s: %w", fileID, err)
	}
	defer raw.Close()

	data, err := io.ReadAll(raw)
	if err != nil {
		return nil, fmt.Errorf("read file content %s: %w", fileID, err)
	}
	return data, nil
}

func toJob(b openai.Batch) domain.Job {
	job := domain.Job{
		ID:        b.ID,
		RawStatus: string(b.Status),
		Status:    domain.ParseJobStatus(string(b.Status)),
		Total:     b.RequestCounts.Total,
		Completed: b.RequestCounts.Completed,
		Failed:    b.RequestCounts.Failed,
	}
	if b.OutputFileID != nil {
		job.OutputFileID = *b.OutputFileID
	}
	if b.ErrorFileID != nil {
		job.ErrorFileID = *b.ErrorFileID
	}
	return job
}
