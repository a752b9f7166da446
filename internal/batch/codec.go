// Package batch submits JSONL chat-completion requests to an OpenAI-compatible
// batch API, polls the job until it finishes and reads back the results.
package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hochfrequenz/issue-digest/internal/log"
)

// ChatCompletionsEndpoint is the endpoint every request line targets
const ChatCompletionsEndpoint = "/v1/chat/completions"

// Request is one line of a batch input file
type Request struct {
	CustomID string            `json:"custom_id"`
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Body     ChatRequest       `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChatRequest is the chat completion body of a request line. Temperature is a
// pointer so that an explicit 0 is still sent.
type ChatRequest struct {
	Model               string                         `json:"model"`
	Messages            []openai.ChatCompletionMessage `json:"messages"`
	Temperature         *float32                       `json:"temperature,omitempty"`
	MaxCompletionTokens int                            `json:"max_completion_tokens,omitempty"`
}

// NewChatRequest builds a request line with a system and a user message
func NewChatRequest(customID, model, system, user string) Request {
	return Request{
		CustomID: customID,
		Method:   "POST",
		URL:      ChatCompletionsEndpoint,
		Body: ChatRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		},
	}
}

// Response is one line of a batch output file
type Response struct {
	ID       string         `json:"id"`
	CustomID string         `json:"custom_id"`
	Response *ResponseBody  `json:"response"`
	Error    *ResponseError `json:"error,omitempty"`
}

// ResponseBody wraps the chat completion returned for a request
type ResponseBody struct {
	StatusCode int                           `json:"status_code"`
	RequestID  string                        `json:"request_id"`
	Body       openai.ChatCompletionResponse `json:"body"`
}

// ResponseError is set when the provider could not process a request
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Content returns the first choice's message content
func (r Response) Content() (string, bool) {
	if r.Response == nil || len(r.Response.Body.Choices) == 0 {
		return "", false
	}
	return r.Response.Body.Choices[0].Message.Content, true
}

// EncodeRequests writes one JSON object per line
func EncodeRequests(w io.Writer, reqs []Request) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, req := range reqs {
		if err := enc.Encode(req); err != nil {
			return fmt.Errorf("encode %s: %w", req.CustomID, err)
		}
	}
	return nil
}

// MarshalRequests returns the JSONL encoding of reqs
func MarshalRequests(reqs []Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeRequests(&buf, reqs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteRequests stores reqs as a JSONL file
func WriteRequests(path string, reqs []Request) error {
	data, err := MarshalRequests(reqs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write batch input: %w", err)
	}
	return nil
}

// ReadRequests loads a JSONL batch input file
func ReadRequests(path string) ([]Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch input: %w", err)
	}
	defer f.Close()

	var reqs []Request
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return nil, fmt.Errorf("parse batch input line: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, scanner.Err()
}

// ParseResponses decodes a JSONL batch output. Malformed lines are logged and
// skipped.
func ParseResponses(data []byte) []Response {
	var out []Response
	for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			log.Warn("error parsing batch output line", "line", i+1, "err", err)
			continue
		}
		out = append(out, resp)
	}
	return out
}

// ReadResponses loads and parses a JSONL batch output file
func ReadResponses(path string) ([]Response, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch results: %w", err)
	}
	return ParseResponses(data), nil
}
