package domain

import "fmt"

// TaskID returns the correlation identifier of the n-th task (1-based) in a submission.
func TaskID(n int) string {
	return fmt.Sprintf("issue-%d", n)
}

// Task is one summarization request. ID must be unique within a submission.
type Task struct {
	ID           string
	Model        string
	SystemPrompt string
	UserPrompt   string
	IssueURL     string
	Title        string
	Repository   string
}

// Metadata returns the fields needed to re-attach a result to its issue.
func (t Task) Metadata() map[string]string {
	return map[string]string{
		"issue_url":  t.IssueURL,
		"title":      t.Title,
		"repository": t.Repository,
	}
}

// Summary is a generated text matched back to the task that requested it.
type Summary struct {
	TaskID     string
	IssueURL   string
	Title      string
	Repository string
	Content    string
}
