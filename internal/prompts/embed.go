// Package prompts provides the summarization prompts with override support.
package prompts

import "embed"

//go:embed summarize/*.md
var embeddedFS embed.FS
