package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/hochfrequenz/issue-digest/internal/batch"
	"github.com/hochfrequenz/issue-digest/internal/domain"
)

// Placeholders for results that cannot be matched or carry no content.
const (
	NoURL     = "No URL available"
	NoTitle   = "No title available"
	NoContent = "No content available"
)

// DateLayout renders the digest date, e.g. "November 05, 2024".
const DateLayout = "January 02, 2006"

// Group is the message text for one repository
type Group struct {
	Repository string
	Text       string
}

// Correlate attaches each result to the request with the same custom id.
// Results without a matching request keep placeholders and fall into the
// fallbackRepo group. Output order follows the results.
func Correlate(reqs []batch.Request, resps []batch.Response, fallbackRepo string) []domain.Summary {
	byID := make(map[string]map[string]string, len(reqs))
	for _, r := range reqs {
		byID[r.CustomID] = r.Metadata
	}

	out := make([]domain.Summary, 0, len(resps))
	for _, resp := range resps {
		s := domain.Summary{
			TaskID:     resp.CustomID,
			IssueURL:   NoURL,
			Title:      NoTitle,
			Repository: fallbackRepo,
			Content:    NoContent,
		}
		if md, ok := byID[resp.CustomID]; ok {
			s.IssueURL = valueOr(md["issue_url"], NoURL)
			s.Title = md["title"]
			s.Repository = valueOr(md["repository"], fallbackRepo)
		}
		if content, ok := resp.Content(); ok {
			s.Content = content
		}
		out = append(out, s)
	}
	return out
}

// FormatEntry renders one summary as a Slack mrkdwn block
func FormatEntry(s domain.Summary) string {
	return fmt.Sprintf("*Title:* <%s|[%s]>\n%s\n\n", s.IssueURL, s.Title, s.Content)
}

// Header renders the title line of a repository group
func Header(repo string, date time.Time) string {
	return fmt.Sprintf("*Latest %s Updates (%s)*", shortName(repo), date.Format(DateLayout))
}

// FormatGroups builds one message per repository, in order of first appearance.
func FormatGroups(summaries []domain.Summary, date time.Time) []Group {
	var order []string
	entries := map[string]*strings.Builder{}
	for _, s := range summaries {
		b, ok := entries[s.Repository]
		if !ok {
			b = &strings.Builder{}
			entries[s.Repository] = b
			order = append(order, s.Repository)
		}
		b.WriteString(FormatEntry(s))
	}

	groups := make([]Group, 0, len(order))
	for _, repo := range order {
		groups = append(groups, Group{
			Repository: repo,
			Text:       Header(repo, date) + "\n" + entries[repo].String(),
		})
	}
	return groups
}

func shortName(repo string) string {
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		return repo[i+1:]
	}
	return repo
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
