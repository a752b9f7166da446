package issues

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/hochfrequenz/issue-digest/internal/config"
	"github.com/hochfrequenz/issue-digest/internal/domain"
	"github.com/hochfrequenz/issue-digest/internal/log"
	"github.com/hochfrequenz/issue-digest/internal/tokens"
)

// CommentSeparator joins comment bodies in the aggregated text
const CommentSeparator = "\n---\n"

const defaultPerPage = 100

// Fetcher lists updated issues and their comments through the GitHub REST API.
type Fetcher struct {
	client  *github.Client
	config  config.GitHubConfig
	counter tokens.Counter
	budget  int
	perPage int
}

// NewClient creates a GitHub client authenticated with a static token.
// baseURL may point at GitHub Enterprise or a test server.
func NewClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	var httpClient *http.Client
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, src)
	}
	client := github.NewClient(httpClient)

	if baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

// NewFetcher creates a Fetcher. budget bounds the tokens of aggregated comments.
func NewFetcher(client *github.Client, cfg config.GitHubConfig, counter tokens.Counter, budget int) *Fetcher {
	return &Fetcher{
		client:  client,
		config:  cfg,
		counter: counter,
		budget:  budget,
		perPage: defaultPerPage,
	}
}

// FetchUpdated returns issues created or updated since the given time, for
// the configured repository or for every repository of the organization.
// Listing errors are logged and the issues gathered so far are returned.
func (f *Fetcher) FetchUpdated(ctx context.Context, since time.Time) ([]domain.Issue, error) {
	log.Info("fetching github issues", "since", since.Format(time.RFC3339), "age", humanize.Time(since))

	if f.config.Org == "" {
		return f.repoIssues(ctx, f.config.Owner, f.config.Repo, since), nil
	}

	repos, err := f.orgRepos(ctx, f.config.Org)
	if err != nil {
		log.Error("error fetching organization repositories", "org", f.config.Org, "err", err)
	}

	var all []domain.Issue
	for _, repo := range repos {
		all = append(all, f.repoIssues(ctx, f.config.Org, repo, since)...)
	}
	return all, nil
}

func (f *Fetcher) repoIssues(ctx context.Context, owner, repo string, since time.Time) []domain.Issue {
	ghIssues, err := paginate(ctx, func(page int) ([]*github.Issue, error) {
		opts := &github.IssueListByRepoOptions{
			State:       f.config.State,
			Since:       since,
			ListOptions: github.ListOptions{Page: page, PerPage: f.perPage},
		}
		items, _, err := f.client.Issues.ListByRepo(ctx, owner, repo, opts)
		return items, err
	})
	if err != nil {
		log.Error("error fetching github issues", "repo", owner+"/"+repo, "err", err, "kept", len(ghIssues))
	}

	out := make([]domain.Issue, 0, len(ghIssues))
	for _, gh := range ghIssues {
		out = append(out, toIssue(gh, owner, repo))
	}
	return out
}

func (f *Fetcher) orgRepos(ctx context.Context, org string) ([]string, error) {
	repos, err := paginate(ctx, func(page int) ([]*github.Repository, error) {
		opts := &github.RepositoryListByOrgOptions{
			ListOptions: github.ListOptions{Page: page, PerPage: f.perPage},
		}
		items, _, err := f.client.Repositories.ListByOrg(ctx, org, opts)
		return items, err
	})

	names := make([]string, 0, len(repos))
	for _, r := range repos {
		if r.GetArchived() {
			continue
		}
		names = append(names, r.GetName())
	}
	return names, err
}

func toIssue(gh *github.Issue, owner, repo string) domain.Issue {
	return domain.Issue{
		Number:       gh.GetNumber(),
		Title:        gh.GetTitle(),
		Body:         gh.GetBody(),
		URL:          gh.GetHTMLURL(),
		CommentCount: gh.GetComments(),
		Owner:        owner,
		Repo:         repo,
	}
}

// CommentText concatenates the issue's comments, separated by "---" lines.
// Comments are added in order until the next one would push the running
// token total over the budget.
func (f *Fetcher) CommentText(ctx context.Context, issue domain.Issue) (string, error) {
	var text string
	used := 0
	for page := 1; ; page++ {
		opts := &github.IssueListCommentsOptions{
			ListOptions: github.ListOptions{Page: page, PerPage: f.perPage},
		}
		comments, _, err := f.client.Issues.ListComments(ctx, issue.Owner, issue.Repo, issue.Number, opts)
		if err != nil {
			return "", fmt.Errorf("list comments for %s#%d: %w", issue.FullName(), issue.Number, err)
		}
		if len(comments) == 0 {
			return text, nil
		}

		for _, c := range comments {
			next, total, ok := AppendWithinBudget(text, used, c.GetBody(), f.counter, f.budget)
			if !ok {
				log.Info("token limit reached for comments", "issue", issue.URL, "budget", f.budget, "used", used)
				return text, nil
			}
			text, used = next, total
		}
	}
}

// AppendWithinBudget appends body to text with the comment separator. used
// is the token count already spent on text; only the separator and body are
// counted, so long threads stay linear. It reports false, leaving text and
// used unchanged, when the new total would exceed budget.
func AppendWithinBudget(text string, used int, body string, counter tokens.Counter, budget int) (string, int, bool) {
	cost := counter.Count(body)
	candidate := body
	if text != "" {
		cost += counter.Count(CommentSeparator)
		candidate = text + CommentSeparator + body
	}
	if used+cost > budget {
		return text, used, false
	}
	return candidate, used + cost, true
}

// paginate requests pages starting at 1 until a page comes back empty. On
// error it returns the items collected so far.
func paginate[T any](ctx context.Context, fetch func(page int) ([]T, error)) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		items, err := fetch(page)
		if err != nil {
			return all, err
		}
		if len(items) == 0 {
			return all, nil
		}
		all = append(all, items...)
	}
}
