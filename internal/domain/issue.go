package domain

import "fmt"

// Issue is a GitHub issue updated since the last run
type Issue struct {
	Number       int
	Title        string
	Body         string
	URL          string
	CommentCount int
	Owner        string
	Repo         string
}

// FullName returns "owner/repo"
func (i Issue) FullName() string {
	if i.Owner == "" {
		return i.Repo
	}
	return fmt.Sprintf("%s/%s", i.Owner, i.Repo)
}

// HasComments reports whether comments need to be fetched
func (i Issue) HasComments() bool {
	return i.CommentCount > 0
}
