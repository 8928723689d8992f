// Package git reads checkout revisions for build metadata.
package git

import (
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
)

// ErrNotRepository is returned when no .git is found at or above a path.
var ErrNotRepository = errors.New("not a git repository")

// Revision describes the checked out commit of a repository.
type Revision struct {
	Commit  string `json:"commit"`
	Branch  string `json:"branch,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Short returns the abbreviated commit hash.
func (r Revision) Short() string {
	if len(r.Commit) > 12 {
		return r.Commit[:12]
	}
	return r.Commit
}

// Describe opens the repository containing path, searching parent
// directories, and reports its HEAD. Branch is empty on a detached HEAD.
func Describe(path string) (Revision, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return Revision{}, fmt.Errorf("%s: %w", path, ErrNotRepository)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("open repository %s: %w", path, err)
	}

	head, err := repo.Head()
	if err != nil {
		return Revision{}, fmt.Errorf("resolve HEAD in %s: %w", path, err)
	}

	rev := Revision{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		rev.Branch = head.Name().Short()
	}
	if commit, err := repo.CommitObject(head.Hash()); err == nil {
		subject, _, _ := strings.Cut(commit.Message, "\n")
		rev.Subject = strings.TrimSpace(subject)
	}
	return rev, nil
}
