package push

import "strings"

const (
	branchRefPrefix = "refs/heads/"
	unknownAuthor   = "Unknown"
)

// Repository identifies the repository a push was delivered for.
type Repository struct {
	FullName string
	Name     string
}

// Pusher is the git identity that performed the push.
type Pusher struct {
	Name  string
	Email string
}

// Sender is the GitHub account that triggered the delivery.
type Sender struct {
	Login string
	Email string
}

// CommitAuthor is the author recorded on a single commit.
type CommitAuthor struct {
	Name     string
	Username string
	Email    string
}

// Commit is one commit carried by a push.
type Commit struct {
	ID      string
	Message string
	Author  CommitAuthor
}

// HeadCommit is the commit the ref points at after the push.
type HeadCommit struct {
	ID      string
	Message string
}

// Event is a normalized push delivery. It is built once by Normalize and never
// mutated afterwards; accessors hand out copies.
type Event struct {
	ref        string
	before     string
	after      string
	repository Repository
	pusher     *Pusher
	sender     *Sender
	created    bool
	deleted    bool
	forced     bool
	commits    []Commit
	headCommit *HeadCommit
}

// Ref returns the pushed ref, such as refs/heads/main.
func (e *Event) Ref() string { return e.ref }

// Before returns the SHA before the push, or "" when the payload had none.
func (e *Event) Before() string { return e.before }

// After returns the SHA after the push, or "" when the payload had none.
func (e *Event) After() string { return e.after }

// Repository returns the repository the push went to.
func (e *Event) Repository() Repository { return e.repository }

// Pusher returns the pusher and whether the payload named one.
func (e *Event) Pusher() (Pusher, bool) {
	if e.pusher == nil {
		return Pusher{}, false
	}
	return *e.pusher, true
}

// Sender returns the sending account and whether the payload had one.
func (e *Event) Sender() (Sender, bool) {
	if e.sender == nil {
		return Sender{}, false
	}
	return *e.sender, true
}

// Created reports whether the push created the ref.
func (e *Event) Created() bool { return e.created }

// Deleted reports whether the push deleted the ref.
func (e *Event) Deleted() bool { return e.deleted }

// Forced reports whether the push was a force push.
func (e *Event) Forced() bool { return e.forced }

// Commits returns the pushed commits in payload order.
func (e *Event) Commits() []Commit {
	out := make([]Commit, len(e.commits))
	copy(out, e.commits)
	return out
}

// HeadCommit returns the head commit and whether the payload had one.
func (e *Event) HeadCommit() (HeadCommit, bool) {
	if e.headCommit == nil {
		return HeadCommit{}, false
	}
	return *e.headCommit, true
}

// BranchName strips the refs/heads/ prefix from the ref. Tags and other refs
// are returned unchanged.
func (e *Event) BranchName() string {
	return strings.TrimPrefix(e.ref, branchRefPrefix)
}

// RepositoryFullName returns owner/name, falling back to the bare name.
func (e *Event) RepositoryFullName() string {
	if e.repository.FullName != "" {
		return e.repository.FullName
	}
	return e.repository.Name
}

// AuthorEmail falls back from the pusher to the sender; "" when neither has one.
func (e *Event) AuthorEmail() string {
	if e.pusher != nil && e.pusher.Email != "" {
		return e.pusher.Email
	}
	if e.sender != nil && e.sender.Email != "" {
		return e.sender.Email
	}
	return ""
}

// AuthorName falls back from the pusher name to the sender login, then "Unknown".
func (e *Event) AuthorName() string {
	if e.pusher != nil && e.pusher.Name != "" {
		return e.pusher.Name
	}
	if e.sender != nil && e.sender.Login != "" {
		return e.sender.Login
	}
	return unknownAuthor
}

// CommitCount returns the number of commits in the push.
func (e *Event) CommitCount() int { return len(e.commits) }

// LatestCommitMessage prefers the head commit and falls back to the first
// commit in the payload.
func (e *Event) LatestCommitMessage() string {
	if e.headCommit != nil && e.headCommit.Message != "" {
		return e.headCommit.Message
	}
	if len(e.commits) > 0 {
		return e.commits[0].Message
	}
	return ""
}

// CommitAuthors lists each distinct author once, in the order first seen.
// The author name is used when present, otherwise the username.
func (e *Event) CommitAuthors() []string {
	seen := make(map[string]struct{}, len(e.commits))
	out := make([]string, 0, len(e.commits))
	for _, commit := range e.commits {
		name := commit.Author.Name
		if name == "" {
			name = commit.Author.Username
		}
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
