// Package repoinfo derives locality signals from a git checkout.
package repoinfo

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// DefaultRemote is the remote consulted by Detect.
const DefaultRemote = "origin"

var (
	// ErrNotGitRepo indicates the directory is not inside a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrNoRemote indicates the repository has no usable remote URL.
	ErrNoRemote = errors.New("no remote url")

	// ErrUnparsableRemote indicates the remote URL has no owner/name path.
	ErrUnparsableRemote = errors.New("cannot derive repo from remote url")
)

// Info identifies a repository.
type Info struct {
	// Host is the remote host, e.g. github.com.
	Host string `json:"host"`

	// Org is the owning organization or user. Nested groups are kept,
	// e.g. "acme/platform".
	Org string `json:"org"`

	// Repo is "<org>/<name>".
	Repo string `json:"repo"`
}

// Detect opens the repository containing path and parses its origin remote.
func Detect(path string) (Info, error) {
	return DetectRemote(path, DefaultRemote)
}

// DetectRemote is Detect for a named remote.
func DetectRemote(path, remote string) (Info, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Info{}, fmt.Errorf("%w: %s", ErrNotGitRepo, path)
		}
		return Info{}, fmt.Errorf("opening repository: %w", err)
	}

	r, err := repo.Remote(remote)
	if err != nil {
		return Info{}, fmt.Errorf("%w: remote %q: %v", ErrNoRemote, remote, err)
	}
	urls := r.Config().URLs
	if len(urls) == 0 {
		return Info{}, fmt.Errorf("%w: remote %q", ErrNoRemote, remote)
	}
	return ParseRemoteURL(urls[0])
}

// ParseRemoteURL parses scp-style (git@host:org/name.git) and URL-style
// (https://host/org/name, ssh://git@host:22/org/name.git) remotes.
// Org and Repo are lowercased.
func ParseRemoteURL(raw string) (Info, error) {
	raw = strings.TrimSpace(raw)
	var host, path string

	switch {
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Info{}, fmt.Errorf("%w: %v", ErrUnparsableRemote, err)
		}
		host, path = u.Hostname(), u.Path
	case strings.Contains(raw, ":"):
		hostPart, p, _ := strings.Cut(raw, ":")
		if at := strings.LastIndex(hostPart, "@"); at >= 0 {
			hostPart = hostPart[at+1:]
		}
		host, path = hostPart, p
	default:
		return Info{}, fmt.Errorf("%w: %q", ErrUnparsableRemote, raw)
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	slash := strings.LastIndex(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return Info{}, fmt.Errorf("%w: %q", ErrUnparsableRemote, raw)
	}

	path = strings.ToLower(path)
	return Info{
		Host: strings.ToLower(host),
		Org:  path[:slash],
		Repo: path,
	}, nil
}

// Apply fills the repo and org of sig where they are empty.
func (i Info) Apply(sig *pattern.Signals) {
	if sig == nil {
		return
	}
	if sig.Repo == "" {
		sig.Repo = i.Repo
	}
	if sig.Org == "" {
		sig.Org = i.Org
	}
}
