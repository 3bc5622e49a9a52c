package gitprovider

import (
	"context"
	"net/http"
	"time"

	appErr "github.com/forgeops/engine/pkg/errors"
)

// PushMode describes the atomicity of a file push. GitHub commits each file
// independently, so a failed push can leave a committed prefix behind; GitLab
// commits all files in one multi-action call. Callers must branch on this
// when deciding how to clean up after a failed push.
type PushMode string

const (
	// PushPerFile: one commit per file, partial success possible.
	PushPerFile PushMode = "per_file"
	// PushAtomic: single commit for all files, all-or-nothing.
	PushAtomic PushMode = "atomic"
)

// CreateRepositoryOptions are the caller-supplied settings for a new remote
// repository. Name is the human name; providers receive a sanitized slug
// where their namespace rules demand one.
type CreateRepositoryOptions struct {
	Name          string
	Description   string
	Visibility    string // public | private
	DefaultBranch string
}

// RepositoryInfo is the provider-neutral description of a created or fetched
// repository.
type RepositoryInfo struct {
	ID            string
	Name          string
	FullName      string
	CloneURL      string
	DefaultBranch string
}

// File is one file to push to a repository.
type File struct {
	Path    string
	Content string
}

// PushResult reports what a push actually did. Committed lists the paths
// that made it into the repository; with PushPerFile it can be a strict
// prefix of the input when the push failed part-way.
type PushResult struct {
	Mode      PushMode
	Committed []string
}

// Validation is the result of checking access to an existing repository.
type Validation struct {
	Valid bool
	Error string
}

// Gateway exposes uniform repository operations over the supported Git
// hosting providers.
type Gateway interface {
	CreateRepository(ctx context.Context, provider, token string, opts CreateRepositoryOptions) (*RepositoryInfo, error)
	// PushFiles pushes files sequentially in list order. On error the
	// returned PushResult is still populated so callers can see which files
	// were already committed.
	PushFiles(ctx context.Context, provider, token, fullName string, files []File, branch string) (*PushResult, error)
	ValidateRepository(ctx context.Context, provider, token, fullName string) Validation
	// GetUser verifies the token and returns the provider-side login name.
	GetUser(ctx context.Context, provider, token string) (string, error)
}

type gateway struct {
	github *githubClient
	gitlab *gitlabClient
}

// Options configure the gateway endpoints. Zero values fall back to the
// public hosted services.
type Options struct {
	GitHubBaseURL string
	GitLabBaseURL string
	HTTPClient    *http.Client
}

// New builds a Gateway for the public GitHub API and the configured GitLab
// instance.
func New(opts Options) Gateway {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	ghBase := opts.GitHubBaseURL
	if ghBase == "" {
		ghBase = "https://api.github.com"
	}
	glBase := opts.GitLabBaseURL
	if glBase == "" {
		glBase = "https://gitlab.com"
	}
	return &gateway{
		github: &githubClient{baseURL: trimSlash(ghBase), http: hc},
		gitlab: &gitlabClient{baseURL: trimSlash(glBase), http: hc},
	}
}

func (g *gateway) CreateRepository(ctx context.Context, provider, token string, opts CreateRepositoryOptions) (*RepositoryInfo, error) {
	switch provider {
	case "github":
		return g.github.createRepository(ctx, token, opts)
	case "gitlab":
		return g.gitlab.createRepository(ctx, token, opts)
	}
	return nil, appErr.Newf(appErr.CodeInvalid, "unsupported git provider %q", provider)
}

func (g *gateway) PushFiles(ctx context.Context, provider, token, fullName string, files []File, branch string) (*PushResult, error) {
	switch provider {
	case "github":
		return g.github.pushFiles(ctx, token, fullName, files, branch)
	case "gitlab":
		return g.gitlab.pushFiles(ctx, token, fullName, files, branch)
	}
	return nil, appErr.Newf(appErr.CodeInvalid, "unsupported git provider %q", provider)
}

func (g *gateway) ValidateRepository(ctx context.Context, provider, token, fullName string) Validation {
	var err error
	switch provider {
	case "github":
		err = g.github.getRepository(ctx, token, fullName)
	case "gitlab":
		err = g.gitlab.getRepository(ctx, token, fullName)
	default:
		return Validation{Valid: false, Error: "unsupported git provider " + provider}
	}
	if err != nil {
		return Validation{Valid: false, Error: err.Error()}
	}
	return Validation{Valid: true}
}

func (g *gateway) GetUser(ctx context.Context, provider, token string) (string, error) {
	switch provider {
	case "github":
		return g.github.getUser(ctx, token)
	case "gitlab":
		return g.gitlab.getUser(ctx, token)
	}
	return "", appErr.Newf(appErr.CodeInvalid, "unsupported git provider %q", provider)
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
