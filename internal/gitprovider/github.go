package gitprovider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	appErr "github.com/forgeops/engine/pkg/errors"
)

const userAgent = "forgeops-engine"

type githubClient struct {
	baseURL string
	http    *http.Client
}

// createRepository creates a repository under the authenticated user.
// GitHub scopes repositories to the account namespace, so a sanitized name
// that collides is a caller error surfaced as a conflict without retry.
func (c *githubClient) createRepository(ctx context.Context, token string, opts CreateRepositoryOptions) (*RepositoryInfo, error) {
	body := map[string]any{
		"name":        SanitizeName(opts.Name),
		"description": opts.Description,
		"private":     opts.Visibility == "private",
		"auto_init":   true,
	}

	status, respBody, err := c.do(ctx, token, http.MethodPost, c.baseURL+"/user/repos", body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, classifyStatus("github", status, apiMessage(respBody))
	}

	var repo struct {
		ID            int64  `json:"id"`
		Name          string `json:"name"`
		FullName      string `json:"full_name"`
		CloneURL      string `json:"clone_url"`
		DefaultBranch string `json:"default_branch"`
	}
	if err := json.Unmarshal(respBody, &repo); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnknown, "decode github repository response failed")
	}

	branch := repo.DefaultBranch
	if branch == "" {
		branch = defaultBranch(opts.DefaultBranch)
	}
	return &RepositoryInfo{
		ID:            strconv.FormatInt(repo.ID, 10),
		Name:          repo.Name,
		FullName:      repo.FullName,
		CloneURL:      repo.CloneURL,
		DefaultBranch: branch,
	}, nil
}

// pushFiles commits each file independently through the contents API. If a
// call fails, the files before it are already committed; the returned result
// records that committed prefix.
func (c *githubClient) pushFiles(ctx context.Context, token, fullName string, files []File, branch string) (*PushResult, error) {
	result := &PushResult{Mode: PushPerFile}

	for _, f := range files {
		url := fmt.Sprintf("%s/repos/%s/contents/%s", c.baseURL, fullName, f.Path)
		body := map[string]any{
			"message": "Add " + f.Path,
			"content": base64.StdEncoding.EncodeToString([]byte(f.Content)),
			"branch":  branch,
		}

		status, respBody, err := c.do(ctx, token, http.MethodPut, url, body)
		if err != nil {
			return result, err
		}
		if status < 200 || status >= 300 {
			cls := classifyStatus("github", status, apiMessage(respBody))
			return result, appErr.Wrap(cls, cls.Code, "push "+f.Path+" failed")
		}
		result.Committed = append(result.Committed, f.Path)
	}
	return result, nil
}

func (c *githubClient) getRepository(ctx context.Context, token, fullName string) error {
	status, respBody, err := c.do(ctx, token, http.MethodGet, c.baseURL+"/repos/"+fullName, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return classifyStatus("github", status, apiMessage(respBody))
	}
	return nil
}

func (c *githubClient) getUser(ctx context.Context, token string) (string, error) {
	status, respBody, err := c.do(ctx, token, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", classifyStatus("github", status, apiMessage(respBody))
	}
	var user struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(respBody, &user); err != nil {
		return "", appErr.Wrap(err, appErr.CodeUnknown, "decode github user response failed")
	}
	return user.Login, nil
}

func (c *githubClient) do(ctx context.Context, token, method, url string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, appErr.Wrap(err, appErr.CodeInternal, "encode github request failed")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, appErr.Wrap(err, appErr.CodeInternal, "build github request failed")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, appErr.Wrap(err, appErr.CodeProviderUnavailable, "github request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, appErr.Wrap(err, appErr.CodeUnknown, "read github response failed")
	}
	return resp.StatusCode, respBody, nil
}

func defaultBranch(b string) string {
	if b == "" {
		return "main"
	}
	return b
}
