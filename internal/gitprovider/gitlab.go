package gitprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/forgeops/engine/pkg/logger"
	"go.uber.org/zap"
)

// gitlabConflictRetries is the number of extra attempts made with a random
// suffix after the sanitized path collides in the target namespace.
const gitlabConflictRetries = 2

type gitlabClient struct {
	baseURL string
	http    *http.Client
}

// createRepository creates a GitLab project. GitLab paths share a flat
// namespace per group, so a sanitized path may collide with an unrelated
// project; on conflict the path is retried with a random suffix up to
// gitlabConflictRetries times.
func (c *gitlabClient) createRepository(ctx context.Context, token string, opts CreateRepositoryOptions) (*RepositoryInfo, error) {
	basePath := SanitizeName(opts.Name)
	path := basePath

	for attempt := 0; ; attempt++ {
		body := map[string]any{
			"name":                   opts.Name,
			"path":                   path,
			"description":            opts.Description,
			"visibility":             visibility(opts.Visibility),
			"initialize_with_readme": true,
		}

		status, respBody, err := c.do(ctx, token, http.MethodPost, c.baseURL+"/api/v4/projects", body)
		if err != nil {
			return nil, err
		}

		if status >= 200 && status < 300 {
			var proj struct {
				ID                int64  `json:"id"`
				Name              string `json:"name"`
				PathWithNamespace string `json:"path_with_namespace"`
				HTTPURLToRepo     string `json:"http_url_to_repo"`
				DefaultBranch     string `json:"default_branch"`
			}
			if err := json.Unmarshal(respBody, &proj); err != nil {
				return nil, appErr.Wrap(err, appErr.CodeUnknown, "decode gitlab project response failed")
			}
			branch := proj.DefaultBranch
			if branch == "" {
				branch = defaultBranch(opts.DefaultBranch)
			}
			return &RepositoryInfo{
				ID:            strconv.FormatInt(proj.ID, 10),
				Name:          proj.Name,
				FullName:      proj.PathWithNamespace,
				CloneURL:      proj.HTTPURLToRepo,
				DefaultBranch: branch,
			}, nil
		}

		conflict := (status == http.StatusConflict || status == http.StatusBadRequest || status == http.StatusUnprocessableEntity) && isNameTaken(respBody)
		if conflict && attempt < gitlabConflictRetries {
			path = basePath + "-" + randomSuffix()
			logger.L().Warn("gitlab project path taken, retrying with suffix",
				zap.String("path", path),
				zap.Int("attempt", attempt+1))
			continue
		}
		if conflict {
			return nil, classifyStatus("gitlab", http.StatusConflict, apiMessage(respBody))
		}
		return nil, classifyStatus("gitlab", status, apiMessage(respBody))
	}
}

// pushFiles creates all files in a single commit through the commits API.
// The whole batch either lands or nothing does.
func (c *gitlabClient) pushFiles(ctx context.Context, token, fullName string, files []File, branch string) (*PushResult, error) {
	actions := make([]map[string]string, 0, len(files))
	for _, f := range files {
		actions = append(actions, map[string]string{
			"action":    "create",
			"file_path": f.Path,
			"content":   f.Content,
		})
	}
	body := map[string]any{
		"branch":         branch,
		"commit_message": "Initial project scaffold",
		"actions":        actions,
	}

	endpoint := c.baseURL + "/api/v4/projects/" + url.PathEscape(fullName) + "/repository/commits"
	status, respBody, err := c.do(ctx, token, http.MethodPost, endpoint, body)
	if err != nil {
		return &PushResult{Mode: PushAtomic}, err
	}
	if status < 200 || status >= 300 {
		return &PushResult{Mode: PushAtomic}, classifyStatus("gitlab", status, apiMessage(respBody))
	}

	result := &PushResult{Mode: PushAtomic}
	for _, f := range files {
		result.Committed = append(result.Committed, f.Path)
	}
	return result, nil
}

func (c *gitlabClient) getRepository(ctx context.Context, token, fullName string) error {
	endpoint := c.baseURL + "/api/v4/projects/" + url.PathEscape(fullName)
	status, respBody, err := c.do(ctx, token, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return classifyStatus("gitlab", status, apiMessage(respBody))
	}
	return nil
}

func (c *gitlabClient) getUser(ctx context.Context, token string) (string, error) {
	status, respBody, err := c.do(ctx, token, http.MethodGet, c.baseURL+"/api/v4/user", nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", classifyStatus("gitlab", status, apiMessage(respBody))
	}
	var user struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(respBody, &user); err != nil {
		return "", appErr.Wrap(err, appErr.CodeUnknown, "decode gitlab user response failed")
	}
	return user.Username, nil
}

func (c *gitlabClient) do(ctx context.Context, token, method, endpoint string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, appErr.Wrap(err, appErr.CodeInternal, "encode gitlab request failed")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, appErr.Wrap(err, appErr.CodeInternal, "build gitlab request failed")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, appErr.Wrap(err, appErr.CodeProviderUnavailable, "gitlab request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, appErr.Wrap(err, appErr.CodeUnknown, "read gitlab response failed")
	}
	return resp.StatusCode, respBody, nil
}

func visibility(v string) string {
	if v == "" {
		return "private"
	}
	return v
}
