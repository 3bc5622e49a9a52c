package gitprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/forgeops/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("error", "console")
	os.Exit(m.Run())
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"My Cool App", "my-cool-app"},
		{"already-clean", "already-clean"},
		{"Spaces  &  Symbols!!", "spaces-symbols"},
		{"--leading--trailing--", "leading-trailing"},
		{"UPPER_case.mix", "upper-case-mix"},
	}
	for _, tc := range cases {
		got := SanitizeName(tc.in)
		require.Equal(t, tc.want, got)
		require.Equal(t, got, SanitizeName(got), "sanitize must be idempotent")
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		code   appErr.Code
	}{
		{http.StatusUnauthorized, appErr.CodeProviderUnauthorized},
		{http.StatusForbidden, appErr.CodeProviderUnauthorized},
		{http.StatusConflict, appErr.CodeProviderConflict},
		{http.StatusUnprocessableEntity, appErr.CodeProviderConflict},
		{http.StatusBadGateway, appErr.CodeProviderUnavailable},
		{http.StatusServiceUnavailable, appErr.CodeProviderUnavailable},
		{http.StatusGatewayTimeout, appErr.CodeProviderUnavailable},
		{http.StatusTeapot, appErr.CodeUnknown},
	}
	for _, tc := range cases {
		err := classifyStatus("github", tc.status, "boom")
		require.Equal(t, tc.code, appErr.CodeOf(err))
	}
}

func TestGitHubCreateRepositoryNoRetryOnConflict(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/user/repos", r.URL.Path)
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "name already exists on this account"})
	}))
	defer srv.Close()

	gw := New(Options{GitHubBaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := gw.CreateRepository(context.Background(), "github", "tok", CreateRepositoryOptions{Name: "taken"})
	require.Error(t, err)
	require.Equal(t, appErr.CodeProviderConflict, appErr.CodeOf(err))
	require.Equal(t, 1, calls, "github conflicts must not be retried")
}

func TestGitLabCreateRepositoryRetriesConflictWithSuffix(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/projects", r.URL.Path)
		var body struct {
			Path string `json:"path"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		paths = append(paths, body.Path)

		if len(paths) < 3 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":{"path":["has already been taken"]}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":                  42,
			"name":                "taken",
			"path_with_namespace": "group/" + body.Path,
			"http_url_to_repo":    "https://gitlab.example/group/" + body.Path + ".git",
			"default_branch":      "main",
		})
	}))
	defer srv.Close()

	gw := New(Options{GitLabBaseURL: srv.URL, HTTPClient: srv.Client()})
	info, err := gw.CreateRepository(context.Background(), "gitlab", "tok", CreateRepositoryOptions{Name: "taken"})
	require.NoError(t, err)
	require.Len(t, paths, 3)
	require.Equal(t, "taken", paths[0])
	for _, p := range paths[1:] {
		require.Regexp(t, `^taken-[a-z0-9]{6}$`, p)
	}
	require.Equal(t, "42", info.ID)
	require.Equal(t, "main", info.DefaultBranch)
}

func TestGitLabCreateRepositoryGivesUpAfterRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":{"path":["has already been taken"]}}`))
	}))
	defer srv.Close()

	gw := New(Options{GitLabBaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := gw.CreateRepository(context.Background(), "gitlab", "tok", CreateRepositoryOptions{Name: "taken"})
	require.Error(t, err)
	require.Equal(t, appErr.CodeProviderConflict, appErr.CodeOf(err))
	require.Equal(t, 3, calls, "one initial attempt plus two suffixed retries")
}

func TestGitHubPushFilesRecordsCommittedPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		if r.URL.Path == "/repos/acme/app/contents/k8s/base/deployment.yaml" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	gw := New(Options{GitHubBaseURL: srv.URL, HTTPClient: srv.Client()})
	files := []File{
		{Path: ".gitignore", Content: "node_modules\n"},
		{Path: "README.md", Content: "# app\n"},
		{Path: "k8s/base/deployment.yaml", Content: "kind: Deployment\n"},
		{Path: "k8s/base/service.yaml", Content: "kind: Service\n"},
	}
	result, err := gw.PushFiles(context.Background(), "github", "tok", "acme/app", files, "main")
	require.Error(t, err)
	require.Equal(t, appErr.CodeProviderUnavailable, appErr.CodeOf(err))
	require.Equal(t, PushPerFile, result.Mode)
	require.Equal(t, []string{".gitignore", "README.md"}, result.Committed)
}

func TestGitLabPushFilesSingleAtomicCommit(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/api/v4/projects/group%2Fapp/repository/commits", r.URL.EscapedPath())
		var body struct {
			Branch  string `json:"branch"`
			Actions []struct {
				Action   string `json:"action"`
				FilePath string `json:"file_path"`
			} `json:"actions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "main", body.Branch)
		require.Len(t, body.Actions, 2)
		require.Equal(t, "create", body.Actions[0].Action)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"abc123"}`))
	}))
	defer srv.Close()

	gw := New(Options{GitLabBaseURL: srv.URL, HTTPClient: srv.Client()})
	files := []File{
		{Path: ".gitignore", Content: "node_modules\n"},
		{Path: "README.md", Content: "# app\n"},
	}
	result, err := gw.PushFiles(context.Background(), "gitlab", "tok", "group/app", files, "main")
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, PushAtomic, result.Mode)
	require.Equal(t, []string{".gitignore", "README.md"}, result.Committed)
}

func TestValidateRepositoryUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer srv.Close()

	gw := New(Options{GitHubBaseURL: srv.URL, HTTPClient: srv.Client()})
	v := gw.ValidateRepository(context.Background(), "github", "bad", "acme/app")
	require.False(t, v.Valid)
	require.Contains(t, v.Error, "token invalid")
}

func TestGetUserReturnsLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user", r.URL.Path)
		require.Equal(t, "Bearer gho_tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"login": "octocat"})
	}))
	defer srv.Close()

	gw := New(Options{GitHubBaseURL: srv.URL, HTTPClient: srv.Client()})
	login, err := gw.GetUser(context.Background(), "github", "gho_tok")
	require.NoError(t, err)
	require.Equal(t, "octocat", login)
}

func TestGetUserBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/user", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"401 Unauthorized"}`))
	}))
	defer srv.Close()

	gw := New(Options{GitLabBaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := gw.GetUser(context.Background(), "gitlab", "bad")
	require.Error(t, err)
	require.Equal(t, appErr.CodeProviderUnauthorized, appErr.CodeOf(err))
}

func TestUnsupportedProvider(t *testing.T) {
	gw := New(Options{})
	_, err := gw.CreateRepository(context.Background(), "bitbucket", "tok", CreateRepositoryOptions{Name: "x"})
	require.Equal(t, appErr.CodeInvalid, appErr.CodeOf(err))

	v := gw.ValidateRepository(context.Background(), "bitbucket", "tok", "a/b")
	require.False(t, v.Valid)
}
