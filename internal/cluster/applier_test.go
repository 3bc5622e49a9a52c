package cluster

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/forgeops/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("error", "console")
	os.Exit(m.Run())
}

func fakeApplier(t *testing.T) *applier {
	t.Helper()
	scheme := runtime.NewScheme()
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme,
		map[schema.GroupVersionResource]string{
			gitRepositoryGVR: "GitRepositoryList",
			kustomizationGVR: "KustomizationList",
			namespaceGVR:     "NamespaceList",
		})
	return &applier{client: client}
}

func TestApplyCreatesSourceAndKustomization(t *testing.T) {
	a := fakeApplier(t)
	ctx := context.Background()

	req := ApplyRequest{
		Namespace: "default",
		Name:      "proj-production",
		RepoURL:   "https://gitlab.com/group/app.git",
		Branch:    "main",
		Path:      "k8s/overlays/production",
		Interval:  "5m",
		Prune:     true,
		Timeout:   "2m",
	}
	require.NoError(t, a.Apply(ctx, req))

	src, err := a.client.Resource(gitRepositoryGVR).Namespace("default").
		Get(ctx, "proj-production", metav1.GetOptions{})
	require.NoError(t, err)
	url, _, err := unstructured.NestedString(src.Object, "spec", "url")
	require.NoError(t, err)
	require.Equal(t, "https://gitlab.com/group/app.git", url)
	branch, _, err := unstructured.NestedString(src.Object, "spec", "ref", "branch")
	require.NoError(t, err)
	require.Equal(t, "main", branch)

	kust, err := a.client.Resource(kustomizationGVR).Namespace("default").
		Get(ctx, "proj-production", metav1.GetOptions{})
	require.NoError(t, err)
	path, _, err := unstructured.NestedString(kust.Object, "spec", "path")
	require.NoError(t, err)
	require.Equal(t, "k8s/overlays/production", path)
	prune, _, err := unstructured.NestedBool(kust.Object, "spec", "prune")
	require.NoError(t, err)
	require.True(t, prune)
	sourceName, _, err := unstructured.NestedString(kust.Object, "spec", "sourceRef", "name")
	require.NoError(t, err)
	require.Equal(t, "proj-production", sourceName)
}

func TestApplyIsIdempotent(t *testing.T) {
	a := fakeApplier(t)
	ctx := context.Background()

	req := ApplyRequest{
		Namespace: "default",
		Name:      "proj-staging",
		RepoURL:   "https://github.com/acme/app.git",
		Branch:    "main",
		Path:      "k8s/overlays/staging",
	}
	require.NoError(t, a.Apply(ctx, req))

	req.Branch = "release"
	require.NoError(t, a.Apply(ctx, req))

	src, err := a.client.Resource(gitRepositoryGVR).Namespace("default").
		Get(ctx, "proj-staging", metav1.GetOptions{})
	require.NoError(t, err)
	branch, _, err := unstructured.NestedString(src.Object, "spec", "ref", "branch")
	require.NoError(t, err)
	require.Equal(t, "release", branch)
	interval, _, err := unstructured.NestedString(src.Object, "spec", "interval")
	require.NoError(t, err)
	require.Equal(t, "5m", interval)
}

func TestNoopApplier(t *testing.T) {
	a := NewNoop()
	require.NoError(t, a.Apply(context.Background(), ApplyRequest{Name: "x", Namespace: "default"}))
	require.NoError(t, a.Healthy(context.Background()))
}
