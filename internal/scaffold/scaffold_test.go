package scaffold

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilesOrderAndSet(t *testing.T) {
	files := Files()
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
		require.NotEmpty(t, f.Content, f.Path)
	}
	require.Equal(t, []string{
		".gitignore",
		"README.md",
		"k8s/base/kustomization.yaml",
		"k8s/base/deployment.yaml",
		"k8s/base/service.yaml",
		"k8s/overlays/development/kustomization.yaml",
		"k8s/overlays/staging/kustomization.yaml",
		"k8s/overlays/production/kustomization.yaml",
	}, paths)
}

func TestOverlayPrefixes(t *testing.T) {
	want := map[string]string{
		"k8s/overlays/development/kustomization.yaml": "namePrefix: dev-",
		"k8s/overlays/staging/kustomization.yaml":     "namePrefix: staging-",
		"k8s/overlays/production/kustomization.yaml":  "namePrefix: prod-",
	}
	for _, f := range Files() {
		prefix, ok := want[f.Path]
		if !ok {
			continue
		}
		require.True(t, strings.Contains(f.Content, prefix), f.Path)
		require.True(t, strings.Contains(f.Content, "resources:\n  - ../../base"), f.Path)
	}
}

func TestOverlayPath(t *testing.T) {
	require.Equal(t, "k8s/overlays/production", OverlayPath("production"))
}
