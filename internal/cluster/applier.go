// Package cluster applies GitOps resources to the target Kubernetes cluster
// through the dynamic client. Deployment execution materializes a Flux
// GitRepository source and a Kustomization pointing at the environment
// overlay; Flux reconciles from there.
package cluster

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/forgeops/engine/pkg/logger"
)

var (
	gitRepositoryGVR = schema.GroupVersionResource{
		Group: "source.toolkit.fluxcd.io", Version: "v1", Resource: "gitrepositories",
	}
	kustomizationGVR = schema.GroupVersionResource{
		Group: "kustomize.toolkit.fluxcd.io", Version: "v1", Resource: "kustomizations",
	}
	namespaceGVR = schema.GroupVersionResource{Version: "v1", Resource: "namespaces"}
)

// ApplyRequest describes one environment's GitOps wiring for a deployment.
type ApplyRequest struct {
	Namespace string
	Name      string
	RepoURL   string
	Branch    string
	Path      string
	Interval  string
	Prune     bool
	Timeout   string
}

type Applier interface {
	// Apply creates or updates the Flux source and kustomization for the
	// request. Idempotent: reapplying the same request converges to the
	// same objects.
	Apply(ctx context.Context, req ApplyRequest) error
	// Healthy checks API server connectivity.
	Healthy(ctx context.Context) error
}

type applier struct {
	client dynamic.Interface
}

var _ Applier = (*applier)(nil)

// New connects to the cluster. In-cluster config is tried first, then the
// given kubeconfig path, then the default loading rules.
func New(kubeconfig string) (Applier, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			loadingRules.ExplicitPath = kubeconfig
		}
		cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInternal, "load kubernetes config failed")
		}
	}

	client, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "create dynamic client failed")
	}
	return &applier{client: client}, nil
}

func (a *applier) Healthy(ctx context.Context) error {
	_, err := a.client.Resource(namespaceGVR).List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "cluster connectivity check failed")
	}
	return nil
}

func (a *applier) Apply(ctx context.Context, req ApplyRequest) error {
	interval := req.Interval
	if interval == "" {
		interval = "5m"
	}

	source := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": gitRepositoryGVR.Group + "/" + gitRepositoryGVR.Version,
		"kind":       "GitRepository",
		"metadata": map[string]any{
			"name":      req.Name,
			"namespace": req.Namespace,
		},
		"spec": map[string]any{
			"url":      req.RepoURL,
			"interval": interval,
			"ref":      map[string]any{"branch": req.Branch},
		},
	}}
	if err := a.createOrUpdate(ctx, gitRepositoryGVR, source); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal,
			fmt.Sprintf("apply GitRepository %s/%s failed", req.Namespace, req.Name))
	}

	kustomizationSpec := map[string]any{
		"sourceRef": map[string]any{
			"kind": "GitRepository",
			"name": req.Name,
		},
		"path":     req.Path,
		"prune":    req.Prune,
		"interval": interval,
	}
	if req.Timeout != "" {
		kustomizationSpec["timeout"] = req.Timeout
	}
	kustomization := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": kustomizationGVR.Group + "/" + kustomizationGVR.Version,
		"kind":       "Kustomization",
		"metadata": map[string]any{
			"name":      req.Name,
			"namespace": req.Namespace,
		},
		"spec": kustomizationSpec,
	}}
	if err := a.createOrUpdate(ctx, kustomizationGVR, kustomization); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal,
			fmt.Sprintf("apply Kustomization %s/%s failed", req.Namespace, req.Name))
	}

	logger.L().Info("gitops resources applied",
		zap.String("namespace", req.Namespace),
		zap.String("name", req.Name),
		zap.String("path", req.Path))
	return nil
}

// createOrUpdate creates the object, and on conflict fetches the live copy
// to carry over resourceVersion before updating.
func (a *applier) createOrUpdate(ctx context.Context, gvr schema.GroupVersionResource, obj *unstructured.Unstructured) error {
	ri := a.client.Resource(gvr).Namespace(obj.GetNamespace())

	_, err := ri.Create(ctx, obj, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return err
	}

	live, err := ri.Get(ctx, obj.GetName(), metav1.GetOptions{})
	if err != nil {
		return err
	}
	obj.SetResourceVersion(live.GetResourceVersion())
	_, err = ri.Update(ctx, obj, metav1.UpdateOptions{})
	return err
}

// noopApplier is used when no cluster is reachable. Deployments still move
// through their lifecycle; only the cluster-side effect is skipped.
type noopApplier struct{}

var _ Applier = (*noopApplier)(nil)

func NewNoop() Applier { return &noopApplier{} }

func (noopApplier) Apply(ctx context.Context, req ApplyRequest) error {
	logger.L().Warn("no cluster configured, skipping gitops apply",
		zap.String("namespace", req.Namespace),
		zap.String("name", req.Name))
	return nil
}

func (noopApplier) Healthy(context.Context) error { return nil }
