// Package scaffold holds the compiled-in file set pushed to a freshly
// created project repository. The overlay directories line up with the
// environment types created during provisioning.
package scaffold

import "github.com/forgeops/engine/internal/gitprovider"

const gitignore = `# Dependencies
node_modules/
.pnp
.pnp.js

# Testing
coverage/

# Production
build/
dist/

# Misc
.DS_Store
.env.local
.env.development.local
.env.test.local
.env.production.local

# Logs
npm-debug.log*
yarn-debug.log*
yarn-error.log*
`

const readme = `# Project

This repository was provisioned by ForgeOps.

## Getting Started

Add your application code here.

## Deployment

This project is configured for GitOps deployment with Flux.
`

const baseKustomization = `apiVersion: kustomize.config.k8s.io/v1beta1
kind: Kustomization

resources:
  - deployment.yaml
  - service.yaml
`

const baseDeployment = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: app
spec:
  replicas: 1
  selector:
    matchLabels:
      app: app
  template:
    metadata:
      labels:
        app: app
    spec:
      containers:
      - name: app
        image: nginx:latest
        ports:
        - containerPort: 80
`

const baseService = `apiVersion: v1
kind: Service
metadata:
  name: app
spec:
  selector:
    app: app
  ports:
  - port: 80
    targetPort: 80
`

// overlayPrefixes maps environment type to the kustomize name prefix used
// in its overlay.
var overlayPrefixes = []struct {
	envType string
	prefix  string
}{
	{"development", "dev-"},
	{"staging", "staging-"},
	{"production", "prod-"},
}

// Files returns the initial repository contents in push order. The order is
// stable so a partially committed push can be diagnosed from the committed
// prefix alone.
func Files() []gitprovider.File {
	files := []gitprovider.File{
		{Path: ".gitignore", Content: gitignore},
		{Path: "README.md", Content: readme},
		{Path: "k8s/base/kustomization.yaml", Content: baseKustomization},
		{Path: "k8s/base/deployment.yaml", Content: baseDeployment},
		{Path: "k8s/base/service.yaml", Content: baseService},
	}
	for _, o := range overlayPrefixes {
		files = append(files, gitprovider.File{
			Path:    "k8s/overlays/" + o.envType + "/kustomization.yaml",
			Content: overlayContent(o.prefix),
		})
	}
	return files
}

// OverlayPath returns the repository path of the kustomize overlay for an
// environment type, as referenced by GitOps resource configs.
func OverlayPath(envType string) string {
	return "k8s/overlays/" + envType
}

func overlayContent(prefix string) string {
	return `apiVersion: kustomize.config.k8s.io/v1beta1
kind: Kustomization

resources:
  - ../../base

namePrefix: ` + prefix + "\n"
}
