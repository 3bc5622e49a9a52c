package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/forgeops/engine/internal/api/middleware"
	"github.com/forgeops/engine/internal/api/types"
	"github.com/forgeops/engine/internal/api/validators"
	"github.com/forgeops/engine/internal/repository"
	"github.com/forgeops/engine/internal/services"
)

type DeploymentsHandler struct {
	svc services.DeploymentService
}

func NewDeploymentsHandler(svc services.DeploymentService) *DeploymentsHandler {
	return &DeploymentsHandler{svc: svc}
}

func (h *DeploymentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID     string `json:"project_id" validate:"required,uuid"`
		EnvironmentID string `json:"environment_id" validate:"required,uuid"`
		Version       string `json:"version" validate:"required"`
		CommitHash    string `json:"commit_hash"`
		Branch        string `json:"branch"`
		Strategy      string `json:"strategy" validate:"omitempty,oneof=rolling recreate canary"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeInvalid(w, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	projectID, _ := uuid.Parse(req.ProjectID)
	envID, _ := uuid.Parse(req.EnvironmentID)

	d, err := h.svc.Create(r.Context(), middleware.GetUserID(r.Context()), &services.CreateDeploymentInput{
		ProjectID:     projectID,
		EnvironmentID: envID,
		Version:       req.Version,
		CommitHash:    req.CommitHash,
		Branch:        req.Branch,
		Strategy:      req.Strategy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: d})
}

func (h *DeploymentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeInvalid(w, "invalid deployment id")
		return
	}
	d, err := h.svc.Get(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: d})
}

func (h *DeploymentsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := repository.DeploymentFilters{
		Status: r.URL.Query().Get("status"),
	}
	if v := r.URL.Query().Get("project_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeInvalid(w, "invalid project_id")
			return
		}
		filters.ProjectID = id
	}
	if v := r.URL.Query().Get("environment_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeInvalid(w, "invalid environment_id")
			return
		}
		filters.EnvironmentID = id
	}

	items, err := h.svc.List(r.Context(), middleware.GetUserID(r.Context()), filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{
		Success: true,
		Data:    items,
		Meta:    &types.Meta{Total: int64(len(items))},
	})
}

func (h *DeploymentsHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeInvalid(w, "invalid deployment id")
		return
	}
	approvals, err := h.svc.ListApprovals(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: approvals})
}

func (h *DeploymentsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeInvalid(w, "invalid deployment id")
		return
	}
	var req struct {
		Comments string `json:"comments"`
	}
	if err := decodeBody(r, &req); err != nil && err.Error() != "EOF" {
		writeInvalid(w, "invalid json")
		return
	}
	if err := h.svc.Approve(r.Context(), id, middleware.GetUserID(r.Context()), req.Comments); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]string{"status": "approved"}})
}

func (h *DeploymentsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeInvalid(w, "invalid deployment id")
		return
	}
	var req struct {
		Comments string `json:"comments" validate:"required"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeInvalid(w, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	if err := h.svc.Reject(r.Context(), id, middleware.GetUserID(r.Context()), req.Comments); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]string{"status": "rejected"}})
}

func (h *DeploymentsHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeInvalid(w, "invalid deployment id")
		return
	}
	rb, err := h.svc.Rollback(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: rb})
}
