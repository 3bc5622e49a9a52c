package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/forgeops/engine/internal/api/middleware"
	"github.com/forgeops/engine/internal/api/types"
	"github.com/forgeops/engine/internal/api/validators"
	"github.com/forgeops/engine/internal/models"
	"github.com/forgeops/engine/internal/services"
)

type ProjectsHandler struct {
	svc services.ProjectService
}

func NewProjectsHandler(svc services.ProjectService) *ProjectsHandler {
	return &ProjectsHandler{svc: svc}
}

func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationID string `json:"organization_id" validate:"required,uuid"`
		Name           string `json:"name" validate:"required"`
		Description    string `json:"description"`
		TemplateID     string `json:"template_id"`
		Repository     struct {
			Provider    string `json:"provider" validate:"required,oneof=github gitlab"`
			Name        string `json:"name"`
			Visibility  string `json:"visibility" validate:"omitempty,oneof=private public"`
			AccessToken string `json:"access_token"`
		} `json:"repository"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeInvalid(w, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	orgID, _ := uuid.Parse(req.OrganizationID)
	userID := middleware.GetUserID(r.Context())

	p, err := h.svc.CreateProject(r.Context(), userID, &services.CreateProjectInput{
		OrganizationID: orgID,
		Name:           req.Name,
		Description:    req.Description,
		TemplateID:     req.TemplateID,
		Repository: services.RepositoryRequest{
			Provider:    req.Repository.Provider,
			Name:        req.Repository.Name,
			Visibility:  req.Repository.Visibility,
			AccessToken: req.Repository.AccessToken,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	// provisioning continues in the background; poll the project status
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: p})
}

func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeInvalid(w, "invalid project id")
		return
	}
	p, err := h.svc.GetProject(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: p})
}

func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.URL.Query().Get("organization_id"))
	if err != nil {
		writeInvalid(w, "organization_id query parameter is required")
		return
	}
	items, err := h.svc.ListProjects(r.Context(), orgID, middleware.GetUserID(r.Context()))
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

func (h *ProjectsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeInvalid(w, "invalid project id")
		return
	}
	if err := h.svc.ArchiveProject(r.Context(), id, middleware.GetUserID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]string{"status": "archived"}})
}

func (h *ProjectsHandler) RetryProvisioning(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeInvalid(w, "invalid project id")
		return
	}
	var req struct {
		Provider    string `json:"provider" validate:"required,oneof=github gitlab"`
		Name        string `json:"name"`
		Visibility  string `json:"visibility" validate:"omitempty,oneof=private public"`
		AccessToken string `json:"access_token"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeInvalid(w, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	p, err := h.svc.RetryProvisioning(r.Context(), id, middleware.GetUserID(r.Context()), services.RepositoryRequest{
		Provider:    req.Provider,
		Name:        req.Name,
		Visibility:  req.Visibility,
		AccessToken: req.AccessToken,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: p})
}

func (h *ProjectsHandler) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeInvalid(w, "invalid project id")
		return
	}
	envs, err := h.svc.ListEnvironments(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: envs})
}

func (h *ProjectsHandler) SetEnvironmentPermission(w http.ResponseWriter, r *http.Request) {
	envID, ok := pathUUID(r, "envID")
	if !ok {
		writeInvalid(w, "invalid environment id")
		return
	}
	var req struct {
		UserID     string `json:"user_id" validate:"required,uuid"`
		CanDeploy  bool   `json:"can_deploy"`
		CanApprove bool   `json:"can_approve"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeInvalid(w, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeInvalid(w, err.Error())
		return
	}
	targetID, _ := uuid.Parse(req.UserID)

	err := h.svc.SetEnvironmentPermission(r.Context(), envID, middleware.GetUserID(r.Context()), targetID,
		models.EnvironmentPermission{CanDeploy: req.CanDeploy, CanApprove: req.CanApprove})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]string{"status": "updated"}})
}
