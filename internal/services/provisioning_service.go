package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/forgeops/engine/internal/credentials"
	"github.com/forgeops/engine/internal/queue/tasks"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/forgeops/engine/pkg/logger"
)

// ProvisioningService hands projects to the background pipeline. The queue
// deduplicates on project id, so enqueueing an already-queued project is a
// conflict rather than a second job.
type ProvisioningService interface {
	EnqueueProvisioning(ctx context.Context, req *ProvisionRequest) (string, error)
}

type ProvisionRequest struct {
	ProjectID      uuid.UUID
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Repository     RepositoryRequest
	TemplateID     string
	EnvironmentIDs []uuid.UUID
}

// RepositoryRequest describes the remote repository to create. An empty
// AccessToken means the user's stored OAuth token should be used.
type RepositoryRequest struct {
	Provider    string
	Name        string
	Visibility  string
	AccessToken string
}

type provisioningService struct {
	client *asynq.Client
}

var _ ProvisioningService = (*provisioningService)(nil)

func NewProvisioningService(client *asynq.Client) ProvisioningService {
	return &provisioningService{client: client}
}

func (s *provisioningService) EnqueueProvisioning(ctx context.Context, req *ProvisionRequest) (string, error) {
	token := req.Repository.AccessToken
	if token == "" {
		token = credentials.OAuthSentinel
	}

	envIDs := make([]string, 0, len(req.EnvironmentIDs))
	for _, id := range req.EnvironmentIDs {
		envIDs = append(envIDs, id.String())
	}

	task, err := tasks.NewProvisionTask(tasks.ProvisionPayload{
		ProjectID:      req.ProjectID.String(),
		UserID:         req.UserID.String(),
		OrganizationID: req.OrganizationID.String(),
		Repository: tasks.RepositoryPayload{
			Provider:    req.Repository.Provider,
			Name:        req.Repository.Name,
			Visibility:  req.Repository.Visibility,
			AccessToken: token,
		},
		TemplateID:     req.TemplateID,
		EnvironmentIDs: envIDs,
	})
	if err != nil {
		return "", err
	}

	info, err := s.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", appErr.New(appErr.CodeConflict, "provisioning already queued for project")
		}
		return "", appErr.Wrap(err, appErr.CodeInternal, "enqueue provisioning task failed")
	}

	logger.L().Info("provisioning task enqueued",
		zap.String("project_id", req.ProjectID.String()),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue))
	return info.ID, nil
}
