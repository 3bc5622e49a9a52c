package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Approval statuses. A decided row is immutable.
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// DeploymentApproval is one approver's decision row for a gated deployment.
// Rows are created in a batch when the deployment targets an
// approval-requiring environment.
type DeploymentApproval struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DeploymentID uuid.UUID      `gorm:"type:uuid;index;not null" json:"deployment_id" validate:"required"`
	ApproverID   uuid.UUID      `gorm:"type:uuid;index;not null" json:"approver_id" validate:"required"`
	Status       string         `gorm:"type:varchar(16);not null;default:pending" json:"status" validate:"required,oneof=pending approved rejected"`
	Comments     string         `gorm:"type:text" json:"comments"`
	DecidedAt    *time.Time     `json:"decided_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *DeploymentApproval) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
