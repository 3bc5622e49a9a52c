package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Organization owns projects; its admins form the approval pool for
// production deployments.
type Organization struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name" validate:"required"`
	Slug      string         `gorm:"uniqueIndex;not null" json:"slug" validate:"required"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Membership roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// OrganizationMember links a user to an organization with a role.
type OrganizationMember struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID      `gorm:"type:uuid;index:idx_org_members_org_user,unique;not null" json:"organization_id" validate:"required"`
	UserID         uuid.UUID      `gorm:"type:uuid;index:idx_org_members_org_user,unique;not null" json:"user_id" validate:"required"`
	Role           string         `gorm:"type:varchar(16);index;not null" json:"role" validate:"required,oneof=owner admin member"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (m *OrganizationMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
