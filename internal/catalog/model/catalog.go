package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;column:id;not null;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"type:timestamptz;column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"type:timestamptz;column:updated_at;not null" json:"updatedAt"`
}

// BeforeCreate is a GORM hook that is triggered before a new record is created.
func (base *BaseModel) BeforeCreate(tx *gorm.DB) (err error) {
	if base.ID == uuid.Nil {
		base.ID, err = uuid.NewRandom()
		if err != nil {
			return
		}
	}
	return
}

// ImplementationKind selects how an implementation's body is interpreted.
type ImplementationKind string

const (
	KindTemplateRender    ImplementationKind = "template_render"   // body is a config template
	KindStructuredPayload ImplementationKind = "structured_payload" // body renders to a structured API payload
	KindExternalCall      ImplementationKind = "external_call"      // body describes a call handed to an external runner
)

// InputSpec declares one input a task definition expects.
type InputSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // string, integer, boolean, list, object
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// TaskDefinition is the vendor-agnostic "what" of an automation capability.
// Definitions referenced by a published workflow are treated as immutable.
type TaskDefinition struct {
	BaseModel
	Name         string      `gorm:"type:varchar(150);column:name;not null" json:"name"`
	Slug         string      `gorm:"type:varchar(160);column:slug;uniqueIndex;not null" json:"slug"`
	Category     string      `gorm:"type:varchar(100);column:category" json:"category"`
	Description  string      `gorm:"type:text;column:description" json:"description"`
	InputSchema  []InputSpec `gorm:"type:jsonb;column:input_schema;serializer:json" json:"inputSchema"`
	OutputSchema []InputSpec `gorm:"type:jsonb;column:output_schema;serializer:json" json:"outputSchema"`
	Enabled      bool        `gorm:"column:enabled;not null;default:true" json:"enabled"`
}

func (td *TaskDefinition) TableName() string {
	return "task_definitions"
}

// TaskImplementation is the platform-specific "how" for a TaskDefinition.
// Manufacturer is a required match; Platform narrows it when set. A nil
// Platform means the implementation is generic across the manufacturer.
type TaskImplementation struct {
	BaseModel
	TaskID            uuid.UUID          `gorm:"type:uuid;column:task_id;uniqueIndex:idx_impl_task_name;not null" json:"taskId"`
	Name              string             `gorm:"type:varchar(150);column:name;uniqueIndex:idx_impl_task_name;not null" json:"name"`
	Manufacturer      string             `gorm:"type:varchar(100);column:manufacturer;not null" json:"manufacturer"`
	Platform          *string            `gorm:"type:varchar(100);column:platform" json:"platform,omitempty"`
	VersionConstraint string             `gorm:"type:varchar(200);column:version_constraint" json:"versionConstraint,omitempty"`
	Priority          int                `gorm:"column:priority;not null;default:100" json:"priority"`
	Kind              ImplementationKind `gorm:"type:varchar(32);column:kind;not null" json:"kind"`
	TemplateBody      string             `gorm:"type:text;column:template_body" json:"templateBody"`
	Enabled           bool               `gorm:"column:enabled;not null;default:true" json:"enabled"`

	// Relationships
	Task TaskDefinition `gorm:"foreignKey:TaskID;references:ID" json:"-"`
}

func (ti *TaskImplementation) TableName() string {
	return "task_implementations"
}

// PlatformSpecific reports whether this implementation is pinned to a
// platform rather than generic across its manufacturer.
func (ti *TaskImplementation) PlatformSpecific() bool {
	return ti.Platform != nil && *ti.Platform != ""
}
