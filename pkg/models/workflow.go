package models

import (
	"time"
)

// DefinitionStatus represents the lifecycle state of a process definition
type DefinitionStatus string

const (
	DefinitionStatusDraft    DefinitionStatus = "draft"
	DefinitionStatusActive   DefinitionStatus = "active"
	DefinitionStatusArchived DefinitionStatus = "archived"
)

// InstanceStatus represents the state of a workflow instance
type InstanceStatus string

const (
	InstanceStatusRunning    InstanceStatus = "running"
	InstanceStatusCompleted  InstanceStatus = "completed"
	InstanceStatusTerminated InstanceStatus = "terminated"
)

// TaskStatus represents the state of a single workflow task
type TaskStatus string

const (
	TaskStatusPending          TaskStatus = "pending"
	TaskStatusCompleted        TaskStatus = "completed"
	TaskStatusReturned         TaskStatus = "returned"
	TaskStatusWithdrawn        TaskStatus = "withdrawn"
	TaskStatusSkipped          TaskStatus = "skipped"
	TaskStatusSystemTerminated TaskStatus = "system_terminated"
)

// ApprovalResult is the decision recorded when a task leaves the pending state
type ApprovalResult string

const (
	ApprovalApprove   ApprovalResult = "approve"
	ApprovalReject    ApprovalResult = "reject"
	ApprovalReturn    ApprovalResult = "return"
	ApprovalWithdraw  ApprovalResult = "withdraw"
	ApprovalTerminate ApprovalResult = "terminate"
)

// ProcessDefinition is an immutable, versioned process graph document.
// At most one version per process name is active at a time.
type ProcessDefinition struct {
	ID          int64            `json:"id" db:"id"`
	Key         string           `json:"key" db:"key"`
	Name        string           `json:"name" db:"name"`
	Version     int              `json:"version" db:"version"`
	Description string           `json:"description" db:"description"`
	BPMN        string           `json:"bpmn_xml" db:"bpmn_xml"`
	Status      DefinitionStatus `json:"status" db:"status"`
	DeployedBy  int64            `json:"deployed_by" db:"deployed_by"`
	DeployedAt  time.Time        `json:"deployed_at" db:"deployed_at"`
}

// Instance is one loan's traversal through an approval process graph
type Instance struct {
	ID           int64          `json:"id" db:"id"`
	CaseID       string         `json:"case_id" db:"case_id"`
	DefinitionID int64          `json:"definition_id" db:"definition_id"`
	BusinessKey  string         `json:"business_key" db:"business_key"`
	CurrentNode  string         `json:"current_node" db:"current_node"`
	Status       InstanceStatus `json:"status" db:"status"`
	StartedBy    int64          `json:"started_by" db:"started_by"`
	StartedAt    time.Time      `json:"started_at" db:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty" db:"ended_at"`
	LoanID       int64          `json:"loan_id" db:"loan_id"`
}

// Task is one node-visit within an instance, owned by exactly one user.
// Terminal tasks are never deleted; undo operations mark the old task and
// create a new pending one.
type Task struct {
	ID             int64          `json:"id" db:"id"`
	InstanceID     int64          `json:"instance_id" db:"instance_id"`
	LoanID         int64          `json:"loan_id" db:"loan_id"`
	TaskKey        string         `json:"task_key" db:"task_key"`
	TaskName       string         `json:"task_name" db:"task_name"`
	NodeID         string         `json:"node_id" db:"node_id"`
	AssigneeID     int64          `json:"assignee_id" db:"assignee_id"`
	Status         TaskStatus     `json:"status" db:"status"`
	ApprovalResult ApprovalResult `json:"approval_result,omitempty" db:"approval_result"`
	Comment        string         `json:"comment,omitempty" db:"comment"`
	Reason         string         `json:"reason,omitempty" db:"reason"`
	StartedAt      time.Time      `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty" db:"completed_at"`

	// Point-in-time classification snapshot taken when the task was worked
	CategoryLarge     string `json:"category_large,omitempty" db:"category_large"`
	CategoryMedium    string `json:"category_medium,omitempty" db:"category_medium"`
	CategorySmall     string `json:"category_small,omitempty" db:"category_small"`
	FormattedCategory string `json:"formatted_category,omitempty" db:"formatted_category"`
}
