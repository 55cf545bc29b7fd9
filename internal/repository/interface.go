// Package repository defines the persistence interfaces for the approval
// workflow and their PostgreSQL implementation.
package repository

import (
	"context"
	"time"

	"github.com/greenfin/greenflow/pkg/models"
)

// DefinitionStore manages versioned process definitions.
type DefinitionStore interface {
	// GetActiveDefinition returns the single active version for a process name.
	GetActiveDefinition(ctx context.Context, name string) (*models.ProcessDefinition, error)
	// GetDefinition retrieves a definition by id.
	GetDefinition(ctx context.Context, id int64) (*models.ProcessDefinition, error)
	// DeployDefinition inserts a new version (latest version + 1) in draft state.
	DeployDefinition(ctx context.Context, def *models.ProcessDefinition) error
	// ActivateDefinition marks one version active and archives any other
	// active version of the same process name.
	ActivateDefinition(ctx context.Context, id int64) error
}

// InstanceStore manages workflow instances.
type InstanceStore interface {
	CreateInstance(ctx context.Context, inst *models.Instance) error
	GetInstance(ctx context.Context, id int64) (*models.Instance, error)
	// GetInstanceForUpdate retrieves an instance and locks its row for the
	// duration of the enclosing transaction.
	GetInstanceForUpdate(ctx context.Context, id int64) (*models.Instance, error)
	UpdateInstance(ctx context.Context, inst *models.Instance) error
}

// TaskStore manages workflow tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	// PendingTasksByInstance returns pending tasks of an instance, optionally
	// excluding one task id (0 excludes nothing).
	PendingTasksByInstance(ctx context.Context, instanceID int64, excludeTaskID int64) ([]*models.Task, error)
	// TasksByInstanceAndKey returns an instance's tasks at a node key with the
	// given status, newest first.
	TasksByInstanceAndKey(ctx context.Context, instanceID int64, taskKey string, status models.TaskStatus) ([]*models.Task, error)
	// TasksByInstance returns all tasks of an instance ordered by start time.
	TasksByInstance(ctx context.Context, instanceID int64) ([]*models.Task, error)
	// PendingTasksByAssignee returns a user's pending tasks, newest first.
	PendingTasksByAssignee(ctx context.Context, userID int64) ([]*models.Task, error)
	// OverduePendingTasks returns pending tasks whose loan deadline has elapsed.
	OverduePendingTasks(ctx context.Context, now time.Time) ([]*models.Task, error)
}

// LoanStore reads and writes the business records under approval.
type LoanStore interface {
	GetLoan(ctx context.Context, id int64) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
}

// DirectoryStore exposes the organization tree and the identity/role
// directory. The engine only reads from it.
type DirectoryStore interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetOrganization(ctx context.Context, id int64) (*models.Organization, error)
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
	// FindActiveUsersByRoleAndOrgs returns active holders of a role within the
	// given organizations, ordered by user id.
	FindActiveUsersByRoleAndOrgs(ctx context.Context, roleID int64, orgIDs []int64) ([]*models.User, error)
	// FindActiveUsersByRole returns all active holders of a role, ordered by
	// user id.
	FindActiveUsersByRole(ctx context.Context, roleID int64) ([]*models.User, error)
	// FindOrganizationsByLevelAndParent returns organizations at one of the
	// given levels that are the given organization or sit directly under it.
	FindOrganizationsByLevelAndParent(ctx context.Context, levels []int, parentID int64) ([]*models.Organization, error)
}

// Store aggregates all persistence concerns of the engine. InTx runs fn
// within a single transaction; every mutating engine operation uses exactly
// one transaction so a typed error rolls the whole transition back.
type Store interface {
	DefinitionStore
	InstanceStore
	TaskStore
	LoanStore
	DirectoryStore

	InTx(ctx context.Context, fn func(Store) error) error
}
