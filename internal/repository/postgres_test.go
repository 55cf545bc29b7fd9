package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/greenfin/greenflow/pkg/models"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))

	_, err = pool.Exec(ctx, `
		INSERT INTO organizations (id, name, code, parent_id, level) VALUES
			(1, 'Head Office', 'HQ', NULL, 1),
			(2, 'East Branch', 'EAST', 1, 2),
			(3, 'Riverside Sub-branch', 'EAST-RS', 2, 3);
		INSERT INTO roles (id, name, org_level) VALUES
			(1, 'Account Manager', 3),
			(2, 'Green Finance Manager', 2);
		INSERT INTO users (id, username, real_name, role_id, org_id) VALUES
			(1, 'amanager', 'Avery Lin', 1, 3),
			(2, 'gfmeast', 'Jordan Park', 2, 2),
			(3, 'gfmeast2', 'Riley Chen', 2, 2);
		INSERT INTO loans (id, loan_code, customer_name, status, initiator_id, org_id) VALUES
			(1, 'GL-1', 'Northwind Textiles', 'pending', 1, 3);
	`)
	require.NoError(t, err)

	t.Run("definition versioning and activation", func(t *testing.T) {
		v1 := &models.ProcessDefinition{
			Key: "approval", Name: "Approval", BPMN: "<definitions/>",
			Status: models.DefinitionStatusDraft, DeployedBy: 1, DeployedAt: time.Now(),
		}
		require.NoError(t, store.DeployDefinition(ctx, v1))
		assert.Equal(t, 1, v1.Version)

		v2 := &models.ProcessDefinition{
			Key: "approval", Name: "Approval", BPMN: "<definitions/>",
			Status: models.DefinitionStatusDraft, DeployedBy: 1, DeployedAt: time.Now(),
		}
		require.NoError(t, store.DeployDefinition(ctx, v2))
		assert.Equal(t, 2, v2.Version)

		require.NoError(t, store.ActivateDefinition(ctx, v1.ID))
		active, err := store.GetActiveDefinition(ctx, "Approval")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, v1.ID, active.ID)

		// Activating v2 archives v1.
		require.NoError(t, store.ActivateDefinition(ctx, v2.ID))
		active, err = store.GetActiveDefinition(ctx, "Approval")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, v2.ID, active.ID)

		archived, err := store.GetDefinition(ctx, v1.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DefinitionStatusArchived, archived.Status)
	})

	t.Run("instance and task lifecycle", func(t *testing.T) {
		def, err := store.GetActiveDefinition(ctx, "Approval")
		require.NoError(t, err)

		inst := &models.Instance{
			CaseID:       "CASE-test-1",
			DefinitionID: def.ID,
			BusinessKey:  "GL-1",
			CurrentNode:  "manager_identification",
			Status:       models.InstanceStatusRunning,
			StartedBy:    1,
			StartedAt:    time.Now(),
			LoanID:       1,
		}
		require.NoError(t, store.CreateInstance(ctx, inst))
		require.NotZero(t, inst.ID)

		got, err := store.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "CASE-test-1", got.CaseID)
		assert.Nil(t, got.EndedAt)

		task := &models.Task{
			InstanceID: inst.ID,
			LoanID:     1,
			TaskKey:    "manager_identification",
			TaskName:   "Originator Submission",
			NodeID:     "t1",
			AssigneeID: 1,
			Status:     models.TaskStatusPending,
			StartedAt:  time.Now(),
		}
		require.NoError(t, store.CreateTask(ctx, task))

		pending, err := store.PendingTasksByInstance(ctx, inst.ID, 0)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, task.ID, pending[0].ID)

		pending, err = store.PendingTasksByInstance(ctx, inst.ID, task.ID)
		require.NoError(t, err)
		assert.Empty(t, pending)

		byAssignee, err := store.PendingTasksByAssignee(ctx, 1)
		require.NoError(t, err)
		require.Len(t, byAssignee, 1)

		now := time.Now()
		task.Status = models.TaskStatusCompleted
		task.ApprovalResult = models.ApprovalApprove
		task.Comment = "ok"
		task.CompletedAt = &now
		require.NoError(t, store.UpdateTask(ctx, task))

		completed, err := store.TasksByInstanceAndKey(ctx, inst.ID, "manager_identification", models.TaskStatusCompleted)
		require.NoError(t, err)
		require.Len(t, completed, 1)
		assert.Equal(t, models.ApprovalApprove, completed[0].ApprovalResult)
		require.NotNil(t, completed[0].CompletedAt)

		all, err := store.TasksByInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("overdue pending tasks", func(t *testing.T) {
		past := time.Now().AddDate(0, 0, -1)
		_, err := pool.Exec(ctx, `UPDATE loans SET deadline = $1 WHERE id = 1`, past)
		require.NoError(t, err)

		def, err := store.GetActiveDefinition(ctx, "Approval")
		require.NoError(t, err)
		inst := &models.Instance{
			CaseID: "CASE-test-2", DefinitionID: def.ID, CurrentNode: "branch_review",
			Status: models.InstanceStatusRunning, StartedBy: 1, StartedAt: time.Now(), LoanID: 1,
		}
		require.NoError(t, store.CreateInstance(ctx, inst))
		task := &models.Task{
			InstanceID: inst.ID, LoanID: 1, TaskKey: "branch_review", NodeID: "t2",
			AssigneeID: 2, Status: models.TaskStatusPending, StartedAt: time.Now(),
		}
		require.NoError(t, store.CreateTask(ctx, task))

		overdue, err := store.OverduePendingTasks(ctx, time.Now())
		require.NoError(t, err)
		require.Len(t, overdue, 1)
		assert.Equal(t, task.ID, overdue[0].ID)

		_, err = pool.Exec(ctx, `UPDATE loans SET deadline = NULL WHERE id = 1`)
		require.NoError(t, err)
	})

	t.Run("directory queries", func(t *testing.T) {
		user, err := store.GetUser(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "amanager", user.Username)

		org, err := store.GetOrganization(ctx, 3)
		require.NoError(t, err)
		require.NotNil(t, org)
		require.NotNil(t, org.ParentID)
		assert.Equal(t, int64(2), *org.ParentID)

		role, err := store.GetRoleByName(ctx, "Green Finance Manager")
		require.NoError(t, err)
		require.NotNil(t, role)

		// Lowest user id wins the tie.
		users, err := store.FindActiveUsersByRoleAndOrgs(ctx, role.ID, []int64{2})
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, int64(2), users[0].ID)

		orgs, err := store.FindOrganizationsByLevelAndParent(ctx, []int{2, 3}, 2)
		require.NoError(t, err)
		assert.Len(t, orgs, 2)

		missing, err := store.GetUser(ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("transaction rollback", func(t *testing.T) {
		loanBefore, err := store.GetLoan(ctx, 1)
		require.NoError(t, err)

		sentinel := errors.New("boom")
		err = store.InTx(ctx, func(tx Store) error {
			loan, err := tx.GetLoan(ctx, 1)
			if err != nil {
				return err
			}
			loan.Status = models.LoanStatusArchived
			if err := tx.UpdateLoan(ctx, loan); err != nil {
				return err
			}
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		loanAfter, err := store.GetLoan(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, loanBefore.Status, loanAfter.Status)
	})

	t.Run("row lock inside transaction", func(t *testing.T) {
		inst := &models.Instance{
			CaseID: "CASE-test-3", DefinitionID: 1, CurrentNode: "manager_identification",
			Status: models.InstanceStatusRunning, StartedBy: 1, StartedAt: time.Now(), LoanID: 1,
		}
		require.NoError(t, store.CreateInstance(ctx, inst))

		err := store.InTx(ctx, func(tx Store) error {
			locked, err := tx.GetInstanceForUpdate(ctx, inst.ID)
			if err != nil {
				return err
			}
			require.NotNil(t, locked)
			locked.Status = models.InstanceStatusCompleted
			return tx.UpdateInstance(ctx, locked)
		})
		require.NoError(t, err)

		got, err := store.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, models.InstanceStatusCompleted, got.Status)
	})

	t.Run("category lookups", func(t *testing.T) {
		_, err := pool.Exec(ctx, `
			INSERT INTO categories (large_code, large_name, medium_code, medium_name, small_code, small_name, formatted_name) VALUES
				('1', 'Energy conservation', '1.1', 'Industrial energy efficiency', '1.1.1', 'Boiler retrofit',
				 '1 Energy conservation / 1.1 Industrial energy efficiency / 1.1.1 Boiler retrofit'),
				('1', 'Energy conservation', '1.2', 'Green buildings', NULL, '',
				 '1 Energy conservation / 1.2 Green buildings')
		`)
		require.NoError(t, err)

		cats := NewPostgresCategoryStore(pool)

		label, err := cats.FormattedForTriple(ctx, "Energy conservation", "Industrial energy efficiency", "Boiler retrofit")
		require.NoError(t, err)
		assert.Equal(t, "1 Energy conservation / 1.1 Industrial energy efficiency / 1.1.1 Boiler retrofit", label)

		label, err = cats.FormattedForPrefix(ctx, "Energy conservation", "Green buildings")
		require.NoError(t, err)
		assert.Equal(t, "1 Energy conservation / 1.2 Green buildings", label)

		code, err := cats.LargeCodeForName(ctx, "Energy conservation")
		require.NoError(t, err)
		assert.Equal(t, "1", code)

		code, matchedLarge, err := cats.MediumCodeForName(ctx, "Energy conservation", "", "Green buildings")
		require.NoError(t, err)
		assert.Equal(t, "1.2", code)
		assert.Equal(t, "1", matchedLarge)

		label, err = cats.FormattedForTriple(ctx, "No", "Such", "Row")
		require.NoError(t, err)
		assert.Equal(t, "", label)
	})
}
