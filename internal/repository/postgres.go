package repository

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greenfin/greenflow/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same store
// code serves pooled and transactional access.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the PostgreSQL implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresStore creates a store over a pgx connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.q.Exec(ctx, schemaSQL)
	return err
}

// InTx runs fn within one transaction. A store already bound to a
// transaction runs fn directly, joining the enclosing transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.q.(pgx.Tx); ok {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{pool: s.pool, q: tx})
	})
}

// --- definitions ---

const definitionColumns = `id, key, name, version, description, bpmn_xml, status, deployed_by, deployed_at`

func scanDefinition(row pgx.Row) (*models.ProcessDefinition, error) {
	var d models.ProcessDefinition
	err := row.Scan(&d.ID, &d.Key, &d.Name, &d.Version, &d.Description, &d.BPMN, &d.Status, &d.DeployedBy, &d.DeployedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) GetActiveDefinition(ctx context.Context, name string) (*models.ProcessDefinition, error) {
	return scanDefinition(s.q.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM process_definitions WHERE name = $1 AND status = 'active' LIMIT 1`, name))
}

func (s *PostgresStore) GetDefinition(ctx context.Context, id int64) (*models.ProcessDefinition, error) {
	return scanDefinition(s.q.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM process_definitions WHERE id = $1`, id))
}

func (s *PostgresStore) DeployDefinition(ctx context.Context, def *models.ProcessDefinition) error {
	return s.q.QueryRow(ctx, `
		INSERT INTO process_definitions (key, name, version, description, bpmn_xml, status, deployed_by, deployed_at)
		VALUES ($1, $2, COALESCE((SELECT MAX(version) FROM process_definitions WHERE key = $1), 0) + 1, $3, $4, $5, $6, $7)
		RETURNING id, version`,
		def.Key, def.Name, def.Description, def.BPMN, def.Status, def.DeployedBy, def.DeployedAt,
	).Scan(&def.ID, &def.Version)
}

func (s *PostgresStore) ActivateDefinition(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE process_definitions SET status = 'archived'
		WHERE status = 'active' AND id <> $1
		  AND name = (SELECT name FROM process_definitions WHERE id = $1)`, id)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `UPDATE process_definitions SET status = 'active' WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// --- instances ---

const instanceColumns = `id, case_id, definition_id, business_key, current_node, status, started_by, started_at, ended_at, loan_id`

func scanInstance(row pgx.Row) (*models.Instance, error) {
	var i models.Instance
	err := row.Scan(&i.ID, &i.CaseID, &i.DefinitionID, &i.BusinessKey, &i.CurrentNode, &i.Status, &i.StartedBy, &i.StartedAt, &i.EndedAt, &i.LoanID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *PostgresStore) CreateInstance(ctx context.Context, inst *models.Instance) error {
	return s.q.QueryRow(ctx, `
		INSERT INTO workflow_instances (case_id, definition_id, business_key, current_node, status, started_by, started_at, ended_at, loan_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		inst.CaseID, inst.DefinitionID, inst.BusinessKey, inst.CurrentNode, inst.Status, inst.StartedBy, inst.StartedAt, inst.EndedAt, inst.LoanID,
	).Scan(&inst.ID)
}

func (s *PostgresStore) GetInstance(ctx context.Context, id int64) (*models.Instance, error) {
	return scanInstance(s.q.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id))
}

func (s *PostgresStore) GetInstanceForUpdate(ctx context.Context, id int64) (*models.Instance, error) {
	return scanInstance(s.q.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1 FOR UPDATE`, id))
}

func (s *PostgresStore) UpdateInstance(ctx context.Context, inst *models.Instance) error {
	_, err := s.q.Exec(ctx, `
		UPDATE workflow_instances
		SET current_node = $2, status = $3, ended_at = $4
		WHERE id = $1`,
		inst.ID, inst.CurrentNode, inst.Status, inst.EndedAt)
	return err
}

// --- tasks ---

const taskColumns = `id, instance_id, loan_id, task_key, task_name, node_id, assignee_id, status, approval_result, comment, reason, started_at, completed_at, category_large, category_medium, category_small, formatted_category`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.InstanceID, &t.LoanID, &t.TaskKey, &t.TaskName, &t.NodeID, &t.AssigneeID, &t.Status, &t.ApprovalResult, &t.Comment, &t.Reason, &t.StartedAt, &t.CompletedAt, &t.CategoryLarge, &t.CategoryMedium, &t.CategorySmall, &t.FormattedCategory)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]*models.Task, error) {
	defer rows.Close()
	var tasks []*models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.InstanceID, &t.LoanID, &t.TaskKey, &t.TaskName, &t.NodeID, &t.AssigneeID, &t.Status, &t.ApprovalResult, &t.Comment, &t.Reason, &t.StartedAt, &t.CompletedAt, &t.CategoryLarge, &t.CategoryMedium, &t.CategorySmall, &t.FormattedCategory); err != nil {
			return nil, err
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	return s.q.QueryRow(ctx, `
		INSERT INTO workflow_tasks (instance_id, loan_id, task_key, task_name, node_id, assignee_id, status, approval_result, comment, reason, started_at, completed_at, category_large, category_medium, category_small, formatted_category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		task.InstanceID, task.LoanID, task.TaskKey, task.TaskName, task.NodeID, task.AssigneeID, task.Status, task.ApprovalResult, task.Comment, task.Reason, task.StartedAt, task.CompletedAt, task.CategoryLarge, task.CategoryMedium, task.CategorySmall, task.FormattedCategory,
	).Scan(&task.ID)
}

func (s *PostgresStore) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	return scanTask(s.q.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM workflow_tasks WHERE id = $1`, id))
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *models.Task) error {
	_, err := s.q.Exec(ctx, `
		UPDATE workflow_tasks
		SET assignee_id = $2, status = $3, approval_result = $4, comment = $5, reason = $6, completed_at = $7,
		    category_large = $8, category_medium = $9, category_small = $10, formatted_category = $11
		WHERE id = $1`,
		task.ID, task.AssigneeID, task.Status, task.ApprovalResult, task.Comment, task.Reason, task.CompletedAt,
		task.CategoryLarge, task.CategoryMedium, task.CategorySmall, task.FormattedCategory)
	return err
}

func (s *PostgresStore) PendingTasksByInstance(ctx context.Context, instanceID int64, excludeTaskID int64) ([]*models.Task, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+taskColumns+` FROM workflow_tasks
		 WHERE instance_id = $1 AND status = 'pending' AND id <> $2
		 ORDER BY started_at`, instanceID, excludeTaskID)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (s *PostgresStore) TasksByInstanceAndKey(ctx context.Context, instanceID int64, taskKey string, status models.TaskStatus) ([]*models.Task, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+taskColumns+` FROM workflow_tasks
		 WHERE instance_id = $1 AND task_key = $2 AND status = $3
		 ORDER BY started_at DESC`, instanceID, taskKey, status)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (s *PostgresStore) TasksByInstance(ctx context.Context, instanceID int64) ([]*models.Task, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+taskColumns+` FROM workflow_tasks WHERE instance_id = $1 ORDER BY started_at, id`, instanceID)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (s *PostgresStore) PendingTasksByAssignee(ctx context.Context, userID int64) ([]*models.Task, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+taskColumns+` FROM workflow_tasks
		 WHERE assignee_id = $1 AND status = 'pending'
		 ORDER BY started_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (s *PostgresStore) OverduePendingTasks(ctx context.Context, now time.Time) ([]*models.Task, error) {
	rows, err := s.q.Query(ctx,
		`SELECT t.id, t.instance_id, t.loan_id, t.task_key, t.task_name, t.node_id, t.assignee_id, t.status, t.approval_result, t.comment, t.reason, t.started_at, t.completed_at, t.category_large, t.category_medium, t.category_small, t.formatted_category
		 FROM workflow_tasks t
		 JOIN loans l ON l.id = t.loan_id
		 WHERE t.status = 'pending' AND l.deadline IS NOT NULL AND l.deadline <= $1
		 ORDER BY t.id`, now)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// --- loans ---

const loanColumns = `id, loan_code, customer_name, business_type, loan_amount, category_large, category_medium, category_small, formatted_category, status, initiator_id, current_handler_id, org_id, deadline, created_at, completed_at`

func (s *PostgresStore) GetLoan(ctx context.Context, id int64) (*models.Loan, error) {
	var l models.Loan
	err := s.q.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`, id,
	).Scan(&l.ID, &l.LoanCode, &l.CustomerName, &l.BusinessType, &l.LoanAmount, &l.CategoryLarge, &l.CategoryMedium, &l.CategorySmall, &l.FormattedCategory, &l.Status, &l.InitiatorID, &l.CurrentHandlerID, &l.OrgID, &l.Deadline, &l.CreatedAt, &l.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.q.Exec(ctx, `
		UPDATE loans
		SET category_large = $2, category_medium = $3, category_small = $4, formatted_category = $5,
		    status = $6, current_handler_id = $7, deadline = $8, completed_at = $9
		WHERE id = $1`,
		loan.ID, loan.CategoryLarge, loan.CategoryMedium, loan.CategorySmall, loan.FormattedCategory,
		loan.Status, loan.CurrentHandlerID, loan.Deadline, loan.CompletedAt)
	return err
}

// --- directory ---

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.q.QueryRow(ctx,
		`SELECT id, username, real_name, role_id, org_id, is_active FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.RealName, &u.RoleID, &u.OrgID, &u.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id int64) (*models.Organization, error) {
	var o models.Organization
	err := s.q.QueryRow(ctx,
		`SELECT id, name, code, parent_id, level, is_active FROM organizations WHERE id = $1`, id,
	).Scan(&o.ID, &o.Name, &o.Code, &o.ParentID, &o.Level, &o.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	var r models.Role
	err := s.q.QueryRow(ctx,
		`SELECT id, name, org_level FROM roles WHERE name = $1`, name,
	).Scan(&r.ID, &r.Name, &r.OrgLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanUsers(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()
	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.RealName, &u.RoleID, &u.OrgID, &u.IsActive); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) FindActiveUsersByRoleAndOrgs(ctx context.Context, roleID int64, orgIDs []int64) ([]*models.User, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, username, real_name, role_id, org_id, is_active FROM users
		 WHERE role_id = $1 AND org_id = ANY($2) AND is_active
		 ORDER BY id`, roleID, orgIDs)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func (s *PostgresStore) FindActiveUsersByRole(ctx context.Context, roleID int64) ([]*models.User, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, username, real_name, role_id, org_id, is_active FROM users
		 WHERE role_id = $1 AND is_active
		 ORDER BY id`, roleID)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func (s *PostgresStore) FindOrganizationsByLevelAndParent(ctx context.Context, levels []int, parentID int64) ([]*models.Organization, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, name, code, parent_id, level, is_active FROM organizations
		 WHERE level = ANY($1) AND (id = $2 OR parent_id = $2)
		 ORDER BY id`, levels, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orgs []*models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Code, &o.ParentID, &o.Level, &o.IsActive); err != nil {
			return nil, err
		}
		orgs = append(orgs, &o)
	}
	return orgs, rows.Err()
}
