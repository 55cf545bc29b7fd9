// Package workflow implements the approval workflow engine: instance start,
// task completion, return, withdrawal and forced termination over a parsed
// process graph.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greenfin/greenflow/internal/bpmn"
	"github.com/greenfin/greenflow/internal/classify"
	"github.com/greenfin/greenflow/internal/logging"
	"github.com/greenfin/greenflow/internal/repository"
	"github.com/greenfin/greenflow/pkg/models"
)

// Classifier resolves a 3-level classification into its canonical label.
type Classifier interface {
	Label(ctx context.Context, large, medium, small string) (string, error)
}

type graphKey struct {
	definitionID int64
	version      int
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Engine orchestrates the task lifecycle state machine. Every mutating
// operation runs inside one store transaction and locks the instance row
// before checking the single-pending-task invariant.
type Engine struct {
	store      repository.Store
	classifier Classifier
	logger     *logging.Logger

	mu     sync.Mutex
	graphs map[graphKey]*bpmn.Graph
}

// NewEngine creates an Engine over the given store and classifier.
func NewEngine(store repository.Store, classifier Classifier, logger *logging.Logger) *Engine {
	return &Engine{
		store:      store,
		classifier: classifier,
		logger:     logger,
		graphs:     map[graphKey]*bpmn.Graph{},
	}
}

// InvalidateGraphCache drops all cached parsed graphs. Called after a
// definition redeploy or activation.
func (e *Engine) InvalidateGraphCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graphs = map[graphKey]*bpmn.Graph{}
}

// graphFor returns the parsed graph for a definition, cached by
// (definition id, version).
func (e *Engine) graphFor(def *models.ProcessDefinition) (*bpmn.Graph, error) {
	key := graphKey{definitionID: def.ID, version: def.Version}
	e.mu.Lock()
	if g, ok := e.graphs[key]; ok {
		e.mu.Unlock()
		return g, nil
	}
	e.mu.Unlock()

	g, err := bpmn.Parse([]byte(def.BPMN))
	if err != nil {
		return nil, parseErr("definition %q v%d: %v", def.Name, def.Version, err)
	}

	e.mu.Lock()
	e.graphs[key] = g
	e.mu.Unlock()
	return g, nil
}

// StartInstance starts an approval instance for a loan: it loads the active
// definition, locates the first task node, resolves its owner, computes the
// due date and persists the instance with its first pending task.
func (e *Engine) StartInstance(ctx context.Context, definitionName string, loanID, initiatorID int64) (*models.Instance, error) {
	var created *models.Instance
	err := e.store.InTx(ctx, func(tx repository.Store) error {
		loan, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return notFoundErr("loan %d", loanID)
		}

		def, err := tx.GetActiveDefinition(ctx, definitionName)
		if err != nil {
			return err
		}
		if def == nil {
			return notFoundErr("no active definition for process %q", definitionName)
		}

		graph, err := e.graphFor(def)
		if err != nil {
			return err
		}
		start := graph.StartNode()
		if start == nil {
			return parseErr("definition %q has no start node", definitionName)
		}
		first, end := graph.NextTaskNode(start.ID, false)
		if end || first == nil {
			return parseErr("definition %q has no task node after start", definitionName)
		}

		assigneeID, skip, err := resolveAssignee(ctx, tx, first, loan)
		if err != nil {
			return err
		}
		if skip {
			return resolutionErr("first node %q resolved to skip", first.Key)
		}

		now := time.Now()
		inst := &models.Instance{
			CaseID:       fmt.Sprintf("CASE-%s", uuid.New().String()),
			DefinitionID: def.ID,
			BusinessKey:  loan.LoanCode,
			CurrentNode:  first.Key,
			Status:       models.InstanceStatusRunning,
			StartedBy:    initiatorID,
			StartedAt:    now,
			LoanID:       loan.ID,
		}
		if err := tx.CreateInstance(ctx, inst); err != nil {
			return err
		}

		task := &models.Task{
			InstanceID: inst.ID,
			LoanID:     loan.ID,
			TaskKey:    first.Key,
			TaskName:   first.Name,
			NodeID:     first.ID,
			AssigneeID: assigneeID,
			Status:     models.TaskStatusPending,
			StartedAt:  now,
		}
		if err := tx.CreateTask(ctx, task); err != nil {
			return err
		}

		deadline := DueDate(now, reviewWindowDays)
		loan.Deadline = &deadline
		loan.Status = models.LoanStatusProcessing
		loan.CurrentHandlerID = &assigneeID
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}

		created = inst
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("instance started", "case_id", created.CaseID, "loan_id", loanID)
	return created, nil
}

// CompleteTask completes a pending task and advances the instance. Approval
// follows the first outgoing edge, rejection the last. Reaching an end node
// finalizes the instance; otherwise the next pending task is spawned after
// verifying no other pending task exists for the instance.
func (e *Engine) CompleteTask(ctx context.Context, taskID, actorID int64, result models.ApprovalResult, comment string) (*models.Task, error) {
	if result != models.ApprovalApprove && result != models.ApprovalReject {
		return nil, transitionErr("approval result must be approve or reject")
	}
	var next *models.Task
	err := e.store.InTx(ctx, func(tx repository.Store) error {
		task, inst, loan, graph, err := e.loadPendingTask(ctx, tx, taskID, actorID)
		if err != nil {
			return err
		}

		others, err := tx.PendingTasksByInstance(ctx, inst.ID, task.ID)
		if err != nil {
			return err
		}
		if len(others) > 0 {
			return transitionErr("instance %d already has a pending task at %q", inst.ID, others[0].TaskKey)
		}

		node := graph.TaskNodeByKey(task.TaskKey)
		if node == nil {
			return parseErr("node %q not found in definition", task.TaskKey)
		}

		now := time.Now()
		if err := e.snapshotClassification(ctx, task, loan); err != nil {
			return err
		}
		task.Status = models.TaskStatusCompleted
		task.ApprovalResult = result
		task.Comment = comment
		task.CompletedAt = &now
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}

		// First edge is the approve path, last edge the reject path. The
		// definition format carries no conditional-edge semantics; this
		// convention is a documented limitation.
		nextNode, end := graph.NextTaskNode(node.ID, result == models.ApprovalReject)
		if end {
			return e.finalize(ctx, tx, inst, loan, result, now)
		}
		if nextNode == nil {
			return parseErr("node %q has no task successor", task.TaskKey)
		}

		spawned, err := e.spawnTask(ctx, tx, graph, inst, loan, nextNode, now)
		if err != nil {
			return err
		}
		next = spawned
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// ReturnTask sends a pending task back to an earlier task node. The target
// must be reachable by reverse traversal from the current node. The current
// task is marked returned and then superseded to withdrawn; a fresh pending
// task is spawned at the target for its resolved assignee.
func (e *Engine) ReturnTask(ctx context.Context, taskID, actorID int64, targetKey, comment string) (*models.Task, error) {
	var created *models.Task
	err := e.store.InTx(ctx, func(tx repository.Store) error {
		task, inst, loan, graph, err := e.loadPendingTask(ctx, tx, taskID, actorID)
		if err != nil {
			return err
		}
		if task.TaskKey == NodeManagerIdentification {
			return transitionErr("the originator task cannot be returned")
		}

		node := graph.TaskNodeByKey(task.TaskKey)
		if node == nil {
			return parseErr("node %q not found in definition", task.TaskKey)
		}
		if !contains(graph.PriorTaskKeys(node.ID), targetKey) {
			return transitionErr("node %q is not reachable from %q by return", targetKey, task.TaskKey)
		}
		target := graph.TaskNodeByKey(targetKey)
		if target == nil {
			return parseErr("node %q not found in definition", targetKey)
		}

		now := time.Now()
		if err := e.snapshotClassification(ctx, task, loan); err != nil {
			return err
		}
		task.Status = models.TaskStatusReturned
		task.ApprovalResult = models.ApprovalReturn
		task.Comment = comment
		task.Reason = fmt.Sprintf("returned to %s", target.Name)
		task.CompletedAt = &now
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		// The returned task is immediately superseded so it does not show
		// up as actionable history.
		task.Status = models.TaskStatusWithdrawn
		task.ApprovalResult = models.ApprovalWithdraw
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}

		spawned, err := e.spawnTask(ctx, tx, graph, inst, loan, target, now)
		if err != nil {
			return err
		}
		created = spawned
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// WithdrawTask lets the owner of a completed task reclaim it. Withdrawal is
// refused at the final review node and once any task recorded after the
// withdrawn one has been completed. Later pending tasks are marked withdrawn
// and a fresh pending task is spawned at the original node for the same
// owner, inheriting the prior classification snapshot.
func (e *Engine) WithdrawTask(ctx context.Context, taskID, actorID int64) (*models.Task, error) {
	var created *models.Task
	err := e.store.InTx(ctx, func(tx repository.Store) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return notFoundErr("task %d", taskID)
		}
		if task.Status != models.TaskStatusCompleted {
			return transitionErr("only completed tasks can be withdrawn")
		}
		if task.AssigneeID != actorID {
			return transitionErr("task %d is not owned by user %d", taskID, actorID)
		}
		if task.TaskKey == NodeFinalReview {
			return transitionErr("the final review task cannot be withdrawn")
		}

		inst, err := tx.GetInstanceForUpdate(ctx, task.InstanceID)
		if err != nil {
			return err
		}
		if inst == nil {
			return notFoundErr("instance %d", task.InstanceID)
		}
		if inst.Status != models.InstanceStatusRunning {
			return transitionErr("instance %d is no longer running", inst.ID)
		}

		// Task records created after this one are its downstream: the walk
		// may have passed through skipped nodes, so the live pending task can
		// sit several keys ahead. Any completed one blocks the withdrawal;
		// pending ones are superseded.
		now := time.Now()
		all, err := tx.TasksByInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		for _, t := range all {
			if t.ID <= task.ID {
				continue
			}
			if t.Status == models.TaskStatusCompleted {
				return transitionErr("downstream task %q already completed", t.TaskKey)
			}
		}
		for _, t := range all {
			if t.ID <= task.ID || t.Status != models.TaskStatusPending {
				continue
			}
			t.Status = models.TaskStatusWithdrawn
			t.ApprovalResult = models.ApprovalWithdraw
			t.Reason = "superseded by withdrawal"
			t.CompletedAt = &now
			if err := tx.UpdateTask(ctx, t); err != nil {
				return err
			}
		}

		replacement := &models.Task{
			InstanceID:        inst.ID,
			LoanID:            task.LoanID,
			TaskKey:           task.TaskKey,
			TaskName:          task.TaskName,
			NodeID:            task.NodeID,
			AssigneeID:        task.AssigneeID,
			Status:            models.TaskStatusPending,
			StartedAt:         now,
			CategoryLarge:     task.CategoryLarge,
			CategoryMedium:    task.CategoryMedium,
			CategorySmall:     task.CategorySmall,
			FormattedCategory: task.FormattedCategory,
		}
		if err := tx.CreateTask(ctx, replacement); err != nil {
			return err
		}

		task.Status = models.TaskStatusWithdrawn
		task.ApprovalResult = models.ApprovalWithdraw
		task.Reason = "withdrawn by owner"
		task.CompletedAt = &now
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}

		inst.CurrentNode = task.TaskKey
		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return err
		}

		loan, err := tx.GetLoan(ctx, task.LoanID)
		if err != nil {
			return err
		}
		if loan != nil {
			loan.CurrentHandlerID = &task.AssigneeID
			loan.Status = models.LoanStatusProcessing
			if err := tx.UpdateLoan(ctx, loan); err != nil {
				return err
			}
		}

		created = replacement
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ForceTerminate terminates a pending task and its instance, bypassing the
// graph. Used by the overdue cutoff.
func (e *Engine) ForceTerminate(ctx context.Context, taskID int64, reason string) error {
	return e.store.InTx(ctx, func(tx repository.Store) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return notFoundErr("task %d", taskID)
		}
		if task.Status != models.TaskStatusPending {
			return transitionErr("task %d is not pending", taskID)
		}
		return e.terminate(ctx, tx, task, reason, models.InstanceStatusTerminated, models.LoanStatusSystemTerminated)
	})
}

// MarkNonGreen is the manual terminal override: the acting owner declares
// the loan non-green. The loan's classification is replaced with the fixed
// non-green label and the instance is concluded.
func (e *Engine) MarkNonGreen(ctx context.Context, taskID, actorID int64) error {
	return e.store.InTx(ctx, func(tx repository.Store) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return notFoundErr("task %d", taskID)
		}
		if task.Status != models.TaskStatusPending {
			return transitionErr("task %d is not pending", taskID)
		}
		if task.AssigneeID != actorID {
			return transitionErr("task %d is not owned by user %d", taskID, actorID)
		}

		loan, err := tx.GetLoan(ctx, task.LoanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return notFoundErr("loan %d", task.LoanID)
		}
		loan.CategoryLarge = classify.NonGreenLarge
		loan.CategoryMedium = classify.NonGreenMedium
		loan.CategorySmall = classify.NonGreenSmall
		loan.FormattedCategory = classify.NonGreenLabel
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}

		task.CategoryLarge = loan.CategoryLarge
		task.CategoryMedium = loan.CategoryMedium
		task.CategorySmall = loan.CategorySmall
		task.FormattedCategory = loan.FormattedCategory
		return e.terminate(ctx, tx, task, "marked non-green", models.InstanceStatusCompleted, models.LoanStatusSystemTerminated)
	})
}

// TerminateOverdueTasks applies the overdue cutoff to every pending task
// whose loan deadline has elapsed. Each task is terminated in its own
// transaction and re-checked for pending state inside it, so the scan is
// idempotent under re-invocation and safe against concurrent completion.
func (e *Engine) TerminateOverdueTasks(ctx context.Context, now time.Time) (int, error) {
	overdue, err := e.store.OverduePendingTasks(ctx, now)
	if err != nil {
		return 0, err
	}
	terminated := 0
	for _, candidate := range overdue {
		applied := false
		err := e.store.InTx(ctx, func(tx repository.Store) error {
			task, err := tx.GetTask(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if task == nil || task.Status != models.TaskStatusPending {
				return nil
			}
			if err := e.terminate(ctx, tx, task, "deadline elapsed", models.InstanceStatusTerminated, models.LoanStatusSystemTerminated); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			e.logger.Error("overdue termination failed", "task_id", candidate.ID, "error", err)
			continue
		}
		if applied {
			terminated++
		}
	}
	return terminated, nil
}

// InstanceHistory returns all tasks of an instance in start order.
func (e *Engine) InstanceHistory(ctx context.Context, instanceID int64) ([]*models.Task, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, notFoundErr("instance %d", instanceID)
	}
	return e.store.TasksByInstance(ctx, instanceID)
}

// PendingTasks returns a user's pending tasks, newest first.
func (e *Engine) PendingTasks(ctx context.Context, userID int64) ([]*models.Task, error) {
	return e.store.PendingTasksByAssignee(ctx, userID)
}

// loadPendingTask loads a pending task plus its locked instance, loan and
// parsed graph, enforcing ownership.
func (e *Engine) loadPendingTask(ctx context.Context, tx repository.Store, taskID, actorID int64) (*models.Task, *models.Instance, *models.Loan, *bpmn.Graph, error) {
	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if task == nil {
		return nil, nil, nil, nil, notFoundErr("task %d", taskID)
	}
	if task.Status != models.TaskStatusPending {
		return nil, nil, nil, nil, transitionErr("task %d is not pending", taskID)
	}
	if task.AssigneeID != actorID {
		return nil, nil, nil, nil, transitionErr("task %d is not owned by user %d", taskID, actorID)
	}

	inst, err := tx.GetInstanceForUpdate(ctx, task.InstanceID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if inst == nil {
		return nil, nil, nil, nil, notFoundErr("instance %d", task.InstanceID)
	}
	if inst.Status != models.InstanceStatusRunning {
		return nil, nil, nil, nil, transitionErr("instance %d is no longer running", inst.ID)
	}

	loan, err := tx.GetLoan(ctx, task.LoanID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if loan == nil {
		return nil, nil, nil, nil, notFoundErr("loan %d", task.LoanID)
	}

	def, err := tx.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if def == nil {
		return nil, nil, nil, nil, notFoundErr("definition %d", inst.DefinitionID)
	}
	graph, err := e.graphFor(def)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return task, inst, loan, graph, nil
}

// snapshotClassification copies the loan's classification fields onto the
// task, resolving the canonical label.
func (e *Engine) snapshotClassification(ctx context.Context, task *models.Task, loan *models.Loan) error {
	task.CategoryLarge = loan.CategoryLarge
	task.CategoryMedium = loan.CategoryMedium
	task.CategorySmall = loan.CategorySmall
	label, err := e.classifier.Label(ctx, loan.CategoryLarge, loan.CategoryMedium, loan.CategorySmall)
	if err != nil {
		return err
	}
	if label != "" {
		task.FormattedCategory = label
	}
	return nil
}

// spawnTask creates the pending task at a node, resolving its assignee and
// rolling the loan's deadline forward. Skip-eligible nodes with no holder
// get a skipped audit record and the walk continues on the approve path.
func (e *Engine) spawnTask(ctx context.Context, tx repository.Store, graph *bpmn.Graph, inst *models.Instance, loan *models.Loan, node *bpmn.Node, now time.Time) (*models.Task, error) {
	for {
		assigneeID, skip, err := resolveAssignee(ctx, tx, node, loan)
		if err != nil {
			return nil, err
		}
		if !skip {
			task := &models.Task{
				InstanceID:        inst.ID,
				LoanID:            loan.ID,
				TaskKey:           node.Key,
				TaskName:          node.Name,
				NodeID:            node.ID,
				AssigneeID:        assigneeID,
				Status:            models.TaskStatusPending,
				StartedAt:         now,
				CategoryLarge:     loan.CategoryLarge,
				CategoryMedium:    loan.CategoryMedium,
				CategorySmall:     loan.CategorySmall,
				FormattedCategory: loan.FormattedCategory,
			}
			if err := tx.CreateTask(ctx, task); err != nil {
				return nil, err
			}

			inst.CurrentNode = node.Key
			if err := tx.UpdateInstance(ctx, inst); err != nil {
				return nil, err
			}

			deadline := DueDate(now, reviewWindowDays)
			loan.Deadline = &deadline
			loan.CurrentHandlerID = &assigneeID
			loan.Status = models.LoanStatusProcessing
			if err := tx.UpdateLoan(ctx, loan); err != nil {
				return nil, err
			}
			return task, nil
		}

		skipped := &models.Task{
			InstanceID: inst.ID,
			LoanID:     loan.ID,
			TaskKey:    node.Key,
			TaskName:   node.Name,
			NodeID:     node.ID,
			Status:     models.TaskStatusSkipped,
			Reason:     "no eligible holder, node is skip-eligible",
			StartedAt:  now,
			CompletedAt: func() *time.Time {
				t := now
				return &t
			}(),
		}
		if err := tx.CreateTask(ctx, skipped); err != nil {
			return nil, err
		}

		next, end := graph.NextTaskNode(node.ID, false)
		if end {
			return nil, e.finalize(ctx, tx, inst, loan, models.ApprovalApprove, now)
		}
		if next == nil {
			return nil, parseErr("node %q has no task successor", node.Key)
		}
		node = next
	}
}

// finalize concludes an instance at an end node.
func (e *Engine) finalize(ctx context.Context, tx repository.Store, inst *models.Instance, loan *models.Loan, result models.ApprovalResult, now time.Time) error {
	inst.Status = models.InstanceStatusCompleted
	inst.CurrentNode = "end"
	inst.EndedAt = &now
	if err := tx.UpdateInstance(ctx, inst); err != nil {
		return err
	}

	if result == models.ApprovalApprove {
		loan.Status = models.LoanStatusArchived
	} else {
		loan.Status = models.LoanStatusRejected
	}
	loan.CompletedAt = &now
	loan.CurrentHandlerID = nil
	if err := tx.UpdateLoan(ctx, loan); err != nil {
		return err
	}
	e.logger.Info("instance concluded", "case_id", inst.CaseID, "status", string(loan.Status))
	return nil
}

// terminate applies the terminal path shared by the overdue cutoff and the
// non-green override. The instance row is locked before the task is
// rewritten so concurrent completions serialize against the cutoff.
func (e *Engine) terminate(ctx context.Context, tx repository.Store, task *models.Task, reason string, instStatus models.InstanceStatus, loanStatus models.LoanStatus) error {
	now := time.Now()
	inst, err := tx.GetInstanceForUpdate(ctx, task.InstanceID)
	if err != nil {
		return err
	}

	task.Status = models.TaskStatusSystemTerminated
	task.ApprovalResult = models.ApprovalTerminate
	task.Reason = reason
	task.CompletedAt = &now
	if err := tx.UpdateTask(ctx, task); err != nil {
		return err
	}

	if inst != nil {
		inst.Status = instStatus
		inst.CurrentNode = "end"
		inst.EndedAt = &now
		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return err
		}
	}

	loan, err := tx.GetLoan(ctx, task.LoanID)
	if err != nil {
		return err
	}
	if loan != nil {
		loan.Status = loanStatus
		loan.CompletedAt = &now
		loan.CurrentHandlerID = nil
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
	}
	e.logger.Info("task terminated", "task_id", task.ID, "reason", reason)
	return nil
}
