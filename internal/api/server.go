// Package api contains the HTTP handlers for the approval workflow service
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/greenfin/greenflow/internal/config"
	"github.com/greenfin/greenflow/internal/logging"
	"github.com/greenfin/greenflow/internal/repository"
	"github.com/greenfin/greenflow/internal/workflow"
	"github.com/greenfin/greenflow/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Engine     *workflow.Engine
	Classifier workflow.Classifier
	Store      repository.Store
	Logger     *logging.Logger
	Cfg        *config.Config
}

// NewServer creates a new Server.
func NewServer(engine *workflow.Engine, classifier workflow.Classifier, store repository.Store, logger *logging.Logger, cfg *config.Config) *Server {
	return &Server{Engine: engine, Classifier: classifier, Store: store, Logger: logger, Cfg: cfg}
}

// RegisterRoutes mounts all handlers on the given group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/instances", s.StartInstance)
	g.GET("/instances/:id/history", s.InstanceHistory)

	g.GET("/tasks/pending", s.PendingTasks)
	g.POST("/tasks/:id/complete", s.CompleteTask)
	g.POST("/tasks/:id/return", s.ReturnTask)
	g.POST("/tasks/:id/withdraw", s.WithdrawTask)
	g.POST("/tasks/:id/mark-non-green", s.MarkNonGreen)

	g.GET("/classification/label", s.ClassificationLabel)

	g.POST("/definitions", s.DeployDefinition)
	g.POST("/definitions/:id/activate", s.ActivateDefinition)
}

// actorID reads the acting user from the X-User-ID header.
func actorID(c echo.Context) (int64, error) {
	raw := c.Request().Header.Get("X-User-ID")
	if raw == "" {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "X-User-ID header required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "invalid X-User-ID header")
	}
	return id, nil
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// httpError maps engine error classes to HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrParse), errors.Is(err, workflow.ErrResolution):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "greenflow",
	})
}

// StartInstanceRequest starts an approval instance for a loan.
type StartInstanceRequest struct {
	LoanID         int64  `json:"loan_id"`
	DefinitionName string `json:"definition_name,omitempty"`
}

// StartInstance starts an approval instance
// (POST /api/v1/instances)
func (s *Server) StartInstance(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := actorID(c)
	if err != nil {
		return err
	}

	var req StartInstanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.LoanID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "loan_id is required")
	}
	name := req.DefinitionName
	if name == "" {
		name = s.Cfg.Workflow.ProcessName
	}

	inst, err := s.Engine.StartInstance(ctx, name, req.LoanID, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inst)
}

// InstanceHistory returns all tasks of an instance in start order
// (GET /api/v1/instances/:id/history)
func (s *Server) InstanceHistory(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := pathID(c)
	if err != nil {
		return err
	}
	tasks, err := s.Engine.InstanceHistory(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tasks)
}

// PendingTasks returns the acting user's pending tasks
// (GET /api/v1/tasks/pending)
func (s *Server) PendingTasks(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	tasks, err := s.Engine.PendingTasks(ctx, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tasks)
}

// CompleteTaskRequest records an approve or reject decision.
type CompleteTaskRequest struct {
	Result  models.ApprovalResult `json:"result"`
	Comment string                `json:"comment,omitempty"`
}

// CompleteTask completes a pending task
// (POST /api/v1/tasks/:id/complete)
func (s *Server) CompleteTask(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req CompleteTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	next, err := s.Engine.CompleteTask(ctx, id, actor, req.Result, req.Comment)
	if err != nil {
		return httpError(err)
	}
	if next == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, next)
}

// ReturnTaskRequest sends a task back to an earlier node.
type ReturnTaskRequest struct {
	TargetKey string `json:"target_key"`
	Comment   string `json:"comment,omitempty"`
}

// ReturnTask returns a pending task to an earlier node
// (POST /api/v1/tasks/:id/return)
func (s *Server) ReturnTask(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req ReturnTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.TargetKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target_key is required")
	}

	created, err := s.Engine.ReturnTask(ctx, id, actor, req.TargetKey, req.Comment)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, created)
}

// WithdrawTask reclaims a completed task
// (POST /api/v1/tasks/:id/withdraw)
func (s *Server) WithdrawTask(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}

	created, err := s.Engine.WithdrawTask(ctx, id, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, created)
}

// MarkNonGreen declares the loan behind a pending task non-green
// (POST /api/v1/tasks/:id/mark-non-green)
func (s *Server) MarkNonGreen(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}

	if err := s.Engine.MarkNonGreen(ctx, id, actor); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ClassificationLabelResponse carries a resolved classification label.
type ClassificationLabelResponse struct {
	Label string `json:"label"`
}

// ClassificationLabel resolves a 3-level classification into its coded label
// (GET /api/v1/classification/label)
func (s *Server) ClassificationLabel(c echo.Context) error {
	ctx := c.Request().Context()
	label, err := s.Classifier.Label(ctx,
		c.QueryParam("large"), c.QueryParam("medium"), c.QueryParam("small"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ClassificationLabelResponse{Label: label})
}

// DeployDefinitionRequest uploads a new process definition version.
type DeployDefinitionRequest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	BPMN        string `json:"bpmn_xml"`
}

// DeployDefinition stores a new draft version of a process definition
// (POST /api/v1/definitions)
func (s *Server) DeployDefinition(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := actorID(c)
	if err != nil {
		return err
	}

	var req DeployDefinitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Key == "" || req.Name == "" || req.BPMN == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key, name and bpmn_xml are required")
	}

	def := &models.ProcessDefinition{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		BPMN:        req.BPMN,
		Status:      models.DefinitionStatusDraft,
		DeployedBy:  actor,
		DeployedAt:  time.Now(),
	}
	if err := s.Store.DeployDefinition(ctx, def); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, def)
}

// ActivateDefinition activates one definition version, archiving any other
// active version of the same process
// (POST /api/v1/definitions/:id/activate)
func (s *Server) ActivateDefinition(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := actorID(c); err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}

	err = s.Store.InTx(ctx, func(tx repository.Store) error {
		def, err := tx.GetDefinition(ctx, id)
		if err != nil {
			return err
		}
		if def == nil {
			return workflow.ErrNotFound
		}
		return tx.ActivateDefinition(ctx, id)
	})
	if err != nil {
		return httpError(err)
	}
	s.Engine.InvalidateGraphCache()
	return c.NoContent(http.StatusNoContent)
}
