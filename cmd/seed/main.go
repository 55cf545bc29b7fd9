package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greenfin/greenflow/internal/config"
	"github.com/greenfin/greenflow/internal/logging"
	"github.com/greenfin/greenflow/internal/repository"
	"github.com/greenfin/greenflow/pkg/models"
)

// defaultProcess is the standard four-stage approval chain. Task names are
// chosen so key derivation yields the canonical keys; reject edges run from
// each decision gateway to the rejected end event.
const defaultProcess = `<?xml version="1.0" encoding="UTF-8"?>
<definitions xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <process id="green_classification_approval" name="Green Classification Approval">
    <startEvent id="start" name="Start"/>
    <userTask id="task_submit" name="Originator Submission"/>
    <exclusiveGateway id="gw_submit" name="Submission Decision"/>
    <userTask id="task_branch" name="Second-tier Branch Review">
      <extensionElements>
        <properties>
          <property name="orgLevels" value="[2,3]"/>
          <property name="candidateGroups" value="Green Finance Manager"/>
          <property name="skipIfEmpty" value="true"/>
        </properties>
      </extensionElements>
    </userTask>
    <exclusiveGateway id="gw_branch" name="Branch Decision"/>
    <userTask id="task_first" name="First-tier Branch Approval"/>
    <exclusiveGateway id="gw_first" name="First-tier Decision"/>
    <userTask id="task_final" name="Head Office Final Review"/>
    <exclusiveGateway id="gw_final" name="Final Decision"/>
    <endEvent id="end_approved" name="Approved"/>
    <endEvent id="end_rejected" name="Rejected"/>
    <sequenceFlow id="f1" sourceRef="start" targetRef="task_submit"/>
    <sequenceFlow id="f2" sourceRef="task_submit" targetRef="gw_submit"/>
    <sequenceFlow id="f3" sourceRef="gw_submit" targetRef="task_branch"/>
    <sequenceFlow id="f4" sourceRef="gw_submit" targetRef="end_rejected"/>
    <sequenceFlow id="f5" sourceRef="task_branch" targetRef="gw_branch"/>
    <sequenceFlow id="f6" sourceRef="gw_branch" targetRef="task_first"/>
    <sequenceFlow id="f7" sourceRef="gw_branch" targetRef="end_rejected"/>
    <sequenceFlow id="f8" sourceRef="task_first" targetRef="gw_first"/>
    <sequenceFlow id="f9" sourceRef="gw_first" targetRef="task_final"/>
    <sequenceFlow id="f10" sourceRef="gw_first" targetRef="end_rejected"/>
    <sequenceFlow id="f11" sourceRef="task_final" targetRef="gw_final"/>
    <sequenceFlow id="f12" sourceRef="gw_final" targetRef="end_approved"/>
    <sequenceFlow id="f13" sourceRef="gw_final" targetRef="end_rejected"/>
  </process>
</definitions>`

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	logger.Info("Schema applied")

	statements := []struct {
		desc string
		sql  string
	}{
		{"organizations", `
			INSERT INTO organizations (id, name, code, parent_id, level) VALUES
				(1, 'Head Office', 'HQ', NULL, 1),
				(2, 'East Branch', 'EAST', 1, 2),
				(3, 'Riverside Sub-branch', 'EAST-RS', 2, 3)
			ON CONFLICT (code) DO NOTHING`},
		{"roles", `
			INSERT INTO roles (id, name, org_level) VALUES
				(1, 'Account Manager', 3),
				(2, 'Green Finance Manager', 2),
				(3, 'Green Finance Reviewer', 1)
			ON CONFLICT (name) DO NOTHING`},
		{"users", `
			INSERT INTO users (id, username, real_name, role_id, org_id) VALUES
				(1, 'amanager', 'Avery Lin', 1, 3),
				(2, 'gfmeast', 'Jordan Park', 2, 2),
				(3, 'reviewer', 'Sam Osei', 3, 1)
			ON CONFLICT (username) DO NOTHING`},
		{"categories", `
			INSERT INTO categories (large_code, large_name, medium_code, medium_name, small_code, small_name, formatted_name) VALUES
				('1', 'Energy conservation', '1.1', 'Industrial energy efficiency', '1.1.1', 'Boiler retrofit', '1 Energy conservation / 1.1 Industrial energy efficiency / 1.1.1 Boiler retrofit'),
				('1', 'Energy conservation', '1.2', 'Green buildings', NULL, '', '1 Energy conservation / 1.2 Green buildings'),
				('2', 'Clean energy', '2.1', 'Wind power', '2.1.1', 'Onshore wind farms', '2 Clean energy / 2.1 Wind power / 2.1.1 Onshore wind farms'),
				('10', 'Other', '10.1', 'Non-green loan', '10.1.1', 'Non-green loan', '10 Other / 10.1 Non-green loan / 10.1.1 Non-green loan')
			ON CONFLICT DO NOTHING`},
		{"loans", `
			INSERT INTO loans (id, loan_code, customer_name, business_type, loan_amount, category_large, category_medium, category_small, status, initiator_id, org_id) VALUES
				(1, 'GL-2026-0001', 'Northwind Textiles', 'working capital', 1500000, 'Energy conservation', 'Industrial energy efficiency', 'Boiler retrofit', 'pending', 1, 3)
			ON CONFLICT (loan_code) DO NOTHING`},
		{"sequences", `
			SELECT setval('organizations_id_seq', (SELECT MAX(id) FROM organizations)),
			       setval('roles_id_seq', (SELECT MAX(id) FROM roles)),
			       setval('users_id_seq', (SELECT MAX(id) FROM users)),
			       setval('loans_id_seq', (SELECT MAX(id) FROM loans))`},
	}
	for _, st := range statements {
		if _, err := pool.Exec(ctx, st.sql); err != nil {
			log.Fatalf("Failed to seed %s: %v", st.desc, err)
		}
		logger.Info("Seeded", "table", st.desc)
	}

	// Deploy and activate the default process unless one is already active.
	active, err := store.GetActiveDefinition(ctx, cfg.Workflow.ProcessName)
	if err != nil {
		log.Fatalf("Failed to look up active definition: %v", err)
	}
	if active != nil {
		logger.Info("Active definition already present", "version", active.Version)
		return
	}

	def := &models.ProcessDefinition{
		Key:         "green_classification_approval",
		Name:        cfg.Workflow.ProcessName,
		Description: "Standard four-stage green classification approval chain",
		BPMN:        defaultProcess,
		Status:      models.DefinitionStatusDraft,
		DeployedBy:  3,
		DeployedAt:  time.Now(),
	}
	if err := store.DeployDefinition(ctx, def); err != nil {
		log.Fatalf("Failed to deploy definition: %v", err)
	}
	if err := store.ActivateDefinition(ctx, def.ID); err != nil {
		log.Fatalf("Failed to activate definition: %v", err)
	}
	logger.Info("Deployed and activated definition", "id", def.ID, "version", def.Version)
}
