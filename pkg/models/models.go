// Package models defines the domain models for the green loan approval service
package models

import (
	"time"
)

// LoanStatus represents the lifecycle status of a green classification record
type LoanStatus string

const (
	LoanStatusPending          LoanStatus = "pending"
	LoanStatusProcessing       LoanStatus = "processing"
	LoanStatusDraft            LoanStatus = "draft"
	LoanStatusCompleted        LoanStatus = "completed"
	LoanStatusArchived         LoanStatus = "archived"
	LoanStatusRejected         LoanStatus = "rejected"
	LoanStatusWithdrawn        LoanStatus = "withdrawn"
	LoanStatusSystemTerminated LoanStatus = "system_terminated"
)

// Organization is one node of the branch hierarchy.
// Level 1 is the head office, level 2 a first-tier branch, level 3 a sub-branch.
type Organization struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Code     string `json:"code" db:"code"`
	ParentID *int64 `json:"parent_id,omitempty" db:"parent_id"`
	Level    int    `json:"level" db:"level"`
	IsActive bool   `json:"is_active" db:"is_active"`
}

// Role represents an organizational review role
type Role struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	OrgLevel int    `json:"org_level" db:"org_level"`
}

// User represents a bank employee able to own workflow tasks
type User struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	RealName string `json:"real_name" db:"real_name"`
	RoleID   int64  `json:"role_id" db:"role_id"`
	OrgID    int64  `json:"org_id" db:"org_id"`
	IsActive bool   `json:"is_active" db:"is_active"`
}

// Category is one row of the green project classification reference table.
// Codes are nullable: a row may describe a two-level prefix only.
type Category struct {
	ID            int64   `json:"id" db:"id"`
	LargeCode     *string `json:"large_code,omitempty" db:"large_code"`
	LargeName     string  `json:"large_name" db:"large_name"`
	MediumCode    *string `json:"medium_code,omitempty" db:"medium_code"`
	MediumName    string  `json:"medium_name" db:"medium_name"`
	SmallCode     *string `json:"small_code,omitempty" db:"small_code"`
	SmallName     string  `json:"small_name" db:"small_name"`
	FormattedName string  `json:"formatted_name" db:"formatted_name"`
}

// Loan is the business record moving through the approval chain
type Loan struct {
	ID                int64      `json:"id" db:"id"`
	LoanCode          string     `json:"loan_code" db:"loan_code"`
	CustomerName      string     `json:"customer_name" db:"customer_name"`
	BusinessType      string     `json:"business_type" db:"business_type"`
	LoanAmount        float64    `json:"loan_amount" db:"loan_amount"`
	CategoryLarge     string     `json:"category_large" db:"category_large"`
	CategoryMedium    string     `json:"category_medium" db:"category_medium"`
	CategorySmall     string     `json:"category_small" db:"category_small"`
	FormattedCategory string     `json:"formatted_category" db:"formatted_category"`
	Status            LoanStatus `json:"status" db:"status"`
	InitiatorID       int64      `json:"initiator_id" db:"initiator_id"`
	CurrentHandlerID  *int64     `json:"current_handler_id,omitempty" db:"current_handler_id"`
	OrgID             int64      `json:"org_id" db:"org_id"`
	Deadline          *time.Time `json:"deadline,omitempty" db:"deadline"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
