package models

import "time"

// Document represents a managed document stored in the documents table.
// ApprovalState is denormalised from the workflow engine so list screens can
// filter without reconciling every row.
type Document struct {
	ID              string        `db:"id" json:"id"`
	Title           string        `db:"title" json:"title"`
	Description     string        `db:"description" json:"description,omitempty"`
	DepartmentID    string        `db:"department_id" json:"department_id"`
	SubDepartmentID string        `db:"sub_department_id" json:"sub_department_id"`
	OwnerID         string        `db:"owner_id" json:"owner_id"`
	ApprovalState   WorkflowState `db:"approval_state" json:"approval_state"`
	Active          bool          `db:"active" json:"active"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// DocumentFilter captures filtering criteria for listing documents.
type DocumentFilter struct {
	DepartmentID  string
	ApprovalState *WorkflowState
	OwnerID       string
	Search        string
	Page          int
	PageSize      int
}
