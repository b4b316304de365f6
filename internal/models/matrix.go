package models

// ApprovalMatrix is the externally-configured routing rule for one
// department/sub-department pair. The matrix is an input to the engine; this
// service only reads it.
type ApprovalMatrix struct {
	DepartmentID    string          `db:"department_id" json:"department_id"`
	SubDepartmentID string          `db:"sub_department_id" json:"sub_department_id"`
	Rule            AggregationRule `db:"all_or_majority" json:"all_or_majority"`
}

// MatrixApprover is one roster entry: who approves at which level.
type MatrixApprover struct {
	DepartmentID    string `db:"department_id" json:"department_id"`
	SubDepartmentID string `db:"sub_department_id" json:"sub_department_id"`
	ApproverID      string `db:"approver_id" json:"approver_id"`
	ApproverName    string `db:"approver_name" json:"approver_name"`
	SequenceLevel   int    `db:"sequence_level" json:"sequence_level"`
	Active          bool   `db:"active" json:"active"`
}
