package dto

// DecisionRequest is the payload for acting on a pending approval request.
type DecisionRequest struct {
	Action   string `json:"action" validate:"required,oneof=APPROVE REJECT"`
	Comments string `json:"comments"`
}

// RequestApprovalResponse correlates a requestApproval call with the
// level-1 requests it created.
type RequestApprovalResponse struct {
	Success    bool   `json:"success"`
	TrackingID string `json:"tracking_id"`
	Requests   int    `json:"requests_created"`
}

// MatrixResponse bundles the rule and roster for a department pair.
type MatrixResponse struct {
	DepartmentID    string           `json:"department_id"`
	SubDepartmentID string           `json:"sub_department_id"`
	AllOrMajority   string           `json:"all_or_majority"`
	Approvers       []MatrixApprover `json:"approvers"`
}

// MatrixApprover is one roster entry in a MatrixResponse.
type MatrixApprover struct {
	ApproverID    string `json:"approver_id"`
	ApproverName  string `json:"approver_name"`
	SequenceLevel int    `json:"sequence_level"`
	Active        bool   `json:"active"`
}
