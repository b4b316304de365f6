package dto

// CreateDocumentRequest is the payload for registering a document.
type CreateDocumentRequest struct {
	Title           string `json:"title" validate:"required"`
	Description     string `json:"description"`
	DepartmentID    string `json:"department_id" validate:"required"`
	SubDepartmentID string `json:"sub_department_id" validate:"required"`
}

// UpdateDocumentRequest is the payload for editing document metadata.
type UpdateDocumentRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
}
