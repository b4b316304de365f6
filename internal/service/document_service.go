package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexdoc/dms-api/internal/dto"
	"github.com/nexdoc/dms-api/internal/models"
	appErrors "github.com/nexdoc/dms-api/pkg/errors"
)

type documentRepository interface {
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error)
	FindByID(ctx context.Context, id string) (*models.Document, error)
	Create(ctx context.Context, document *models.Document) error
	Update(ctx context.Context, document *models.Document) error
	Delete(ctx context.Context, id string) error
}

// DocumentService handles the CRUD surface around managed documents.
type DocumentService struct {
	repo      documentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDocumentService creates an instance of DocumentService.
func NewDocumentService(repo documentRepository, validate *validator.Validate, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &DocumentService{repo: repo, validator: validate, logger: logger}
}

// List returns paginated documents.
func (s *DocumentService) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, *models.Pagination, error) {
	documents, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	return documents, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a document by id.
func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	document, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	return document, nil
}

// Create registers a new document owned by the actor.
func (s *DocumentService) Create(ctx context.Context, req dto.CreateDocumentRequest, actor *models.JWTClaims) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid document payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing actor identity")
	}

	document := &models.Document{
		ID:              uuid.NewString(),
		Title:           req.Title,
		Description:     req.Description,
		DepartmentID:    req.DepartmentID,
		SubDepartmentID: req.SubDepartmentID,
		OwnerID:         actor.UserID,
		ApprovalState:   models.WorkflowPending,
		Active:          true,
	}
	if err := s.repo.Create(ctx, document); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create document")
	}

	s.logger.Info("document created", zap.String("document_id", document.ID), zap.String("owner_id", actor.UserID))
	return document, nil
}

// Update edits document metadata. Only the owner may edit, and not once the
// document has been approved.
func (s *DocumentService) Update(ctx context.Context, id string, req dto.UpdateDocumentRequest, actor *models.JWTClaims) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid document payload")
	}

	document, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil || (document.OwnerID != actor.UserID && actor.Role != models.RoleAdmin) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the document owner may edit it")
	}
	if document.ApprovalState == models.WorkflowApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "approved documents cannot be edited")
	}

	document.Title = req.Title
	document.Description = req.Description
	if err := s.repo.Update(ctx, document); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update document")
	}
	return document, nil
}

// Delete soft-deletes a document.
func (s *DocumentService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	document, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if actor == nil || (document.OwnerID != actor.UserID && actor.Role != models.RoleAdmin) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the document owner may delete it")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete document")
	}
	s.logger.Info("document deleted", zap.String("document_id", id))
	return nil
}
