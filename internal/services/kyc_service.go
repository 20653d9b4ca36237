package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"referralpay/internal/db"
	"referralpay/internal/models"
	"referralpay/internal/storage"
	"referralpay/internal/store"
)

var (
	ErrKYCAlreadySubmitted = errors.New("identity verification already submitted")
	ErrKYCNotFound         = errors.New("kyc submission not found")
	ErrKYCNotPending       = errors.New("kyc submission already reviewed")
	ErrInvalidKYC          = errors.New("invalid kyc submission")
	ErrStorageUnavailable  = errors.New("document storage not configured")
)

var documentTypes = map[string]bool{
	"passport":        true,
	"driving_licence": true,
	"national_id":     true,
}

type KYCStore interface {
	Create(ctx context.Context, tx store.Execer, k models.KYCSubmission) error
	LatestStatus(ctx context.Context, userID string) (string, error)
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.KYCSubmission, error)
	Review(ctx context.Context, tx store.Execer, id, status, reviewerID string, notes *string) (int64, error)
	ListPending(ctx context.Context, limit, offset int) ([]models.KYCSubmission, error)
}

type KYCUserStore interface {
	MarkKYCVerified(ctx context.Context, tx store.Execer, userID string) error
}

type KYCService struct {
	txRunner db.TxRunner
	kyc      KYCStore
	users    KYCUserStore
	uploader storage.Uploader
	audit    AuditStore
}

// NewKYCService accepts a nil uploader; submissions then fail with
// ErrStorageUnavailable.
func NewKYCService(txRunner db.TxRunner, kyc KYCStore, users KYCUserStore, uploader storage.Uploader, audit AuditStore) *KYCService {
	return &KYCService{txRunner: txRunner, kyc: kyc, users: users, uploader: uploader, audit: audit}
}

type Document struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type KYCRequest struct {
	UserID       string
	DocumentType string
	Address      string
	City         string
	PostalCode   string
	Country      string
	Front        *Document
	Back         *Document
	Selfie       *Document
}

func (r KYCRequest) validate() error {
	if !documentTypes[r.DocumentType] {
		return fmt.Errorf("%w: unsupported document type %q", ErrInvalidKYC, r.DocumentType)
	}
	for name, value := range map[string]string{
		"address":     r.Address,
		"city":        r.City,
		"postal_code": r.PostalCode,
		"country":     r.Country,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidKYC, name)
		}
	}
	if r.Front == nil || r.Selfie == nil {
		return fmt.Errorf("%w: front document and selfie are required", ErrInvalidKYC)
	}
	return nil
}

func (s *KYCService) Submit(ctx context.Context, req KYCRequest) (models.KYCSubmission, error) {
	if err := req.validate(); err != nil {
		return models.KYCSubmission{}, err
	}
	if s.uploader == nil {
		return models.KYCSubmission{}, ErrStorageUnavailable
	}
	status, err := s.kyc.LatestStatus(ctx, req.UserID)
	if err != nil {
		return models.KYCSubmission{}, err
	}
	if status == models.KYCPending || status == models.KYCApproved {
		return models.KYCSubmission{}, ErrKYCAlreadySubmitted
	}

	submission := models.KYCSubmission{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		DocumentType: req.DocumentType,
		Address:      strings.TrimSpace(req.Address),
		City:         strings.TrimSpace(req.City),
		PostalCode:   strings.TrimSpace(req.PostalCode),
		Country:      strings.ToUpper(strings.TrimSpace(req.Country)),
		Status:       models.KYCPending,
	}
	if submission.DocumentFrontURL, err = s.upload(ctx, submission, "front", req.Front); err != nil {
		return models.KYCSubmission{}, err
	}
	if req.Back != nil {
		backURL, err := s.upload(ctx, submission, "back", req.Back)
		if err != nil {
			return models.KYCSubmission{}, err
		}
		submission.DocumentBackURL = &backURL
	}
	if submission.SelfieURL, err = s.upload(ctx, submission, "selfie", req.Selfie); err != nil {
		return models.KYCSubmission{}, err
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.kyc.Create(ctx, tx, submission); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, req.UserID, "kyc_submitted", "kyc_submission", submission.ID, auditData(map[string]any{
			"document_type": submission.DocumentType,
		}))
	})
	if err != nil {
		return models.KYCSubmission{}, err
	}
	log.WithFields(log.Fields{"user_id": req.UserID, "submission_id": submission.ID}).Info("KYC submitted")
	return submission, nil
}

func (s *KYCService) upload(ctx context.Context, sub models.KYCSubmission, side string, doc *Document) (string, error) {
	key := path.Join("kyc", sub.UserID, sub.ID, side+strings.ToLower(path.Ext(doc.Filename)))
	url, err := s.uploader.Upload(ctx, key, doc.ContentType, doc.Body)
	if err != nil {
		return "", fmt.Errorf("upload %s document: %w", side, err)
	}
	return url, nil
}

func (s *KYCService) Status(ctx context.Context, userID string) (string, error) {
	return s.kyc.LatestStatus(ctx, userID)
}

func (s *KYCService) ListPending(ctx context.Context, limit, offset int) ([]models.KYCSubmission, error) {
	return s.kyc.ListPending(ctx, limit, offset)
}

// Review approves or rejects a pending submission. Approval marks the user
// verified in the same transaction.
func (s *KYCService) Review(ctx context.Context, adminID, submissionID string, approve bool, notes string) (models.KYCSubmission, error) {
	status := models.KYCRejected
	if approve {
		status = models.KYCApproved
	}
	var notesPtr *string
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		notesPtr = &trimmed
	}

	var reviewed models.KYCSubmission
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		sub, err := s.kyc.GetForUpdate(ctx, tx, submissionID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrKYCNotFound
		}
		if err != nil {
			return err
		}
		if sub.Status != models.KYCPending {
			return ErrKYCNotPending
		}
		n, err := s.kyc.Review(ctx, tx, sub.ID, status, adminID, notesPtr)
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrKYCNotPending
		}
		if approve {
			if err := s.users.MarkKYCVerified(ctx, tx, sub.UserID); err != nil {
				return err
			}
		}
		if err := s.audit.Log(ctx, tx, adminID, "kyc_"+status, "kyc_submission", sub.ID, auditData(map[string]any{
			"user_id": sub.UserID,
			"notes":   notesPtr,
		})); err != nil {
			return err
		}
		sub.Status = status
		sub.Notes = notesPtr
		sub.ReviewedBy = &adminID
		reviewed = sub
		return nil
	})
	if err != nil {
		return models.KYCSubmission{}, err
	}
	log.WithFields(log.Fields{"submission_id": submissionID, "status": status, "admin_id": adminID}).Info("KYC reviewed")
	return reviewed, nil
}
