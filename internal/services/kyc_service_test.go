package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referralpay/internal/models"
	"referralpay/internal/testutil"
)

func kycRequest(userID string) KYCRequest {
	return KYCRequest{
		UserID:       userID,
		DocumentType: "passport",
		Address:      "1 High Street",
		City:         "London",
		PostalCode:   "E1 6AN",
		Country:      "gb",
		Front:        &Document{Filename: "front.PNG", ContentType: "image/png", Body: strings.NewReader("front")},
		Selfie:       &Document{Filename: "me.jpg", ContentType: "image/jpeg", Body: strings.NewReader("selfie")},
	}
}

func TestKYCSubmitUploadsDocuments(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.AddUser("u1", "USERONE1", "")
	kyc := &memKYC{}
	uploader := &fakeUploader{}
	svc := NewKYCService(ledger, kyc, ledger.Users(), uploader, &testutil.AuditRecorder{})

	sub, err := svc.Submit(context.Background(), kycRequest("u1"))
	require.NoError(t, err)

	assert.Equal(t, models.KYCPending, sub.Status)
	assert.Equal(t, "GB", sub.Country)
	require.Len(t, uploader.keys, 2)
	assert.Equal(t, "kyc/u1/"+sub.ID+"/front.png", uploader.keys[0])
	assert.Equal(t, "https://cdn.example.com/kyc/u1/"+sub.ID+"/selfie.jpg", sub.SelfieURL)
	assert.Nil(t, sub.DocumentBackURL)

	status, err := svc.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.KYCPending, status)

	_, err = svc.Submit(context.Background(), kycRequest("u1"))
	assert.ErrorIs(t, err, ErrKYCAlreadySubmitted)
}

func TestKYCSubmitValidation(t *testing.T) {
	ledger := testutil.NewLedger()
	svc := NewKYCService(ledger, &memKYC{}, ledger.Users(), &fakeUploader{}, &testutil.AuditRecorder{})

	bad := kycRequest("u1")
	bad.DocumentType = "library_card"
	_, err := svc.Submit(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidKYC)

	noSelfie := kycRequest("u1")
	noSelfie.Selfie = nil
	_, err = svc.Submit(context.Background(), noSelfie)
	assert.ErrorIs(t, err, ErrInvalidKYC)

	withoutStorage := NewKYCService(ledger, &memKYC{}, ledger.Users(), nil, &testutil.AuditRecorder{})
	_, err = withoutStorage.Submit(context.Background(), kycRequest("u1"))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestKYCReviewApprovalVerifiesUser(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.AddUser("u1", "USERONE1", "")
	kyc := &memKYC{}
	audit := &testutil.AuditRecorder{}
	svc := NewKYCService(ledger, kyc, ledger.Users(), &fakeUploader{}, audit)
	sub, err := svc.Submit(context.Background(), kycRequest("u1"))
	require.NoError(t, err)

	reviewed, err := svc.Review(context.Background(), "admin", sub.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, models.KYCApproved, reviewed.Status)
	user, _ := ledger.User("u1")
	assert.True(t, user.IsKYCVerified)
	assert.Contains(t, audit.Actions(), "kyc_approved")

	_, err = svc.Review(context.Background(), "admin", sub.ID, false, "late")
	assert.ErrorIs(t, err, ErrKYCNotPending)
}

func TestKYCRejectionAllowsResubmission(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.AddUser("u1", "USERONE1", "")
	svc := NewKYCService(ledger, &memKYC{}, ledger.Users(), &fakeUploader{}, &testutil.AuditRecorder{})
	sub, err := svc.Submit(context.Background(), kycRequest("u1"))
	require.NoError(t, err)

	reviewed, err := svc.Review(context.Background(), "admin", sub.ID, false, "blurry photo")
	require.NoError(t, err)
	assert.Equal(t, models.KYCRejected, reviewed.Status)
	require.NotNil(t, reviewed.Notes)
	user, _ := ledger.User("u1")
	assert.False(t, user.IsKYCVerified)

	_, err = svc.Submit(context.Background(), kycRequest("u1"))
	assert.NoError(t, err)
}

func TestKYCReviewUnknownSubmission(t *testing.T) {
	ledger := testutil.NewLedger()
	svc := NewKYCService(ledger, &memKYC{}, ledger.Users(), &fakeUploader{}, &testutil.AuditRecorder{})
	_, err := svc.Review(context.Background(), "admin", "missing", true, "")
	assert.ErrorIs(t, err, ErrKYCNotFound)
}
