package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referralpay/internal/config"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) (*S3Store, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	store, err := NewS3Store(context.Background(), config.S3Config{
		Endpoint:        server.URL,
		Region:          "auto",
		Bucket:          "kyc-docs",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		PublicBaseURL:   "https://cdn.example.com/",
	})
	require.NoError(t, err)
	return store, server
}

func TestUploadPutsObjectPathStyle(t *testing.T) {
	var method, path, contentType string
	var body []byte
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		method, path, contentType = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	url, err := store.Upload(context.Background(), "kyc/u1/front.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/kyc-docs/kyc/u1/front.png", path)
	assert.Equal(t, "image/png", contentType)
	assert.Contains(t, string(body), "png-bytes")
	assert.Equal(t, "https://cdn.example.com/kyc/u1/front.png", url)
}

func TestUploadRejectsOversizedDocuments(t *testing.T) {
	called := false
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := store.Upload(context.Background(), "kyc/u1/front.png", "image/png", bytes.NewReader(make([]byte, MaxObjectSize+1)))
	assert.ErrorIs(t, err, ErrObjectTooLarge)
	assert.False(t, called)
}

func TestUploadSurfacesStorageErrors(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<?xml version="1.0"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
	})

	_, err := store.Upload(context.Background(), "kyc/u1/selfie.jpg", "", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload to S3")
}
