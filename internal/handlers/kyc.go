package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"

	"referralpay/internal/services"
	"referralpay/internal/storage"
)

const maxKYCForm = 3*storage.MaxObjectSize + 1<<20

// SubmitKYC accepts multipart/form-data with document_front, document_back
// (optional) and selfie files plus the address fields.
func (h *Handler) SubmitKYC(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxKYCForm)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := services.KYCRequest{
		UserID:       userID,
		DocumentType: r.FormValue("document_type"),
		Address:      r.FormValue("address"),
		City:         r.FormValue("city"),
		PostalCode:   r.FormValue("postal_code"),
		Country:      r.FormValue("country"),
	}
	var closers []multipart.File
	defer func() {
		for _, f := range closers {
			_ = f.Close()
		}
	}()
	for field, dest := range map[string]**services.Document{
		"document_front": &req.Front,
		"document_back":  &req.Back,
		"selfie":         &req.Selfie,
	} {
		file, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid "+field)
			return
		}
		closers = append(closers, file)
		*dest = &services.Document{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        file,
		}
	}

	submission, err := h.kyc.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidKYC):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrKYCAlreadySubmitted):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, storage.ErrObjectTooLarge):
			respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, services.ErrStorageUnavailable):
			respondError(w, http.StatusServiceUnavailable, err.Error())
		default:
			respondInternal(w, r, err, "kyc submission failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, submission)
}

func (h *Handler) KYCStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	status, err := h.kyc.Status(r.Context(), userID)
	if err != nil {
		respondInternal(w, r, err, "unable to load kyc status")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": status})
}
