package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"benefits-portal/internal/ctxkeys"
	"benefits-portal/internal/database"
	"benefits-portal/internal/storage"
)

// Allowed file types and size limit for uploads.
const maxUploadSize = 10 << 20 // 10 MB

const filesPrefix = "/api/files/"

var allowedTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// UploadHandler stores beneficiary documents.
// Every file lives under beneficiaries/{id}/ so reads and deletes can be
// checked against the owning beneficiary's company.
type UploadHandler struct {
	db       database.Service
	store    storage.Store
	localDir string
}

// NewUploadHandler creates an UploadHandler with the given storage backend.
// localDir is where ServeFile reads from when the backend is local.
func NewUploadHandler(db database.Service, store storage.Store, localDir string) *UploadHandler {
	return &UploadHandler{db: db, store: store, localDir: localDir}
}

// ownerOf extracts the beneficiary id from a storage key.
func ownerOf(key string) (string, bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[0] != "beneficiaries" || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	return parts[1], true
}

// Upload handles multipart file uploads.
// Accepts: POST with multipart/form-data containing "file" and "beneficiaryId".
// Returns: file metadata (url, name, size, type) as JSON.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Enforce size limit before reading body
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		JSONError(w, http.StatusBadRequest, "File too large. Maximum size is 10MB.")
		return
	}

	beneficiaryID := r.FormValue("beneficiaryId")
	if beneficiaryID == "" {
		JSONError(w, http.StatusBadRequest, "Missing 'beneficiaryId' field in form data.")
		return
	}
	if !checkBeneficiaryAccess(r.Context(), h.db.GetPool(), beneficiaryID) {
		JSONError(w, http.StatusForbidden, "Access denied to this beneficiary")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		JSONError(w, http.StatusBadRequest, "Missing 'file' field in form data.")
		return
	}
	defer file.Close()

	// Validate file type by reading the first 512 bytes (MIME sniffing)
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		JSONError(w, http.StatusBadRequest, "Could not read file.")
		return
	}
	contentType := http.DetectContentType(buffer[:n])

	if !allowedTypes[contentType] {
		JSONError(w, http.StatusBadRequest, fmt.Sprintf(
			"File type '%s' not allowed. Accepted: PDF, JPG, PNG.", contentType,
		))
		return
	}

	// Reset file reader to beginning after MIME sniffing
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		JSONError(w, http.StatusInternalServerError, "Failed to process file.")
		return
	}

	key := fmt.Sprintf("beneficiaries/%s/%d_%s", beneficiaryID, time.Now().Unix(), sanitizeFilename(header.Filename))

	info, err := h.store.Save(r.Context(), key, file, contentType)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Error("Upload failed")
		JSONError(w, http.StatusInternalServerError, "Failed to save file.")
		return
	}

	go logActivity(h.db.GetPool(), ctxkeys.GetUserID(r.Context()), "uploaded", "beneficiary", beneficiaryID, map[string]interface{}{
		"path": info.Path, "size": info.FileSize,
	})

	JSON(w, http.StatusOK, info)
}

// fileKey returns the cleaned storage key of a /api/files/ request after
// checking the caller can reach its beneficiary.
func (h *UploadHandler) fileKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := storage.CleanKey(strings.TrimPrefix(r.URL.Path, filesPrefix))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "File path required.")
		return "", false
	}
	owner, ok := ownerOf(key)
	if !ok {
		JSONError(w, http.StatusNotFound, "File not found.")
		return "", false
	}
	if !checkBeneficiaryAccess(r.Context(), h.db.GetPool(), owner) {
		JSONError(w, http.StatusForbidden, "Access denied to this file")
		return "", false
	}
	return key, true
}

// ServeFile serves uploaded files.
// For R2 storage, redirects to the public CDN URL.
// For local storage, serves from disk.
func (h *UploadHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	key, ok := h.fileKey(w, r)
	if !ok {
		return
	}

	// If the store returns an https:// URL (R2), redirect to CDN
	if url := h.store.URL(key); strings.HasPrefix(url, "https://") {
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}

	http.ServeFile(w, r, filepath.Join(h.localDir, filepath.FromSlash(key)))
}

// Delete removes an uploaded file.
func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := h.fileKey(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), key); err != nil {
		if errors.Is(err, storage.ErrInvalidPath) {
			JSONError(w, http.StatusBadRequest, "Invalid file path.")
			return
		}
		logrus.WithError(err).WithField("key", key).Error("Delete failed")
		JSONError(w, http.StatusInternalServerError, "Failed to delete file.")
		return
	}

	owner, _ := ownerOf(key)
	go logActivity(h.db.GetPool(), ctxkeys.GetUserID(r.Context()), "deleted_file", "beneficiary", owner, map[string]interface{}{
		"path": key,
	})

	JSON(w, http.StatusOK, map[string]string{"message": "File deleted"})
}

// sanitizeFilename removes path separators and unsafe characters.
func sanitizeFilename(name string) string {
	// Keep only the base name (no directory components)
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	// Replace spaces with underscores for URL safety
	name = strings.ReplaceAll(name, " ", "_")
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return name
}
