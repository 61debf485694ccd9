package handlers

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"itam-api/internal/auth"
	"itam-api/pkg/importer"

	"go.uber.org/zap"
)

// ImportsHandler handles Excel import operations
type ImportsHandler struct {
	Assets      importer.AssetCreator
	MaxBytes    int64
	MappingPath string
	Log         *zap.Logger
}

// NewImportsHandler creates a new imports handler. An empty mappingPath uses
// the importer's built-in mapping.
func NewImportsHandler(assets importer.AssetCreator, mappingPath string, log *zap.Logger) *ImportsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImportsHandler{
		Assets:      assets,
		MaxBytes:    20 << 20, // 20 MB
		MappingPath: mappingPath,
		Log:         log.Named("imports"),
	}
}

// UploadExcel handles Excel file uploads for asset import
func (h *ImportsHandler) UploadExcel(w http.ResponseWriter, r *http.Request) {
	// Limit body size
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	// Require multipart
	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		auth.SendErrorResponse(w, "content-type must be multipart/form-data", "INVALID_CONTENT_TYPE", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		auth.SendErrorResponse(w, "invalid multipart form: "+err.Error(), "INVALID_BODY", http.StatusBadRequest)
		return
	}

	dryRun := r.FormValue("dry_run") == "true"
	maxErrors := 50
	if v := r.FormValue("max_errors"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxErrors = n
		}
	}

	// File
	file, header, err := r.FormFile("file")
	if err != nil {
		auth.SendErrorResponse(w, "file is required: "+err.Error(), "MISSING_FILE", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !isXLSX(header) {
		auth.SendErrorResponse(w, "only .xlsx files are accepted", "INVALID_FILE_TYPE", http.StatusBadRequest)
		return
	}

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		auth.SendErrorResponse(w, "Authentication required", "AUTHENTICATION_REQUIRED", http.StatusUnauthorized)
		return
	}

	sum, impErr := importer.ImportExcel(r.Context(), h.Assets, file, importer.ImportOptions{
		Actor:       actor,
		MappingPath: h.MappingPath,
		DryRun:      dryRun,
		MaxErrors:   maxErrors,
	})
	if impErr != nil {
		h.Log.Warn("import failed",
			zap.String("tenant_id", actor.TenantID),
			zap.String("file", header.Filename),
			zap.Int("inserted", sum.Inserted),
			zap.Error(impErr))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "IMPORT_FAILED",
			"details": impErr.Error(),
			"data":    sum, // might include partial
		})
		return
	}

	h.Log.Info("import finished",
		zap.String("tenant_id", actor.TenantID),
		zap.String("file", header.Filename),
		zap.Bool("dry_run", dryRun),
		zap.Int("inserted", sum.Inserted),
		zap.Int("errors", sum.Errors),
		zap.Bool("quota_stopped", sum.Stopped != nil))
	writeJSON(w, http.StatusOK, map[string]any{
		"data": sum,
		"meta": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
		},
	})
}

// isXLSX checks if the uploaded file is an Excel .xlsx file
func isXLSX(h *multipart.FileHeader) bool {
	name := strings.ToLower(h.Filename)
	return strings.HasSuffix(name, ".xlsx")
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
