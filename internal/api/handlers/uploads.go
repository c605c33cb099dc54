package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/dom/genstudio/internal/upload"
	"github.com/go-chi/chi/v5"
)

type UploadHandler struct {
	store upload.AssetStore
}

func NewUploadHandler(store upload.AssetStore) *UploadHandler {
	return &UploadHandler{store: store}
}

// Serve streams a stored asset by its stored name.
func (h *UploadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "storedName")

	rc, asset, err := h.store.Open(r.Context(), name)
	if err != nil {
		if errors.Is(err, upload.ErrAssetNotFound) || errors.Is(err, upload.ErrInvalidName) {
			http.NotFound(w, r)
			return
		}
		log.Printf("ERROR [handlers.ServeUpload] open %q: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	if asset.MimeType != "" {
		w.Header().Set("Content-Type", asset.MimeType)
	}
	if asset.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(asset.SizeBytes, 10))
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("WARN [handlers.ServeUpload] copy %q: %v", name, err)
	}
}
