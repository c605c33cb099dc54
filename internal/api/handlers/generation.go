package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dom/genstudio/internal/api/middleware"
	"github.com/dom/genstudio/internal/domain"
	"github.com/dom/genstudio/internal/service"
	"github.com/dom/genstudio/internal/upload"
)

const (
	// Room for the non-file multipart fields and boundaries.
	multipartOverhead = 1 << 20
	multipartMemory   = 8 << 20
)

type GenerationHandler struct {
	generationService *service.GenerationService
	gate              *upload.Gate
	store             upload.AssetStore
}

func NewGenerationHandler(generationService *service.GenerationService, gate *upload.Gate, store upload.AssetStore) *GenerationHandler {
	return &GenerationHandler{
		generationService: generationService,
		gate:              gate,
		store:             store,
	}
}

type CreateGenerationRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style"`
}

type GenerationResponse struct {
	ID        string    `json:"id"`
	ImageURL  string    `json:"imageUrl"`
	Prompt    string    `json:"prompt"`
	Style     string    `json:"style"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"`
}

func (h *GenerationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: domain.MsgUnauthorized})
		return
	}

	var (
		req   CreateGenerationRequest
		asset *domain.UploadedAsset
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		limit := h.gate.Policy().MaxBytes + multipartOverhead
		if r.ContentLength > limit {
			writeError(w, "handlers.CreateGeneration", upload.RejectionError("handlers.CreateGeneration",
				&upload.Rejection{Reason: upload.ReasonTooLarge, Size: r.ContentLength}))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "handlers.CreateGeneration", upload.RejectionError("handlers.CreateGeneration",
					&upload.Rejection{Reason: upload.ReasonTooLarge, Size: maxErr.Limit}))
				return
			}
			badRequest(w, "Invalid multipart body")
			return
		}
		defer r.MultipartForm.RemoveAll()
		req.Prompt = r.FormValue("prompt")
		req.Style = r.FormValue("style")

	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "Invalid request body")
			return
		}

	default:
		if err := r.ParseForm(); err != nil {
			badRequest(w, "Invalid request body")
			return
		}
		req.Prompt = r.PostFormValue("prompt")
		req.Style = r.PostFormValue("style")
	}

	if err := service.ValidateGenerationInput(req.Prompt, req.Style); err != nil {
		writeError(w, "handlers.CreateGeneration", err)
		return
	}

	if r.MultipartForm != nil {
		var err error
		asset, err = h.acceptImage(r)
		if err != nil {
			writeError(w, "handlers.CreateGeneration", err)
			return
		}
	}

	generation, err := h.generationService.Create(r.Context(), service.CreateGenerationInput{
		OwnerID: userID,
		Prompt:  req.Prompt,
		Style:   req.Style,
		Asset:   asset,
		Origin:  requestOrigin(r),
	})
	if err != nil {
		if asset != nil {
			h.discardAsset(r.Context(), asset.StoredName)
		}
		writeError(w, "handlers.CreateGeneration", err)
		return
	}

	writeJSON(w, http.StatusCreated, toGenerationResponse(generation))
}

// acceptImage validates and stores the optional "image" part. A missing part
// yields a nil asset.
func (h *GenerationHandler) acceptImage(r *http.Request) (*domain.UploadedAsset, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapError(domain.KindValidation, "handlers.acceptImage", domain.MsgImageRequired, err)
	}
	defer file.Close()

	asset, err := h.gate.Accept(upload.Header{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	})
	if err != nil {
		return nil, err
	}

	if err := h.store.Save(r.Context(), asset, file); err != nil {
		var rejection *upload.Rejection
		if errors.As(err, &rejection) {
			return nil, upload.RejectionError("handlers.acceptImage", rejection)
		}
		return nil, domain.WrapError(domain.KindInternal, "handlers.acceptImage", "store upload", err)
	}
	return &asset, nil
}

// discardAsset removes an upload whose generation was never persisted.
func (h *GenerationHandler) discardAsset(ctx context.Context, storedName string) {
	if err := h.store.Delete(context.WithoutCancel(ctx), storedName); err != nil {
		log.Printf("WARN [handlers.CreateGeneration] failed to discard upload %s: %v", storedName, err)
	}
}

func (h *GenerationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: domain.MsgUnauthorized})
		return
	}

	limit := service.ParseLimit(r.URL.Query().Get("limit"))
	generations, err := h.generationService.GetGenerations(r.Context(), userID, limit)
	if err != nil {
		writeError(w, "handlers.ListGenerations", err)
		return
	}

	resp := make([]GenerationResponse, 0, len(generations))
	for _, g := range generations {
		resp = append(resp, toGenerationResponse(g))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toGenerationResponse(g *domain.Generation) GenerationResponse {
	return GenerationResponse{
		ID:        g.ID.String(),
		ImageURL:  g.ImageURL,
		Prompt:    g.Prompt,
		Style:     g.Style,
		CreatedAt: g.CreatedAt,
		Status:    string(g.Status),
	}
}

func requestOrigin(r *http.Request) service.Origin {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return service.Origin{Scheme: scheme, Host: r.Host}
}
