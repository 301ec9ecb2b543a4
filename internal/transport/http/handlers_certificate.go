package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"printflow/internal/certificate/models"
	"printflow/internal/certificate/service"
	"printflow/pkg/platform/sentinel"
)

// CertificateHandler serves the read-only certificate lookup.
type CertificateHandler struct {
	service *service.Service
	logger  *slog.Logger
}

func NewCertificateHandler(svc *service.Service, logger *slog.Logger) *CertificateHandler {
	return &CertificateHandler{service: svc, logger: logger}
}

func (h *CertificateHandler) Register(r chi.Router) {
	r.Get("/certificates/{certificateID}", h.getCertificate)
}

type printRequestResponse struct {
	RequestID string    `json:"requestId"`
	BatchID   string    `json:"batchId,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type certificateResponse struct {
	ID                   string                 `json:"id"`
	CertificateNumber    string                 `json:"certificateNumber"`
	SourceType           string                 `json:"sourceType"`
	SourceReference      string                 `json:"sourceReference"`
	ApplicationReference string                 `json:"applicationReference"`
	IssuingAuthority     string                 `json:"issuingAuthority"`
	GssCode              string                 `json:"gssCode"`
	Status               string                 `json:"status"`
	CreatedAt            time.Time              `json:"createdAt"`
	UpdatedAt            time.Time              `json:"updatedAt"`
	PrintRequests        []printRequestResponse `json:"printRequests"`
}

func (h *CertificateHandler) getCertificate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateID")

	cert, err := h.service.GetCertificate(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			http.Error(w, "certificate not found", http.StatusNotFound)
			return
		}
		h.logger.Error("certificate lookup failed", "certificate_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toResponse(cert)); err != nil {
		h.logger.Error("encode certificate response", "certificate_id", id, "error", err)
	}
}

func toResponse(cert *models.Certificate) certificateResponse {
	requests := make([]printRequestResponse, 0, len(cert.PrintRequests))
	for _, request := range cert.PrintRequests {
		requests = append(requests, printRequestResponse{
			RequestID: request.RequestID,
			BatchID:   request.BatchID,
			Status:    string(request.CurrentStatus()),
			CreatedAt: request.CreatedAt,
		})
	}
	return certificateResponse{
		ID:                   cert.ID,
		CertificateNumber:    cert.CertificateNumber,
		SourceType:           string(cert.SourceType),
		SourceReference:      cert.SourceReference,
		ApplicationReference: cert.ApplicationReference,
		IssuingAuthority:     cert.IssuingAuthority,
		GssCode:              cert.GssCode,
		Status:               string(cert.Status),
		CreatedAt:            cert.CreatedAt,
		UpdatedAt:            cert.UpdatedAt,
		PrintRequests:        requests,
	}
}
