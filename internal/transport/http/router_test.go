package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/certificate/models"
	"printflow/internal/certificate/service"
	"printflow/internal/certificate/store"
	"printflow/pkg/identifier"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func newTestRouter(t *testing.T, memStore store.Store, readiness map[string]Pinger) http.Handler {
	t.Helper()
	idgen, err := identifier.NewGenerator()
	require.NoError(t, err)
	svc, err := service.New(memStore, idgen, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return NewRouter(NewCertificateHandler(svc, slog.New(slog.DiscardHandler)), readiness)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		router := newTestRouter(t, store.NewMemoryStore(), map[string]Pinger{
			"postgres": fakePinger{},
			"redis":    fakePinger{},
		})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("dependency down", func(t *testing.T) {
		router := newTestRouter(t, store.NewMemoryStore(), map[string]Pinger{
			"postgres": fakePinger{},
			"redis":    fakePinger{err: errors.New("connection refused")},
		})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "redis")
	})
}

func TestGetCertificate(t *testing.T) {
	memStore := store.NewMemoryStore()
	idgen, err := identifier.NewGenerator()
	require.NoError(t, err)
	svc, err := service.New(memStore, idgen, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	cert, err := svc.AcceptPrintRequest(context.Background(), service.AcceptPrintRequestCommand{
		SourceType:      models.SourceVoterCard,
		SourceReference: "src-123",
		Applicant: models.Applicant{
			FullName:       "Sam Applicant",
			Language:       models.LanguageEnglish,
			DeliveryMethod: models.DeliveryStandard,
			Address:        models.Address{Line1: "1 High St", Postcode: "TE5 7ER"},
		},
		PhotoLocation: "photos/src-123.png",
	})
	require.NoError(t, err)

	router := NewRouter(NewCertificateHandler(svc, slog.New(slog.DiscardHandler)), nil)

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/certificates/"+cert.ID, nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body certificateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, cert.ID, body.ID)
		assert.Equal(t, cert.CertificateNumber, body.CertificateNumber)
		assert.Equal(t, string(models.StatusPendingAssignmentToBatch), body.Status)
		require.Len(t, body.PrintRequests, 1)
		assert.Equal(t, cert.PrintRequests[0].RequestID, body.PrintRequests[0].RequestID)
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/certificates/missing", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
