package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"printflow/internal/certificate/models"
	"printflow/pkg/platform/sentinel"
)

// MemoryStore keeps aggregates in a map. It backs unit tests and local runs;
// production uses PostgresStore.
type MemoryStore struct {
	mu    sync.RWMutex
	certs map[string]*models.Certificate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{certs: make(map[string]*models.Certificate)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[id]
	if !ok {
		return nil, fmt.Errorf("certificate %s: %w", id, sentinel.ErrNotFound)
	}
	return clone(cert), nil
}

func (s *MemoryStore) Save(ctx context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.certs[cert.ID]
	if !ok {
		if cert.Version != 0 {
			return fmt.Errorf("certificate %s vanished mid-update: %w", cert.ID, sentinel.ErrConflict)
		}
	} else if existing.Version != cert.Version {
		return fmt.Errorf("certificate %s version %d, expected %d: %w",
			cert.ID, existing.Version, cert.Version, sentinel.ErrConflict)
	}
	cert.Version++
	s.certs[cert.ID] = clone(cert)
	return nil
}

func (s *MemoryStore) FindByStatus(ctx context.Context, status models.Status) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Certificate
	for _, cert := range s.certs {
		if cert.Status == status {
			out = append(out, clone(cert))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) FindByStatusAndBatchID(ctx context.Context, status models.Status, batchID string) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Certificate
	for _, cert := range s.certs {
		if cert.Status != status {
			continue
		}
		for _, request := range cert.PrintRequests {
			if request.BatchID == batchID && batchID != "" {
				out = append(out, clone(cert))
				break
			}
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) FindByRequestID(ctx context.Context, requestID string) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cert := range s.certs {
		for _, request := range cert.PrintRequests {
			if request.RequestID == requestID {
				return clone(cert), nil
			}
		}
	}
	return nil, fmt.Errorf("request id %s: %w", requestID, sentinel.ErrNotFound)
}

func sortByCreation(certs []*models.Certificate) {
	sort.Slice(certs, func(i, j int) bool {
		if certs[i].CreatedAt.Equal(certs[j].CreatedAt) {
			return certs[i].ID < certs[j].ID
		}
		return certs[i].CreatedAt.Before(certs[j].CreatedAt)
	})
}

// clone deep-copies an aggregate so callers never alias stored state.
func clone(cert *models.Certificate) *models.Certificate {
	copied := *cert
	copied.PrintRequests = make([]*models.PrintRequest, len(cert.PrintRequests))
	for i, request := range cert.PrintRequests {
		r := *request
		r.History = append([]models.PrintRequestStatus(nil), request.History...)
		copied.PrintRequests[i] = &r
	}
	return &copied
}
