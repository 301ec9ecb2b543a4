package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"printflow/internal/certificate/models"
	"printflow/pkg/platform/sentinel"
	"printflow/pkg/platform/tx"
)

// PostgresStore persists aggregates in PostgreSQL over database/sql. When the
// context carries a transaction (pkg/platform/tx), every statement joins it;
// the scheduler and reconcilers rely on that to make multi-certificate cycles
// atomic.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

const certificateColumns = `id, certificate_number, source_type, source_reference,
	application_reference, issuing_authority, gss_code, status, version, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Certificate, error) {
	q := s.q(ctx)
	row := q.QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, id)
	cert, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("certificate %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	if err := s.loadPrintRequests(ctx, cert); err != nil {
		return nil, err
	}
	return cert, nil
}

func (s *PostgresStore) Save(ctx context.Context, cert *models.Certificate) error {
	q := s.q(ctx)
	if cert.Version == 0 {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO certificates (`+certificateColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)`,
			cert.ID, cert.CertificateNumber, string(cert.SourceType), cert.SourceReference,
			cert.ApplicationReference, cert.IssuingAuthority, cert.GssCode,
			string(cert.Status), cert.CreatedAt, cert.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert certificate: %w", err)
		}
	} else {
		res, err := q.ExecContext(ctx, `
			UPDATE certificates
			SET status = $1, updated_at = $2, version = version + 1
			WHERE id = $3 AND version = $4`,
			string(cert.Status), cert.UpdatedAt, cert.ID, cert.Version,
		)
		if err != nil {
			return fmt.Errorf("update certificate: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update certificate: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("certificate %s at version %d: %w", cert.ID, cert.Version, sentinel.ErrConflict)
		}
	}
	cert.Version++

	for ordinal, request := range cert.PrintRequests {
		applicant, err := json.Marshal(request.Applicant)
		if err != nil {
			return fmt.Errorf("marshal applicant: %w", err)
		}
		history, err := json.Marshal(request.History)
		if err != nil {
			return fmt.Errorf("marshal status history: %w", err)
		}
		batchID := sql.NullString{String: request.BatchID, Valid: request.BatchID != ""}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO print_requests
				(certificate_id, ordinal, request_id, batch_id, applicant, photo_location, status_history, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (certificate_id, ordinal) DO UPDATE
			SET request_id = EXCLUDED.request_id,
				batch_id = EXCLUDED.batch_id,
				status_history = EXCLUDED.status_history`,
			cert.ID, ordinal, request.RequestID, batchID,
			applicant, request.PhotoLocation, history, request.CreatedAt,
		); err != nil {
			return fmt.Errorf("upsert print request: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status models.Status) ([]*models.Certificate, error) {
	return s.findIDs(ctx, `
		SELECT id FROM certificates WHERE status = $1 ORDER BY created_at, id`,
		string(status))
}

func (s *PostgresStore) FindByStatusAndBatchID(ctx context.Context, status models.Status, batchID string) ([]*models.Certificate, error) {
	return s.findIDs(ctx, `
		SELECT c.id FROM certificates c
		JOIN print_requests pr ON pr.certificate_id = c.id
		WHERE c.status = $1 AND pr.batch_id = $2
		GROUP BY c.id
		ORDER BY c.created_at, c.id`,
		string(status), batchID)
}

func (s *PostgresStore) FindByRequestID(ctx context.Context, requestID string) (*models.Certificate, error) {
	q := s.q(ctx)
	var certID string
	err := q.QueryRowContext(ctx,
		`SELECT certificate_id FROM print_requests WHERE request_id = $1`, requestID,
	).Scan(&certID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("request id %s: %w", requestID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find by request id: %w", err)
	}
	return s.Get(ctx, certID)
}

func (s *PostgresStore) findIDs(ctx context.Context, query string, args ...any) ([]*models.Certificate, error) {
	q := s.q(ctx)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find certificates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan certificate id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find certificates: %w", err)
	}

	certs := make([]*models.Certificate, 0, len(ids))
	for _, id := range ids {
		cert, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func (s *PostgresStore) loadPrintRequests(ctx context.Context, cert *models.Certificate) error {
	q := s.q(ctx)
	rows, err := q.QueryContext(ctx, `
		SELECT request_id, batch_id, applicant, photo_location, status_history, created_at
		FROM print_requests WHERE certificate_id = $1 ORDER BY ordinal`, cert.ID)
	if err != nil {
		return fmt.Errorf("load print requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			request       models.PrintRequest
			batchID       sql.NullString
			applicantJSON []byte
			historyJSON   []byte
		)
		if err := rows.Scan(&request.RequestID, &batchID, &applicantJSON,
			&request.PhotoLocation, &historyJSON, &request.CreatedAt); err != nil {
			return fmt.Errorf("scan print request: %w", err)
		}
		request.BatchID = batchID.String
		if err := json.Unmarshal(applicantJSON, &request.Applicant); err != nil {
			return fmt.Errorf("unmarshal applicant: %w", err)
		}
		if err := json.Unmarshal(historyJSON, &request.History); err != nil {
			return fmt.Errorf("unmarshal status history: %w", err)
		}
		cert.PrintRequests = append(cert.PrintRequests, &request)
	}
	return rows.Err()
}

func scanCertificate(row *sql.Row) (*models.Certificate, error) {
	var (
		cert       models.Certificate
		sourceType string
		status     string
	)
	if err := row.Scan(&cert.ID, &cert.CertificateNumber, &sourceType, &cert.SourceReference,
		&cert.ApplicationReference, &cert.IssuingAuthority, &cert.GssCode,
		&status, &cert.Version, &cert.CreatedAt, &cert.UpdatedAt); err != nil {
		return nil, err
	}
	cert.SourceType = models.SourceType(sourceType)
	cert.Status = models.Status(status)
	return &cert, nil
}
