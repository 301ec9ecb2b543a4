// Package service holds the certificate application operations that sit in
// front of the store. The print pipeline itself runs through the workers in
// internal/print; this package is the entry point the intake surface calls.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"printflow/internal/certificate/models"
	"printflow/internal/certificate/store"
	"printflow/pkg/identifier"
)

// AcceptPrintRequestCommand carries everything needed to open a certificate's
// print lifecycle. The applicant details are snapshotted onto the print
// request; later changes to the source application do not reach the provider.
type AcceptPrintRequestCommand struct {
	SourceType           models.SourceType
	SourceReference      string
	ApplicationReference string
	IssuingAuthority     string
	GssCode              string
	Applicant            models.Applicant
	PhotoLocation        string
}

type Service struct {
	store  store.Store
	idgen  *identifier.Generator
	logger *slog.Logger
	now    func() time.Time
}

func New(certStore store.Store, idgen *identifier.Generator, logger *slog.Logger) (*Service, error) {
	if certStore == nil || idgen == nil {
		return nil, fmt.Errorf("certificate service: all dependencies are required")
	}
	return &Service{
		store:  certStore,
		idgen:  idgen,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// AcceptPrintRequest creates a certificate with its opening print request in
// PENDING_ASSIGNMENT_TO_BATCH and persists it. The certificate number is the
// human-readable identifier encoding; the request id is the hex encoding of a
// separate identifier, issued fresh per request.
func (s *Service) AcceptPrintRequest(ctx context.Context, cmd AcceptPrintRequestCommand) (*models.Certificate, error) {
	if err := validate(cmd); err != nil {
		return nil, err
	}

	at := s.now()
	cert := models.NewCertificate(
		uuid.NewString(),
		s.idgen.Generate().String(),
		cmd.SourceType,
		cmd.SourceReference,
		cmd.ApplicationReference,
		cmd.IssuingAuthority,
		cmd.GssCode,
		at,
	)
	requestID := s.idgen.Generate().Hex()
	cert.AddPrintRequest(models.NewPrintRequest(requestID, cmd.Applicant, cmd.PhotoLocation, at))

	if err := s.store.Save(ctx, cert); err != nil {
		return nil, fmt.Errorf("save certificate %s: %w", cert.ID, err)
	}

	s.logger.Info("print request accepted",
		"certificate_id", cert.ID,
		"certificate_number", cert.CertificateNumber,
		"request_id", requestID,
		"source_type", cmd.SourceType)
	return cert, nil
}

// GetCertificate loads one certificate by id.
func (s *Service) GetCertificate(ctx context.Context, id string) (*models.Certificate, error) {
	cert, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get certificate %s: %w", id, err)
	}
	return cert, nil
}

func validate(cmd AcceptPrintRequestCommand) error {
	switch {
	case cmd.SourceType != models.SourceVoterCard && cmd.SourceType != models.SourcePostal:
		return fmt.Errorf("unknown source type %q", cmd.SourceType)
	case cmd.SourceReference == "":
		return fmt.Errorf("source reference is required")
	case cmd.Applicant.FullName == "":
		return fmt.Errorf("applicant full name is required")
	case cmd.Applicant.Address.Line1 == "" || cmd.Applicant.Address.Postcode == "":
		return fmt.Errorf("delivery address line 1 and postcode are required")
	case cmd.PhotoLocation == "":
		return fmt.Errorf("photo location is required")
	}
	if cmd.Applicant.Language != models.LanguageEnglish && cmd.Applicant.Language != models.LanguageWelsh {
		return fmt.Errorf("unknown certificate language %q", cmd.Applicant.Language)
	}
	if cmd.Applicant.DeliveryMethod != models.DeliveryStandard && cmd.Applicant.DeliveryMethod != models.DeliverySpecial {
		return fmt.Errorf("unknown delivery method %q", cmd.Applicant.DeliveryMethod)
	}
	return nil
}
