package models

import (
	"fmt"
	"time"

	"printflow/pkg/platform/sentinel"
)

// now is swapped out in tests to pin history timestamps.
var now = func() time.Time { return time.Now().UTC() }

// SourceType identifies the application system a certificate originates from.
type SourceType string

const (
	SourceVoterCard SourceType = "VOTER_CARD"
	SourcePostal    SourceType = "POSTAL"
)

// Certificate is the aggregate owning a document's print lifecycle. It holds
// an ordered, append-only collection of print requests; its Status is always
// derived from the most recently created request and is never set directly.
//
// Every mutating operation advances both a print request history and the
// derived status together, so a loaded certificate is always internally
// consistent. Persistence is guarded by the Version counter: stores must
// refuse a save when the stored version differs.
type Certificate struct {
	ID                   string
	CertificateNumber    string
	SourceType           SourceType
	SourceReference      string
	ApplicationReference string
	IssuingAuthority     string
	GssCode              string
	Status               Status
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	PrintRequests        []*PrintRequest
}

// NewCertificate builds a certificate with no print requests yet. Callers add
// the opening request via AddPrintRequest.
func NewCertificate(id, certificateNumber string, sourceType SourceType, sourceRef, applicationRef, issuingAuthority, gssCode string, at time.Time) *Certificate {
	return &Certificate{
		ID:                   id,
		CertificateNumber:    certificateNumber,
		SourceType:           sourceType,
		SourceReference:      sourceRef,
		ApplicationReference: applicationRef,
		IssuingAuthority:     issuingAuthority,
		GssCode:              gssCode,
		CreatedAt:            at,
		UpdatedAt:            at,
	}
}

// AddPrintRequest appends a new print request. The certificate's status
// becomes that request's current status: a re-triggered print supersedes
// whatever an earlier request reached.
func (c *Certificate) AddPrintRequest(request *PrintRequest) {
	c.PrintRequests = append(c.PrintRequests, request)
	c.refreshStatus(request.CreatedAt)
}

// AssignToBatch moves a pending print request into a batch. Valid only from
// PENDING_ASSIGNMENT_TO_BATCH.
func (c *Certificate) AssignToBatch(request *PrintRequest, batchID string) error {
	if current := request.CurrentStatus(); current != StatusPendingAssignmentToBatch {
		return fmt.Errorf("assign request %s to batch %s from status %s: %w",
			request.RequestID, batchID, current, sentinel.ErrInvalidState)
	}
	at := now()
	request.BatchID = batchID
	request.appendStatus(StatusAssignedToBatch, at, "")
	c.refreshStatus(at)
	return nil
}

// SendToPrintProviderForBatch records that the batch holding one of this
// certificate's requests has been shipped to the provider.
func (c *Certificate) SendToPrintProviderForBatch(batchID string) error {
	request, err := c.PrintRequestForBatch(batchID)
	if err != nil {
		return err
	}
	at := now()
	request.appendStatus(StatusSentToPrintProvider, at, "")
	c.refreshStatus(at)
	return nil
}

// ReceivedByPrintProviderForBatch records a successful batch acknowledgement.
func (c *Certificate) ReceivedByPrintProviderForBatch(batchID string, eventDateTime time.Time, message string) error {
	request, err := c.PrintRequestForBatch(batchID)
	if err != nil {
		return err
	}
	request.appendStatus(StatusReceivedByPrintProvider, eventDateTime, message)
	c.refreshStatus(eventDateTime)
	return nil
}

// RequeueForBatch puts a request that failed batch acknowledgement back in
// the assignment pool. The batch id is cleared and the provider-visible
// request id replaced, because the provider refuses a resubmitted id.
func (c *Certificate) RequeueForBatch(batchID string, eventDateTime time.Time, message, newRequestID string) error {
	request, err := c.PrintRequestForBatch(batchID)
	if err != nil {
		return err
	}
	request.BatchID = ""
	request.RequestID = newRequestID
	request.appendStatus(StatusPendingAssignmentToBatch, eventDateTime, message)
	c.refreshStatus(eventDateTime)
	return nil
}

// AddPrintRequestEvent appends a provider status update to the request with
// the given provider-visible id, wherever it sits in the certificate. Returns
// sentinel.ErrNotFound when no request matches; the reconciler treats that as
// a recoverable skip rather than a failure.
func (c *Certificate) AddPrintRequestEvent(requestID string, status Status, eventDateTime time.Time, message string) error {
	for _, request := range c.PrintRequests {
		if request.RequestID == requestID {
			request.appendStatus(status, eventDateTime, message)
			c.refreshStatus(eventDateTime)
			return nil
		}
	}
	return fmt.Errorf("no print request with request id %s: %w", requestID, sentinel.ErrNotFound)
}

// ActivePrintRequest returns the most recently created print request, the
// only one that can still progress through a batch cycle. Nil when the
// certificate has no requests yet.
func (c *Certificate) ActivePrintRequest() *PrintRequest {
	if len(c.PrintRequests) == 0 {
		return nil
	}
	latest := c.PrintRequests[0]
	for _, request := range c.PrintRequests[1:] {
		if !request.CreatedAt.Before(latest.CreatedAt) {
			latest = request
		}
	}
	return latest
}

// PrintRequestForBatch locates the single request carrying batchID. A stale
// or unknown batch id fails loudly; silently no-oping would hide scheduling
// races from the operator.
func (c *Certificate) PrintRequestForBatch(batchID string) (*PrintRequest, error) {
	for _, request := range c.PrintRequests {
		if request.BatchID == batchID && batchID != "" {
			return request, nil
		}
	}
	return nil, fmt.Errorf("no print request with batch id %s: %w", batchID, sentinel.ErrNotFound)
}

// refreshStatus re-derives the certificate status from the most recently
// created print request. Only one request progresses per batch cycle, so
// creation recency, not event time, breaks ties between requests.
func (c *Certificate) refreshStatus(at time.Time) {
	if len(c.PrintRequests) == 0 {
		return
	}
	latest := c.PrintRequests[0]
	for _, request := range c.PrintRequests[1:] {
		if !request.CreatedAt.Before(latest.CreatedAt) {
			latest = request
		}
	}
	c.Status = latest.CurrentStatus()
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
}
