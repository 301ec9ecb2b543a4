package models

import "time"

// PrintRequestStatus is one immutable entry in a print request's history.
// EventDateTime comes from the provider when it supplied one, otherwise it is
// the processing time.
type PrintRequestStatus struct {
	Status        Status    `json:"status"`
	EventDateTime time.Time `json:"eventDateTime"`
	Message       string    `json:"message,omitempty"`
}

// Address is the delivery address printed on the provider manifest.
type Address struct {
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	Line3    string `json:"line3,omitempty"`
	Town     string `json:"town,omitempty"`
	Postcode string `json:"postcode"`
}

// Applicant is the snapshot of delivery details captured when the print
// request is created. It never changes afterwards, even if the source
// application does.
type Applicant struct {
	FullName       string         `json:"fullName"`
	Language       Language       `json:"language"`
	DeliveryMethod DeliveryMethod `json:"deliveryMethod"`
	Address        Address        `json:"address"`
}

// PrintRequest is one lifecycle instance of sending a certificate to the
// provider. Requeuing keeps the record but issues a new provider-visible
// request id, because the provider rejects resubmission under a used id.
type PrintRequest struct {
	// RequestID is the provider-visible id, 24-char hex.
	RequestID string `json:"requestId"`
	// BatchID is empty until the scheduler assigns the request to a batch,
	// and is cleared again on requeue.
	BatchID       string              `json:"batchId,omitempty"`
	Applicant     Applicant           `json:"applicant"`
	PhotoLocation string              `json:"photoLocation"`
	CreatedAt     time.Time           `json:"createdAt"`
	History       []PrintRequestStatus `json:"history"`
}

// NewPrintRequest builds a request in PENDING_ASSIGNMENT_TO_BATCH with a
// single opening history entry.
func NewPrintRequest(requestID string, applicant Applicant, photoLocation string, at time.Time) *PrintRequest {
	return &PrintRequest{
		RequestID:     requestID,
		Applicant:     applicant,
		PhotoLocation: photoLocation,
		CreatedAt:     at,
		History: []PrintRequestStatus{{
			Status:        StatusPendingAssignmentToBatch,
			EventDateTime: at,
		}},
	}
}

// CurrentStatus is the history entry with the latest event time. Appends with
// an equal timestamp win over earlier ones, so replaying a history always
// lands on the most recently recorded entry.
func (p *PrintRequest) CurrentStatus() Status {
	if len(p.History) == 0 {
		return ""
	}
	current := p.History[0]
	for _, entry := range p.History[1:] {
		if !entry.EventDateTime.Before(current.EventDateTime) {
			current = entry
		}
	}
	return current.Status
}

// appendStatus records a new history entry. History is append-only; nothing
// is ever rewritten in place.
func (p *PrintRequest) appendStatus(status Status, eventDateTime time.Time, message string) {
	p.History = append(p.History, PrintRequestStatus{
		Status:        status,
		EventDateTime: eventDateTime,
		Message:       message,
	})
}
