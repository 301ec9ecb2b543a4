package models

// Status is the lifecycle position of a print request, and by derivation of
// its certificate. Transitions:
//
//	PENDING_ASSIGNMENT_TO_BATCH -> ASSIGNED_TO_BATCH -> SENT_TO_PRINT_PROVIDER
//	SENT_TO_PRINT_PROVIDER -> RECEIVED_BY_PRINT_PROVIDER (batch ack success)
//	SENT_TO_PRINT_PROVIDER -> PENDING_ASSIGNMENT_TO_BATCH (batch ack failure, requeued under a new request id)
//	RECEIVED_BY_PRINT_PROVIDER -> VALIDATED_BY_PRINT_PROVIDER -> IN_PRODUCTION -> DISPATCHED
//
// with the terminal failure states arriving from the provider at their
// respective steps.
type Status string

const (
	StatusPendingAssignmentToBatch Status = "PENDING_ASSIGNMENT_TO_BATCH"
	StatusAssignedToBatch          Status = "ASSIGNED_TO_BATCH"
	StatusSentToPrintProvider      Status = "SENT_TO_PRINT_PROVIDER"
	StatusReceivedByPrintProvider  Status = "RECEIVED_BY_PRINT_PROVIDER"
	StatusValidatedByPrintProvider Status = "VALIDATED_BY_PRINT_PROVIDER"
	StatusInProduction             Status = "IN_PRODUCTION"
	StatusDispatched               Status = "DISPATCHED"
	StatusNotDelivered             Status = "NOT_DELIVERED"
	StatusValidationFailed         Status = "PRINT_PROVIDER_VALIDATION_FAILED"
	StatusProductionFailed         Status = "PRINT_PROVIDER_PRODUCTION_FAILED"
	StatusDispatchFailed           Status = "PRINT_PROVIDER_DISPATCH_FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPendingAssignmentToBatch, StatusAssignedToBatch,
		StatusSentToPrintProvider, StatusReceivedByPrintProvider,
		StatusValidatedByPrintProvider, StatusInProduction,
		StatusDispatched, StatusNotDelivered,
		StatusValidationFailed, StatusProductionFailed, StatusDispatchFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further provider updates are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDispatched, StatusNotDelivered,
		StatusValidationFailed, StatusProductionFailed, StatusDispatchFailed:
		return true
	}
	return false
}

// Language selects the certificate print template.
type Language string

const (
	LanguageEnglish Language = "EN"
	LanguageWelsh   Language = "CY"
)

// DeliveryMethod is how the provider posts the finished certificate.
type DeliveryMethod string

const (
	DeliveryStandard DeliveryMethod = "STANDARD"
	DeliverySpecial  DeliveryMethod = "SPECIAL"
)
