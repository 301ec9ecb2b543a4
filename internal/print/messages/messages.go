// Package messages defines the queue contracts between the pipeline stages.
// All payloads travel as JSON; each topic has exactly one consumer group.
package messages

import "time"

// Topic names. One concern per topic so redelivery of one stage never blocks
// another.
const (
	TopicProcessBatch  = "print.batch.process"
	TopicResponseFile  = "print.response.file"
	TopicBatchResponse = "print.batch.response"
	TopicPrintResponse = "print.response"
)

// ProcessPrintRequestBatch tells the dispatcher one batch is ready to ship.
// PrintRequestCount lets the dispatcher detect a scheduling race: if the
// re-queried batch size differs, the batch must not be shipped partially.
type ProcessPrintRequestBatch struct {
	BatchID           string `json:"batchId"`
	PrintRequestCount int    `json:"printRequestCount,omitempty"`
}

// ProcessPrintResponseFile tells the file processor to ingest one provider
// response file from the SFTP outbound directory.
type ProcessPrintResponseFile struct {
	Directory string `json:"directory"`
	FileName  string `json:"fileName"`
}

// BatchResponseStatus is the provider's verdict on a whole batch.
type BatchResponseStatus string

const (
	BatchResponseSuccess BatchResponseStatus = "SUCCESS"
	BatchResponseFailed  BatchResponseStatus = "FAILED"
)

// ProcessBatchResponse is one provider batch acknowledgement. SUCCESS fans
// the batch members to RECEIVED_BY_PRINT_PROVIDER; FAILED requeues them under
// fresh request ids.
type ProcessBatchResponse struct {
	BatchID   string              `json:"batchId"`
	Status    BatchResponseStatus `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
	Message   string              `json:"message,omitempty"`
}

// StatusStep is the provider's coarse processing stage for a single request.
type StatusStep string

const (
	StepProcessed    StatusStep = "PROCESSED"
	StepInProduction StatusStep = "IN_PRODUCTION"
	StepDispatched   StatusStep = "DISPATCHED"
	StepNotDelivered StatusStep = "NOT_DELIVERED"
)

// ProcessPrintResponse is one per-request provider status update, delivered
// as its own queue message.
type ProcessPrintResponse struct {
	RequestID  string              `json:"requestId"`
	StatusStep StatusStep          `json:"statusStep"`
	Status     BatchResponseStatus `json:"status"`
	Timestamp  time.Time           `json:"timestamp"`
	Message    string              `json:"message,omitempty"`
}
