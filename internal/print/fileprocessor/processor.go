package fileprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"printflow/internal/platform/kafka"
	"printflow/internal/print/messages"
)

// processingSuffix marks a response file claimed by a processor instance.
const processingSuffix = ".processing"

// FileRemote is the slice of the SFTP client the processor needs.
type FileRemote interface {
	Rename(oldPath, newPath string) error
	Open(filePath string) (io.ReadCloser, error)
	Remove(filePath string) error
}

// responseFile is the provider's response file body: any mix of batch
// acknowledgements and per-request updates in one JSON document.
type responseFile struct {
	BatchResponses []batchResponse `json:"BatchResponses"`
	PrintResponses []printResponse `json:"PrintResponses"`
}

type batchResponse struct {
	BatchID       string    `json:"batchId"`
	Status        string    `json:"status"`
	EventDateTime time.Time `json:"eventDateTime"`
	Message       string    `json:"message"`
}

type printResponse struct {
	RequestID     string    `json:"requestId"`
	StatusStep    string    `json:"statusStep"`
	Status        string    `json:"status"`
	EventDateTime time.Time `json:"eventDateTime"`
	Message       string    `json:"message"`
}

// Processor consumes file announcements, claims each file by renaming it,
// and republishes its contents as individual reconciler messages. The rename
// makes the claim exclusive: a duplicate announcement loses the rename race
// and drops out.
type Processor struct {
	remote    FileRemote
	publisher Publisher
	logger    *slog.Logger
}

func NewProcessor(remote FileRemote, publisher Publisher, logger *slog.Logger) (*Processor, error) {
	if remote == nil || publisher == nil {
		return nil, fmt.Errorf("processor: all dependencies are required")
	}
	return &Processor{remote: remote, publisher: publisher, logger: logger}, nil
}

// Handle consumes one ProcessPrintResponseFile message.
//
// The file is deleted only after every contained response has been published,
// so a failure mid-way redelivers the message and the retry resumes from the
// claimed file, republishing some responses. The reconcilers tolerate those
// duplicates. A file that fails to parse is logged and left under its claimed
// name for manual inspection; retrying cannot fix it.
func (p *Processor) Handle(ctx context.Context, msg *kafka.Message) error {
	var payload messages.ProcessPrintResponseFile
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		p.logger.Error("malformed file announcement dropped", "error", err)
		return nil
	}

	filePath := path.Join(payload.Directory, payload.FileName)
	claimedPath := filePath + processingSuffix
	if err := p.remote.Rename(filePath, claimedPath); err != nil {
		// The claim can fail two ways: another instance won the rename (or
		// the file was already processed and deleted), which ends this
		// message; or an earlier delivery claimed the file and then failed
		// mid-publish, leaving it under the claimed name. The second case
		// still has unpublished responses, so resume from the claimed path.
		// The reconcilers tolerate the duplicates a partial earlier attempt
		// may have produced.
		if !p.exists(claimedPath) {
			p.logger.Info("response file already claimed", "file", payload.FileName, "error", err)
			return nil
		}
		p.logger.Info("resuming claimed response file", "file", payload.FileName)
	}

	file, err := p.parse(claimedPath)
	if err != nil {
		p.logger.Error("response file failed to parse, left for inspection",
			"file", claimedPath, "error", err)
		return nil
	}

	for _, ack := range file.BatchResponses {
		if err := p.publisher.Publish(ctx, messages.TopicBatchResponse, ack.BatchID, messages.ProcessBatchResponse{
			BatchID:   ack.BatchID,
			Status:    messages.BatchResponseStatus(ack.Status),
			Timestamp: ack.EventDateTime,
			Message:   ack.Message,
		}); err != nil {
			return fmt.Errorf("publish batch response for %s: %w", ack.BatchID, err)
		}
	}
	for _, update := range file.PrintResponses {
		if err := p.publisher.Publish(ctx, messages.TopicPrintResponse, update.RequestID, messages.ProcessPrintResponse{
			RequestID:  update.RequestID,
			StatusStep: messages.StatusStep(update.StatusStep),
			Status:     messages.BatchResponseStatus(update.Status),
			Timestamp:  update.EventDateTime,
			Message:    update.Message,
		}); err != nil {
			return fmt.Errorf("publish print response for %s: %w", update.RequestID, err)
		}
	}

	if err := p.remote.Remove(claimedPath); err != nil {
		// Everything is already published; failing the message now would
		// republish duplicates just to retry a delete. Leave it to be cleaned
		// up out of band.
		p.logger.Warn("processed response file could not be deleted",
			"file", claimedPath, "error", err)
		return nil
	}

	p.logger.Info("response file processed", "file", payload.FileName,
		"batch_responses", len(file.BatchResponses), "print_responses", len(file.PrintResponses))
	return nil
}

func (p *Processor) exists(filePath string) bool {
	body, err := p.remote.Open(filePath)
	if err != nil {
		return false
	}
	body.Close()
	return true
}

func (p *Processor) parse(filePath string) (*responseFile, error) {
	body, err := p.remote.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer body.Close()

	var file responseFile
	if err := json.NewDecoder(body).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filePath, err)
	}
	return &file, nil
}
