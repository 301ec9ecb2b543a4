package fileprocessor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/platform/kafka"
	"printflow/internal/platform/lock"
	"printflow/internal/print/messages"
)

type fakeRemote struct {
	files   map[string][]byte
	listErr error
	renames []string
	removed []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: map[string][]byte{}}
}

func (f *fakeRemote) List(dir string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	names := make([]string, 0, len(f.files))
	for filePath := range f.files {
		names = append(names, filePath[len(dir)+1:])
	}
	return names, nil
}

func (f *fakeRemote) Rename(oldPath, newPath string) error {
	body, ok := f.files[oldPath]
	if !ok {
		return errors.New("no such file")
	}
	delete(f.files, oldPath)
	f.files[newPath] = body
	f.renames = append(f.renames, newPath)
	return nil
}

func (f *fakeRemote) Open(filePath string) (io.ReadCloser, error) {
	body, ok := f.files[filePath]
	if !ok {
		return nil, errors.New("no such file")
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *fakeRemote) Remove(filePath string) error {
	if _, ok := f.files[filePath]; !ok {
		return errors.New("no such file")
	}
	delete(f.files, filePath)
	f.removed = append(f.removed, filePath)
	return nil
}

type published struct {
	topic   string
	key     string
	payload any
}

type fakePublisher struct {
	published []published
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{topic: topic, key: key, payload: payload})
	return nil
}

type fakeLock struct{}

func (fakeLock) Release(ctx context.Context) error { return nil }

type fakeLocker struct{ err error }

func (f *fakeLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	if f.err != nil {
		return nil, f.err
	}
	return fakeLock{}, nil
}

const outboundDir = "EROP/OutBound"

func newPoller(t *testing.T, remote Remote, pub Publisher, locker lock.Locker) *Poller {
	t.Helper()
	p, err := NewPoller(remote, pub, locker, outboundDir, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return p
}

func newProcessor(t *testing.T, remote FileRemote, pub Publisher) *Processor {
	t.Helper()
	p, err := NewProcessor(remote, pub, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return p
}

func TestPoller_AnnouncesUnclaimedFiles(t *testing.T) {
	remote := newFakeRemote()
	remote.files[outboundDir+"/responses-001.json"] = []byte("{}")
	remote.files[outboundDir+"/responses-002.json.processing"] = []byte("{}")
	pub := &fakePublisher{}

	p := newPoller(t, remote, pub, &fakeLocker{})
	require.NoError(t, p.RunCycle(context.Background()))

	require.Len(t, pub.published, 1, "claimed files are not re-announced")
	msg := pub.published[0].payload.(messages.ProcessPrintResponseFile)
	assert.Equal(t, outboundDir, msg.Directory)
	assert.Equal(t, "responses-001.json", msg.FileName)
}

func TestPoller_SkipsWhenLockHeldElsewhere(t *testing.T) {
	remote := newFakeRemote()
	remote.files[outboundDir+"/responses-001.json"] = []byte("{}")
	pub := &fakePublisher{}

	p := newPoller(t, remote, pub, &fakeLocker{err: lock.ErrNotObtained})
	require.NoError(t, p.RunCycle(context.Background()))
	assert.Empty(t, pub.published)
}

func TestPoller_ListFailureSurfaces(t *testing.T) {
	remote := newFakeRemote()
	remote.listErr = errors.New("connection reset")
	p := newPoller(t, remote, &fakePublisher{}, &fakeLocker{})
	require.Error(t, p.RunCycle(context.Background()))
}

func announcement(t *testing.T, fileName string) *kafka.Message {
	t.Helper()
	value, err := json.Marshal(messages.ProcessPrintResponseFile{Directory: outboundDir, FileName: fileName})
	require.NoError(t, err)
	return &kafka.Message{Topic: messages.TopicResponseFile, Value: value}
}

func TestProcessor_SplitsFileIntoIndividualMessages(t *testing.T) {
	eventTime := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
	body, err := json.Marshal(responseFile{
		BatchResponses: []batchResponse{{
			BatchID:       "0123456789abcdef01234567",
			Status:        "SUCCESS",
			EventDateTime: eventTime,
			Message:       "batch accepted",
		}},
		PrintResponses: []printResponse{
			{RequestID: "req-01", StatusStep: "PROCESSED", Status: "SUCCESS", EventDateTime: eventTime},
			{RequestID: "req-02", StatusStep: "DISPATCHED", Status: "FAILED", EventDateTime: eventTime, Message: "address unreadable"},
		},
	})
	require.NoError(t, err)

	remote := newFakeRemote()
	remote.files[outboundDir+"/responses-001.json"] = body
	pub := &fakePublisher{}

	p := newProcessor(t, remote, pub)
	require.NoError(t, p.Handle(context.Background(), announcement(t, "responses-001.json")))

	require.Len(t, pub.published, 3, "one message per contained response")

	ack, ok := pub.published[0].payload.(messages.ProcessBatchResponse)
	require.True(t, ok)
	assert.Equal(t, messages.TopicBatchResponse, pub.published[0].topic)
	assert.Equal(t, "0123456789abcdef01234567", ack.BatchID)
	assert.Equal(t, messages.BatchResponseSuccess, ack.Status)
	assert.True(t, ack.Timestamp.Equal(eventTime))

	update, ok := pub.published[2].payload.(messages.ProcessPrintResponse)
	require.True(t, ok)
	assert.Equal(t, messages.TopicPrintResponse, pub.published[2].topic)
	assert.Equal(t, "req-02", update.RequestID)
	assert.Equal(t, messages.StepDispatched, update.StatusStep)
	assert.Equal(t, messages.BatchResponseFailed, update.Status)
	assert.Equal(t, "address unreadable", update.Message)

	assert.Empty(t, remote.files, "file deleted after processing")
}

func TestProcessor_LostClaimRaceDropsMessage(t *testing.T) {
	// The file is gone: another instance renamed it first, or it has already
	// been processed and deleted.
	remote := newFakeRemote()
	pub := &fakePublisher{}

	p := newProcessor(t, remote, pub)
	require.NoError(t, p.Handle(context.Background(), announcement(t, "responses-001.json")))
	assert.Empty(t, pub.published)
}

func TestProcessor_MalformedFileLeftClaimed(t *testing.T) {
	remote := newFakeRemote()
	remote.files[outboundDir+"/responses-001.json"] = []byte("{not json")
	pub := &fakePublisher{}

	p := newProcessor(t, remote, pub)
	require.NoError(t, p.Handle(context.Background(), announcement(t, "responses-001.json")))

	assert.Empty(t, pub.published)
	_, claimed := remote.files[outboundDir+"/responses-001.json.processing"]
	assert.True(t, claimed, "unparseable file stays under its claimed name for inspection")
}

func TestProcessor_PublishFailureRedelivers(t *testing.T) {
	body, err := json.Marshal(responseFile{
		BatchResponses: []batchResponse{{BatchID: "0123456789abcdef01234567", Status: "SUCCESS"}},
	})
	require.NoError(t, err)
	remote := newFakeRemote()
	remote.files[outboundDir+"/responses-001.json"] = body
	pub := &fakePublisher{err: errors.New("broker down")}

	p := newProcessor(t, remote, pub)
	err = p.Handle(context.Background(), announcement(t, "responses-001.json"))
	require.Error(t, err)

	_, claimed := remote.files[outboundDir+"/responses-001.json.processing"]
	assert.True(t, claimed, "file not deleted while responses remain unpublished")
}

func TestProcessor_ResumesClaimedFileAfterPublishFailure(t *testing.T) {
	body, err := json.Marshal(responseFile{
		BatchResponses: []batchResponse{{BatchID: "0123456789abcdef01234567", Status: "SUCCESS"}},
		PrintResponses: []printResponse{{RequestID: "req-01", StatusStep: "PROCESSED", Status: "SUCCESS"}},
	})
	require.NoError(t, err)
	remote := newFakeRemote()
	remote.files[outboundDir+"/responses-001.json"] = body
	pub := &fakePublisher{err: errors.New("broker down")}

	p := newProcessor(t, remote, pub)

	// First delivery claims the file, then fails to publish.
	err = p.Handle(context.Background(), announcement(t, "responses-001.json"))
	require.Error(t, err)
	_, claimed := remote.files[outboundDir+"/responses-001.json.processing"]
	require.True(t, claimed)

	// The redelivery cannot re-claim but must resume from the claimed file
	// once the broker is back, publishing everything and deleting it.
	pub.err = nil
	require.NoError(t, p.Handle(context.Background(), announcement(t, "responses-001.json")))
	assert.Len(t, pub.published, 2, "every response in the claimed file published")
	assert.Empty(t, remote.files, "claimed file deleted once fully published")
}

func TestProcessor_EmptyFileDeleted(t *testing.T) {
	remote := newFakeRemote()
	remote.files[outboundDir+"/responses-001.json"] = []byte("{}")
	pub := &fakePublisher{}

	p := newProcessor(t, remote, pub)
	require.NoError(t, p.Handle(context.Background(), announcement(t, "responses-001.json")))

	assert.Empty(t, pub.published)
	assert.Empty(t, remote.files)
}
