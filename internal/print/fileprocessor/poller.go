// Package fileprocessor ingests the provider's response files. A polling loop
// watches the SFTP outbound directory and announces each new file on the
// queue; a consumer claims the file by renaming it, splits its contents into
// individual batch-ack and print-response messages, and deletes it.
package fileprocessor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"printflow/internal/platform/lock"
	"printflow/internal/print/messages"
)

// Remote is the slice of the SFTP client the poller and processor need.
type Remote interface {
	List(dir string) ([]string, error)
}

// Publisher publishes file announcements and the split response messages.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Poller lists the provider outbound directory on a recurring cycle and
// publishes one message per unclaimed file. Claiming happens in the
// processor, so announcing the same file twice is harmless: the second
// consumer either resumes the claimed file or finds it gone and drops the
// message.
type Poller struct {
	remote    Remote
	publisher Publisher
	locker    lock.Locker
	logger    *slog.Logger

	dir      string
	interval time.Duration
	lockKey  string
	lockTTL  time.Duration
}

type PollerOption func(*Poller)

func WithPollInterval(interval time.Duration) PollerOption {
	return func(p *Poller) { p.interval = interval }
}

func WithPollLock(key string, ttl time.Duration) PollerOption {
	return func(p *Poller) {
		p.lockKey = key
		p.lockTTL = ttl
	}
}

func NewPoller(remote Remote, publisher Publisher, locker lock.Locker, dir string,
	logger *slog.Logger, opts ...PollerOption) (*Poller, error) {
	if remote == nil || publisher == nil || locker == nil {
		return nil, fmt.Errorf("poller: all dependencies are required")
	}
	p := &Poller{
		remote:    remote,
		publisher: publisher,
		locker:    locker,
		logger:    logger,
		dir:       dir,
		interval:  time.Minute,
		lockKey:   "printflow:lock:response-poll",
		lockTTL:   time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes one cycle immediately, then on every tick until the context is
// cancelled. Cycle errors are logged, never fatal.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("response poll cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one locked listing pass. Files carrying the claim suffix
// belong to an in-flight (or crashed) processing attempt and are skipped.
func (p *Poller) RunCycle(ctx context.Context) error {
	held, err := p.locker.Obtain(ctx, p.lockKey, p.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			p.logger.Debug("another instance is polling, skipping cycle")
			return nil
		}
		return fmt.Errorf("obtain poll lock: %w", err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("release poll lock", "error", err)
		}
	}()

	names, err := p.remote.List(p.dir)
	if err != nil {
		return fmt.Errorf("list response directory: %w", err)
	}
	for _, name := range names {
		if strings.HasSuffix(name, processingSuffix) {
			continue
		}
		if err := p.publisher.Publish(ctx, messages.TopicResponseFile, name, messages.ProcessPrintResponseFile{
			Directory: p.dir,
			FileName:  name,
		}); err != nil {
			return fmt.Errorf("announce response file %s: %w", name, err)
		}
		p.logger.Info("response file announced", "file", name)
	}
	return nil
}
