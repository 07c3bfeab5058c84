package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/chatlink/config"
)

// Receipts deduplicates and coalesces mark-as-read calls per counterparty.
//
// The in-flight set is the whole trick: a key already in it makes MarkRead
// a no-op, and the key stays in the set for ReceiptClearDelay AFTER the
// call returns — success or failure. A rapid double-invocation (select,
// history lands, re-render) coalesces into one network call; a genuinely
// fresh mark-read a moment later still goes through.
type Receipts struct {
	svc    Service
	dir    *Directory
	opts   *config.Options
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewReceipts(svc Service, dir *Directory, opts *config.Options, logger *zap.Logger) *Receipts {
	return &Receipts{
		svc:      svc,
		dir:      dir,
		opts:     opts,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// MarkRead acknowledges every unread message from one counterparty and
// optimistically zeroes the directory counter on success.
func (r *Receipts) MarkRead(ctx context.Context, key string) {
	r.mu.Lock()
	if _, busy := r.inflight[key]; busy {
		r.mu.Unlock()
		return
	}
	r.inflight[key] = struct{}{}
	r.mu.Unlock()

	// Clear after a delay regardless of outcome, not immediately: the
	// window is what coalesces back-to-back triggers.
	defer time.AfterFunc(r.opts.ReceiptClearDelay, func() {
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
	})

	if err := r.svc.MarkRead(ctx, key); err != nil {
		// Non-fatal: the counter stays as-is and the next selection (or
		// directory refresh) tries again.
		r.logger.Warn("mark-read failed", zap.String("key", key), zap.Error(err))
		return
	}
	r.dir.ApplyReadAck(key)
}

// MarkAllRead acknowledges everything in one call (internal-mail surface).
func (r *Receipts) MarkAllRead(ctx context.Context) error {
	if err := r.svc.MarkAllRead(ctx); err != nil {
		r.logger.Warn("mark-all-read failed", zap.Error(err))
		return err
	}
	r.dir.ApplyReadAll()
	return nil
}

// InFlight reports whether an acknowledgement for key is currently
// coalescing. Exposed for the session's scheduling logic and tests.
func (r *Receipts) InFlight(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[key]
	return ok
}
