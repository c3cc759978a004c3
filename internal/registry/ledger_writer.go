package registry

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/observer/notifyhub/internal/domain"
)

// LedgerStore is the write side of the durable connection ledger.
// Persist must be an upsert keyed by session id that refreshes connected_at.
type LedgerStore interface {
	Persist(ctx context.Context, sessionID string, userID uuid.UUID) error
	Forget(ctx context.Context, sessionID string) error
}

// LedgerSource is the read side used once at startup.
type LedgerSource interface {
	ListRecent(ctx context.Context, maxAge time.Duration) ([]domain.ConnectionEntry, error)
}

// Ledger is a complete ledger backend.
type Ledger interface {
	LedgerStore
	LedgerSource
}

// WriterConfig tunes the background ledger writer.
type WriterConfig struct {
	Workers     int           // shards, each with one goroutine
	QueueSize   int           // total pending operations before new ones are dropped
	OpTimeout   time.Duration // per attempt
	MaxAttempts int
	RetryDelay  time.Duration // grows linearly per attempt
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	return c
}

type opKind uint8

const (
	opPersist opKind = iota
	opForget
)

func (k opKind) String() string {
	if k == opPersist {
		return "persist"
	}
	return "forget"
}

type ledgerOp struct {
	kind      opKind
	sessionID string
	userID    uuid.UUID
}

// shard is a FIFO of pending operations drained by a single goroutine, so
// operations for one session are applied in the order they were scheduled.
type shard struct {
	mu      sync.Mutex
	pending *queue.Queue
	limit   int
	wake    chan struct{}
}

func (s *shard) push(op ledgerOp) bool {
	s.mu.Lock()
	if s.pending.Length() >= s.limit {
		s.mu.Unlock()
		return false
	}
	s.pending.Add(op)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *shard) pop() (ledgerOp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending.Length() == 0 {
		return ledgerOp{}, false
	}
	return s.pending.Remove().(ledgerOp), true
}

func (s *shard) length() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Length()
}

// WriterStats reports the writer's backlog and losses
type WriterStats struct {
	Pending int    `json:"pending"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Applied uint64 `json:"applied"`
}

// LedgerWriter applies Persist/Forget to the ledger asynchronously.
// It implements Recorder: scheduling never blocks, and failures are logged
// and counted but never reported to the caller.
type LedgerWriter struct {
	store  LedgerStore
	cfg    WriterConfig
	shards []*shard
	logger *slog.Logger

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	dropped atomic.Uint64
	failed  atomic.Uint64
	applied atomic.Uint64
}

// NewLedgerWriter creates a writer. Call Start before scheduling operations
// and Stop on shutdown.
func NewLedgerWriter(store LedgerStore, cfg WriterConfig, logger *slog.Logger) *LedgerWriter {
	cfg = cfg.withDefaults()
	perShard := (cfg.QueueSize + cfg.Workers - 1) / cfg.Workers

	shards := make([]*shard, cfg.Workers)
	for i := range shards {
		shards[i] = &shard{
			pending: queue.New(),
			limit:   perShard,
			wake:    make(chan struct{}, 1),
		}
	}

	return &LedgerWriter{
		store:  store,
		cfg:    cfg,
		shards: shards,
		logger: logger.With("component", "ledger_writer"),
		done:   make(chan struct{}),
	}
}

// Start launches one goroutine per shard
func (w *LedgerWriter) Start() {
	for _, s := range w.shards {
		w.wg.Add(1)
		go w.run(s)
	}
}

// Persist schedules an upsert of the session row
func (w *LedgerWriter) Persist(sessionID string, userID uuid.UUID) {
	w.schedule(ledgerOp{kind: opPersist, sessionID: sessionID, userID: userID})
}

// Forget schedules deletion of the session row
func (w *LedgerWriter) Forget(sessionID string) {
	w.schedule(ledgerOp{kind: opForget, sessionID: sessionID})
}

func (w *LedgerWriter) schedule(op ledgerOp) {
	if w.closed.Load() {
		w.dropped.Add(1)
		w.logger.Warn("ledger writer stopped, dropping operation", "op", op.kind.String(), "session_id", op.sessionID)
		return
	}
	if !w.shardFor(op.sessionID).push(op) {
		w.dropped.Add(1)
		w.logger.Warn("ledger queue full, dropping operation", "op", op.kind.String(), "session_id", op.sessionID)
	}
}

func (w *LedgerWriter) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return w.shards[h.Sum32()%uint32(len(w.shards))]
}

func (w *LedgerWriter) run(s *shard) {
	defer w.wg.Done()
	for {
		if op, ok := s.pop(); ok {
			w.apply(op)
			continue
		}
		select {
		case <-s.wake:
		case <-w.done:
			// drain what is left, then exit
			for {
				op, ok := s.pop()
				if !ok {
					return
				}
				w.apply(op)
			}
		}
	}
}

func (w *LedgerWriter) apply(op ledgerOp) {
	var err error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.OpTimeout)
		switch op.kind {
		case opPersist:
			err = w.store.Persist(ctx, op.sessionID, op.userID)
		case opForget:
			err = w.store.Forget(ctx, op.sessionID)
		}
		cancel()

		if err == nil {
			w.applied.Add(1)
			return
		}
		if attempt < w.cfg.MaxAttempts {
			time.Sleep(time.Duration(attempt) * w.cfg.RetryDelay)
		}
	}

	w.failed.Add(1)
	w.logger.Error("ledger write failed",
		"op", op.kind.String(),
		"session_id", op.sessionID,
		"attempts", w.cfg.MaxAttempts,
		"error", err,
	)
}

// Stop refuses new operations and waits for queued ones to be applied.
// It returns ctx.Err() if the backlog is not drained in time.
func (w *LedgerWriter) Stop(ctx context.Context) error {
	if w.closed.Swap(true) {
		return nil
	}
	close(w.done)

	finished := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		w.logger.Warn("ledger writer stop timed out", "pending", w.pending())
		return ctx.Err()
	}
}

func (w *LedgerWriter) pending() int {
	n := 0
	for _, s := range w.shards {
		n += s.length()
	}
	return n
}

// Stats returns counters for the health endpoint
func (w *LedgerWriter) Stats() WriterStats {
	return WriterStats{
		Pending: w.pending(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
		Applied: w.applied.Load(),
	}
}
