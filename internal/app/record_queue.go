package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"school-session-agent/internal/connectivity"
	"school-session-agent/internal/domain"
	"school-session-agent/internal/logging"
	"school-session-agent/internal/metrics"
)

const (
	activeSessionKey = "attendance:active"
	pendingKeyPrefix = "attendance:pending:"
)

// PendingKey is the local store key holding the unsent batch of a session.
func PendingKey(sessionID string) string { return pendingKeyPrefix + sessionID }

// QueueEventKind names a non-fatal signal surfaced to the page.
type QueueEventKind string

const (
	// EventStaleDiscarded means a batch left over from another session was dropped on load.
	EventStaleDiscarded QueueEventKind = "stale_discarded"
	// EventFlushDeferred means delivery failed; the records stay saved locally and will be retried.
	EventFlushDeferred QueueEventKind = "flush_deferred"
	// EventFlushed means a batch reached the backend.
	EventFlushed QueueEventKind = "flushed"
)

// QueueEvent is delivered to QueueOptions.OnEvent outside the queue lock.
type QueueEvent struct {
	Kind      QueueEventKind
	SessionID string
	Count     int
	Err       error
}

// FlushStatus is the outcome of one flush.
type FlushStatus string

const (
	FlushDelivered FlushStatus = "delivered"
	FlushDeferred  FlushStatus = "deferred"
	FlushEmpty     FlushStatus = "empty"
)

// FlushResult reports what a flush did. Err is set for deferred flushes and is never fatal.
type FlushResult struct {
	Status    FlushStatus
	Delivered int
	Pending   int
	Err       error
}

// QueueOptions carries explicit per-queue configuration.
type QueueOptions struct {
	// Credentials returns the bearer token used for delivery.
	Credentials func() string
	// TrackHomework requires HomeworkDone on every record; when unset the flag is dropped.
	TrackHomework bool
	// RejectDuplicates refuses a second record for the same student within a session.
	RejectDuplicates bool
	OnEvent          func(QueueEvent)
	UnloadGuard      UnloadGuard
	FlushTimeout     time.Duration // bounds flushes triggered by connectivity changes
	Logger           logging.Logger
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.Credentials == nil {
		o.Credentials = func() string { return "" }
	}
	if o.OnEvent == nil {
		o.OnEvent = func(QueueEvent) {}
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

// persistedBatch is the JSON document written under PendingKey.
type persistedBatch struct {
	SessionID string                    `json:"sessionId"`
	BatchID   string                    `json:"batchId"`
	Records   []domain.AttendanceRecord `json:"records"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

// RecordQueue buffers attendance records for one session until the backend acknowledges them.
// Every append is written through to the local store before it is visible in memory.
type RecordQueue struct {
	store   LocalStore
	client  RecordClient
	monitor *connectivity.Monitor
	opts    QueueOptions
	flights singleflight.Group

	mu        sync.Mutex
	gen       uint64 // bumped whenever the session changes or the queue closes
	closed    bool
	sessionID string
	batchID   string
	records   []domain.AttendanceRecord
	unwatch   func()
}

func NewRecordQueue(store LocalStore, client RecordClient, monitor *connectivity.Monitor, opts QueueOptions) *RecordQueue {
	return &RecordQueue{
		store:   store,
		client:  client,
		monitor: monitor,
		opts:    opts.withDefaults(),
	}
}

// LoadPersisted makes sessionID the active session and restores its unsent batch.
// A batch left behind by a different session is discarded and reported as EventStaleDiscarded.
func (q *RecordQueue) LoadPersisted(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, domain.NewValidationError(errors.New("session id is required"), domain.FieldError{Field: "sessionId", Error: "required"})
	}

	var events []QueueEvent
	defer func() { q.emit(events...) }()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, domain.ErrSessionClosed
	}

	previous, ok, err := q.store.Read(ctx, activeSessionKey)
	if err != nil {
		return 0, errors.Wrap(err, "read active session")
	}
	if ok && string(previous) != sessionID {
		stale := string(previous)
		dropped := 0
		if batch, found, err := q.readBatch(ctx, stale); err == nil && found {
			dropped = len(batch.Records)
		}
		if err := q.store.Delete(ctx, PendingKey(stale)); err != nil {
			return 0, errors.Wrapf(err, "discard stale batch of session %s", stale)
		}
		if dropped > 0 {
			q.opts.Logger.Warnf("discarded %d unsent records of previous session %s", dropped, stale)
			events = append(events, QueueEvent{Kind: EventStaleDiscarded, SessionID: stale, Count: dropped})
		}
	}
	if err := q.store.Write(ctx, activeSessionKey, []byte(sessionID)); err != nil {
		return 0, errors.Wrap(err, "write active session")
	}

	batch, found, err := q.readBatch(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	q.gen++
	q.setPendingLocked(nil)
	q.syncWatchLocked()
	q.sessionID = sessionID
	q.batchID = ""
	if found && len(batch.Records) > 0 {
		q.batchID = batch.BatchID
		q.setPendingLocked(batch.Records)
		q.opts.Logger.Infof("restored %d unsent records for session %s", len(batch.Records), sessionID)
	}
	q.syncWatchLocked()
	return len(q.records), nil
}

func (q *RecordQueue) readBatch(ctx context.Context, sessionID string) (persistedBatch, bool, error) {
	raw, ok, err := q.store.Read(ctx, PendingKey(sessionID))
	if err != nil || !ok {
		return persistedBatch{}, false, errors.Wrapf(err, "read batch of session %s", sessionID)
	}
	var batch persistedBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return persistedBatch{}, false, errors.Wrapf(err, "decode batch of session %s", sessionID)
	}
	if batch.BatchID == "" {
		batch.BatchID = uuid.NewString()
	}
	return batch, true, nil
}

func (q *RecordQueue) writeBatchLocked(ctx context.Context, batchID string, records []domain.AttendanceRecord) error {
	raw, err := json.Marshal(persistedBatch{
		SessionID: q.sessionID,
		BatchID:   batchID,
		Records:   records,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "encode batch")
	}
	return errors.Wrapf(q.store.Write(ctx, PendingKey(q.sessionID), raw), "persist batch of session %s", q.sessionID)
}

// Append validates record and adds it to the pending batch. The batch is persisted before Append returns;
// if persisting fails the record is not added.
func (q *RecordQueue) Append(ctx context.Context, record domain.AttendanceRecord) (int, error) {
	if record.CapturedAt.IsZero() {
		record.CapturedAt = time.Now().UTC()
	}
	if !q.opts.TrackHomework {
		record.HomeworkDone = nil
	}
	if err := domain.Validate(record); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, domain.ErrSessionClosed
	}
	if q.sessionID == "" {
		return 0, domain.ErrNoSession
	}
	if q.opts.TrackHomework && record.HomeworkDone == nil {
		return 0, domain.NewValidationError(errors.New("homework status is required"),
			domain.FieldError{Field: "homeworkDone", Error: "homeworkDone is a required field"})
	}
	if q.opts.RejectDuplicates {
		for _, r := range q.records {
			if r.StudentID == record.StudentID {
				return 0, domain.ErrDuplicateRecord
			}
		}
	}

	next := make([]domain.AttendanceRecord, len(q.records), len(q.records)+1)
	copy(next, q.records)
	next = append(next, record)
	// A changed batch is a new delivery unit; only unchanged batches reuse their id.
	batchID := uuid.NewString()
	if err := q.writeBatchLocked(ctx, batchID, next); err != nil {
		return 0, err
	}
	q.batchID = batchID
	q.setPendingLocked(next)
	q.syncWatchLocked()
	return len(q.records), nil
}

// Flush delivers the pending batch in one call. Concurrent flushes coalesce into one.
// On failure nothing changes and EventFlushDeferred is emitted.
func (q *RecordQueue) Flush(ctx context.Context) FlushResult {
	q.mu.Lock()
	key := q.sessionID
	q.mu.Unlock()

	v, _, _ := q.flights.Do(key, func() (interface{}, error) {
		return q.flush(ctx), nil
	})
	return v.(FlushResult)
}

func (q *RecordQueue) flush(ctx context.Context) FlushResult {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return FlushResult{Status: FlushDeferred, Err: domain.ErrSessionClosed}
	}
	if q.sessionID == "" {
		q.mu.Unlock()
		return FlushResult{Status: FlushDeferred, Err: domain.ErrNoSession}
	}
	if len(q.records) == 0 {
		q.mu.Unlock()
		metrics.Flushes.WithLabelValues(string(FlushEmpty)).Inc()
		return FlushResult{Status: FlushEmpty}
	}
	gen := q.gen
	sessionID := q.sessionID
	batch := domain.AttendanceBatch{
		ID:      q.batchID,
		Records: append([]domain.AttendanceRecord(nil), q.records...),
	}
	q.mu.Unlock()

	err := q.client.SubmitBatch(ctx, sessionID, batch, q.opts.Credentials())
	if err != nil {
		return q.deferFlush(gen, sessionID, err)
	}

	q.mu.Lock()
	if q.closed || gen != q.gen {
		q.mu.Unlock()
		return FlushResult{Status: FlushDelivered, Delivered: len(batch.Records)}
	}
	n := len(batch.Records)
	remainder := append([]domain.AttendanceRecord(nil), q.records[n:]...)
	var storeErr error
	nextID := ""
	if len(remainder) == 0 {
		storeErr = errors.Wrapf(q.store.Delete(ctx, PendingKey(sessionID)), "clear batch of session %s", sessionID)
	} else {
		nextID = uuid.NewString()
		storeErr = q.writeBatchLocked(ctx, nextID, remainder)
	}
	if storeErr != nil {
		// The backend has the batch, but neither copy changes; the next flush re-sends it under the same id.
		q.mu.Unlock()
		q.opts.Logger.Errorf("delivered batch %s but could not update local store: %v", batch.ID, storeErr)
		metrics.Flushes.WithLabelValues(string(FlushDeferred)).Inc()
		q.emit(QueueEvent{Kind: EventFlushDeferred, SessionID: sessionID, Count: n, Err: storeErr})
		return FlushResult{Status: FlushDeferred, Pending: n, Err: storeErr}
	}
	q.batchID = nextID
	q.setPendingLocked(remainder)
	q.syncWatchLocked()
	pending := len(q.records)
	q.mu.Unlock()

	metrics.Flushes.WithLabelValues(string(FlushDelivered)).Inc()
	q.opts.Logger.Infof("delivered %d attendance records for session %s", n, sessionID)
	q.emit(QueueEvent{Kind: EventFlushed, SessionID: sessionID, Count: n})
	return FlushResult{Status: FlushDelivered, Delivered: n, Pending: pending}
}

func (q *RecordQueue) deferFlush(gen uint64, sessionID string, err error) FlushResult {
	q.mu.Lock()
	pending := len(q.records)
	stale := q.closed || gen != q.gen
	q.mu.Unlock()

	metrics.Flushes.WithLabelValues(string(FlushDeferred)).Inc()
	q.opts.Logger.Warnf("attendance flush for session %s deferred: %v", sessionID, err)
	if !stale {
		q.emit(QueueEvent{Kind: EventFlushDeferred, SessionID: sessionID, Count: pending, Err: err})
	}
	return FlushResult{Status: FlushDeferred, Pending: pending, Err: err}
}

// Clear discards the pending batch of sessionID in the store and, for the active session, in memory.
func (q *RecordQueue) Clear(ctx context.Context, sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Delete(ctx, PendingKey(sessionID)); err != nil {
		return errors.Wrapf(err, "clear batch of session %s", sessionID)
	}
	if sessionID != q.sessionID {
		return nil
	}
	q.gen++
	q.batchID = ""
	q.setPendingLocked(nil)
	q.syncWatchLocked()
	return nil
}

// Pending returns a copy of the records waiting for delivery.
func (q *RecordQueue) Pending() []domain.AttendanceRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.AttendanceRecord(nil), q.records...)
}

// SessionID returns the active session, empty before LoadPersisted.
func (q *RecordQueue) SessionID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sessionID
}

// Close releases the connectivity subscription and the unload guard. Persisted records are kept.
func (q *RecordQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.gen++
	q.syncWatchLocked()
	metrics.PendingRecords.Sub(float64(len(q.records)))
}

func (q *RecordQueue) setPendingLocked(records []domain.AttendanceRecord) {
	if !q.closed {
		metrics.PendingRecords.Add(float64(len(records) - len(q.records)))
	}
	q.records = records
}

// syncWatchLocked holds the connectivity subscription and unload guard exactly while a non-empty batch is live.
func (q *RecordQueue) syncWatchLocked() {
	want := !q.closed && len(q.records) > 0
	switch {
	case want && q.unwatch == nil:
		q.unwatch = q.watch()
	case !want && q.unwatch != nil:
		q.unwatch()
		q.unwatch = nil
	}
	if q.opts.UnloadGuard == nil || q.sessionID == "" {
		return
	}
	if want {
		q.opts.UnloadGuard.Arm(q.sessionID, len(q.records))
	} else {
		q.opts.UnloadGuard.Disarm(q.sessionID)
	}
}

func (q *RecordQueue) watch() func() {
	if q.monitor == nil {
		return func() {}
	}
	updates, cancel := q.monitor.Subscribe()
	go func() {
		for online := range updates {
			if !online {
				continue
			}
			ctx, done := context.WithTimeout(context.Background(), q.opts.FlushTimeout)
			q.Flush(ctx)
			done()
		}
	}()
	return cancel
}

func (q *RecordQueue) emit(events ...QueueEvent) {
	for _, ev := range events {
		q.opts.OnEvent(ev)
	}
}
