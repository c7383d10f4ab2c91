package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"school-session-agent/internal/countdown"
	"school-session-agent/internal/domain"
	"school-session-agent/internal/logging"
	"school-session-agent/internal/metrics"
)

// Status is the state of one attempt.
type Status string

const (
	StatusLoading    Status = "loading"
	StatusInProgress Status = "in_progress"
	StatusSubmitting Status = "submitting"
	StatusSubmitted  Status = "submitted"
	StatusFailed     Status = "failed"
)

// CollectorOptions carries explicit per-session configuration.
type CollectorOptions struct {
	Clock            countdown.Clock
	Shuffle          func(n int, swap func(i, j int))
	SubmitTimeout    time.Duration // bounds the automatic submit on expiry
	LowTimeThreshold int           // seconds; presentation only
	Logger           logging.Logger
}

func (o CollectorOptions) withDefaults() CollectorOptions {
	if o.Clock == nil {
		o.Clock = countdown.SystemClock()
	}
	if o.Shuffle == nil {
		o.Shuffle = rand.New(rand.NewSource(time.Now().UnixNano())).Shuffle
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 30 * time.Second
	}
	if o.LowTimeThreshold <= 0 {
		o.LowTimeThreshold = 60
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

// FileInfo describes the attached file without its content.
type FileInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// Snapshot is a read-only view of the attempt, broadcast after every change.
type Snapshot struct {
	ActivityID       string                   `json:"activityId"`
	Kind             domain.ActivityKind      `json:"kind,omitempty"`
	Status           Status                   `json:"status"`
	CurrentIndex     int                      `json:"currentIndex"`
	QuestionCount    int                      `json:"questionCount"`
	Timed            bool                     `json:"timed"`
	RemainingSeconds int                      `json:"remainingSeconds"`
	TimeLow          bool                     `json:"timeLow"`
	Expired          bool                     `json:"expired"`
	Selections       map[string][]string      `json:"selections,omitempty"`
	Text             string                   `json:"text,omitempty"`
	File             *FileInfo                `json:"file,omitempty"`
	Result           *domain.SubmissionResult `json:"result,omitempty"`
	Error            string                   `json:"error,omitempty"`
}

// Collector drives one timed or untimed activity attempt from load to submission.
// Answer changes and navigation are in-memory only; load and submit are the only I/O.
type Collector struct {
	client ActivityClient
	opts   CollectorOptions

	mu     sync.Mutex
	gen    uint64 // bumped on Start and Close; async results from older generations are dropped
	closed bool

	status     Status
	activityID string
	token      string
	activity   domain.Activity
	index      int
	selections map[string][]string
	text       string
	file       *domain.Attachment
	remaining  int
	expired    bool
	autoFired  bool
	result     *domain.SubmissionResult
	lastErr    error
	stopTimer  context.CancelFunc

	subscribers map[chan Snapshot]struct{}
}

func NewCollector(client ActivityClient, opts CollectorOptions) *Collector {
	return &Collector{
		client:      client,
		opts:        opts.withDefaults(),
		status:      StatusLoading,
		selections:  make(map[string][]string),
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Start loads the activity and begins a fresh attempt, discarding any previous attempt state.
// Load failures are returned as *domain.LoadError and are not retried.
func (c *Collector) Start(ctx context.Context, activityID, token string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrSessionClosed
	}
	c.resetLocked()
	c.gen++
	gen := c.gen
	c.activityID = activityID
	c.token = token
	c.status = StatusLoading
	c.broadcastLocked()
	c.mu.Unlock()

	activity, err := c.client.LoadActivity(ctx, activityID, token)
	if err == nil {
		err = domain.Validate(activity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return domain.ErrSessionClosed
	}
	if err != nil {
		c.status = StatusFailed
		c.lastErr = &domain.LoadError{ActivityID: activityID, Err: err}
		c.opts.Logger.Warnf("activity %s: %v", activityID, err)
		c.broadcastLocked()
		return c.lastErr
	}

	activity = activity.WithoutAnswerKey()
	if activity.QuestionOrder == domain.OrderRandom {
		qs := activity.Questions
		c.opts.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
	}
	c.activity = activity
	c.status = StatusInProgress
	if activity.Timed() {
		c.remaining = activity.TimeLimitSeconds
		c.startTimerLocked(gen, activity.TimeLimitSeconds)
	}
	c.opts.Logger.Debugf("activity %s started (%d questions, limit %ds)", activityID, len(activity.Questions), activity.TimeLimitSeconds)
	c.broadcastLocked()
	return nil
}

// Activity returns the loaded activity in attempt order, without correctness flags.
func (c *Collector) Activity() (domain.Activity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activity, c.activity.ID != ""
}

// SelectAnswer replaces the selection of a single-choice question or toggles a choice of a multiple-choice one.
func (c *Collector) SelectAnswer(questionID, choiceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	q, ok := c.activity.Question(questionID)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if !q.HasChoice(choiceID) {
		return domain.ErrChoiceNotFound
	}

	switch q.Selection {
	case domain.SelectMultiple:
		c.selections[questionID] = toggle(c.selections[questionID], choiceID)
	default:
		c.selections[questionID] = []string{choiceID}
	}
	c.broadcastLocked()
	return nil
}

func toggle(set []string, id string) []string {
	for i, v := range set {
		if v == id {
			return append(set[:i:i], set[i+1:]...)
		}
	}
	return append(set, id)
}

// SetText replaces the free-text answer of a task.
func (c *Collector) SetText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	c.text = text
	c.broadcastLocked()
	return nil
}

// AttachFile replaces the file of a task attempt.
func (c *Collector) AttachFile(file domain.Attachment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	c.file = &file
	c.broadcastLocked()
	return nil
}

// RemoveFile drops the attached file.
func (c *Collector) RemoveFile() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	c.file = nil
	c.broadcastLocked()
	return nil
}

func (c *Collector) editableLocked() error {
	if c.closed {
		return domain.ErrSessionClosed
	}
	if c.status != StatusInProgress {
		return domain.ErrNotInProgress
	}
	if c.expired {
		return domain.ErrTimeExpired
	}
	return nil
}

// GoToQuestion moves to index, clamped to the question range, and returns the new index.
func (c *Collector) GoToQuestion(index int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(index)
}

func (c *Collector) GoToNext() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(c.index + 1)
}

func (c *Collector) GoToPrevious() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(c.index - 1)
}

func (c *Collector) moveLocked(index int) int {
	n := len(c.activity.Questions)
	switch {
	case n == 0 || index < 0:
		index = 0
	case index >= n:
		index = n - 1
	}
	if index != c.index {
		c.index = index
		c.broadcastLocked()
	}
	return c.index
}

// Submit sends every accumulated answer in one call.
// It returns domain.ErrSubmitInFlight while another submit runs, a *domain.ValidationError when a task
// is incomplete (no I/O), and a *domain.SubmitError when the backend rejects it; answers are kept on failure.
func (c *Collector) Submit(ctx context.Context) (domain.SubmissionResult, error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return c.submit(ctx, gen, false)
}

func (c *Collector) submit(ctx context.Context, gen uint64, auto bool) (domain.SubmissionResult, error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return domain.SubmissionResult{}, domain.ErrSessionClosed
	}
	switch c.status {
	case StatusInProgress:
	case StatusSubmitting:
		c.mu.Unlock()
		return domain.SubmissionResult{}, domain.ErrSubmitInFlight
	case StatusSubmitted:
		res := *c.result
		c.mu.Unlock()
		return res, domain.ErrAlreadySubmitted
	default:
		c.mu.Unlock()
		return domain.SubmissionResult{}, domain.ErrNotInProgress
	}

	kind := c.activity.Kind
	// Once time has expired the answers are frozen, so neither the automatic submit nor a
	// manual retry of it is held to the task's requirements.
	sub, err := c.buildSubmissionLocked(!auto && !c.expired)
	if err != nil {
		c.lastErr = err
		c.broadcastLocked()
		c.mu.Unlock()
		metrics.Submissions.WithLabelValues(string(kind), "invalid").Inc()
		return domain.SubmissionResult{}, err
	}
	c.status = StatusSubmitting
	c.lastErr = nil
	c.broadcastLocked()
	activityID, token := c.activityID, c.token
	c.mu.Unlock()

	res, err := c.client.SubmitAttempt(ctx, activityID, sub, token)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return domain.SubmissionResult{}, domain.ErrSessionClosed
	}
	if err != nil {
		c.status = StatusInProgress
		c.lastErr = &domain.SubmitError{Err: err}
		c.opts.Logger.Warnf("submit activity %s: %v", activityID, err)
		metrics.Submissions.WithLabelValues(string(kind), "failed").Inc()
		c.broadcastLocked()
		return domain.SubmissionResult{}, c.lastErr
	}

	c.status = StatusSubmitted
	c.result = &res
	c.stopTimerLocked()
	c.selections = make(map[string][]string)
	c.text = ""
	c.file = nil
	metrics.Submissions.WithLabelValues(string(kind), "submitted").Inc()
	c.opts.Logger.Infof("activity %s submitted as attempt %s", activityID, res.AttemptID)
	c.broadcastLocked()
	return res, nil
}

func (c *Collector) buildSubmissionLocked(validate bool) (domain.Submission, error) {
	switch c.activity.Kind {
	case domain.KindQuiz:
		selections := make(map[string][]string, len(c.selections))
		for questionID, choices := range c.selections {
			if len(choices) > 0 {
				selections[questionID] = append([]string(nil), choices...)
			}
		}
		return domain.QuizSubmission{Selections: selections}, nil
	case domain.KindTask:
		kind := c.activity.SubmissionType
		if validate {
			if err := domain.ValidateTask(kind, c.text, c.file); err != nil {
				return nil, err
			}
		}
		sub := domain.TaskSubmission{}
		if kind.RequiresText() {
			sub.Text = c.text
		}
		if kind.RequiresFile() && c.file != nil {
			f := *c.file
			sub.File = &f
		}
		return sub, nil
	default:
		return nil, errors.Errorf("unsupported activity kind %q", c.activity.Kind)
	}
}

func (c *Collector) startTimerLocked(gen uint64, seconds int) {
	ctx, cancel := context.WithCancel(context.Background())
	c.stopTimer = cancel
	cd := countdown.New(seconds, c.opts.Clock)
	go cd.Run(ctx,
		func(remaining int) { c.onTick(gen, remaining) },
		func() { c.onExpire(gen) },
	)
}

func (c *Collector) stopTimerLocked() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *Collector) onTick(gen uint64, remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return
	}
	c.remaining = remaining
	c.broadcastLocked()
}

func (c *Collector) onExpire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.autoFired {
		c.mu.Unlock()
		return
	}
	c.autoFired = true
	c.expired = true
	c.remaining = 0
	// A submit already in flight covers the expiry.
	fire := c.status == StatusInProgress
	c.broadcastLocked()
	c.mu.Unlock()
	if !fire {
		return
	}

	metrics.AutoSubmits.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.SubmitTimeout)
	defer cancel()
	if _, err := c.submit(ctx, gen, true); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		c.opts.Logger.Errorf("auto-submit after expiry: %v", err)
	}
}

// Snapshot returns the current attempt state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel that receives a snapshot after every change, starting with the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (c *Collector) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

// Close tears the session down: the timer stops, late load/submit results are ignored
// and subscriber channels are closed. Close is idempotent.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	c.resetLocked()
	for ch := range c.subscribers {
		delete(c.subscribers, ch)
		close(ch)
	}
}

func (c *Collector) resetLocked() {
	c.stopTimerLocked()
	c.activity = domain.Activity{}
	c.index = 0
	c.selections = make(map[string][]string)
	c.text = ""
	c.file = nil
	c.remaining = 0
	c.expired = false
	c.autoFired = false
	c.result = nil
	c.lastErr = nil
}

func (c *Collector) broadcastLocked() {
	snap := c.snapshotLocked()
	for ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot so a slow reader never blocks the session.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (c *Collector) snapshotLocked() Snapshot {
	snap := Snapshot{
		ActivityID:       c.activityID,
		Kind:             c.activity.Kind,
		Status:           c.status,
		CurrentIndex:     c.index,
		QuestionCount:    len(c.activity.Questions),
		Timed:            c.activity.Timed(),
		RemainingSeconds: c.remaining,
		Expired:          c.expired,
		Text:             c.text,
		Result:           c.result,
	}
	snap.TimeLow = snap.Timed && c.status == StatusInProgress && c.remaining <= c.opts.LowTimeThreshold
	if len(c.selections) > 0 {
		snap.Selections = make(map[string][]string, len(c.selections))
		for questionID, choices := range c.selections {
			snap.Selections[questionID] = append([]string(nil), choices...)
		}
	}
	if c.file != nil {
		snap.File = &FileInfo{Name: c.file.Name, ContentType: c.file.ContentType, Size: len(c.file.Data)}
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
	}
	return snap
}
