// Package observer watches a job until it reaches a terminal state, pausing
// its polling behind a circuit breaker when the API keeps failing.
package observer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

// ErrNotVisible is returned by a Fetcher when the job is not readable yet,
// typically right after submission. It does not count against the breaker.
var ErrNotVisible = errors.New("observer: job not visible yet")

var errStarted = errors.New("observer: session already started")

// Snapshot is the observable state of a job.
type Snapshot struct {
	JobID          string           `json:"jobId"`
	Type           domain.JobType   `json:"type"`
	Status         domain.JobStatus `json:"status"`
	OutputURL      string           `json:"outputUrl,omitempty"`
	ErrorMessage   string           `json:"errorMessage,omitempty"`
	StagedAssetID  string           `json:"stagedAssetId,omitempty"`
	DerivedAssetID string           `json:"derivedAssetId,omitempty"`
}

// Fetcher reads the current job state.
type Fetcher interface {
	FetchJob(ctx context.Context, jobID string) (Snapshot, error)
}

// Subscriber streams job state pushes. The channel closes when the
// subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string) (<-chan Snapshot, error)
}

// EventType classifies session events.
type EventType string

const (
	EventStatus    EventType = "status"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventTimedOut  EventType = "timed_out"
)

// Event is emitted on the session's Events channel.
type Event struct {
	Type     EventType
	JobID    string
	Snapshot Snapshot
	Message  string
	Err      error
	At       time.Time
}

// Config tunes a Session. Zero fields take defaults.
type Config struct {
	MaxRetries   int
	CoolDown     time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	PollInterval time.Duration
	// Timeout overrides the per-type ceiling from DefaultTimeout.
	Timeout  time.Duration
	DedupTTL time.Duration
	// Deduper is shared between sessions when set.
	Deduper *Deduper
}

// DefaultTimeout is how long a job of type t may take before the session
// reports a timeout.
func DefaultTimeout(t domain.JobType) time.Duration {
	switch t {
	case domain.JobTypeVideo:
		return 8 * time.Minute
	case domain.JobTypeEnhance:
		return 2 * time.Minute
	default:
		return 5 * time.Minute
	}
}

func (c Config) withDefaults(t domain.JobType) Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout(t)
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 30 * time.Second
	}
	if c.Deduper == nil {
		c.Deduper = NewDeduper(c.DedupTTL)
	}
	return c
}

// Session observes one job. Polling runs until the first push arrives; push
// is then authoritative and polling resumes only if the subscription ends.
type Session struct {
	jobID      string
	jobType    domain.JobType
	fetcher    Fetcher
	subscriber Subscriber
	cfg        Config
	breaker    *Breaker
	logger     zerolog.Logger

	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool

	// owned by the run goroutine
	last       domain.JobStatus
	pushActive bool
}

// NewSession builds a session. subscriber may be nil for poll-only use.
func NewSession(jobID string, jobType domain.JobType, fetcher Fetcher, subscriber Subscriber, cfg Config, logger *infra.Logger) *Session {
	cfg = cfg.withDefaults(jobType)
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = logger.With().Str("component", "observer").Str("job_id", jobID).Logger()
	}
	return &Session{
		jobID:      jobID,
		jobType:    jobType,
		fetcher:    fetcher,
		subscriber: subscriber,
		cfg:        cfg,
		breaker:    NewBreaker(cfg.MaxRetries),
		logger:     l,
		events:     make(chan Event, 16),
		done:       make(chan struct{}),
	}
}

// Events is closed when the session ends.
func (s *Session) Events() <-chan Event { return s.events }

// Breaker returns the session's breaker counters.
func (s *Session) Breaker() BreakerState { return s.breaker.State() }

// Start launches the observation goroutine.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errStarted
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return nil
}

// Stop cancels the session and waits for it to exit. In-flight requests are
// cancelled on this side only.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, started := s.cancel, s.started
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	// Ending the session also ends a pending or open subscription.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deadline := time.NewTimer(s.cfg.Timeout)
	defer deadline.Stop()

	// Subscribe may block on the network; polling and the deadline run
	// while it is pending.
	var (
		push     <-chan Snapshot
		subReady chan (<-chan Snapshot)
	)
	if s.subscriber != nil {
		subReady = make(chan (<-chan Snapshot), 1)
		go func() { subReady <- s.subscribe(ctx) }()
	}

	poll := time.NewTimer(0)
	defer poll.Stop()
	pollC := poll.C

	var (
		cool  *time.Timer
		coolC <-chan time.Time
	)
	defer func() {
		if cool != nil {
			cool.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			s.logger.Warn().Str("status", string(s.last)).Dur("timeout", s.cfg.Timeout).Msg("job did not finish in time")
			s.emit(ctx, Event{Type: EventTimedOut, Snapshot: Snapshot{JobID: s.jobID, Type: s.jobType, Status: s.last}, Message: "generation did not complete within expected time"})
			return

		case ch := <-subReady:
			subReady = nil
			push = ch

		case snap, ok := <-push:
			if !ok {
				push = nil
				s.pushActive = false
				if !s.breaker.IsOpen() {
					poll.Reset(0)
					pollC = poll.C
				}
				continue
			}
			s.pushActive = true
			pollC = nil
			if s.observe(ctx, snap) {
				return
			}

		case <-pollC:
			pollC = nil
			next, finished := s.poll(ctx)
			if finished {
				return
			}
			if s.breaker.IsOpen() {
				if coolC == nil {
					cool = time.NewTimer(s.cfg.CoolDown)
					coolC = cool.C
				}
				continue
			}
			if !s.pushActive {
				poll.Reset(next)
				pollC = poll.C
			}

		case <-coolC:
			coolC = nil
			s.breaker.Reset()
			s.emit(ctx, Event{Type: EventResumed, Message: "status updates resumed"})
			if !s.pushActive {
				poll.Reset(0)
				pollC = poll.C
			}
		}
	}
}

func (s *Session) subscribe(ctx context.Context) <-chan Snapshot {
	ch, err := s.subscriber.Subscribe(ctx, s.jobID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("push unavailable, polling only")
		return nil
	}
	return ch
}

// poll returns the delay before the next poll and whether the session ended.
func (s *Session) poll(ctx context.Context) (time.Duration, bool) {
	snap, err := s.fetcher.FetchJob(ctx, s.jobID)
	if err != nil {
		if ctx.Err() != nil {
			return 0, true
		}
		if errors.Is(err, ErrNotVisible) {
			return s.cfg.PollInterval, false
		}
		count, opened := s.breaker.Failure()
		if opened {
			s.logger.Warn().Err(err).Int("retry_count", count).Dur("cool_down", s.cfg.CoolDown).Msg("polling paused")
			s.emit(ctx, Event{Type: EventPaused, Err: err, Message: "status updates temporarily paused"})
			return 0, false
		}
		delay := Backoff(count-1, s.cfg.BackoffBase, s.cfg.BackoffCap)
		s.logger.Debug().Err(err).Int("retry_count", count).Dur("retry_in", delay).Msg("fetch failed")
		return delay, false
	}
	s.breaker.Success(time.Now())
	if s.observe(ctx, snap) {
		return 0, true
	}
	return s.cfg.PollInterval, false
}

// observe applies a snapshot and reports whether the job is terminal.
// Regressions and repeats of a non-terminal status are ignored.
func (s *Session) observe(ctx context.Context, snap Snapshot) bool {
	rank := snap.Status.Rank()
	if rank < 0 {
		return false
	}
	if s.last != "" && (rank < s.last.Rank() || snap.Status == s.last) {
		return false
	}
	s.last = snap.Status
	if snap.JobID == "" {
		snap.JobID = s.jobID
	}

	switch snap.Status {
	case domain.JobStatusCompleted:
		snap = s.resolve(ctx, snap)
		if s.cfg.Deduper.First(s.jobID) {
			s.emit(ctx, Event{Type: EventCompleted, Snapshot: snap, Message: "generation completed"})
		} else {
			s.logger.Debug().Msg("completion already reported")
		}
		return true
	case domain.JobStatusFailed:
		s.emit(ctx, Event{Type: EventFailed, Snapshot: snap, Message: snap.ErrorMessage})
		return true
	default:
		s.emit(ctx, Event{Type: EventStatus, Snapshot: snap})
		return false
	}
}

// resolve fills the asset ids a push event may not carry.
func (s *Session) resolve(ctx context.Context, snap Snapshot) Snapshot {
	if s.jobType != domain.JobTypeImage && s.jobType != domain.JobTypeVideo {
		return snap
	}
	if snap.DerivedAssetID != "" && snap.StagedAssetID != "" {
		return snap
	}
	full, err := s.fetcher.FetchJob(ctx, s.jobID)
	if err != nil || full.Status != domain.JobStatusCompleted {
		return snap
	}
	if snap.DerivedAssetID == "" {
		snap.DerivedAssetID = full.DerivedAssetID
	}
	if snap.StagedAssetID == "" {
		snap.StagedAssetID = full.StagedAssetID
	}
	if snap.OutputURL == "" {
		snap.OutputURL = full.OutputURL
	}
	return snap
}

func (s *Session) emit(ctx context.Context, ev Event) {
	ev.JobID = s.jobID
	ev.At = time.Now()
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
