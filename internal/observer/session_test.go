package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"genstudio/internal/domain"
)

type stubFetcher struct {
	mu    sync.Mutex
	fn    func(call int) (Snapshot, error)
	calls []time.Time
}

func (f *stubFetcher) FetchJob(ctx context.Context, jobID string) (Snapshot, error) {
	f.mu.Lock()
	f.calls = append(f.calls, time.Now())
	call := len(f.calls)
	f.mu.Unlock()
	return f.fn(call)
}

func (f *stubFetcher) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}

type stubSubscriber struct {
	ch chan Snapshot
}

func (s *stubSubscriber) Subscribe(ctx context.Context, jobID string) (<-chan Snapshot, error) {
	return s.ch, nil
}

// hangingSubscriber never answers until the session gives up on it.
type hangingSubscriber struct {
	returned chan struct{}
}

func (s *hangingSubscriber) Subscribe(ctx context.Context, jobID string) (<-chan Snapshot, error) {
	<-ctx.Done()
	close(s.returned)
	return nil, ctx.Err()
}

func fastConfig() Config {
	return Config{
		MaxRetries:   3,
		CoolDown:     60 * time.Millisecond,
		BackoffBase:  time.Millisecond,
		BackoffCap:   2 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Timeout:      2 * time.Second,
	}
}

func collect(t *testing.T, s *Session) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("session did not finish; events so far: %+v", out)
		}
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func completed(id string) Snapshot {
	return Snapshot{JobID: id, Type: domain.JobTypeImage, Status: domain.JobStatusCompleted, OutputURL: "https://x/img.png", DerivedAssetID: "img-1", StagedAssetID: "st-1"}
}

func TestBreakerOpensAndRecoversAfterCoolDown(t *testing.T) {
	fetcher := &stubFetcher{fn: func(call int) (Snapshot, error) {
		if call <= 3 {
			return Snapshot{}, errors.New("connection refused")
		}
		return completed("J2"), nil
	}}
	cfg := fastConfig()
	s := NewSession("J2", domain.JobTypeImage, fetcher, nil, cfg, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	events := collect(t, s)

	got := types(events)
	want := []EventType{EventPaused, EventResumed, EventCompleted}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if events[0].Err == nil || events[0].Message != "status updates temporarily paused" {
		t.Fatalf("paused event = %+v", events[0])
	}

	calls := fetcher.callTimes()
	if len(calls) != 4 {
		t.Fatalf("fetch calls = %d, want 4", len(calls))
	}
	if gap := calls[3].Sub(calls[2]); gap < cfg.CoolDown {
		t.Fatalf("fetch after pause came %v later, want >= %v", gap, cfg.CoolDown)
	}
	if st := s.Breaker(); st.IsOpen || st.RetryCount != 0 || st.LastSuccessAt.IsZero() {
		t.Fatalf("breaker not reset after success: %+v", st)
	}
}

func TestNotVisibleDoesNotTripBreaker(t *testing.T) {
	fetcher := &stubFetcher{fn: func(call int) (Snapshot, error) {
		if call <= 5 {
			return Snapshot{}, ErrNotVisible
		}
		return completed("J"), nil
	}}
	s := NewSession("J", domain.JobTypeImage, fetcher, nil, fastConfig(), nil)
	_ = s.Start(context.Background())
	got := types(collect(t, s))
	if len(got) != 1 || got[0] != EventCompleted {
		t.Fatalf("events = %v, want [completed]", got)
	}
}

func TestCompletedEmittedOnceAcrossPushAndPoll(t *testing.T) {
	fetcher := &stubFetcher{fn: func(int) (Snapshot, error) { return completed("J1"), nil }}
	sub := &stubSubscriber{ch: make(chan Snapshot, 2)}
	sub.ch <- completed("J1")
	sub.ch <- completed("J1")

	dedup := NewDeduper(30 * time.Second)
	cfg := fastConfig()
	cfg.Deduper = dedup

	s := NewSession("J1", domain.JobTypeImage, fetcher, sub, cfg, nil)
	_ = s.Start(context.Background())
	first := types(collect(t, s))
	if len(first) != 1 || first[0] != EventCompleted {
		t.Fatalf("first session events = %v", first)
	}

	again := NewSession("J1", domain.JobTypeImage, fetcher, sub, cfg, nil)
	_ = again.Start(context.Background())
	if got := collect(t, again); len(got) != 0 {
		t.Fatalf("second observation emitted %v", types(got))
	}
}

func TestStatusRegressionIgnored(t *testing.T) {
	seq := []domain.JobStatus{domain.JobStatusProcessing, domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusCompleted}
	fetcher := &stubFetcher{fn: func(call int) (Snapshot, error) {
		i := call - 1
		if i >= len(seq) {
			i = len(seq) - 1
		}
		snap := completed("J")
		snap.Status = seq[i]
		return snap, nil
	}}
	s := NewSession("J", domain.JobTypeImage, fetcher, nil, fastConfig(), nil)
	_ = s.Start(context.Background())
	events := collect(t, s)
	got := types(events)
	if len(got) != 2 || got[0] != EventStatus || got[1] != EventCompleted {
		t.Fatalf("events = %v", got)
	}
	if events[0].Snapshot.Status != domain.JobStatusProcessing {
		t.Fatalf("status event = %+v", events[0])
	}
}

func TestFailedIsReportedWithWorkerMessage(t *testing.T) {
	fetcher := &stubFetcher{fn: func(int) (Snapshot, error) {
		return Snapshot{JobID: "J", Status: domain.JobStatusFailed, ErrorMessage: "nsfw filter"}, nil
	}}
	s := NewSession("J", domain.JobTypeVideo, fetcher, nil, fastConfig(), nil)
	_ = s.Start(context.Background())
	events := collect(t, s)
	if len(events) != 1 || events[0].Type != EventFailed || events[0].Message != "nsfw filter" {
		t.Fatalf("events = %+v", events)
	}
}

func TestTimeoutIsDistinctFromFailure(t *testing.T) {
	fetcher := &stubFetcher{fn: func(int) (Snapshot, error) {
		return Snapshot{JobID: "J", Status: domain.JobStatusProcessing}, nil
	}}
	cfg := fastConfig()
	cfg.Timeout = 40 * time.Millisecond
	s := NewSession("J", domain.JobTypeImage, fetcher, nil, cfg, nil)
	_ = s.Start(context.Background())
	events := collect(t, s)
	last := events[len(events)-1]
	if last.Type != EventTimedOut || last.Snapshot.Status != domain.JobStatusProcessing {
		t.Fatalf("last event = %+v", last)
	}
	for _, ev := range events {
		if ev.Type == EventFailed {
			t.Fatalf("timeout must not be reported as failure")
		}
	}
}

func TestPushStopsPolling(t *testing.T) {
	fetcher := &stubFetcher{fn: func(int) (Snapshot, error) {
		return Snapshot{JobID: "J", Status: domain.JobStatusQueued}, nil
	}}
	sub := &stubSubscriber{ch: make(chan Snapshot, 1)}
	s := NewSession("J", domain.JobTypeImage, fetcher, sub, fastConfig(), nil)
	_ = s.Start(context.Background())
	defer s.Stop()

	sub.ch <- Snapshot{JobID: "J", Status: domain.JobStatusProcessing}
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Snapshot.Status != domain.JobStatusProcessing {
				continue
			}
			before := len(fetcher.callTimes())
			time.Sleep(50 * time.Millisecond)
			if after := len(fetcher.callTimes()); after > before+1 {
				t.Fatalf("polling continued after push: %d -> %d calls", before, after)
			}
			return
		case <-deadline:
			t.Fatalf("push event not observed")
		}
	}
}

func TestPendingSubscribeDoesNotBlockPolling(t *testing.T) {
	fetcher := &stubFetcher{fn: func(int) (Snapshot, error) { return completed("J"), nil }}
	sub := &hangingSubscriber{returned: make(chan struct{})}
	s := NewSession("J", domain.JobTypeImage, fetcher, sub, fastConfig(), nil)
	_ = s.Start(context.Background())
	got := types(collect(t, s))
	if len(got) != 1 || got[0] != EventCompleted {
		t.Fatalf("events = %v, want [completed]", got)
	}
	select {
	case <-sub.returned:
	case <-time.After(time.Second):
		t.Fatalf("pending subscribe not cancelled after the session ended")
	}
}

func TestPendingSubscribeStillTimesOut(t *testing.T) {
	fetcher := &stubFetcher{fn: func(int) (Snapshot, error) {
		return Snapshot{JobID: "J", Status: domain.JobStatusProcessing}, nil
	}}
	cfg := fastConfig()
	cfg.Timeout = 100 * time.Millisecond
	s := NewSession("J", domain.JobTypeImage, fetcher, &hangingSubscriber{returned: make(chan struct{})}, cfg, nil)
	_ = s.Start(context.Background())
	events := collect(t, s)
	if len(events) == 0 || events[len(events)-1].Type != EventTimedOut {
		t.Fatalf("events = %v, want trailing timed_out", types(events))
	}
	if len(fetcher.callTimes()) == 0 {
		t.Fatalf("no polls while subscribe was pending")
	}
}

func TestStopEndsSession(t *testing.T) {
	fetcher := &stubFetcher{fn: func(int) (Snapshot, error) {
		return Snapshot{JobID: "J", Status: domain.JobStatusProcessing}, nil
	}}
	s := NewSession("J", domain.JobTypeImage, fetcher, nil, fastConfig(), nil)
	_ = s.Start(context.Background())
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("second Start should fail")
	}
	s.Stop()
	s.Stop()
	for range s.Events() {
	}
}

func TestDefaultTimeouts(t *testing.T) {
	cases := map[domain.JobType]time.Duration{
		domain.JobTypeImage:   5 * time.Minute,
		domain.JobTypeVideo:   8 * time.Minute,
		domain.JobTypePreview: 5 * time.Minute,
		domain.JobTypeEnhance: 2 * time.Minute,
	}
	for typ, want := range cases {
		if got := DefaultTimeout(typ); got != want {
			t.Fatalf("DefaultTimeout(%s) = %v, want %v", typ, got, want)
		}
	}
}
