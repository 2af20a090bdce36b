package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/buger/gorshift/accesslog"
)

func newRecord(t *testing.T, at time.Time, rawURL string) accesslog.Record {
	rec, err := accesslog.NewRecord(accesslog.RawRecord{
		AccessedAt: accesslog.FormatTime(at),
		URL:        rawURL,
		Method:     "GET",
	})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Timer jumps the clock forward instead of sleeping
func (c *fakeClock) Timer(d time.Duration) (<-chan time.Time, func() bool) {
	c.mu.Lock()
	if target := c.now.Add(d); target.After(c.now) {
		c.now = target
	}
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch, func() bool { return false }
}

func okSender(calls *int32) SenderFunc {
	return func(ctx context.Context, rec accesslog.Record) (*Response, error) {
		atomic.AddInt32(calls, 1)
		return &Response{StatusCode: 200, Status: "200 OK", Proto: "HTTP/1.1"}, nil
	}
}

func TestScheduleAppliesShift(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []accesslog.Record{newRecord(t, at, "https://x.test/a"), newRecord(t, at.Add(time.Minute), "https://x.test/b")}

	tasks := Schedule(records, 2*time.Hour)

	if len(tasks) != 2 {
		t.Fatal("Wrong number of tasks", len(tasks))
	}

	for i, task := range tasks {
		if task.Index != i || !task.Deadline.Equal(records[i].AccessedAt.Add(2*time.Hour)) {
			t.Errorf("Wrong task %d: %+v", i, task)
		}
	}

	tasks = Schedule(records, -time.Minute)
	if !tasks[1].Deadline.Equal(at) {
		t.Error("Negative shift should pull deadlines earlier", tasks[1].Deadline)
	}
}

func TestRunDeadlineElapsed(t *testing.T) {
	records, err := accesslog.DecodeString(`[{"accessed_at":"2024-01-01 00:00:00.000 UTC","url":"https://x.test/a","http_method":"GET","http_header":{},"http_body":""}]`)
	if err != nil {
		t.Fatal(err)
	}

	var calls int32
	outcomes := New(okSender(&calls)).Run(context.Background(), records, 0)

	if len(outcomes) != 1 {
		t.Fatal("Expected 1 outcome, got", len(outcomes))
	}

	o := outcomes[0]
	if o.Kind != DeadlineElapsed || !errors.Is(o.Err, ErrDeadlineElapsed) || !o.Failed() {
		t.Errorf("Expected DeadlineElapsed, got %v", o)
	}

	if !o.Started.IsZero() || o.Response != nil {
		t.Error("No request should be sent", o)
	}

	var de *DeadlineElapsedError
	if !errors.As(o.Err, &de) || de.Late <= 0 {
		t.Error("Error should carry lateness", o.Err)
	}

	if calls != 0 {
		t.Error("Sender should never be called for elapsed deadlines")
	}
}

func TestRunNegativeShiftElapses(t *testing.T) {
	var calls int32
	records := []accesslog.Record{newRecord(t, time.Now().Add(time.Hour), "https://x.test/a")}

	outcomes := New(okSender(&calls)).Run(context.Background(), records, -2*time.Hour)

	if outcomes[0].Kind != DeadlineElapsed || calls != 0 {
		t.Error("Negative shift should provoke DeadlineElapsed", outcomes[0])
	}
}

func TestRunFiresAtDeadline(t *testing.T) {
	received := make(chan time.Time, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- time.Now()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	records, err := accesslog.DecodeString(`[{"accessed_at":"2024-01-01 00:00:00.000 UTC","url":"` + server.URL + `/a","http_method":"GET","http_header":{},"http_body":""}]`)
	if err != nil {
		t.Fatal(err)
	}

	// Push the deadline 2 seconds into the future
	deadline := time.Now().Add(2 * time.Second)
	shift := deadline.Sub(records[0].AccessedAt)

	start := time.Now()
	outcomes := New(NewHTTPSender(&HTTPSenderConfig{})).Run(context.Background(), records, shift)

	if len(outcomes) != 1 {
		t.Fatal("Expected 1 outcome, got", len(outcomes))
	}

	o := outcomes[0]
	if o.Kind != Succeeded || o.Response == nil || o.Response.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected response, got %v", o)
	}

	if at := <-received; at.Before(deadline) || o.Started.Before(o.Deadline) {
		t.Error("Request sent before its deadline", at, deadline)
	}

	if elapsed := time.Since(start); elapsed < 2*time.Second-10*time.Millisecond || elapsed > 5*time.Second {
		t.Error("Run should take about 2 seconds, took", elapsed)
	}
}

func TestRunPreservesOrder(t *testing.T) {
	now := time.Now()
	records := make([]accesslog.Record, 20)

	// Later records fire first
	for i := range records {
		records[i] = newRecord(t, now.Add(time.Duration(len(records)-i)*15*time.Millisecond+50*time.Millisecond), "https://x.test/"+strconv.Itoa(i))
	}

	var mu sync.Mutex
	var completion []string

	sender := SenderFunc(func(ctx context.Context, rec accesslog.Record) (*Response, error) {
		mu.Lock()
		completion = append(completion, rec.URL.Path)
		mu.Unlock()

		code, _ := strconv.Atoi(rec.URL.Path[1:])
		return &Response{StatusCode: 100 + code}, nil
	})

	outcomes := New(sender).Run(context.Background(), records, 0)

	if len(outcomes) != len(records) {
		t.Fatal("Wrong number of outcomes", len(outcomes))
	}

	for i, o := range outcomes {
		if o.Index != i || o.Kind != Succeeded || o.Response.StatusCode != 100+i {
			t.Errorf("Outcome %d out of place: %v", i, o)
		}
	}

	if completion[0] == "/0" {
		t.Error("Latest deadline should not complete first", completion)
	}
}

func TestRunFailureIsolation(t *testing.T) {
	now := time.Now()
	records := []accesslog.Record{
		newRecord(t, now.Add(-time.Hour), "https://x.test/elapsed"),
		newRecord(t, now.Add(100*time.Millisecond), "https://x.test/fail"),
		newRecord(t, now.Add(100*time.Millisecond), "https://x.test/ok"),
		newRecord(t, now.Add(150*time.Millisecond), "https://x.test/ok"),
	}

	transportErr := errors.New("connection refused")

	sender := SenderFunc(func(ctx context.Context, rec accesslog.Record) (*Response, error) {
		if rec.URL.Path == "/fail" {
			return nil, transportErr
		}
		return &Response{StatusCode: 500, Status: "500 Internal Server Error"}, nil
	})

	outcomes := New(sender).Run(context.Background(), records, 0)

	if outcomes[0].Kind != DeadlineElapsed {
		t.Error("Expected elapsed", outcomes[0])
	}

	var te *TransportError
	if outcomes[1].Kind != TransportFailed || !errors.As(outcomes[1].Err, &te) || !errors.Is(outcomes[1].Err, transportErr) {
		t.Error("Expected transport error", outcomes[1])
	}

	for _, o := range outcomes[2:] {
		// Non-2xx status is still a response
		if o.Kind != Succeeded || o.Err != nil || o.Response.StatusCode != 500 {
			t.Error("Failures of other tasks should not affect", o)
		}
	}
}

func TestRunDuplicateTimestamps(t *testing.T) {
	at := time.Now().Add(100 * time.Millisecond)
	records := make([]accesslog.Record, 50)
	for i := range records {
		records[i] = newRecord(t, at, "https://x.test/same")
	}

	var calls int32
	outcomes := New(okSender(&calls)).Run(context.Background(), records, 0)

	if calls != 50 {
		t.Error("Every record should be sent, got", calls)
	}

	for _, o := range outcomes {
		if o.Kind != Succeeded {
			t.Error("Expected success", o)
		}
	}
}

func TestRunFakeClock(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	var mu sync.Mutex
	sentAt := map[string]time.Time{}

	sender := SenderFunc(func(ctx context.Context, rec accesslog.Record) (*Response, error) {
		mu.Lock()
		sentAt[rec.URL.Path] = clock.Now()
		mu.Unlock()
		return &Response{StatusCode: 200}, nil
	})

	// Six hours in the future, plus a day of shift
	records := []accesslog.Record{newRecord(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), "https://x.test/b")}

	engine := New(sender, WithClock(clock.Now), WithTimer(clock.Timer))
	outcomes := engine.Run(context.Background(), records, 24*time.Hour)

	o := outcomes[0]
	if o.Kind != Succeeded {
		t.Fatal("Expected success", o)
	}

	if !o.Deadline.Equal(time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC)) {
		t.Error("Wrong deadline", o.Deadline)
	}

	if sentAt["/b"].Before(o.Deadline) || o.Lateness() < 0 {
		t.Error("Sent before deadline", sentAt["/b"], o.Deadline)
	}

	// Zero shift: /a is due right now, /c already passed
	clock = &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	records = []accesslog.Record{
		newRecord(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "https://x.test/a"),
		newRecord(t, time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), "https://x.test/c"),
	}

	engine = New(sender, WithClock(clock.Now), WithTimer(clock.Timer))
	outcomes = engine.Run(context.Background(), records, 0)

	if outcomes[0].Kind != Succeeded || outcomes[1].Kind != DeadlineElapsed {
		t.Error("Unexpected outcomes", outcomes)
	}

	var de *DeadlineElapsedError
	if !errors.As(outcomes[1].Err, &de) || de.Late != time.Hour {
		t.Error("Expected one hour lateness", outcomes[1].Err)
	}
}

func TestRunTimerFiresEarly(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	var waits []time.Duration
	// Wakes up after half of the requested wait, as after the wall clock
	// was set back while sleeping
	early := func(d time.Duration) (<-chan time.Time, func() bool) {
		waits = append(waits, d)
		half := d / 2
		if half == 0 {
			half = d
		}
		return clock.Timer(half)
	}

	var calls int32
	var sentAt time.Time
	sender := SenderFunc(func(ctx context.Context, rec accesslog.Record) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		sentAt = clock.Now()
		return &Response{StatusCode: 200}, nil
	})

	records := []accesslog.Record{newRecord(t, time.Date(2024, 1, 1, 0, 0, 8, 0, time.UTC), "https://x.test/a")}

	outcomes := New(sender, WithClock(clock.Now), WithTimer(early)).Run(context.Background(), records, 0)

	if outcomes[0].Kind != Succeeded || atomic.LoadInt32(&calls) != 1 {
		t.Fatal("Expected exactly one send", outcomes[0], calls)
	}
	if sentAt.Before(outcomes[0].Deadline) {
		t.Error("Sent before deadline", sentAt, outcomes[0].Deadline)
	}
	if len(waits) < 2 || waits[0] != 8*time.Second || waits[1] != 4*time.Second {
		t.Error("Should wait again for the remaining time", waits)
	}
}

func TestRunCancel(t *testing.T) {
	now := time.Now()
	records := []accesslog.Record{
		newRecord(t, now.Add(time.Hour), "https://x.test/waiting"),
		newRecord(t, now.Add(20*time.Millisecond), "https://x.test/inflight"),
		newRecord(t, now.Add(-time.Hour), "https://x.test/elapsed"),
	}

	sending := make(chan struct{})

	sender := SenderFunc(func(ctx context.Context, rec accesslog.Record) (*Response, error) {
		close(sending)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-sending
		cancel()
	}()

	done := make(chan []Outcome)
	go func() {
		done <- New(sender).Run(ctx, records, 0)
	}()

	var outcomes []Outcome
	select {
	case outcomes = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run should return after cancellation")
	}

	if len(outcomes) != 3 {
		t.Fatal("Expected full outcome list, got", len(outcomes))
	}

	for _, o := range outcomes[:2] {
		if o.Kind != Cancelled || !errors.Is(o.Err, ErrCancelled) || !errors.Is(o.Err, context.Canceled) {
			t.Error("Expected cancelled outcome", o)
		}
	}

	if outcomes[2].Kind != DeadlineElapsed {
		t.Error("Elapsed task should keep its outcome", outcomes[2])
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	records := []accesslog.Record{newRecord(t, time.Now().Add(time.Minute), "https://x.test/a")}

	outcomes := New(okSender(&calls)).Run(ctx, records, 0)

	if outcomes[0].Kind != Cancelled || calls != 0 {
		t.Error("Expected cancelled outcome without send", outcomes[0])
	}
}

type collector struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (c *collector) ResponseAnalyze(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
}

func TestRunAnalyzers(t *testing.T) {
	now := time.Now()
	records := []accesslog.Record{
		newRecord(t, now.Add(-time.Minute), "https://x.test/a"),
		newRecord(t, now.Add(10*time.Millisecond), "https://x.test/b"),
	}

	c1, c2 := &collector{}, &collector{}

	var calls int32
	New(okSender(&calls), WithAnalyzers(c1, c2)).Run(context.Background(), records, 0)

	for _, c := range []*collector{c1, c2} {
		if len(c.outcomes) != 2 {
			t.Error("Every outcome should reach every analyzer", len(c.outcomes))
		}
	}
}

func TestRunEmpty(t *testing.T) {
	var calls int32
	outcomes := New(okSender(&calls)).Run(context.Background(), nil, time.Hour)

	if outcomes == nil || len(outcomes) != 0 {
		t.Error("Expected empty outcome list", outcomes)
	}
}

func TestKindString(t *testing.T) {
	if Succeeded.String() != "succeeded" || DeadlineElapsed.String() != "deadline_elapsed" || TransportFailed.String() != "transport_error" || Cancelled.String() != "cancelled" || Kind(42).String() != "kind(42)" {
		t.Error("Wrong kind names")
	}
}
