package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"digestbot/internal/retry"
	"digestbot/pkg/logx"
)

// fakeTransport scripts per-call outcomes and records everything sent.
type fakeTransport struct {
	limit       int
	validateErr error
	failures    int // fail this many Send calls before succeeding
	calls       int
	sent        []string
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Limit() int {
	if f.limit <= 0 {
		return 2000
	}
	return f.limit
}

func (f *fakeTransport) Validate() error { return f.validateErr }

func (f *fakeTransport) Send(ctx context.Context, content string) error {
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("status 500 (call %d)", f.calls)
	}
	f.sent = append(f.sent, content)
	return nil
}

func testSequencer(tr Transport, maxRetries int) *Sequencer {
	return NewSequencer(tr, Config{
		Policy:  retry.Policy{MaxRetries: maxRetries, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond},
		Spacing: time.Millisecond,
	}, logx.Nop())
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{failures: 2}
	s := testSequencer(tr, 3)

	rep, err := s.Send(context.Background(), []string{"chunk"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tr.calls != 3 {
		t.Fatalf("transport called %d times, want exactly 3", tr.calls)
	}
	if rep.Sent != 1 || rep.Failed != 0 {
		t.Fatalf("report = %+v, want 1 sent, 0 failed", rep)
	}
}

func TestSendDeliversInOrder(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	s := testSequencer(tr, 0)

	chunks := []string{"first", "second", "third"}
	rep, err := s.Send(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if rep.Sent != 3 {
		t.Fatalf("report.Sent = %d, want 3", rep.Sent)
	}
	for i, want := range chunks {
		if tr.sent[i] != want {
			t.Errorf("sent[%d] = %q, want %q", i, tr.sent[i], want)
		}
	}
}

func TestSendAbortsRemainingAfterExhaustion(t *testing.T) {
	t.Parallel()
	// Every call fails: the first chunk exhausts its retries and the second
	// chunk must never be attempted.
	tr := &fakeTransport{failures: 1 << 30}
	s := testSequencer(tr, 2)

	rep, err := s.Send(context.Background(), []string{"one", "two"})
	if err == nil {
		t.Fatal("Send returned nil, want the exhausted chunk's error")
	}
	if tr.calls != 3 {
		t.Fatalf("transport called %d times, want 3 (retries for chunk one only)", tr.calls)
	}
	if rep.Sent != 0 || rep.Failed != 2 {
		t.Fatalf("report = %+v, want 0 sent, 2 failed", rep)
	}
	if !strings.Contains(err.Error(), "chunk 1/2") {
		t.Errorf("error %q does not identify the failing chunk", err)
	}
}

func TestSendRefusesInvalidTransport(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{validateErr: errors.New("bad endpoint")}
	s := testSequencer(tr, 3)

	_, err := s.Send(context.Background(), []string{"chunk"})
	if err == nil {
		t.Fatal("Send accepted an invalid transport")
	}
	if tr.calls != 0 {
		t.Fatalf("transport called %d times despite failing validation", tr.calls)
	}
}

func TestSendErrorIsBoundedAndBestEffort(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{limit: 120}
	s := testSequencer(tr, 0)

	s.SendError(context.Background(), errors.New(strings.Repeat("very long failure detail ", 50)))
	if len(tr.sent) != 1 {
		t.Fatalf("SendError sent %d messages, want 1", len(tr.sent))
	}
	if len(tr.sent[0]) > 120 {
		t.Fatalf("diagnostic message length %d exceeds transport limit 120", len(tr.sent[0]))
	}
	if !strings.Contains(tr.sent[0], "digest run failed") {
		t.Errorf("diagnostic message %q missing failure marker", tr.sent[0])
	}
}

func TestSendErrorSwallowsTransportFailure(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{failures: 1 << 30}
	s := testSequencer(tr, 1)

	// Must not panic or block; failures of the diagnostic path are dropped.
	s.SendError(context.Background(), errors.New("original"))
	if len(tr.sent) != 0 {
		t.Fatalf("unexpected successful send: %q", tr.sent)
	}
}
