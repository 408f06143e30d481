package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

var (
	errTransient    = errors.New("timed out")
	errNonRetriable = errors.New("bitrate unavailable")
	errUnknown      = errors.New("something odd")
)

func testClassifier(err error) Kind {
	switch {
	case errors.Is(err, errTransient):
		return KindTransient
	case errors.Is(err, errNonRetriable):
		return KindNonRetriable
	default:
		return KindUnclassified
	}
}

func newTestCaller(delay time.Duration, opts ...Option) *Caller {
	opts = append([]Option{WithDelay(delay), WithClassifier(testClassifier)}, opts...)
	return New(zap.NewNop(), opts...)
}

// failingOperation fails with err for the first failures calls and then returns "ok".
func failingOperation(failures int, err error, calls *int) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		if *calls <= failures {
			return "", err
		}
		return "ok", nil
	}
}

func TestCallSucceedsAfterTransientFailures(t *testing.T) {
	for k := 0; k < DefaultMaxAttempts; k++ {
		calls := 0
		caller := newTestCaller(0)

		outcome := Call(context.Background(), caller, "test", failingOperation(k, errTransient, &calls))

		if !outcome.Ok() {
			t.Fatalf("k=%d: expected success, got %s (%v)", k, outcome.Status, outcome.Err)
		}
		if outcome.Value != "ok" {
			t.Errorf("k=%d: expected value ok, got %q", k, outcome.Value)
		}
		if calls != k+1 || outcome.Attempts != k+1 {
			t.Errorf("k=%d: expected %d attempts, got calls=%d attempts=%d", k, k+1, calls, outcome.Attempts)
		}
	}
}

func TestCallGivesUpAfterBudget(t *testing.T) {
	calls := 0
	caller := newTestCaller(0)

	outcome := Call(context.Background(), caller, "test", failingOperation(1000, errTransient, &calls))

	if outcome.Status != StatusGaveUp {
		t.Fatalf("expected gave_up, got %s", outcome.Status)
	}
	if calls != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, calls)
	}
	if !errors.Is(outcome.Err, errTransient) {
		t.Errorf("expected last error to be kept, got %v", outcome.Err)
	}
	if outcome.Value != "" {
		t.Errorf("expected zero value, got %q", outcome.Value)
	}
}

func TestCallRejectsNonRetriableImmediately(t *testing.T) {
	calls := 0
	// A long delay would make the test hang if the caller waited.
	caller := newTestCaller(time.Hour)

	start := time.Now()
	outcome := Call(context.Background(), caller, "test", failingOperation(1, errNonRetriable, &calls))

	if outcome.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", outcome.Status)
	}
	if !errors.Is(outcome.Err, errNonRetriable) {
		t.Errorf("expected non-retriable error, got %v", outcome.Err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("rejection took %v, expected no delay", elapsed)
	}
}

func TestCallStopsOnUnclassifiedError(t *testing.T) {
	calls := 0
	caller := newTestCaller(time.Hour)

	outcome := Call(context.Background(), caller, "test", failingOperation(1000, errUnknown, &calls))

	if outcome.Status != StatusGaveUp {
		t.Fatalf("expected gave_up, got %s", outcome.Status)
	}
	if calls != 1 {
		t.Errorf("expected one attempt, got %d", calls)
	}
	if !errors.Is(outcome.Err, errUnknown) {
		t.Errorf("expected unclassified error, got %v", outcome.Err)
	}
}

func TestCallNonRetriableAfterTransient(t *testing.T) {
	calls := 0
	caller := newTestCaller(0)

	outcome := Call(context.Background(), caller, "test", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 0, errNonRetriable
	})

	if outcome.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", outcome.Status)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestCallHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	caller := newTestCaller(time.Hour)

	done := make(chan Outcome[string], 1)
	go func() {
		done <- Call(ctx, caller, "test", failingOperation(1000, errTransient, &calls))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case outcome := <-done:
		if outcome.Status != StatusGaveUp {
			t.Errorf("expected gave_up after cancellation, got %s", outcome.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Call did not return after context cancellation")
	}
}

func TestCallUsesFreshBudgetPerCall(t *testing.T) {
	caller := newTestCaller(0, WithMaxAttempts(3))

	for i := 0; i < 2; i++ {
		calls := 0
		outcome := Call(context.Background(), caller, "test", failingOperation(2, errTransient, &calls))
		if !outcome.Ok() {
			t.Fatalf("call %d: expected success, got %s", i, outcome.Status)
		}
		if calls != 3 {
			t.Errorf("call %d: expected 3 attempts, got %d", i, calls)
		}
	}
}

func TestCallNotifiesObserver(t *testing.T) {
	var (
		gotOperation string
		gotStatus    Status
		gotAttempts  int
	)
	caller := newTestCaller(0, WithObserver(func(operation string, status Status, attempts int) {
		gotOperation = operation
		gotStatus = status
		gotAttempts = attempts
	}))

	calls := 0
	Call(context.Background(), caller, "fetch_track", failingOperation(2, errTransient, &calls))

	if gotOperation != "fetch_track" || gotStatus != StatusSucceeded || gotAttempts != 3 {
		t.Errorf("observer got (%q, %s, %d), want (fetch_track, succeeded, 3)", gotOperation, gotStatus, gotAttempts)
	}
}

func TestDefaultClassifierTreatsEverythingAsUnclassified(t *testing.T) {
	calls := 0
	caller := New(nil, WithDelay(0))

	outcome := Call(context.Background(), caller, "test", failingOperation(5, errTransient, &calls))

	if outcome.Status != StatusGaveUp || calls != 1 {
		t.Errorf("expected gave_up after 1 attempt, got %s after %d", outcome.Status, calls)
	}
}

func TestStatusAndKindStrings(t *testing.T) {
	if StatusSucceeded.String() != "succeeded" || StatusGaveUp.String() != "gave_up" || StatusRejected.String() != "rejected" {
		t.Error("unexpected status names")
	}
	if KindTransient.String() != "transient" || KindNonRetriable.String() != "non_retriable" || KindUnclassified.String() != "unclassified" {
		t.Error("unexpected kind names")
	}
}
