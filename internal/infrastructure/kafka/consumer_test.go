package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/DRSN-tech/match-service/internal/events"
	"github.com/DRSN-tech/match-service/internal/usecase"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)        {}
func (nopLogger) Infof(string, ...any)         {}
func (nopLogger) Warnf(string, ...any)         {}
func (nopLogger) Errorf(error, string, ...any) {}

type flakyMatchingUC struct {
	calls    int
	failures int
	err      error
}

func (f *flakyMatchingUC) MatchProductVideo(_ context.Context, _ *usecase.MatchReq) (*usecase.MatchRes, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &usecase.MatchRes{}, nil
}

func matchRequestMessage(t *testing.T) []byte {
	t.Helper()

	raw, err := events.Wrap(events.TypeMatchRequest, events.MatchRequest{
		JobID:     "job-1",
		ProductID: 1,
		VideoID:   2,
	})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	return raw
}

func TestHandleWithRetryTransientFailureRecovers(t *testing.T) {
	uc := &flakyMatchingUC{failures: 2, err: errors.New("dial tcp: connection refused")}
	c := &Consumer{
		matching: uc,
		logger:   nopLogger{},
		stop:     make(chan struct{}),
	}

	if err := c.handleWithRetry(context.Background(), matchRequestMessage(t)); err != nil {
		t.Fatalf("expected recovery after transient failures, got %v", err)
	}
	if uc.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", uc.calls)
	}
}

func TestHandleWithRetryNonRetryableFailsFast(t *testing.T) {
	uc := &flakyMatchingUC{failures: 10, err: errors.New("job id is required")}
	c := &Consumer{
		matching: uc,
		logger:   nopLogger{},
		stop:     make(chan struct{}),
	}

	if err := c.handleWithRetry(context.Background(), matchRequestMessage(t)); err == nil {
		t.Fatal("expected the handler error to surface")
	}
	if uc.calls != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d attempts", uc.calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("read: i/o timeout"), true},
		{errors.New("write: broken pipe"), true},
		{errors.New("invalid payload"), false},
	} {
		if got := isRetryableError(tc.err); got != tc.want {
			t.Errorf("isRetryableError(%v) = %t, want %t", tc.err, got, tc.want)
		}
	}
}
