package work

import (
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"tagged auth", NewError(KindAuth, errors.New("401")), KindAuth},
		{"wrapped tagged", errors.Join(errors.New("outer"), NewError(KindNotFound, errors.New("404"))), KindNotFound},
		{"untagged defaults to disk", errors.New("boom"), KindDiskWrite},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestFatalToRun(t *testing.T) {
	if !FatalToRun(KindAuth, errors.New("401")) {
		t.Error("auth failures should be fatal to the run")
	}
	if !FatalToRun(KindDiskWrite, NewError(KindDiskWrite, syscall.ENOSPC)) {
		t.Error("out-of-space disk failures should be fatal to the run")
	}
	if FatalToRun(KindDiskWrite, errors.New("permission denied")) {
		t.Error("ordinary disk failures should not be fatal to the run")
	}
	if FatalToRun(KindTransientNetwork, errors.New("timeout")) {
		t.Error("transient failures should not be fatal to the run")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(KindTransientNetwork, 1) {
		t.Error("first transient failure should allow a retry")
	}
	if !Retryable(KindTransientNetwork, 2) {
		t.Error("second transient failure should allow a retry")
	}
	if Retryable(KindTransientNetwork, 3) {
		t.Error("third transient failure should exhaust attempts")
	}
	if Retryable(KindAuth, 1) {
		t.Error("auth failures should never be retried")
	}
	if Retryable(KindAmbiguousMember, 1) {
		t.Error("ambiguous member failures should never be retried")
	}
	if Retryable(KindDiskWrite, 2) {
		t.Error("disk failures get only one extra attempt")
	}
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: time.Second, MaxBackoff: 4 * time.Second}

	if d := p.Delay(1); d != time.Second {
		t.Fatalf("Delay(1) = %s, want the initial backoff", d)
	}
	for attempt := 2; attempt <= 5; attempt++ {
		d := p.Delay(attempt)
		base := p.Backoff << uint(attempt-2)
		if base > p.MaxBackoff {
			base = p.MaxBackoff
		}
		min := time.Duration(float64(base) * 0.5)
		max := time.Duration(float64(base) * 1.5)
		if d < min || d > max {
			t.Errorf("Delay(%d) = %s, want within [%s, %s]", attempt, d, min, max)
		}
	}
}

func TestFailedOutcomeClassifies(t *testing.T) {
	it := Item{Key: "N00E006"}
	oc := Failed(it, NewError(KindNoMatchingMember, errors.New("empty archive")), time.Second)
	if oc.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", oc.Status, StatusFailed)
	}
	if oc.Kind != KindNoMatchingMember {
		t.Fatalf("kind = %s, want %s", oc.Kind, KindNoMatchingMember)
	}
}
