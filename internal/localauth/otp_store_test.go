package localauth

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func newTestOTPStore(current *time.Time) *memoryOTPStore {
	store := NewMemoryOTPStore(5*time.Minute, time.Minute).(*memoryOTPStore)
	store.now = func() time.Time { return *current }
	return store
}

func TestMemoryOTPStoreIssueAndVerify(t *testing.T) {
	current := time.Unix(1700000000, 0)
	store := newTestOTPStore(&current)

	code, err := store.Issue(context.Background(), "+919876543210")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(code) != otpDigits {
		t.Fatalf("expected %d digit code, got %q", otpDigits, code)
	}
	if err := store.Verify(context.Background(), "+919876543210", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := store.Verify(context.Background(), "+919876543210", code); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected single use, got %v", err)
	}
}

func TestMemoryOTPStoreCodesAreZeroPadded(t *testing.T) {
	current := time.Unix(1700000000, 0)
	store := newTestOTPStore(&current)
	store.random = bytes.NewReader(make([]byte, 64))

	code, err := store.Issue(context.Background(), "+919876543210")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if code != "000000" {
		t.Fatalf("expected zero padded code, got %q", code)
	}
}

func TestMemoryOTPStoreRejections(t *testing.T) {
	testCases := []struct {
		name    string
		advance time.Duration
		code    func(issued string) string
		want    error
	}{
		{name: "expired", advance: 6 * time.Minute, code: func(issued string) string { return issued }, want: ErrOTPExpired},
		{name: "mismatch", code: func(issued string) string { return issued + "0" }, want: ErrOTPMismatch},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			current := time.Unix(1700000000, 0)
			store := newTestOTPStore(&current)
			issued, err := store.Issue(context.Background(), "+15551234567")
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			current = current.Add(testCase.advance)
			if err := store.Verify(context.Background(), "+15551234567", testCase.code(issued)); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestMemoryOTPStoreResendIntervalAndAttemptLimit(t *testing.T) {
	current := time.Unix(1700000000, 0)
	store := newTestOTPStore(&current)

	if _, err := store.Issue(context.Background(), "+919876543210"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := store.Issue(context.Background(), "+919876543210"); !errors.Is(err, ErrOTPResendTooSoon) {
		t.Fatalf("expected ErrOTPResendTooSoon, got %v", err)
	}
	current = current.Add(61 * time.Second)
	code, err := store.Issue(context.Background(), "+919876543210")
	if err != nil {
		t.Fatalf("reissue after interval: %v", err)
	}

	for attempt := 0; attempt < defaultOTPMaxAttempts; attempt++ {
		if err := store.Verify(context.Background(), "+919876543210", "wrong"); !errors.Is(err, ErrOTPMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", attempt, err)
		}
	}
	if err := store.Verify(context.Background(), "+919876543210", code); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected code to be discarded after too many attempts, got %v", err)
	}
}
