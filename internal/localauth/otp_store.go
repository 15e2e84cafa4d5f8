package localauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"
)

const (
	otpDigits             = 6
	defaultOTPMaxAttempts = 5
)

var (
	// ErrOTPNotFound indicates no code is pending for the phone number.
	ErrOTPNotFound = errors.New("otp_store.not_found")
	// ErrOTPExpired indicates the pending code outlived its TTL.
	ErrOTPExpired = errors.New("otp_store.expired")
	// ErrOTPMismatch indicates the supplied code did not match.
	ErrOTPMismatch = errors.New("otp_store.mismatch")
	// ErrOTPResendTooSoon indicates a code was requested again inside the resend interval.
	ErrOTPResendTooSoon = errors.New("otp_store.resend_too_soon")
)

// OTPStore issues and verifies single-use numeric codes keyed by phone number.
type OTPStore interface {
	Issue(ctx context.Context, phone string) (code string, err error)
	Verify(ctx context.Context, phone string, code string) error
}

type otpEntry struct {
	codeHash  string
	issuedAt  time.Time
	expiresAt time.Time
	attempts  int
}

type memoryOTPStore struct {
	mutex          sync.Mutex
	entries        map[string]otpEntry
	ttl            time.Duration
	resendInterval time.Duration
	maxAttempts    int
	now            func() time.Time
	random         io.Reader
}

// NewMemoryOTPStore constructs an in-memory OTPStore.
func NewMemoryOTPStore(ttl time.Duration, resendInterval time.Duration) OTPStore {
	return &memoryOTPStore{
		entries:        make(map[string]otpEntry),
		ttl:            ttl,
		resendInterval: resendInterval,
		maxAttempts:    defaultOTPMaxAttempts,
		now:            time.Now,
		random:         rand.Reader,
	}
}

func (store *memoryOTPStore) Issue(ctx context.Context, phone string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()

	now := store.now()
	if existing, ok := store.entries[phone]; ok && now.Before(existing.issuedAt.Add(store.resendInterval)) {
		return "", ErrOTPResendTooSoon
	}
	code, err := store.randomCode()
	if err != nil {
		return "", fmt.Errorf("otp_store.random: %w", err)
	}
	store.entries[phone] = otpEntry{
		codeHash:  hashCode(phone, code),
		issuedAt:  now,
		expiresAt: now.Add(store.ttl),
	}
	return code, nil
}

func (store *memoryOTPStore) Verify(ctx context.Context, phone string, code string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	entry, ok := store.entries[phone]
	if !ok {
		return ErrOTPNotFound
	}
	if store.now().After(entry.expiresAt) {
		delete(store.entries, phone)
		return ErrOTPExpired
	}
	if subtle.ConstantTimeCompare([]byte(entry.codeHash), []byte(hashCode(phone, code))) != 1 {
		entry.attempts++
		if entry.attempts >= store.maxAttempts {
			delete(store.entries, phone)
		} else {
			store.entries[phone] = entry
		}
		return ErrOTPMismatch
	}
	delete(store.entries, phone)
	return nil
}

func (store *memoryOTPStore) purgeExpiredLocked() {
	now := store.now()
	for phone, entry := range store.entries {
		if now.After(entry.expiresAt) {
			delete(store.entries, phone)
		}
	}
}

func (store *memoryOTPStore) randomCode() (string, error) {
	limit := big.NewInt(1)
	for index := 0; index < otpDigits; index++ {
		limit.Mul(limit, big.NewInt(10))
	}
	value, err := rand.Int(store.random, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, value.Int64()), nil
}

func hashCode(phone string, code string) string {
	sum := sha256.Sum256([]byte(phone + ":" + code))
	return hex.EncodeToString(sum[:])
}
