package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// bcrypt ignores everything past 72 bytes; newer x/crypto versions reject it
// outright, so both paths cut the input at the same boundary.
const maxPasswordBytes = 72

const decoyPassword = "decoy-password-for-unknown-accounts"

// Hasher turns passwords into bcrypt hashes. The number of concurrent bcrypt
// computations is capped so hashing cannot starve other request handling.
type Hasher struct {
	cost   int
	slots  *semaphore.Weighted
	logger *zap.Logger
	decoy  []byte
}

func NewHasher(cost, concurrency int, logger *zap.Logger) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	decoy, err := bcrypt.GenerateFromPassword([]byte(decoyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("hash decoy password: %w", err)
	}

	return &Hasher{
		cost:   cost,
		slots:  semaphore.NewWeighted(int64(concurrency)),
		logger: logger,
		decoy:  decoy,
	}, nil
}

// Hash returns a salted bcrypt hash. Two calls with the same password never
// return the same string.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hashing slot: %w", err)
	}
	defer h.slots.Release(1)

	hash, err := bcrypt.GenerateFromPassword(truncatePassword(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(hash), nil
}

// Verify reports whether password matches the stored hash. An unreadable
// hash is logged and treated as a mismatch. The error is non-nil only when
// ctx ends while waiting for a hashing slot.
func (h *Hasher) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("acquire hashing slot: %w", err)
	}
	defer h.slots.Release(1)

	return h.compare([]byte(encodedHash), password), nil
}

// VerifyDummy spends the same work as Verify against a fixed decoy hash. It is
// used when no account exists so the response time does not give that away.
func (h *Hasher) VerifyDummy(ctx context.Context, password string) error {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire hashing slot: %w", err)
	}
	defer h.slots.Release(1)

	_ = h.compare(h.decoy, password)
	return nil
}

func (h *Hasher) compare(encodedHash []byte, password string) bool {
	err := bcrypt.CompareHashAndPassword(encodedHash, truncatePassword(password))
	switch {
	case err == nil:
		return true
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false
	default:
		h.logger.Warn("stored_password_hash_unreadable", zap.Error(err))
		return false
	}
}

func truncatePassword(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}
