package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"
)

type Generator struct {
	digits int
	max    *big.Int
	rand   io.Reader
}

func NewGenerator(digits int) *Generator {
	if digits <= 0 {
		digits = 6
	}
	return &Generator{
		digits: digits,
		max:    new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil),
		rand:   rand.Reader,
	}
}

// Generate returns a uniformly random numeric code, zero padded.
func (g *Generator) Generate() (string, error) {
	n, err := rand.Int(g.rand, g.max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", g.digits, n), nil
}

func Equal(submitted, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
}

// AttemptLimiter bounds verification attempts per order.
type AttemptLimiter interface {
	// Attempt records one attempt and reports whether it is within budget.
	Attempt(ctx context.Context, orderID string) (allowed bool, err error)
}

// MemoryLimiter is a fixed-window limiter for single-process deployments.
type MemoryLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	now    func() time.Time
	hits   map[string]window
}

type window struct {
	count   int
	expires time.Time
}

func NewMemoryLimiter(max int, win time.Duration) *MemoryLimiter {
	return &MemoryLimiter{max: max, window: win, now: time.Now, hits: make(map[string]window)}
}

func (l *MemoryLimiter) Attempt(_ context.Context, orderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.hits[orderID]
	if now.After(w.expires) {
		w = window{expires: now.Add(l.window)}
	}
	w.count++
	l.hits[orderID] = w
	return w.count <= l.max, nil
}
