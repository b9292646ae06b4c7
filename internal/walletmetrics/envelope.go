// Package walletmetrics is the two-tier cache for per-wallet trading
// metrics. A bounded in-process L1 fronts the durable store (L2); wallets
// are promoted into L1 once their L2 hit count crosses a threshold, and
// observed popularity feeds a trending ranking.
package walletmetrics

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

// KeyPrefix namespaces wallet metric entries in the durable store
const KeyPrefix = "wallet:metrics:"

const maxWalletLen = 128

// ErrInvalidWallet is returned for empty or malformed wallet identifiers
var ErrInvalidWallet = errors.New("walletmetrics: invalid wallet")

// Key returns the durable store key of a wallet's envelope
func Key(wallet string) string {
	return KeyPrefix + wallet
}

// ValidateWallet rejects identifiers that cannot be used as cache keys
func ValidateWallet(wallet string) error {
	if wallet == "" || len(wallet) > maxWalletLen {
		return ErrInvalidWallet
	}
	if strings.IndexFunc(wallet, unicode.IsSpace) >= 0 {
		return ErrInvalidWallet
	}
	return nil
}

// Envelope is the stored record: the metrics plus bookkeeping. Envelopes are
// never mutated after construction; updates build a new one.
type Envelope[M any] struct {
	Metrics     M     `json:"metrics"`
	LastUpdated int64 `json:"lastUpdated"` // unix millis
	HitCount    int64 `json:"hitCount"`

	// ExpiresAt is when the L2 copy lapses (unix millis, 0 for never). It
	// moves only when L2 is written with a fresh TTL.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

func newEnvelope[M any](metrics M, now time.Time, ttl time.Duration) *Envelope[M] {
	return &Envelope[M]{
		Metrics:     metrics,
		LastUpdated: now.UnixMilli(),
		ExpiresAt:   expiryMillis(now, ttl),
	}
}

func expiryMillis(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixMilli()
}

// withHit returns a copy with HitCount incremented
func (e *Envelope[M]) withHit() *Envelope[M] {
	next := *e
	next.HitCount++
	return &next
}

// withExpiry returns a copy lapsing at expiresAt
func (e *Envelope[M]) withExpiry(expiresAt int64) *Envelope[M] {
	next := *e
	next.ExpiresAt = expiresAt
	return &next
}

// expired reports whether the L2 copy has lapsed at now
func (e *Envelope[M]) expired(now time.Time) bool {
	return e.ExpiresAt > 0 && now.UnixMilli() >= e.ExpiresAt
}

// UpdatedAt returns LastUpdated as a time
func (e *Envelope[M]) UpdatedAt() time.Time {
	return time.UnixMilli(e.LastUpdated)
}
