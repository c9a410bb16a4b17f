package keystore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"x1-wallet-go/internal/store"
)

// Unlock throttling tiers. After ten failures the hard lockout applies on
// top of the delay.
const (
	delayAfter3  = time.Second
	delayAfter5  = 5 * time.Second
	delayAfter10 = 30 * time.Second

	lockoutThreshold = 10
	lockoutDuration  = time.Hour
)

// tagSecretPrefix is mixed into the integrity key so a copied install
// secret alone cannot forge tags for another store.
const tagSecretPrefix = "x1-wallet-ratelimit-v1:"

// rateLimitState is the persisted unlock-throttle record. The checksum is
// an HMAC over the other fields; a bad checksum resets the state, which
// fails open for the user after tamper detection.
type rateLimitState struct {
	Attempts      uint32 `json:"attempts"`
	LastAttemptAt int64  `json:"lastAttemptAt"`
	DelayUntil    int64  `json:"delayUntil,omitempty"`
	LockoutUntil  int64  `json:"lockoutUntil,omitempty"`
	Checksum      string `json:"checksum,omitempty"`
}

func (s *rateLimitState) tag(secret []byte) string {
	mac := hmac.New(sha256.New, append([]byte(tagSecretPrefix), secret...))
	fmt.Fprintf(mac, "%d|%d|%d|%d", s.Attempts, s.LastAttemptAt, s.DelayUntil, s.LockoutUntil)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (s *rateLimitState) seal(secret []byte) {
	s.Checksum = s.tag(secret)
}

func (s *rateLimitState) verify(secret []byte) bool {
	return hmac.Equal([]byte(s.Checksum), []byte(s.tag(secret)))
}

// installSecret returns the random per-install key for rate-limit tags,
// creating it on first use.
func (k *Keystore) installSecret() ([]byte, error) {
	raw, ok, err := k.persistent.Get(store.KeyInstallSecret)
	if err != nil {
		return nil, err
	}
	if ok {
		secret, err := base64.StdEncoding.DecodeString(raw)
		if err == nil && len(secret) == 32 {
			return secret, nil
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := k.persistent.Set(store.KeyInstallSecret, base64.StdEncoding.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

// loadRateLimit reads and authenticates the throttle state; tampered or
// unreadable state resets to zero.
func (k *Keystore) loadRateLimit() {
	k.rate = rateLimitState{}

	raw, ok, err := k.persistent.Get(store.KeyRateLimit)
	if err != nil || !ok {
		return
	}
	var state rateLimitState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return
	}
	secret, err := k.installSecret()
	if err != nil {
		return
	}
	if !state.verify(secret) {
		k.logger.Warn("rate limit state failed integrity check, resetting")
		_ = k.persistent.Remove(store.KeyRateLimit)
		return
	}
	k.rate = state
}

func (k *Keystore) saveRateLimit() {
	secret, err := k.installSecret()
	if err != nil {
		k.logger.WithError(err).Warn("failed to load install secret")
		return
	}
	k.rate.seal(secret)
	raw, err := json.Marshal(k.rate)
	if err != nil {
		return
	}
	if err := k.persistent.Set(store.KeyRateLimit, string(raw)); err != nil {
		k.logger.WithError(err).Warn("failed to persist rate limit state")
	}
}

// enforceRateLimit blocks until the current delay window has passed, or
// fails with LockedOutError while a hard lockout is active.
func (k *Keystore) enforceRateLimit() error {
	now := k.now()

	if k.rate.LockoutUntil > 0 {
		until := time.Unix(k.rate.LockoutUntil, 0)
		if now.Before(until) {
			return &LockedOutError{Remaining: until.Sub(now)}
		}
	}
	if k.rate.DelayUntil > 0 {
		until := time.Unix(k.rate.DelayUntil, 0)
		if now.Before(until) {
			k.sleep(until.Sub(now))
		}
	}
	return nil
}

// recordUnlockFailure advances the throttle tiers and persists them.
func (k *Keystore) recordUnlockFailure() {
	now := k.now()
	k.rate.Attempts++
	k.rate.LastAttemptAt = now.Unix()

	var delay time.Duration
	switch {
	case k.rate.Attempts >= lockoutThreshold:
		delay = delayAfter10
		k.rate.LockoutUntil = now.Add(lockoutDuration).Unix()
	case k.rate.Attempts >= 5:
		delay = delayAfter5
	case k.rate.Attempts >= 3:
		delay = delayAfter3
	}
	if delay > 0 {
		k.rate.DelayUntil = now.Add(delay).Unix()
	}
	k.saveRateLimit()
}

// resetRateLimit clears the throttle after a successful unlock.
func (k *Keystore) resetRateLimit() {
	k.rate = rateLimitState{}
	if err := k.persistent.Remove(store.KeyRateLimit); err != nil {
		k.logger.WithError(err).Warn("failed to clear rate limit state")
	}
}
