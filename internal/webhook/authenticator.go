// Package webhook receives provider push deliveries: it authenticates them, normalizes
// bodies into queue items, and runs the background processor that retries failed items
// with exponential backoff before dead-lettering them.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Header names accepted for the signature and the signing timestamp. The X- forms are
// checked after the bare names.
var (
	signatureHeaders = []string{"Signature", "X-Signature", "X-Webhook-Signature"}
	timestampHeaders = []string{"Timestamp", "X-Timestamp", "X-Webhook-Timestamp"}
)

const signaturePrefix = "sha256="

// Authenticator verifies HMAC-SHA256 signatures over timestamp++payload.
// The secret and window can be swapped at runtime.
type Authenticator struct {
	mu     sync.RWMutex
	secret []byte
	window time.Duration
	now    func() time.Time

	relaxedLogged bool
}

// NewAuthenticator creates an authenticator. An empty secret enables relaxed mode.
func NewAuthenticator(secret string, window time.Duration) *Authenticator {
	a := &Authenticator{now: time.Now}
	a.Update(secret, window)
	return a
}

// Update replaces the shared secret and the replay window.
func (a *Authenticator) Update(secret string, window time.Duration) {
	if window <= 0 {
		window = 300 * time.Second
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.secret = []byte(strings.TrimSpace(secret))
	a.window = window
	a.relaxedLogged = false
}

// Relaxed reports whether signature verification is disabled.
func (a *Authenticator) Relaxed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.secret) == 0
}

// Validate reports whether the delivery may be enqueued.
func (a *Authenticator) Validate(payload []byte, headers http.Header) bool {
	return a.Verify(payload, headers) == nil
}

// Verify checks the delivery and returns a *ValidationError describing the rejection.
func (a *Authenticator) Verify(payload []byte, headers http.Header) error {
	a.mu.RLock()
	secret := a.secret
	window := a.window
	a.mu.RUnlock()

	if len(secret) == 0 {
		a.logRelaxed()
		return nil
	}

	signature := firstHeader(headers, signatureHeaders)
	timestamp := firstHeader(headers, timestampHeaders)
	if signature == "" || timestamp == "" {
		return newValidationError(ReasonMissingHeaders)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return newValidationError(ReasonStale)
	}
	age := a.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > window {
		return newValidationError(ReasonStale)
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(signature), signaturePrefix))
	if err != nil {
		return newValidationError(ReasonSignature)
	}
	if !hmac.Equal(provided, computeMAC(secret, timestamp, payload)) {
		return newValidationError(ReasonSignature)
	}
	return nil
}

func (a *Authenticator) logRelaxed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.relaxedLogged {
		log.Warn("webhook: no shared secret configured, accepting unsigned deliveries")
		a.relaxedLogged = true
	}
}

// Sign returns the hex HMAC-SHA256 of timestamp++payload, as the provider sends it.
func Sign(secret, timestamp string, payload []byte) string {
	return hex.EncodeToString(computeMAC([]byte(secret), timestamp, payload))
}

func computeMAC(secret []byte, timestamp string, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	return mac.Sum(nil)
}

func firstHeader(headers http.Header, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(headers.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// Rejection reasons. They are logged but never echoed to the caller.
const (
	ReasonMissingHeaders = "missing_headers"
	ReasonStale          = "stale"
	ReasonSignature      = "signature"
)

// ValidationError rejects a delivery before it reaches the queue.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("webhook validation failed: %s", e.Reason)
}

// Is matches validation errors with the same reason.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

var (
	ErrSignature = &ValidationError{Reason: ReasonSignature}
	ErrStale     = &ValidationError{Reason: ReasonStale}
)

func newValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}
