package webhook

import (
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func signedHeaders(secret string, ts int64, payload []byte) http.Header {
	h := http.Header{}
	stamp := strconv.FormatInt(ts, 10)
	h.Set("signature", Sign(secret, stamp, payload))
	h.Set("timestamp", stamp)
	return h
}

func TestAuthenticatorAcceptsValidSignature(t *testing.T) {
	auth := NewAuthenticator("s", 300*time.Second)
	payload := []byte(`{"userId":"u1","sleepTimeInSeconds":27000}`)
	headers := signedHeaders("s", time.Now().Unix(), payload)

	if err := auth.Verify(payload, headers); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	prefixed := headers.Clone()
	prefixed.Set("signature", "sha256="+headers.Get("signature"))
	if !auth.Validate(payload, prefixed) {
		t.Fatalf("expected sha256= prefixed signature to validate")
	}
}

func TestAuthenticatorRejectsSingleByteMutation(t *testing.T) {
	auth := NewAuthenticator("s", 300*time.Second)
	payload := []byte(`{"userId":"u1","sleepTimeInSeconds":27000}`)
	headers := signedHeaders("s", time.Now().Unix(), payload)

	for i := range payload {
		mutated := append([]byte(nil), payload...)
		mutated[i] ^= 0x01
		if err := auth.Verify(mutated, headers); !errors.Is(err, ErrSignature) {
			t.Fatalf("mutation at byte %d: expected signature error, got %v", i, err)
		}
	}
}

func TestAuthenticatorRejectsStaleTimestamp(t *testing.T) {
	auth := NewAuthenticator("s", 300*time.Second)
	payload := []byte(`{"a":1}`)

	stale := signedHeaders("s", time.Now().Add(-301*time.Second).Unix(), payload)
	if err := auth.Verify(payload, stale); !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale error, got %v", err)
	}
	future := signedHeaders("s", time.Now().Add(301*time.Second).Unix(), payload)
	if err := auth.Verify(payload, future); !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale error for future timestamp, got %v", err)
	}
	edge := signedHeaders("s", time.Now().Add(-290*time.Second).Unix(), payload)
	if err := auth.Verify(payload, edge); err != nil {
		t.Fatalf("expected timestamp inside window to pass, got %v", err)
	}
}

func TestAuthenticatorRequiresHeaders(t *testing.T) {
	auth := NewAuthenticator("s", 0)
	payload := []byte(`{}`)
	full := signedHeaders("s", time.Now().Unix(), payload)

	noSig := full.Clone()
	noSig.Del("signature")
	noTs := full.Clone()
	noTs.Del("timestamp")
	for name, h := range map[string]http.Header{"signature": noSig, "timestamp": noTs} {
		var vErr *ValidationError
		if err := auth.Verify(payload, h); !errors.As(err, &vErr) || vErr.Reason != ReasonMissingHeaders {
			t.Fatalf("missing %s: expected missing_headers, got %v", name, err)
		}
	}

	alt := http.Header{}
	alt.Set("X-Signature", full.Get("signature"))
	alt.Set("X-Timestamp", full.Get("timestamp"))
	if err := auth.Verify(payload, alt); err != nil {
		t.Fatalf("expected X- headers to be accepted, got %v", err)
	}
}

func TestAuthenticatorRelaxedModeAndUpdate(t *testing.T) {
	auth := NewAuthenticator("", 0)
	if !auth.Relaxed() || !auth.Validate([]byte(`{}`), http.Header{}) {
		t.Fatalf("expected relaxed mode to accept unsigned payloads")
	}

	auth.Update("rotated", time.Minute)
	if auth.Relaxed() || auth.Validate([]byte(`{}`), http.Header{}) {
		t.Fatalf("expected unsigned payload to be rejected after secret update")
	}
	payload := []byte(`{}`)
	if err := auth.Verify(payload, signedHeaders("rotated", time.Now().Unix(), payload)); err != nil {
		t.Fatalf("expected rotated secret to verify, got %v", err)
	}
	if err := auth.Verify(payload, signedHeaders("rotated", time.Now().Add(-2*time.Minute).Unix(), payload)); !errors.Is(err, ErrStale) {
		t.Fatalf("expected updated window to apply, got %v", err)
	}
}
