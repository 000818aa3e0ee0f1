package wearable

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/wearsync/internal/config"
	"github.com/router-for-me/wearsync/internal/logging"
	"github.com/router-for-me/wearsync/internal/metrics"
)

// RedirectTarget is the provider authorization URL issued for one session.
type RedirectTarget struct {
	URL           string
	State         string
	CorrelationID string
}

// CallbackResult is a successful callback outcome.
type CallbackResult struct {
	Tokens        *Tokens
	CorrelationID string
}

// Coordinator runs the authorization-code flow. It is safe for concurrent callbacks.
type Coordinator struct {
	provider  config.ProviderConfig
	sessions  *SessionStore
	ledger    CodeLedger
	exchanger TokenExchanger
	sink      TokenSink
}

// NewCoordinator wires the flow. sink may be nil.
func NewCoordinator(provider config.ProviderConfig, sessions *SessionStore, ledger CodeLedger, exchanger TokenExchanger, sink TokenSink) *Coordinator {
	if sessions == nil {
		sessions = NewSessionStore(provider.SessionTTL())
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Coordinator{
		provider:  provider,
		sessions:  sessions,
		ledger:    ledger,
		exchanger: exchanger,
		sink:      sink,
	}
}

// Sessions exposes the session store for the sweeper.
func (c *Coordinator) Sessions() *SessionStore { return c.sessions }

// BeginAuthorization creates a session and returns the provider URL to redirect to.
func (c *Coordinator) BeginAuthorization() (*RedirectTarget, error) {
	pkceCodes, err := GeneratePKCECodes()
	if err != nil {
		return nil, err
	}

	var state string
	for i := 0; i < 3; i++ {
		if state, err = GenerateState(); err != nil {
			return nil, err
		}
		session := AuthorizationSession{
			State:         state,
			CodeVerifier:  pkceCodes.CodeVerifier,
			CorrelationID: uuid.NewString(),
		}
		if err = c.sessions.Put(session); err == nil {
			authURL, errURL := c.authURL(state, pkceCodes)
			if errURL != nil {
				c.sessions.Discard(state)
				return nil, errURL
			}
			metrics.AuthorizationStarted()
			return &RedirectTarget{URL: authURL, State: state, CorrelationID: session.CorrelationID}, nil
		}
		if !errors.Is(err, errSessionExists) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("wearable auth: could not allocate a unique state: %w", err)
}

func (c *Coordinator) authURL(state string, pkceCodes *PKCECodes) (string, error) {
	base := strings.TrimSpace(c.provider.AuthURL)
	if base == "" {
		return "", fmt.Errorf("wearable auth: provider auth-url is not configured")
	}
	params := url.Values{
		"client_id":             {c.provider.ClientID},
		"redirect_uri":          {c.provider.RedirectURI},
		"response_type":         {"code"},
		"scope":                 {c.provider.Scope()},
		"state":                 {state},
		"code_challenge":        {pkceCodes.CodeChallenge},
		"code_challenge_method": {"S256"},
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode(), nil
}

// HandleCallback validates state, claims code in the ledger and exchanges it.
// Once an exchange is attempted the code stays claimed whatever its outcome.
func (c *Coordinator) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	entry := logging.FromContext(ctx)
	code = strings.TrimSpace(code)

	if _, ok := c.sessions.Lookup(state); !ok {
		metrics.CallbackOutcome(ErrInvalidState.Type)
		return nil, NewAuthorizationError(ErrInvalidState, 0, nil)
	}
	if code == "" {
		metrics.CallbackOutcome(ErrMissingCode.Type)
		return nil, NewAuthorizationError(ErrMissingCode, 0, nil)
	}

	// A missing exchanger is a deployment fault; leave the code and session usable.
	if c.exchanger == nil {
		entry.Error("wearable auth: no token exchanger configured")
		metrics.CallbackOutcome(ErrTokenExchange.Type)
		return nil, NewAuthorizationError(ErrTokenExchange, 0, fmt.Errorf("no token exchanger configured"))
	}

	claimed, err := c.ledger.Claim(ctx, code)
	if err != nil {
		entry.WithError(err).Error("wearable auth: used-code ledger unavailable")
		metrics.CallbackOutcome(ErrLedgerUnavailable.Type)
		return nil, NewAuthorizationError(ErrLedgerUnavailable, 0, err)
	}
	if !claimed {
		metrics.CallbackOutcome(ErrDuplicateCode.Type)
		return nil, NewAuthorizationError(ErrDuplicateCode, 0, nil)
	}

	session, ok := c.sessions.Take(state)
	if !ok {
		metrics.CallbackOutcome(ErrInvalidState.Type)
		return nil, NewAuthorizationError(ErrInvalidState, 0, nil)
	}
	entry = entry.WithField("correlation_id", session.CorrelationID)

	timeout := c.provider.TokenTimeout()
	if timeout <= 0 {
		timeout = config.DefaultTokenTimeout
	}
	exchangeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	tokens, err := c.exchanger.Exchange(exchangeCtx, code, session.CodeVerifier)
	metrics.ObserveTokenExchange(time.Since(start).Seconds())
	if err != nil {
		authErr := classifyExchangeError(err)
		entry.WithField("status", authErr.HTTPStatus).WithError(err).Warn("wearable auth: token exchange failed")
		metrics.CallbackOutcome(authErr.Type)
		return nil, authErr
	}

	if c.sink != nil {
		if errSave := c.sink.SaveTokens(ctx, session.CorrelationID, tokens); errSave != nil {
			entry.WithError(errSave).Error("wearable auth: failed to persist tokens")
		}
	}
	entry.Info("wearable auth: authorization completed")
	metrics.CallbackOutcome("ok")
	return &CallbackResult{Tokens: tokens, CorrelationID: session.CorrelationID}, nil
}

// AbandonAuthorization drops the session for a callback that carried a provider error.
func (c *Coordinator) AbandonAuthorization(state string) {
	c.sessions.Discard(state)
	metrics.CallbackOutcome(ErrProviderDenied.Type)
}
