package config

import (
	"strings"
	"time"
)

// SDKConfig holds settings shared by every outbound client.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests
	// (token endpoint and alert notifier). Supports socks5, http and https schemes.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`
}

// ProviderConfig describes the wearable vendor's OAuth2 client registration.
type ProviderConfig struct {
	// Name labels the provider in logs and metrics.
	Name string `yaml:"name" json:"name"`

	ClientID     string `yaml:"client-id" json:"client-id"`
	ClientSecret string `yaml:"client-secret" json:"-"`

	// AuthURL is the provider's authorization endpoint.
	AuthURL string `yaml:"auth-url" json:"auth-url"`

	// TokenURL is the provider's token endpoint.
	TokenURL string `yaml:"token-url" json:"token-url"`

	// RedirectURI must match the callback route registered with the provider.
	RedirectURI string `yaml:"redirect-uri" json:"redirect-uri"`

	Scopes []string `yaml:"scopes" json:"scopes"`

	// DoneURL receives the browser after the callback with status/reason query parameters.
	DoneURL string `yaml:"done-url" json:"done-url"`

	// TokenTimeoutSeconds bounds the token-endpoint round trip.
	TokenTimeoutSeconds int `yaml:"token-timeout-seconds" json:"token-timeout-seconds"`

	// SessionTTLMinutes is how long an authorization session stays claimable.
	SessionTTLMinutes int `yaml:"session-ttl-minutes" json:"session-ttl-minutes"`

	// SessionSweepMinutes is the interval of the expired-session sweep.
	SessionSweepMinutes int `yaml:"session-sweep-minutes" json:"session-sweep-minutes"`
}

func (p *ProviderConfig) sanitize() {
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		p.Name = "wearable"
	}
	p.ClientID = strings.TrimSpace(p.ClientID)
	p.ClientSecret = strings.TrimSpace(p.ClientSecret)
	p.AuthURL = strings.TrimSpace(p.AuthURL)
	p.TokenURL = strings.TrimSpace(p.TokenURL)
	p.RedirectURI = strings.TrimSpace(p.RedirectURI)
	p.DoneURL = strings.TrimSpace(p.DoneURL)
	if p.DoneURL == "" {
		p.DoneURL = "/api/wearable/auth/done"
	}
	scopes := p.Scopes[:0]
	for _, s := range p.Scopes {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	p.Scopes = scopes
	if p.TokenTimeoutSeconds <= 0 {
		p.TokenTimeoutSeconds = int(DefaultTokenTimeout / time.Second)
	}
	if p.SessionTTLMinutes <= 0 {
		p.SessionTTLMinutes = int(DefaultSessionTTL / time.Minute)
	}
	if p.SessionSweepMinutes <= 0 {
		p.SessionSweepMinutes = int(DefaultSessionSweep / time.Minute)
	}
}

// TokenTimeout returns the token-endpoint timeout.
func (p ProviderConfig) TokenTimeout() time.Duration {
	return time.Duration(p.TokenTimeoutSeconds) * time.Second
}

// SessionTTL returns the authorization session lifetime.
func (p ProviderConfig) SessionTTL() time.Duration {
	return time.Duration(p.SessionTTLMinutes) * time.Minute
}

// SessionSweep returns the expired-session sweep interval.
func (p ProviderConfig) SessionSweep() time.Duration {
	return time.Duration(p.SessionSweepMinutes) * time.Minute
}

// Scope returns the space-delimited scope string sent to the provider.
func (p ProviderConfig) Scope() string {
	return strings.Join(p.Scopes, " ")
}
