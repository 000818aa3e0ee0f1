package wearable

import (
	"context"
	"errors"
	"net/http"

	"github.com/router-for-me/wearsync/internal/config"
	"github.com/router-for-me/wearsync/internal/util"
	"golang.org/x/oauth2"
)

// TokenExchanger trades an authorization code and its PKCE verifier for tokens.
// Non-2xx token endpoint responses are reported as *TokenEndpointError.
type TokenExchanger interface {
	Exchange(ctx context.Context, code, codeVerifier string) (*Tokens, error)
}

// OAuth2Exchanger performs the exchange through golang.org/x/oauth2.
type OAuth2Exchanger struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

// NewOAuth2Exchanger builds an exchanger from the provider registration. Outbound
// requests honour the configured proxy.
func NewOAuth2Exchanger(cfg *config.Config) *OAuth2Exchanger {
	return &OAuth2Exchanger{
		conf:       oauthConfig(cfg.Provider),
		httpClient: util.SetProxy(&cfg.SDKConfig, &http.Client{}),
	}
}

func oauthConfig(p config.ProviderConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURI,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthURL,
			TokenURL:  p.TokenURL,
			// auto-detection may hit the token endpoint twice for one code
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Exchange posts the code, verifier and redirect_uri to the token endpoint.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, code, codeVerifier string) (*Tokens, error) {
	if e.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	}
	tok, err := e.conf.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, &TokenEndpointError{
				StatusCode:  retrieveErr.Response.StatusCode,
				Code:        retrieveErr.ErrorCode,
				Description: retrieveErr.ErrorDescription,
			}
		}
		return nil, err
	}
	return tokensFromOAuth2(tok), nil
}
