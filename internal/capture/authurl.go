package capture

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// AuthorizePath is appended to the provider host to form the authorization
// endpoint.
const AuthorizePath = "/v1/oauth/authorize"

// AuthorizeEndpoint returns the authorization endpoint for a provider given
// either as a bare host ("id.example.com") or as a full base URL.
func AuthorizeEndpoint(provider string) (string, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", fmt.Errorf("%w: provider is empty", ErrConfiguration)
	}
	if !strings.Contains(provider, "://") {
		provider = "https://" + provider
	}
	u, err := url.Parse(provider)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid provider %q", ErrConfiguration, provider)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + AuthorizePath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// callbackTarget is the address the bridging page posts the fragment to. It
// travels to the provider inside the state parameter and comes back
// unchanged.
func callbackTarget(reg Registration, host, secret string) string {
	return reg.RedirectURI(host) + "?" + url.Values{"secret": {secret}}.Encode()
}

// BuildAuthURL assembles the implicit-grant authorization URL for the chosen
// registration.
func BuildAuthURL(endpoint string, reg Registration, host, scope, secret string) string {
	cfg := oauth2.Config{
		ClientID:    reg.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: endpoint},
		RedirectURL: reg.RedirectURI(host),
	}
	if scope != "" {
		cfg.Scopes = []string{scope}
	}
	return cfg.AuthCodeURL(
		callbackTarget(reg, host, secret),
		oauth2.SetAuthURLParam("response_type", "token"),
	)
}
