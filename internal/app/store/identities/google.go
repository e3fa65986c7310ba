package identities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dalemusser/opsdesk/internal/app/system/normalize"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var errUnverifiedEmail = errors.New("google account email is not verified")

// Google exchanges authorization codes with Google and returns the
// verified account email.
type Google struct {
	cfg *oauth2.Config
	// UserInfoURL is overridden in tests.
	UserInfoURL string
}

// NewGoogle returns nil when clientID or secret is empty, which leaves
// Google sign-in disabled.
func NewGoogle(clientID, secret, baseURL string) *Google {
	if clientID == "" || secret == "" {
		return nil
	}
	return &Google{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: secret,
			RedirectURL:  baseURL + "/login/google/callback",
			Scopes: []string{
				"openid",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			Endpoint: google.Endpoint,
		},
		UserInfoURL: googleUserInfoURL,
	}
}

// WithEndpoint points the exchange at a different token endpoint.
func (g *Google) WithEndpoint(ep oauth2.Endpoint) *Google {
	cp := *g.cfg
	cp.Endpoint = ep
	return &Google{cfg: &cp, UserInfoURL: g.UserInfoURL}
}

// AuthCodeURL returns the consent-screen URL for state.
func (g *Google) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"verified_email"`
}

// ExchangeEmail trades code for a token and fetches the account email.
func (g *Google) ExchangeEmail(ctx context.Context, code string) (string, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	resp, err := client.Get(g.UserInfoURL)
	if err != nil {
		return "", fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch user info: unexpected status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode user info: %w", err)
	}
	if !info.EmailVerified {
		return "", errUnverifiedEmail
	}
	return normalize.Email(info.Email), nil
}
