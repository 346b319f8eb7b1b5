package claude

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// OAuth parameters for the Anthropic console. The client id and redirect
// URI are fixed by the provider; only the token endpoint is overridable
// (tests point it at a local server).
const (
	ClientID     = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	RedirectURI  = "https://console.anthropic.com/oauth/code/callback"
	AuthorizeURL = "https://claude.ai/oauth/authorize"
	TokenURL     = "https://console.anthropic.com/v1/oauth/token"

	// Scope string sent on the authorize URL. org:create_api_key is part of
	// the URL but not of the token request body.
	OAuthScope = "org:create_api_key user:profile user:inference"

	userAgent = "claude-cli/1.0.56 (external, cli)"
)

// Client implements the PKCE authorization-code flow and token refresh
// against the Anthropic identity provider. Stateless; callers persist the
// verifier and state between steps.
type Client struct {
	httpClient *http.Client
	tokenURL   string
}

// NewClient creates an OAuth client with a dedicated short-timeout HTTP client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokenURL:   TokenURL,
	}
}

// Authorization is the output of AuthorizationURL. The caller must keep
// CodeVerifier and State for the exchange step.
type Authorization struct {
	URL          string `json:"authorization_url"`
	CodeVerifier string `json:"code_verifier"`
	State        string `json:"state"`
}

// TokenSet is the token endpoint response, including the resolved account
// identity Anthropic embeds in it.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Account      struct {
		EmailAddress string `json:"email_address"`
	} `json:"account"`
	Organization struct {
		Name string `json:"name"`
	} `json:"organization"`
}

// ExchangeError carries the upstream status and body of a failed token
// endpoint call.
type ExchangeError struct {
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Body)
}

// AuthorizationURL generates a PKCE verifier, its S256 challenge and a CSRF
// state, and builds the provider authorization URL.
func (c *Client) AuthorizationURL() (*Authorization, error) {
	verifier := oauth2.GenerateVerifier()
	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:    ClientID,
		RedirectURL: RedirectURI,
		Scopes:      strings.Split(OAuthScope, " "),
		Endpoint: oauth2.Endpoint{
			AuthURL:  AuthorizeURL,
			TokenURL: c.tokenURL,
		},
	}

	authURL := conf.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("code", "true"),
	)

	return &Authorization{
		URL:          authURL,
		CodeVerifier: verifier,
		State:        state,
	}, nil
}

// ExchangeCode trades an authorization code for tokens. The input may be a
// bare code, a code#state compound, or the full callback URL; all three are
// normalized before the exchange. The token endpoint requires a JSON body
// carrying the state when present, so this does not go through
// oauth2.Config.Exchange.
func (c *Client) ExchangeCode(ctx context.Context, input, codeVerifier string) (*TokenSet, error) {
	code, state := ParseAuthorizationInput(input)
	if code == "" {
		return nil, fmt.Errorf("authorization code input is empty")
	}

	body := map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     ClientID,
		"redirect_uri":  RedirectURI,
		"code_verifier": codeVerifier,
	}
	if state != "" {
		body["state"] = state
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://claude.ai/")
	req.Header.Set("Origin", "https://claude.ai")

	return c.doTokenRequest(req)
}

// Refresh trades a refresh token for a new access token. The refresh grant
// uses the form encoding the provider expects.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	return c.doTokenRequest(req)
}

func (c *Client) doTokenRequest(req *http.Request) (*TokenSet, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ExchangeError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var tokens TokenSet
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &tokens, nil
}

// ParseAuthorizationInput normalizes the three accepted authorization input
// shapes into a (code, state) pair. State is empty when not present.
func ParseAuthorizationInput(input string) (code, state string) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ""
	}

	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		if u, err := url.Parse(trimmed); err == nil {
			q := u.Query()
			if c := q.Get("code"); c != "" {
				return c, q.Get("state")
			}
		}
		// Fall through for callback URLs that url.Parse rejects.
	}

	if idx := strings.Index(trimmed, "#"); idx != -1 {
		code, state = trimmed[:idx], trimmed[idx+1:]
	} else {
		code = trimmed
	}

	if decoded, err := url.QueryUnescape(code); err == nil {
		code = decoded
	}
	return code, state
}

func randomState() (string, error) {
	// 32 bytes, base64url without padding; the provider rejects shorter states.
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
