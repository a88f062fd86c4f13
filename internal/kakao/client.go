package kakao

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config carries the OAuth application settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// AuthBaseURL defaults to the public Kakao auth host; overridable for tests.
	AuthBaseURL string
	// APIBaseURL defaults to the public Kakao API host; overridable for tests.
	APIBaseURL string
}

// Client talks to the Kakao OAuth and user API.
type Client struct {
	cfg        Config
	authBase   *url.URL
	apiBase    *url.URL
	httpClient HTTPClient
	logger     *log.Logger
}

// Token is the OAuth token response.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// UserInfo is the subset of the Kakao user profile this service needs.
type UserInfo struct {
	ID         int64
	Nickname   string
	ProfileImg string
}

// NewClient constructs a Kakao client. A nil httpClient gets a 10s-timeout default.
func NewClient(cfg Config, httpClient HTTPClient) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("kakao client id required")
	}
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		return nil, fmt.Errorf("kakao redirect uri required")
	}
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = "https://kauth.kakao.com"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://kapi.kakao.com"
	}
	authBase, err := url.Parse(cfg.AuthBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid kakao auth base URL: %w", err)
	}
	apiBase, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid kakao api base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, authBase: authBase, apiBase: apiBase, httpClient: httpClient}, nil
}

// SetLogger installs an optional debug logger.
func (c *Client) SetLogger(logger *log.Logger) { c.logger = logger }

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// AuthorizeURL returns the browser redirect target for the login flow.
func (c *Client) AuthorizeURL() string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("response_type", "code")
	u := *c.authBase
	u.Path = "/oauth/authorize"
	u.RawQuery = q.Encode()
	return u.String()
}

// ExchangeCode swaps an authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("authorization code required")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.cfg.ClientID)
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("code", code)

	endpoint := *c.authBase
	endpoint.Path = "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logf("event=kakao_token_exchange")
	var token Token
	if err := c.doJSON(req, &token); err != nil {
		return nil, fmt.Errorf("kakao token exchange: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("kakao token exchange: empty access token")
	}
	return &token, nil
}

// FetchUser loads the profile of the token's owner.
func (c *Client) FetchUser(ctx context.Context, accessToken string) (*UserInfo, error) {
	endpoint := *c.apiBase
	endpoint.Path = "/v2/user/me"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var payload struct {
		ID         int64 `json:"id"`
		Properties struct {
			Nickname     string `json:"nickname"`
			ProfileImage string `json:"profile_image"`
		} `json:"properties"`
	}
	c.logf("event=kakao_user_fetch")
	if err := c.doJSON(req, &payload); err != nil {
		return nil, fmt.Errorf("kakao user fetch: %w", err)
	}
	if payload.ID == 0 {
		return nil, fmt.Errorf("kakao user fetch: missing user id")
	}
	return &UserInfo{ID: payload.ID, Nickname: payload.Properties.Nickname, ProfileImg: payload.Properties.ProfileImage}, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		var errPayload struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
			Msg              string `json:"msg"`
		}
		if err := json.Unmarshal(data, &errPayload); err == nil {
			if errPayload.ErrorDescription != "" {
				return fmt.Errorf("status %d: %s", resp.StatusCode, errPayload.ErrorDescription)
			}
			if errPayload.Error != "" {
				return fmt.Errorf("status %d: %s", resp.StatusCode, errPayload.Error)
			}
			if errPayload.Msg != "" {
				return fmt.Errorf("status %d: %s", resp.StatusCode, errPayload.Msg)
			}
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
