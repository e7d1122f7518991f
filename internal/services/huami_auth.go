package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	huamiClientID    = "HuaMi"
	huamiAppName     = "com.xiaomi.hm.health"
	huamiAppVersion  = "6.10.5"
	defaultCountry   = "US"
	maxErrorBodySize = 2048
)

// TokenExchangeClient trades a Huami email/password for a long-lived app
// token. It caches nothing: every Exchange performs both round trips.
type TokenExchangeClient struct {
	http       *http.Client
	userAPI    string
	accountAPI string
	logger     *slog.Logger
}

func NewTokenExchangeClient(userAPI, accountAPI string, timeout time.Duration, logger *slog.Logger) *TokenExchangeClient {
	return &TokenExchangeClient{
		http: &http.Client{
			Timeout: timeout,
			// Step one answers with a redirect whose Location carries the code.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAPI:    strings.TrimRight(userAPI, "/"),
		accountAPI: strings.TrimRight(accountAPI, "/"),
		logger:     logger,
	}
}

// Exchange returns the app token and the remote account id.
func (c *TokenExchangeClient) Exchange(ctx context.Context, email, password string) (string, string, error) {
	code, country, err := c.requestAccessCode(ctx, email, password)
	if err != nil {
		return "", "", err
	}

	deviceID, err := newDeviceID()
	if err != nil {
		return "", "", fmt.Errorf("generate device id: %w", err)
	}

	form := url.Values{
		"app_name":     {huamiAppName},
		"app_version":  {huamiAppVersion},
		"code":         {code},
		"country_code": {country},
		"device_id":    {deviceID},
		"device_model": {"phone"},
		"grant_type":   {"access_token"},
		"third_name":   {"huami"},
	}
	endpoint := c.accountAPI + "/v2/client/login"

	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return "", "", &RemoteError{Endpoint: "client login", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", &RemoteError{Endpoint: "client login", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", &AuthError{Message: "invalid email or password", Err: fmt.Errorf("client login status %d", resp.StatusCode)}
	}

	var info struct {
		ErrorCode *json.RawMessage `json:"error_code"`
		TokenInfo struct {
			AppToken string     `json:"app_token"`
			UserID   flexString `json:"user_id"`
		} `json:"token_info"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", "", &RemoteError{Endpoint: "client login", Status: resp.StatusCode, Body: truncate(body), Err: err}
	}
	if info.ErrorCode != nil {
		return "", "", &AuthError{Message: "invalid email or password", Err: fmt.Errorf("client login error_code %s", string(*info.ErrorCode))}
	}
	if info.TokenInfo.AppToken == "" || info.TokenInfo.UserID == "" {
		return "", "", &AuthError{Message: "invalid email or password", Err: fmt.Errorf("client login returned no token")}
	}

	c.logger.Info("huami token exchanged", "country", country)
	return info.TokenInfo.AppToken, string(info.TokenInfo.UserID), nil
}

// requestAccessCode performs step one and reads the short-lived code from the
// redirect. A missing code is final; it is never retried.
func (c *TokenExchangeClient) requestAccessCode(ctx context.Context, email, password string) (string, string, error) {
	form := url.Values{
		"client_id":    {huamiClientID},
		"password":     {password},
		"redirect_uri": {c.userAPI + "/v2/client/login"},
		"token":        {"access"},
	}
	endpoint := fmt.Sprintf("%s/registrations/%s/tokens", c.userAPI, escapeEmail(email))

	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return "", "", &RemoteError{Endpoint: "registration tokens", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 400 {
		return "", "", &AuthError{Message: "invalid email or password", Err: fmt.Errorf("registration tokens status %d", resp.StatusCode)}
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", "", &AuthError{Message: "invalid email or password", Err: fmt.Errorf("registration tokens: no redirect")}
	}
	redirect, err := url.Parse(loc)
	if err != nil {
		return "", "", &AuthError{Message: "invalid email or password", Err: fmt.Errorf("registration tokens: bad redirect: %w", err)}
	}

	q := redirect.Query()
	if q.Has("error") {
		return "", "", &AuthError{Message: "invalid email or password", Err: fmt.Errorf("registration tokens: %s", q.Get("error"))}
	}
	code := q.Get("access")
	if code == "" {
		return "", "", &AuthError{Message: "invalid email or password", Err: fmt.Errorf("registration tokens: no access code")}
	}
	country := q.Get("country_code")
	if country == "" {
		country = defaultCountry
	}
	return code, country, nil
}

func (c *TokenExchangeClient) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.http.Do(req)
}

// newDeviceID returns a locally administered MAC-style identifier.
func newDeviceID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("02:00:00:%02x:%02x:%02x", b[0], b[1], b[2]), nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodySize {
		body = body[:maxErrorBodySize]
	}
	return string(body)
}

// escapeEmail percent-encodes the login for the registrations path. '@' and
// '+' are encoded too; the account service expects %40 and %2B.
func escapeEmail(email string) string {
	return strings.ReplaceAll(url.QueryEscape(email), "+", "%20")
}
