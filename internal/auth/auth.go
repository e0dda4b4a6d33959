package auth

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rbright/classcal/internal/httpx"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNavigationTimeout    = errors.New("navigation timeout")

	errStaleSession = errors.New("redirect chain did not reach the callback")
)

const (
	defaultTimeout    = 15 * time.Second
	maxLoginPageBytes = 2 << 20
)

type Config struct {
	AuthorizeURL string
	ClientID     string
	RedirectURI  string
	LogoutURL    string
	PublicKeyPEM string

	// ErrorSelector finds the failure message on a rejected login page.
	ErrorSelector string

	// Timeout bounds every single round trip.
	Timeout    time.Duration
	MaxRetries int
}

type Credentials struct {
	Username string
	Password string
}

// Result carries the bearer token and the session it was issued in, which may
// differ from the session passed in when a retry was needed.
type Result struct {
	Token   string
	Session *Session
}

type Authenticator struct {
	cfg    Config
	key    *rsa.PublicKey
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Authenticator, error) {
	if strings.TrimSpace(cfg.AuthorizeURL) == "" {
		return nil, fmt.Errorf("authorize url is required")
	}
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		return nil, fmt.Errorf("redirect uri is required")
	}
	if cfg.PublicKeyPEM == "" {
		cfg.PublicKeyPEM = PortalPublicKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	key, err := ParsePublicKey(cfg.PublicKeyPEM)
	if err != nil {
		return nil, err
	}

	return &Authenticator{cfg: cfg, key: key, logger: logger.Named("oauth")}, nil
}

// Authenticate walks the authorization-code redirect chain until the portal
// hands back a token. A chain that ends anywhere but the callback is retried
// on a fresh session at most MaxRetries times.
func (a *Authenticator) Authenticate(ctx context.Context, session *Session, creds Credentials) (Result, error) {
	if session == nil {
		fresh, err := NewSession()
		if err != nil {
			return Result{}, err
		}
		session = fresh
	}

	for attempt := 0; ; attempt++ {
		a.logger.Debug("start login", zap.String("username", creds.Username), zap.Int("attempt", attempt))

		token, err := a.attempt(ctx, session, creds)
		if err == nil {
			return Result{Token: token, Session: session}, nil
		}
		if !errors.Is(err, errStaleSession) {
			return Result{Session: session}, err
		}
		if attempt >= a.cfg.MaxRetries {
			return Result{Session: session}, fmt.Errorf("%w after %d attempt(s)", ErrAuthenticationFailed, attempt+1)
		}

		a.logger.Info("login failed, clearing session", zap.Int("attempt", attempt))
		session, err = a.Logout(ctx, session)
		if err != nil {
			return Result{}, err
		}
	}
}

// Logout ends the server-side session and returns a fresh one.
func (a *Authenticator) Logout(ctx context.Context, session *Session) (*Session, error) {
	if session != nil && strings.TrimSpace(a.cfg.LogoutURL) != "" {
		resp, err := a.do(ctx, session.following(), http.MethodGet, a.cfg.LogoutURL, nil)
		if err != nil {
			return nil, fmt.Errorf("logout: %w", err)
		}
		httpx.Drain(resp)
	}
	return NewSession()
}

func (a *Authenticator) attempt(ctx context.Context, session *Session, creds Credentials) (string, error) {
	location, err := a.expectRedirect(ctx, session, http.MethodGet, a.authorizeURL(), nil)
	if err != nil {
		return "", fmt.Errorf("authorize: %w", err)
	}
	if a.isCallback(location) {
		a.logger.Info("already logged in")
		return a.extractToken(ctx, session, location)
	}

	page, err := a.fetchLoginPage(ctx, session, location)
	if err != nil {
		return "", err
	}

	encrypted, err := EncryptPassword(a.key, creds.Password)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	for name, value := range page.hidden {
		form.Set(name, value)
	}
	form.Set("username", creds.Username)
	form.Set("password", encrypted)

	next, err := a.submitCredentials(ctx, session, location, form)
	if err != nil {
		return "", err
	}

	final, err := a.expectRedirect(ctx, session, http.MethodGet, next, nil)
	if err != nil {
		return "", fmt.Errorf("follow login redirect: %w", err)
	}
	if !a.isCallback(final) {
		return "", errStaleSession
	}

	a.logger.Info("login succeeded")
	return a.extractToken(ctx, session, final)
}

func (a *Authenticator) fetchLoginPage(ctx context.Context, session *Session, location string) (loginPage, error) {
	resp, err := a.do(ctx, session.client, http.MethodGet, location, nil)
	if err != nil {
		return loginPage{}, fmt.Errorf("login page: %w", err)
	}
	defer httpx.Drain(resp)

	if resp.StatusCode != http.StatusOK {
		return loginPage{}, fmt.Errorf("login page: %w", statusError(resp))
	}
	page, err := parseLoginPage(io.LimitReader(resp.Body, maxLoginPageBytes), a.cfg.ErrorSelector)
	if err != nil {
		return loginPage{}, fmt.Errorf("login page: %w", err)
	}
	return page, nil
}

// submitCredentials posts the login form. A redirect means the portal took
// the form; a page with an error message means it rejected the credentials.
func (a *Authenticator) submitCredentials(ctx context.Context, session *Session, location string, form url.Values) (string, error) {
	resp, err := a.do(ctx, session.client, http.MethodPost, location, form)
	if err != nil {
		return "", fmt.Errorf("submit credentials: %w", err)
	}
	defer httpx.Drain(resp)

	if isRedirect(resp.StatusCode) {
		return resolveLocation(resp)
	}
	if resp.StatusCode == http.StatusOK {
		page, parseErr := parseLoginPage(io.LimitReader(resp.Body, maxLoginPageBytes), a.cfg.ErrorSelector)
		if errors.Is(parseErr, ErrNavigationTimeout) {
			return "", fmt.Errorf("submit credentials: %w", parseErr)
		}
		if parseErr == nil && page.message != "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidCredentials, page.message)
		}
		return "", errStaleSession
	}
	return "", fmt.Errorf("submit credentials: %w", statusError(resp))
}

// extractToken reads token= from the callback URL, following the callback
// when the token only shows up on the page it lands on.
func (a *Authenticator) extractToken(ctx context.Context, session *Session, location string) (string, error) {
	if token := tokenFromURL(location); token != "" {
		return token, nil
	}

	resp, err := a.do(ctx, session.following(), http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("follow callback: %w", err)
	}
	defer httpx.Drain(resp)

	if token := tokenFromURL(resp.Request.URL.String()); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("callback %s carried no token", resp.Request.URL.Redacted())
}

func (a *Authenticator) expectRedirect(ctx context.Context, session *Session, method, target string, form url.Values) (string, error) {
	resp, err := a.do(ctx, session.client, method, target, form)
	if err != nil {
		return "", err
	}
	defer httpx.Drain(resp)

	if !isRedirect(resp.StatusCode) {
		return "", statusError(resp)
	}
	return resolveLocation(resp)
}

func (a *Authenticator) do(ctx context.Context, client *http.Client, method, target string, form url.Values) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", httpx.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if form != nil {
		req.Header.Set("Content-Type", httpx.ContentTypeForm)
		req.Header.Set("Referer", target)
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", ErrNavigationTimeout, method, target)
		}
		return nil, err
	}

	resp.Body = navigationBody{ReadCloser: resp.Body, ctx: ctx, cancel: cancel, target: method + " " + target}
	return resp, nil
}

func (a *Authenticator) authorizeURL() string {
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", a.cfg.ClientID)
	query.Set("redirect_uri", a.cfg.RedirectURI)
	query.Set("scope", "1")

	sep := "?"
	if strings.Contains(a.cfg.AuthorizeURL, "?") {
		sep = "&"
	}
	return a.cfg.AuthorizeURL + sep + query.Encode()
}

func (a *Authenticator) isCallback(location string) bool {
	return strings.HasPrefix(location, a.cfg.RedirectURI)
}

func tokenFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err == nil {
		if token := parsed.Query().Get("token"); token != "" {
			return token
		}
	}

	_, after, found := strings.Cut(raw, "token=")
	if !found {
		return ""
	}
	token, _, _ := strings.Cut(after, "&")
	return token
}

func resolveLocation(resp *http.Response) (string, error) {
	location, err := resp.Location()
	if err != nil {
		return "", fmt.Errorf("redirect without location: %w", err)
	}
	return location.String(), nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func statusError(resp *http.Response) error {
	snippet, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if errors.Is(err, ErrNavigationTimeout) {
		return err
	}
	return &httpx.StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
}

// navigationBody keeps the per-request deadline alive until the body is
// closed and reports a deadline hit mid-read as a navigation timeout.
type navigationBody struct {
	io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
	target string
}

func (b navigationBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(b.ctx.Err(), context.DeadlineExceeded) {
		return n, fmt.Errorf("%w: reading %s: %w", ErrNavigationTimeout, b.target, err)
	}
	return n, err
}

func (b navigationBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
