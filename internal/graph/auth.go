package graph

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/tonimelisma/drivebridge/internal/tokenfile"
)

// Azure AD application registered for the CLI (public client, multi-tenant + personal).
const defaultClientID = "8efac532-bbe7-4bc5-919c-1443ccab860a"

const defaultTenant = "common"

var defaultScopes = []string{
	"offline_access",
	"Files.ReadWrite.All",
	"User.Read",
}

// AuthConfig selects the app registration and where tokens are kept. The
// caller resolves it from configuration so graph/ has no config import.
type AuthConfig struct {
	ClientID string // empty selects the built-in registration
	Tenant   string // empty selects "common"
	Store    tokenfile.Store

	// Endpoint overrides the Microsoft identity endpoint (tests).
	Endpoint *oauth2.Endpoint
}

// oauthConfig builds an oauth2.Config with OnTokenChange wired to persist
// refreshed tokens. meta is captured by the closure so metadata survives
// silent refreshes.
func (a AuthConfig) oauthConfig(meta map[string]string, logger *slog.Logger) *oauth2.Config {
	clientID := a.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}

	tenant := a.Tenant
	if tenant == "" {
		tenant = defaultTenant
	}

	endpoint := microsoft.AzureADEndpoint(tenant)
	if a.Endpoint != nil {
		endpoint = *a.Endpoint
	}

	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   defaultScopes,
		Endpoint: endpoint,
		// Called by ReuseTokenSource after each silent refresh, outside its mutex.
		OnTokenChange: func(tok *oauth2.Token) {
			if err := a.Store.Save(tok, meta); err != nil {
				logger.Warn("failed to persist refreshed token",
					slog.String("store", a.Store.Location()),
					slog.String("error", err.Error()),
				)

				return
			}

			logger.Debug("persisted refreshed token",
				slog.String("store", a.Store.Location()),
				slog.Time("new_expiry", tok.Expiry),
			)
		},
	}
}

// DeviceAuth holds the device code response fields that the CLI displays to the user.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// LoginWithDeviceCode performs the device code flow: it requests a code,
// hands it to display, polls until the user authorizes (respecting ctx) and
// saves the token to auth.Store.
//
// The returned TokenSource is bound to ctx; ctx must outlive it or silent
// refresh fails.
func LoginWithDeviceCode(
	ctx context.Context, auth AuthConfig, display func(DeviceAuth), logger *slog.Logger,
) (TokenSource, error) {
	cfg := auth.oauthConfig(nil, logger)

	logger.Info("starting device code auth flow",
		slog.String("store", auth.Store.Location()),
	)

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: device auth request failed: %w", err)
	}

	display(DeviceAuth{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
	})

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("graph: device code authorization failed: %w", err)
	}

	return saveAndWrap(ctx, auth, cfg, tok, logger)
}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// redirectPath is where the authorization redirect lands. The registered
// redirect URI is "http://localhost"; the v2.0 endpoint ignores the port but
// requires the path to match.
const redirectPath = "/"

// callbackDrainTimeout bounds header reads and the final Shutdown.
const callbackDrainTimeout = 5 * time.Second

// redirect is what the browser brought back: a code or a failure.
type redirect struct {
	code string
	err  error
}

// callbackServer receives the authorization redirect on a loopback port.
// Only the first redirect counts; reloads and stray requests are dropped.
type callbackServer struct {
	state string
	port  int
	srv   *http.Server
	got   chan redirect
}

// listenForRedirect binds 127.0.0.1 on a random port and starts serving.
func listenForRedirect(ctx context.Context, state string, logger *slog.Logger) (*callbackServer, error) {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("graph: binding localhost listener: %w", err)
	}

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		ln.Close()
		return nil, errors.New("graph: listener address is not TCP")
	}

	cs := &callbackServer{state: state, port: addr.Port, got: make(chan redirect, 1)}

	mux := http.NewServeMux()
	mux.Handle("GET "+redirectPath, cs)
	cs.srv = &http.Server{Handler: mux, ReadHeaderTimeout: callbackDrainTimeout}

	go func() {
		err := cs.srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}

		logger.Warn("callback server stopped", slog.String("error", err.Error()))
		cs.finish(redirect{err: fmt.Errorf("graph: callback server error: %w", err)})
	}()

	return cs, nil
}

func (cs *callbackServer) finish(r redirect) {
	select {
	case cs.got <- r:
	default:
	}
}

// ServeHTTP checks the state (CSRF) and captures the authorization code.
func (cs *callbackServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var fail error

	switch {
	case q.Get("state") != cs.state:
		fail = errors.New("graph: OAuth2 state mismatch (possible CSRF)")
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
	case q.Get("error") != "":
		fail = fmt.Errorf("graph: authorization failed: %s: %s", q.Get("error"), q.Get("error_description"))
		http.Error(w, "Authorization failed: "+q.Get("error"), http.StatusBadRequest)
	case q.Get("code") == "":
		fail = errors.New("graph: callback missing authorization code")
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
	}

	if fail != nil {
		cs.finish(redirect{err: fail})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Signed in to drivebridge</h1>"+
		"<p>This tab can be closed now.</p></body></html>")
	cs.finish(redirect{code: q.Get("code")})
}

func (cs *callbackServer) shutdown(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackDrainTimeout)
	defer cancel()

	if err := cs.srv.Shutdown(ctx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// BrowserLogin is an authorization code + PKCE flow in progress. The local
// callback server is already listening; the user has to visit URL.
type BrowserLogin struct {
	auth     AuthConfig
	cfg      *oauth2.Config
	url      string
	verifier string
	callback *callbackServer
	logger   *slog.Logger
	once     sync.Once
}

// StartBrowserLogin binds a localhost callback server on a random port and
// prepares the authorization URL. Call Wait to finish the flow, or Close to
// abandon it.
func StartBrowserLogin(ctx context.Context, auth AuthConfig, logger *slog.Logger) (*BrowserLogin, error) {
	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("graph: generating state token: %w", err)
	}

	cs, err := listenForRedirect(ctx, state, logger)
	if err != nil {
		return nil, err
	}

	cfg := auth.oauthConfig(nil, logger)
	cfg.RedirectURL = "http://localhost:" + strconv.Itoa(cs.port)
	verifier := oauth2.GenerateVerifier()

	logger.Info("browser auth flow started",
		slog.Int("port", cs.port),
		slog.String("store", auth.Store.Location()),
	)

	return &BrowserLogin{
		auth:     auth,
		cfg:      cfg,
		url:      cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)),
		verifier: verifier,
		callback: cs,
		logger:   logger,
	}, nil
}

// URL is the authorization page the user must open.
func (b *BrowserLogin) URL() string {
	return b.url
}

// Wait blocks until the browser redirects back or ctx ends, then exchanges
// the code and saves the token. The callback server is shut down either way.
func (b *BrowserLogin) Wait(ctx context.Context) (TokenSource, error) {
	defer b.Close()

	var r redirect

	select {
	case r = <-b.callback.got:
	case <-ctx.Done():
		return nil, fmt.Errorf("graph: browser auth canceled: %w", ctx.Err())
	}

	if r.err != nil {
		return nil, r.err
	}

	b.logger.Info("received authorization code, exchanging for token")

	tok, err := b.cfg.Exchange(ctx, r.code, oauth2.VerifierOption(b.verifier))
	if err != nil {
		return nil, fmt.Errorf("graph: token exchange failed: %w", err)
	}

	return saveAndWrap(ctx, b.auth, b.cfg, tok, b.logger)
}

// Close shuts the callback server down. Safe to call more than once.
func (b *BrowserLogin) Close() {
	b.once.Do(func() { b.callback.shutdown(b.logger) })
}

// LoginWithBrowser runs the whole browser flow. openURL launches the
// browser; if it fails, the URL is handed to fallback so the user can open
// it manually.
func LoginWithBrowser(
	ctx context.Context, auth AuthConfig, openURL func(string) error, fallback func(string), logger *slog.Logger,
) (TokenSource, error) {
	login, err := StartBrowserLogin(ctx, auth, logger)
	if err != nil {
		return nil, err
	}

	if err := openURL(login.URL()); err != nil {
		logger.Warn("could not open browser", slog.String("error", err.Error()))
		fallback(login.URL())
	}

	return login.Wait(ctx)
}

// randomState returns a hex OAuth2 state value.
func randomState() (string, error) {
	buf := make([]byte, stateTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}

func saveAndWrap(
	ctx context.Context, auth AuthConfig, cfg *oauth2.Config, tok *oauth2.Token, logger *slog.Logger,
) (TokenSource, error) {
	if err := auth.Store.Save(tok, nil); err != nil {
		return nil, fmt.Errorf("graph: saving token: %w", err)
	}

	logger.Info("login successful",
		slog.String("store", auth.Store.Location()),
		slog.Time("expiry", tok.Expiry),
	)

	return &tokenBridge{src: cfg.TokenSource(ctx, tok), logger: logger}, nil
}

// TokenSourceFromStore loads the saved token and returns a TokenSource with
// auto-refresh and auto-persistence. Returns ErrNotLoggedIn when nothing is
// stored. The TokenSource is bound to ctx; pass a long-lived context.
func TokenSourceFromStore(ctx context.Context, auth AuthConfig, logger *slog.Logger) (TokenSource, map[string]string, error) {
	tok, meta, err := auth.Store.Load()
	if err != nil {
		return nil, nil, err
	}

	if tok == nil {
		return nil, nil, ErrNotLoggedIn
	}

	logger.Debug("loaded saved token",
		slog.String("store", auth.Store.Location()),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())),
	)

	src := auth.oauthConfig(meta, logger).TokenSource(ctx, tok)

	return &tokenBridge{src: src, logger: logger}, meta, nil
}

// Logout removes the saved token. Already logged out is not an error.
func Logout(auth AuthConfig, logger *slog.Logger) error {
	if err := auth.Store.Delete(); err != nil {
		return err
	}

	logger.Info("logout: removed saved token",
		slog.String("store", auth.Store.Location()),
	)

	return nil
}

// tokenBridge adapts oauth2.TokenSource to graph.TokenSource. A refresh the
// identity platform rejects means the grant is gone, so it is reported as
// ErrUnauthorized; transport failures pass through unchanged.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))

		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}

		return "", err
	}

	b.logger.Debug("token acquired",
		slog.Time("expiry", t.Expiry),
		slog.Bool("valid", t.Valid()),
	)

	return t.AccessToken, nil
}
