// Package auth acquires OAuth2 bearer tokens for SharePoint from the
// Microsoft identity platform. Both supported flows are non-interactive:
// client credentials (application flow) and resource owner password
// (delegated flow). Tokens are cached in memory and refreshed before
// expiry; concurrent callers share a single refresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tonimelisma/sharepoint-go/internal/sperr"
)

// Well-known public client used for username/password sign-in when no
// application registration is configured.
const defaultClientID = "1b730954-1685-4b74-9bfd-dac224a7b894"

// defaultAuthority is the Microsoft identity platform base URL.
const defaultAuthority = "https://login.microsoftonline.com"

// Token lifecycle and retry constants.
const (
	// expirySkew refreshes tokens this long before their stated expiry so
	// that in-flight requests never carry a token about to lapse.
	expirySkew = 2 * time.Minute

	maxRetries     = 2
	baseBackoff    = 1 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// Flow identifies which credential flow authenticates requests.
type Flow int

const (
	// FlowApp is the client-credentials flow (app registration).
	FlowApp Flow = iota + 1
	// FlowDelegated is the resource-owner password flow (user account).
	FlowDelegated
)

func (f Flow) String() string {
	switch f {
	case FlowApp:
		return "application"
	case FlowDelegated:
		return "delegated"
	default:
		return "unknown"
	}
}

// PickFlow selects the credential flow from the configured fields.
// A complete client_id/client_secret pair always wins; username/password
// fields are not consulted in that case. With neither pair complete the
// configuration is rejected.
func PickFlow(clientID, clientSecret, username, password string) (Flow, error) {
	if clientID != "" && clientSecret != "" {
		return FlowApp, nil
	}

	if username != "" && password != "" {
		return FlowDelegated, nil
	}

	return 0, fmt.Errorf("%w: need client_id+client_secret or username+password", sperr.ErrConfig)
}

// Options carries everything needed to build a token source.
type Options struct {
	Flow     Flow
	Tenant   string // short tenant name, {tenant}.sharepoint.com
	TenantID string // directory GUID; {tenant}.onmicrosoft.com when empty

	ClientID     string
	ClientSecret string
	Username     string
	Password     string

	// AuthorityURL overrides the identity platform base URL. Tests point
	// this at a local server.
	AuthorityURL string
}

// authorityTenant returns the tenant path segment of the token endpoint.
func (o Options) authorityTenant() string {
	if o.TenantID != "" {
		return o.TenantID
	}

	return o.Tenant + ".onmicrosoft.com"
}

// tokenURL returns the v2.0 token endpoint for the tenant.
func (o Options) tokenURL() string {
	base := o.AuthorityURL
	if base == "" {
		base = defaultAuthority
	}

	return strings.TrimSuffix(base, "/") + "/" + o.authorityTenant() + "/oauth2/v2.0/token"
}

// scope returns the SharePoint resource scope for the tenant.
func (o Options) scope() string {
	return fmt.Sprintf("https://%s.sharepoint.com/.default", o.Tenant)
}

// Source produces bearer tokens for the REST client. It caches the
// current token and performs a single refresh even under concurrent use.
type Source struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

// New builds a token Source for the configured flow. No token request is
// made until the first call to Token. httpClient carries the transport
// used for token requests; nil means http.DefaultClient.
func New(opts Options, httpClient *http.Client, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	// Token refresh outlives any single operation, so the oauth2 machinery
	// is bound to the background context with the injected transport.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	var fetch oauth2.TokenSource

	switch opts.Flow {
	case FlowApp:
		cfg := &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.tokenURL(),
			Scopes:       []string{opts.scope()},
			// The identity platform takes credentials in the POST body.
			// Pinning the style also stops the oauth2 probe from sending
			// a second request on failure.
			AuthStyle: oauth2.AuthStyleInParams,
		}
		fetch = &appSource{ctx: ctx, cfg: cfg}
	case FlowDelegated:
		clientID := opts.ClientID
		if clientID == "" {
			clientID = defaultClientID
		}

		cfg := &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  opts.tokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{opts.scope()},
		}
		fetch = &passwordSource{
			ctx:      ctx,
			cfg:      cfg,
			username: opts.Username,
			password: opts.Password,
		}
	default:
		return nil, fmt.Errorf("%w: no credential flow selected", sperr.ErrConfig)
	}

	retrying := &retrySource{
		src:       fetch,
		logger:    logger,
		sleepFunc: timeSleep,
	}

	logger.Debug("token source configured",
		slog.String("flow", opts.Flow.String()),
		slog.String("tenant", opts.authorityTenant()),
	)

	return &Source{
		src:    oauth2.ReuseTokenSourceWithExpiry(nil, retrying, expirySkew),
		logger: logger,
	}, nil
}

// Token returns a currently valid access token, authenticating or
// refreshing as needed.
func (s *Source) Token() (string, error) {
	tok, err := s.src.Token()
	if err != nil {
		s.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", err
	}

	s.logger.Debug("token acquired", slog.Time("expiry", tok.Expiry))

	return tok.AccessToken, nil
}

// appSource performs a fresh client-credentials grant on every call.
// Caching happens once, in the reuse source above it; the grant itself
// must not cache or the expiry skew would not be honored.
type appSource struct {
	ctx context.Context
	cfg *clientcredentials.Config
}

func (a *appSource) Token() (*oauth2.Token, error) {
	return a.cfg.Token(a.ctx)
}

// passwordSource performs a fresh resource-owner password grant on every
// call. The reuse cache above it makes grants rare.
type passwordSource struct {
	ctx      context.Context
	cfg      *oauth2.Config
	username string
	password string
}

func (p *passwordSource) Token() (*oauth2.Token, error) {
	return p.cfg.PasswordCredentialsToken(p.ctx, p.username, p.password)
}

// retrySource retries token requests that failed in transit. A definitive
// rejection from the identity service is returned immediately as ErrAuth;
// retrying rejected credentials would only repeat the rejection.
type retrySource struct {
	src       oauth2.TokenSource
	logger    *slog.Logger
	sleepFunc func(ctx context.Context, d time.Duration) error
}

func (r *retrySource) Token() (*oauth2.Token, error) {
	var attempt int

	for {
		tok, err := r.src.Token()
		if err == nil {
			return tok, nil
		}

		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && !retryableTokenStatus(rerr.Response.StatusCode) {
			r.logger.Warn("identity service rejected credentials",
				slog.Int("status", rerr.Response.StatusCode),
				slog.String("error_code", rerr.ErrorCode),
			)

			return nil, &sperr.RequestError{
				StatusCode: rerr.Response.StatusCode,
				Message:    tokenErrorMessage(rerr),
				Err:        sperr.ErrAuth,
			}
		}

		if attempt >= maxRetries {
			return nil, fmt.Errorf("%w: token request failed after %d retries: %v", sperr.ErrTransient, maxRetries, err)
		}

		backoff := calcBackoff(attempt)
		r.logger.Warn("retrying token request",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := r.sleepFunc(context.Background(), backoff); sleepErr != nil {
			return nil, fmt.Errorf("%w: token request canceled: %v", sperr.ErrTransient, sleepErr)
		}

		attempt++
	}
}

// retryableTokenStatus reports whether a token endpoint response may
// succeed on retry. Everything else means the credentials were rejected.
func retryableTokenStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// tokenErrorMessage extracts the human-readable part of a token error.
func tokenErrorMessage(rerr *oauth2.RetrieveError) string {
	if rerr.ErrorDescription != "" {
		return rerr.ErrorDescription
	}

	if rerr.ErrorCode != "" {
		return rerr.ErrorCode
	}

	return strings.TrimSpace(string(rerr.Body))
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
