package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	"workflow-provisioner/internal/config"
)

// Headers set by the upstream OAuth proxy.
const (
	HeaderForwardedEmail = "X-Forwarded-Email"
	HeaderForwardedUser  = "X-Forwarded-User"
	HeaderForwardedToken = "X-Forwarded-Access-Token"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Principal is the caller of an operation and the delegated credential it
// acts with. Either field may be empty; the provisioning pipeline decides
// what that means.
type Principal struct {
	Actor string
	Token *oauth2.Token
}

// AccessToken returns the raw delegated token, or "" if there is none.
func (p Principal) AccessToken() string {
	if p.Token == nil {
		return ""
	}
	return p.Token.AccessToken
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Auth extracts principals from requests forwarded by an OAuth proxy. In DEV
// with the bypass enabled it injects a fixed development principal instead.
type Auth struct {
	logger     Logger
	devMode    bool
	authBypass bool
	devActor   string
	devToken   string
}

// New creates a new Auth object using values from the application
// configuration.
func New(cfg *config.Config, logger Logger) *Auth {
	isDev := cfg.IsDev()
	shouldBypass := isDev && cfg.DevModeBypass
	if shouldBypass && logger != nil {
		logger.Info("auth bypass enabled", "actor", cfg.DevActor)
	}
	return &Auth{
		logger:     logger,
		devMode:    isDev,
		authBypass: shouldBypass,
		devActor:   cfg.DevActor,
		devToken:   cfg.DevToken,
	}
}

// PrincipalFromRequest builds the principal for r. It never fails; missing
// headers leave the corresponding field empty.
func (a *Auth) PrincipalFromRequest(r *http.Request) Principal {
	if a.authBypass {
		p := Principal{Actor: a.devActor}
		if a.devToken != "" {
			p.Token = &oauth2.Token{AccessToken: a.devToken, TokenType: "Bearer"}
		}
		return p
	}

	actor := strings.TrimSpace(r.Header.Get(HeaderForwardedEmail))
	if actor == "" {
		actor = strings.TrimSpace(r.Header.Get(HeaderForwardedUser))
	}

	raw := strings.TrimSpace(r.Header.Get(HeaderForwardedToken))
	if raw == "" {
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			raw = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		}
	}

	p := Principal{Actor: actor}
	if raw != "" {
		p.Token = &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	}
	if a.logger != nil {
		a.logger.Debug("resolved principal", "actor", actor, "has_token", p.Token != nil)
	}
	return p
}

// HTTPContext is a context func for handlers mounted outside echo.
func (a *Auth) HTTPContext(ctx context.Context, r *http.Request) context.Context {
	return WithPrincipal(ctx, a.PrincipalFromRequest(r))
}

// Middleware stores the request principal in the request context.
func (a *Auth) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(a.HTTPContext(req.Context(), req)))
			return next(c)
		}
	}
}
