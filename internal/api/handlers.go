package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"workflow-provisioner/internal/services"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains the operational endpoints of the service.
type Handler struct {
	store   Pinger
	version string
}

// NewHandler creates a new Handler. store may be nil.
func NewHandler(store Pinger, version string) *Handler {
	return &Handler{store: store, version: version}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Store     string    `json:"store,omitempty"`
}

// HandleHealth returns basic health status. It always answers 200; a store
// that cannot be reached is reported as degraded.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "workflow-provisioner",
		Version:   h.version,
	}
	if h.store != nil {
		status.Store = "ok"
		if err := h.store.Ping(c.Request().Context()); err != nil {
			status.Status = "degraded"
			status.Store = err.Error()
		}
	}
	return c.JSON(http.StatusOK, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Kind     string `json:"kind,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// StatusFor maps a pipeline failure kind to an HTTP status code.
func StatusFor(kind services.Kind) int {
	switch kind {
	case services.KindUnauthorized, services.KindNoCredential, services.KindInvalidCredential:
		return http.StatusUnauthorized
	case services.KindBadRequest:
		return http.StatusBadRequest
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindTemplateNotFound:
		return http.StatusNotFound
	case services.KindPermissionCheckFailed, services.KindRemoteError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(c echo.Context, status int, kind, detail string) error {
	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Kind:     kind,
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	c.Response().WriteHeader(status)
	return json.NewEncoder(c.Response()).Encode(problem)
}

// ErrorHandler renders every error returned by a handler as problem details.
func ErrorHandler(logger Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var svcErr *services.Error
		var httpErr *echo.HTTPError
		var writeErr error
		switch {
		case errors.As(err, &svcErr):
			status := StatusFor(svcErr.Kind)
			if status >= http.StatusInternalServerError || status == http.StatusBadGateway {
				logger.Error("request failed", "path", c.Request().URL.Path, "kind", svcErr.Kind, "error", err)
			}
			writeErr = writeError(c, status, string(svcErr.Kind), svcErr.Detail)
		case errors.As(err, &httpErr):
			detail := http.StatusText(httpErr.Code)
			if msg, ok := httpErr.Message.(string); ok {
				detail = msg
			}
			writeErr = writeError(c, httpErr.Code, "", detail)
		default:
			logger.Error("unhandled error", "path", c.Request().URL.Path, "error", err)
			writeErr = writeError(c, http.StatusInternalServerError, "", err.Error())
		}
		if writeErr != nil {
			logger.Error("failed to write error response", "error", writeErr)
		}
	}
}
