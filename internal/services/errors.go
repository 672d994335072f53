package services

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure for callers.
type Kind string

const (
	KindUnauthorized          Kind = "unauthorized"
	KindNoCredential          Kind = "no_credential"
	KindBadRequest            Kind = "bad_request"
	KindInvalidCredential     Kind = "invalid_credential"
	KindForbidden             Kind = "forbidden"
	KindPermissionCheckFailed Kind = "permission_check_failed"
	KindTemplateNotFound      Kind = "template_not_found"
	KindDirectoryEnsureFailed Kind = "directory_ensure_failed"
	KindWriteFailed           Kind = "write_failed"
	KindVerificationFailed    Kind = "verification_failed"
	KindRemoteError           Kind = "remote_error"
)

// Error is a caller-visible pipeline failure.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindRemoteError when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRemoteError
}
