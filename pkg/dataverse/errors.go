package dataverse

import (
	"errors"
	"fmt"

	"github.com/fieldline-inc/fieldline-engine/pkg/apperrors"
)

// NotFoundError is returned for HTTP 404 responses. Callers translate it to
// an absent/optional result where their semantics allow.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dataverse: %s: %v", e.Path, apperrors.ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return apperrors.ErrNotFound }

// RemoteError is returned for any other non-2xx response. The body is
// truncated but preserved for diagnostics.
type RemoteError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("dataverse: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// IsNotFound reports whether err represents a vendor 404.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) || errors.Is(err, apperrors.ErrNotFound)
}
