package apperrors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAuth           = errors.New("authentication failed")
	ErrWritesDisabled = errors.New("writes are disabled for this deployment")
	ErrActionMissing  = errors.New("action does not exist in this org")
	ErrInvalidWindow  = errors.New("invalid availability window")
)
