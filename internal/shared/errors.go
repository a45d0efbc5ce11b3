package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrScopeMissing indicates the tenant scope was not resolved upstream.
	ErrScopeMissing = errors.New("tenant scope missing from request context")
)
