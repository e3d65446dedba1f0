package apperrors

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrDuplicateName = errors.New("ruleset name already in use within organization")
	ErrNoTenantScope = errors.New("no tenant scope in context")
)
