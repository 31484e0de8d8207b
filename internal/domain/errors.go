package domain

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by stores
// and services to communicate domain-specific error conditions.
// -----------------------------------------------------------------------------

// Roster errors
var (
	ErrTeacherNotFound    = fmt.Errorf("teacher %w", ErrNotFound)
	ErrClassNotFound      = fmt.Errorf("class %w", ErrNotFound)
	ErrStudentNotFound    = fmt.Errorf("student %w", ErrNotFound)
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrInvalidStatus      = errors.New("invalid student status")
	ErrStudentDenied      = errors.New("student access denied")
	ErrInvalidMasterKey   = errors.New("invalid master key")
	ErrInvalidClassCode   = errors.New("invalid class code")
	ErrInvalidObserverKey = errors.New("invalid observer key")
)

// Catalog errors
var (
	ErrCatalogNotFound = fmt.Errorf("catalog %w", ErrNotFound)
	ErrMissionNotFound = fmt.Errorf("mission %w", ErrNotFound)
	ErrInvalidCatalog  = errors.New("invalid catalog")
	ErrInvalidTier     = errors.New("invalid tier")
	ErrInvalidPasscode = errors.New("invalid passcode")
)

// Progress errors
var (
	ErrProgressNotFound = fmt.Errorf("progress %w", ErrNotFound)
	ErrTierLocked       = errors.New("tier locked")
)

// General errors
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrPermissionDenied = errors.New("permission denied")
)
