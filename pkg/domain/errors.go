package domain

import "errors"

// Session and authorization errors.
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrSelectionRequired = errors.New("researcher must select a fisher before recording")
	ErrNotResearcher     = errors.New("only researchers can select a fisher")
	ErrUserNotFound      = errors.New("user not found")
	ErrAccountInactive   = errors.New("account inactive")
)

// Storage errors.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrUnknownDomain    = errors.New("unknown reference data domain")
)
