package domain

import (
	"errors"
	"fmt"
)

// --- ERREURS DU DOMAINE ---
var (
	ErrNotFound            = errors.New("referenced entity not found")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidCursor       = errors.New("invalid cursor")
	ErrUnsupportedActivity = errors.New("unsupported activity")
	ErrDependency          = errors.New("dependency failure")

	// Famille InvalidOperation
	ErrSelfFollow = fmt.Errorf("%w: cannot follow or unfollow yourself", ErrInvalidOperation)
	ErrForbidden  = fmt.Errorf("%w: identity does not match resource owner", ErrInvalidOperation)
)

// NotFound précise quelle entité manque, tout en restant errors.Is(err, ErrNotFound).
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Dependency enveloppe une panne de cache ou de store.
func Dependency(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrDependency, err)
}
