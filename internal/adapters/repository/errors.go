package repository

import (
	"errors"
	"fmt"

	"github.com/okian/putmeon/internal/domain/errs"
)

// Sentinel errors. Each one also matches its errs kind.
var (
	ErrNotFound        = fmt.Errorf("document %w", errs.ErrNotFound)
	ErrVersionMismatch = fmt.Errorf("version mismatch: %w", errs.ErrConflict)
	ErrConnClosed      = fmt.Errorf("connection closed: %w", errs.ErrTransport)
	ErrStoreClosed     = fmt.Errorf("store closed: %w", errs.ErrTransport)
	ErrInvalidPath     = errors.New("invalid document path")
)
