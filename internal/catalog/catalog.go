package catalog

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/segyhp/library-engine/internal/domain"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
	"github.com/segyhp/library-engine/pkg/utils"
)

// Catalog resolves a book id to the metadata snapshotted onto a loan.
// Implementations return apperrors.ErrBookNotFound for unknown ids.
type Catalog interface {
	Lookup(ctx context.Context, bookID string) (*domain.BookSnapshot, error)
}

// StatusError is a non-success answer from the catalog API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog responded with status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when repeated.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTransient reports whether a lookup error is worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, apperrors.ErrBookNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

type retrying struct {
	next   Catalog
	policy utils.RetryPolicy
}

// WithRetry retries transient lookup failures with exponential backoff.
func WithRetry(next Catalog, policy utils.RetryPolicy) Catalog {
	return &retrying{next: next, policy: policy}
}

func (r *retrying) Lookup(ctx context.Context, bookID string) (*domain.BookSnapshot, error) {
	var book *domain.BookSnapshot
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		found, err := r.next.Lookup(ctx, bookID)
		if err != nil {
			return err
		}
		book = found
		return nil
	}, IsTransient)
	if err != nil {
		return nil, err
	}
	return book, nil
}
