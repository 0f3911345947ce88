// Package store defines the persistence ports of the remittance engine.
//
// Every mutating operation runs inside RunInTx: the callback validates against
// the state it reads and stages its writes; the writes and the events it appends
// become visible together when the callback returns nil and are discarded when it
// returns an error. Transactions are serialized globally, so every operation
// observes the effects of all operations that committed before it.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"remittance/internal/remittance/events"
	"remittance/internal/remittance/models"
	id "remittance/pkg/domain"
	dErrors "remittance/pkg/domain-errors"
	"remittance/pkg/platform/sentinel"
)

// Tx is the state visible to one transaction.
type Tx interface {
	// Account returns a copy of the record for addr, zero valued if the address
	// has never been referenced.
	Account(ctx context.Context, addr id.Address) (*models.Account, error)
	SaveAccount(ctx context.Context, acct *models.Account) error

	// KYCRequest returns sentinel.ErrNotFound when addr never requested KYC.
	KYCRequest(ctx context.Context, addr id.Address) (*models.KYCRequest, error)
	SaveKYCRequest(ctx context.Context, req *models.KYCRequest) error
	// KYCRequests lists every request ordered by first submission, oldest first.
	KYCRequests(ctx context.Context) ([]*models.KYCRequest, error)

	TierLimits(ctx context.Context) (models.TierLimitTable, error)
	SaveTierLimit(ctx context.Context, tier models.Tier, limit uint64) error

	// System returns sentinel.ErrNotFound before the singleton is bootstrapped.
	System(ctx context.Context) (*models.SystemState, error)
	SaveSystem(ctx context.Context, sys *models.SystemState) error

	// Append stages events in the outbox; they commit with the transaction.
	Append(ctx context.Context, evts ...events.Event) error
}

// Store opens transactions. Both methods reject a ctx that is already inside a
// transaction with sentinel.ErrReentrant. Inside View, every Save and Append
// fails with sentinel.ErrReadOnly.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Outbox exposes committed events that have not been published yet.
type Outbox interface {
	// Pending returns up to limit unpublished events in commit order.
	Pending(ctx context.Context, limit int) ([]events.Event, error)
	MarkPublished(ctx context.Context, ids ...uuid.UUID) error
}

// Translate maps store sentinels onto domain errors. Domain errors and nil pass
// through unchanged.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrReentrant):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, "reentrant call rejected")
	case errors.Is(err, sentinel.ErrReadOnly):
		return dErrors.Wrap(err, dErrors.CodeInternal, "write attempted in read-only view")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "record not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "store unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "store failure")
	}
}
