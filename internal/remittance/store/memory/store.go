// Package memory is the in-process implementation of the remittance store.
// A single mutex serializes transactions; writes are staged on the transaction
// and applied on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"remittance/internal/remittance/events"
	"remittance/internal/remittance/models"
	"remittance/internal/remittance/store"
	id "remittance/pkg/domain"
	"remittance/pkg/platform/sentinel"
	txcontext "remittance/pkg/platform/tx"
)

// defaultTxTimeout bounds a transaction whose ctx carries no deadline.
const defaultTxTimeout = 5 * time.Second

// Store keeps all state in maps guarded by mu.
type Store struct {
	mu       sync.RWMutex
	accounts map[id.Address]*models.Account
	kyc      map[id.Address]*models.KYCRequest
	limits   models.TierLimitTable
	system   *models.SystemState
	outbox   []events.Event
	notify   chan struct{}
	timeout  time.Duration
}

type Option func(*Store)

// WithTxTimeout overrides the default transaction timeout.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates an empty store. The system singleton is absent until the first
// transaction saves it.
func New(opts ...Option) *Store {
	s := &Store{
		accounts: make(map[id.Address]*models.Account),
		kyc:      make(map[id.Address]*models.KYCRequest),
		limits:   make(models.TierLimitTable),
		notify:   make(chan struct{}, 1),
		timeout:  defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Outbox = (*Store)(nil)
)

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(ctx context.Context, tx store.Tx) error) error {
	if txcontext.Active(ctx) {
		return sentinel.ErrReentrant
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted before start: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if readOnly {
		s.mu.RLock()
		defer s.mu.RUnlock()
	} else {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	t := newTx(s, readOnly)
	if err := fn(txcontext.Enter(ctx), t); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	// fn may have moved value out of custody; its success is final.
	t.commit()
	return nil
}

// Pending returns unpublished events in commit order.
func (s *Store) Pending(_ context.Context, limit int) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.outbox)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]events.Event, n)
	copy(out, s.outbox[:n])
	return out, nil
}

// MarkPublished removes the given events from the outbox.
func (s *Store) MarkPublished(_ context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	done := make(map[uuid.UUID]struct{}, len(ids))
	for _, eventID := range ids {
		done[eventID] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.outbox[:0]
	for _, e := range s.outbox {
		if _, ok := done[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	s.outbox = kept
	return nil
}

// Notify signals after every commit that appended events. Signals coalesce.
func (s *Store) Notify() <-chan struct{} {
	return s.notify
}

type tx struct {
	s        *Store
	readOnly bool
	accounts map[id.Address]*models.Account
	kyc      map[id.Address]*models.KYCRequest
	limits   models.TierLimitTable
	system   *models.SystemState
	events   []events.Event
}

func newTx(s *Store, readOnly bool) *tx {
	return &tx{
		s:        s,
		readOnly: readOnly,
		accounts: make(map[id.Address]*models.Account),
		kyc:      make(map[id.Address]*models.KYCRequest),
		limits:   make(models.TierLimitTable),
	}
}

// commit applies staged writes. Callers hold the write lock.
func (t *tx) commit() {
	for addr, acct := range t.accounts {
		t.s.accounts[addr] = acct
	}
	for addr, req := range t.kyc {
		t.s.kyc[addr] = req
	}
	for tier, limit := range t.limits {
		t.s.limits[tier] = limit
	}
	if t.system != nil {
		t.s.system = t.system
	}
	if len(t.events) > 0 {
		t.s.outbox = append(t.s.outbox, t.events...)
		select {
		case t.s.notify <- struct{}{}:
		default:
		}
	}
}

func (t *tx) writable() error {
	if t.readOnly {
		return sentinel.ErrReadOnly
	}
	return nil
}

func (t *tx) Account(_ context.Context, addr id.Address) (*models.Account, error) {
	if acct, ok := t.accounts[addr]; ok {
		return acct.Clone(), nil
	}
	if acct, ok := t.s.accounts[addr]; ok {
		return acct.Clone(), nil
	}
	return models.NewAccount(addr), nil
}

func (t *tx) SaveAccount(_ context.Context, acct *models.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.accounts[acct.Address] = acct.Clone()
	return nil
}

func (t *tx) KYCRequest(_ context.Context, addr id.Address) (*models.KYCRequest, error) {
	if req, ok := t.kyc[addr]; ok {
		return req.Clone(), nil
	}
	if req, ok := t.s.kyc[addr]; ok {
		return req.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *tx) SaveKYCRequest(_ context.Context, req *models.KYCRequest) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.kyc[req.Address] = req.Clone()
	return nil
}

func (t *tx) KYCRequests(_ context.Context) ([]*models.KYCRequest, error) {
	merged := make(map[id.Address]*models.KYCRequest, len(t.s.kyc)+len(t.kyc))
	for addr, req := range t.s.kyc {
		merged[addr] = req
	}
	for addr, req := range t.kyc {
		merged[addr] = req
	}
	out := make([]*models.KYCRequest, 0, len(merged))
	for _, req := range merged {
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSubmittedAt.Equal(out[j].FirstSubmittedAt) {
			return out[i].FirstSubmittedAt.Before(out[j].FirstSubmittedAt)
		}
		return out[i].Address.Hex() < out[j].Address.Hex()
	})
	return out, nil
}

func (t *tx) TierLimits(_ context.Context) (models.TierLimitTable, error) {
	table := t.s.limits.Clone()
	for tier, limit := range t.limits {
		table[tier] = limit
	}
	return table, nil
}

func (t *tx) SaveTierLimit(_ context.Context, tier models.Tier, limit uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.limits[tier] = limit
	return nil
}

func (t *tx) System(_ context.Context) (*models.SystemState, error) {
	if t.system != nil {
		return t.system.Clone(), nil
	}
	if t.s.system != nil {
		return t.s.system.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *tx) SaveSystem(_ context.Context, sys *models.SystemState) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.system = sys.Clone()
	return nil
}

func (t *tx) Append(_ context.Context, evts ...events.Event) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.events = append(t.events, evts...)
	return nil
}
