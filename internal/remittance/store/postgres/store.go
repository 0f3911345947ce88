// Package postgres implements the remittance store on PostgreSQL.
//
// Write transactions take a transaction-scoped advisory lock before touching
// any row, which serializes them globally the same way the in-memory store's
// mutex does. Events are written to the outbox table in the same transaction
// and a NOTIFY wakes the relay once the transaction commits.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"remittance/internal/remittance/events"
	"remittance/internal/remittance/models"
	"remittance/internal/remittance/store"
	id "remittance/pkg/domain"
	"remittance/pkg/platform/sentinel"
	txcontext "remittance/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// OutboxChannel is the LISTEN/NOTIFY channel signalled when events commit.
const OutboxChannel = "remittance_outbox"

// stateLockKey identifies the advisory lock guarding all custody state.
const stateLockKey int64 = 0x72656d6974

// Store implements store.Store and store.Outbox.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Outbox = (*Store)(nil)
)

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.run(ctx, nil, fn)
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	if txcontext.Active(ctx) {
		return sentinel.ErrReentrant
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted before start: %w", err)
	}
	readOnly := opts != nil && opts.ReadOnly

	// database/sql rolls a transaction back when its context ends. Statements
	// still run under ctx, but once fn succeeds the commit must not be lost.
	sqlTx, err := s.db.BeginTx(context.WithoutCancel(ctx), opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if !readOnly {
		if _, err = sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, stateLockKey); err != nil {
			return fmt.Errorf("acquire state lock: %w", err)
		}
	}

	t := &tx{q: sqlTx, readOnly: readOnly}
	if err = fn(txcontext.WithSQL(ctx, sqlTx), t); err != nil {
		return err
	}
	if readOnly {
		// Nothing to commit; release the snapshot.
		err = sqlTx.Rollback()
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("close view: %w", err)
		}
		return nil
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Pending returns unpublished events in commit order.
func (s *Store) Pending(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		event, err := events.Decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

// MarkPublished stamps published_at on the given events.
func (s *Store) MarkPublished(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, eventID := range ids {
		keys[i] = eventID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET published_at = now()
		WHERE id = ANY($1::uuid[]) AND published_at IS NULL
	`, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

type tx struct {
	q        *sql.Tx
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return sentinel.ErrReadOnly
	}
	return nil
}

func (t *tx) Account(ctx context.Context, addr id.Address) (*models.Account, error) {
	acct := models.NewAccount(addr)
	var tier, kycStatus int16
	var balance, used, epoch, unbacked int64
	err := t.q.QueryRowContext(ctx, `
		SELECT tier, kyc_status, whitelisted, blacklisted, frozen,
		       escrowed_balance, today_used, limit_day, escrow_epoch, unbacked_balance
		FROM accounts
		WHERE address = $1
	`, addr.Hex()).Scan(&tier, &kycStatus, &acct.Whitelisted, &acct.Blacklisted, &acct.Frozen,
		&balance, &used, &acct.LimitDay, &epoch, &unbacked)
	if errors.Is(err, sql.ErrNoRows) {
		return acct, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	acct.Tier = models.Tier(tier)
	acct.KYCStatus = models.KYCStatus(kycStatus)
	acct.EscrowedBalance = uint64(balance)
	acct.TodayUsed = uint64(used)
	acct.EscrowEpoch = uint64(epoch)
	acct.Unbacked = uint64(unbacked)
	return acct, nil
}

func (t *tx) SaveAccount(ctx context.Context, acct *models.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := checkAmount(acct.EscrowedBalance, acct.TodayUsed, acct.Unbacked, acct.EscrowEpoch); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO accounts (address, tier, kyc_status, whitelisted, blacklisted, frozen,
		                      escrowed_balance, today_used, limit_day, escrow_epoch, unbacked_balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (address) DO UPDATE SET
			tier = EXCLUDED.tier,
			kyc_status = EXCLUDED.kyc_status,
			whitelisted = EXCLUDED.whitelisted,
			blacklisted = EXCLUDED.blacklisted,
			frozen = EXCLUDED.frozen,
			escrowed_balance = EXCLUDED.escrowed_balance,
			today_used = EXCLUDED.today_used,
			limit_day = EXCLUDED.limit_day,
			escrow_epoch = EXCLUDED.escrow_epoch,
			unbacked_balance = EXCLUDED.unbacked_balance
	`, acct.Address.Hex(), int16(acct.Tier), int16(acct.KYCStatus), acct.Whitelisted, acct.Blacklisted,
		acct.Frozen, int64(acct.EscrowedBalance), int64(acct.TodayUsed), acct.LimitDay,
		int64(acct.EscrowEpoch), int64(acct.Unbacked))
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (t *tx) KYCRequest(ctx context.Context, addr id.Address) (*models.KYCRequest, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT address, document_hash, submitted_at, first_submitted_at, status, rejection_reason
		FROM kyc_requests
		WHERE address = $1
	`, addr.Hex())
	req, err := scanKYCRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find kyc request: %w", err)
	}
	return req, nil
}

func (t *tx) SaveKYCRequest(ctx context.Context, req *models.KYCRequest) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO kyc_requests (address, document_hash, submitted_at, first_submitted_at, status, rejection_reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			document_hash = EXCLUDED.document_hash,
			submitted_at = EXCLUDED.submitted_at,
			first_submitted_at = EXCLUDED.first_submitted_at,
			status = EXCLUDED.status,
			rejection_reason = EXCLUDED.rejection_reason
	`, req.Address.Hex(), req.DocumentHash, req.SubmittedAt.UTC(), req.FirstSubmittedAt.UTC(),
		int16(req.Status), req.RejectionReason)
	if err != nil {
		return fmt.Errorf("save kyc request: %w", err)
	}
	return nil
}

func (t *tx) KYCRequests(ctx context.Context) ([]*models.KYCRequest, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT address, document_hash, submitted_at, first_submitted_at, status, rejection_reason
		FROM kyc_requests
		ORDER BY first_submitted_at, address
	`)
	if err != nil {
		return nil, fmt.Errorf("list kyc requests: %w", err)
	}
	defer rows.Close()

	var out []*models.KYCRequest
	for rows.Next() {
		req, err := scanKYCRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kyc request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kyc requests: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKYCRequest(row rowScanner) (*models.KYCRequest, error) {
	var (
		req    models.KYCRequest
		addr   string
		status int16
	)
	if err := row.Scan(&addr, &req.DocumentHash, &req.SubmittedAt, &req.FirstSubmittedAt, &status, &req.RejectionReason); err != nil {
		return nil, err
	}
	parsed, err := id.ParseAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("stored kyc address %q: %w", addr, err)
	}
	req.Address = parsed
	req.Status = models.KYCStatus(status)
	req.SubmittedAt = req.SubmittedAt.UTC()
	req.FirstSubmittedAt = req.FirstSubmittedAt.UTC()
	return &req, nil
}

func (t *tx) TierLimits(ctx context.Context) (models.TierLimitTable, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT tier, daily_limit FROM tier_limits`)
	if err != nil {
		return nil, fmt.Errorf("list tier limits: %w", err)
	}
	defer rows.Close()

	table := make(models.TierLimitTable)
	for rows.Next() {
		var tier int16
		var limit int64
		if err := rows.Scan(&tier, &limit); err != nil {
			return nil, fmt.Errorf("scan tier limit: %w", err)
		}
		table[models.Tier(tier)] = uint64(limit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tier limits: %w", err)
	}
	return table, nil
}

func (t *tx) SaveTierLimit(ctx context.Context, tier models.Tier, limit uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := checkAmount(limit); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO tier_limits (tier, daily_limit) VALUES ($1, $2)
		ON CONFLICT (tier) DO UPDATE SET daily_limit = EXCLUDED.daily_limit
	`, int16(tier), int64(limit))
	if err != nil {
		return fmt.Errorf("save tier limit: %w", err)
	}
	return nil
}

func (t *tx) System(ctx context.Context) (*models.SystemState, error) {
	var (
		sys       models.SystemState
		owner     string
		custodied int64
		epoch     int64
	)
	err := t.q.QueryRowContext(ctx, `SELECT owner, paused, custodied, epoch FROM system_state WHERE id = 1`).
		Scan(&owner, &sys.Paused, &custodied, &epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load system state: %w", err)
	}
	parsed, err := id.ParseAddress(owner)
	if err != nil {
		return nil, fmt.Errorf("stored owner %q: %w", owner, err)
	}
	sys.Owner = parsed
	sys.Custodied = uint64(custodied)
	sys.Epoch = uint64(epoch)
	return &sys, nil
}

func (t *tx) SaveSystem(ctx context.Context, sys *models.SystemState) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := checkAmount(sys.Custodied, sys.Epoch); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO system_state (id, owner, paused, custodied, epoch) VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			paused = EXCLUDED.paused,
			custodied = EXCLUDED.custodied,
			epoch = EXCLUDED.epoch
	`, sys.Owner.Hex(), sys.Paused, int64(sys.Custodied), int64(sys.Epoch))
	if err != nil {
		return fmt.Errorf("save system state: %w", err)
	}
	return nil
}

func (t *tx) Append(ctx context.Context, evts ...events.Event) error {
	if err := t.writable(); err != nil {
		return err
	}
	if len(evts) == 0 {
		return nil
	}
	for _, event := range evts {
		payload, err := events.Encode(event)
		if err != nil {
			return err
		}
		createdAt := event.OccurredAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err = t.q.ExecContext(ctx, `
			INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, event.ID.String(), "account", event.Subject.Hex(), string(event.Kind), payload, createdAt)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
	}
	// Delivered to listeners only when the transaction commits.
	if _, err := t.q.ExecContext(ctx, `SELECT pg_notify($1, '')`, OutboxChannel); err != nil {
		return fmt.Errorf("notify outbox: %w", err)
	}
	return nil
}

// checkAmount refuses values that do not fit a BIGINT column.
func checkAmount(values ...uint64) error {
	for _, v := range values {
		if v > models.MaxAmount {
			return fmt.Errorf("amount %d exceeds storage range", v)
		}
	}
	return nil
}
