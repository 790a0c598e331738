package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/lib/pq"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/model"
)

const (
	uniqueViolation   = "23505"
	numericOutOfRange = "22003"
)

// PostgresLedgerRepository stores the ledger in PostgreSQL. Instructions lock
// the rows they touch with SELECT ... FOR UPDATE.
type PostgresLedgerRepository struct {
	DB *sql.DB
}

var _ LedgerRepositoryInterface = (*PostgresLedgerRepository)(nil)

const campaignColumns = `address, owner, name, description, goal, duration, end_campaign, pledged,
       image_ipfs_hash, is_active, is_canceled, is_withdrawn, created_at, updated_at`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (r *PostgresLedgerRepository) RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&postgresTx{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c                    model.Campaign
		addr, owner          string
		goal, pledged        int64
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&addr, &owner, &c.Name, &c.Description, &goal, &c.Duration, &c.EndCampaign, &pledged,
		&c.ImageIpfsHash, &c.IsActive, &c.IsCanceled, &c.IsWithdrawn, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if c.Address, err = solana.PublicKeyFromBase58(addr); err != nil {
		return nil, fmt.Errorf("campaign address %q: %w", addr, err)
	}
	if c.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return nil, fmt.Errorf("campaign owner %q: %w", owner, err)
	}
	c.Goal = uint64(goal)
	c.Pledged = uint64(pledged)
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = updatedAt.UTC()
	c.Pledgers = []model.Pledger{}
	return &c, nil
}

// loadPledgers fills the pledger lists of campaigns with one query.
func loadPledgers(ctx context.Context, q queryer, campaigns []*model.Campaign) error {
	if len(campaigns) == 0 {
		return nil
	}
	byAddr := make(map[string]*model.Campaign, len(campaigns))
	addrs := make([]string, 0, len(campaigns))
	for _, c := range campaigns {
		key := c.Address.String()
		byAddr[key] = c
		addrs = append(addrs, key)
	}
	rows, err := q.QueryContext(ctx, `
        SELECT campaign, pledger_pubkey, pledged_amount
        FROM pledgers
        WHERE campaign = ANY($1)
        ORDER BY campaign, position`, pq.Array(addrs))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var campaign, pledger string
		var amount int64
		if err := rows.Scan(&campaign, &pledger, &amount); err != nil {
			return err
		}
		pk, err := solana.PublicKeyFromBase58(pledger)
		if err != nil {
			return fmt.Errorf("pledger %q: %w", pledger, err)
		}
		c := byAddr[campaign]
		c.Pledgers = append(c.Pledgers, model.Pledger{PledgerPubkey: pk, PledgedAmount: uint64(amount)})
	}
	return rows.Err()
}

func (r *PostgresLedgerRepository) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}
	argPos := 1

	if !filter.Owner.IsZero() {
		query += fmt.Sprintf(" AND owner=$%d", argPos)
		args = append(args, filter.Owner.String())
		argPos++
	}
	if !filter.Pledger.IsZero() {
		query += fmt.Sprintf(" AND address IN (SELECT campaign FROM pledgers WHERE pledger_pubkey=$%d)", argPos)
		args = append(args, filter.Pledger.String())
	}
	query += " ORDER BY address"

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadPledgers(ctx, r.DB, campaigns); err != nil {
		return nil, err
	}
	return campaigns, nil
}

func getCampaign(ctx context.Context, q queryer, addr solana.PublicKey, forUpdate bool) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE address=$1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	c, err := scanCampaign(q.QueryRowContext(ctx, query, addr.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(addr.String())
		}
		return nil, err
	}
	if err := loadPledgers(ctx, q, []*model.Campaign{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresLedgerRepository) GetCampaign(ctx context.Context, addr solana.PublicKey) (*model.Campaign, error) {
	return getCampaign(ctx, r.DB, addr, false)
}

func (r *PostgresLedgerRepository) ListAdmins(ctx context.Context) ([]*model.Admin, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT address, admin_pubkey FROM admins ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	admins := []*model.Admin{}
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, err
		}
		admins = append(admins, a)
	}
	return admins, rows.Err()
}

func scanAdmin(row rowScanner) (*model.Admin, error) {
	var addr, admin string
	if err := row.Scan(&addr, &admin); err != nil {
		return nil, err
	}
	a := &model.Admin{}
	var err error
	if a.Address, err = solana.PublicKeyFromBase58(addr); err != nil {
		return nil, err
	}
	if a.AdminPubkey, err = solana.PublicKeyFromBase58(admin); err != nil {
		return nil, err
	}
	return a, nil
}

func getBalance(ctx context.Context, q queryer, addr solana.PublicKey, forUpdate bool) (uint64, error) {
	query := `SELECT lamports FROM balances WHERE address=$1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var lamports int64
	err := q.QueryRowContext(ctx, query, addr.String()).Scan(&lamports)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(lamports), nil
}

func (r *PostgresLedgerRepository) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	return getBalance(ctx, r.DB, addr, false)
}

func (r *PostgresLedgerRepository) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]*model.LedgerEvent, error) {
	query := `
        SELECT seq, id, instruction, signer, campaign, amount, signature, created_at
        FROM ledger_events
        WHERE seq > $1
        ORDER BY seq`
	args := []any{afterSeq}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*model.LedgerEvent{}
	for rows.Next() {
		var (
			ev               model.LedgerEvent
			signer, campaign string
			amount           int64
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.Instruction, &signer, &campaign, &amount, &ev.Signature, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if ev.Signer, err = solana.PublicKeyFromBase58(signer); err != nil {
			return nil, err
		}
		if campaign != "" {
			if ev.Campaign, err = solana.PublicKeyFromBase58(campaign); err != nil {
				return nil, err
			}
		}
		ev.Amount = uint64(amount)
		ev.CreatedAt = ev.CreatedAt.UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (r *PostgresLedgerRepository) Close() error {
	return r.DB.Close()
}

type postgresTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *postgresTx) GetCampaign(addr solana.PublicKey) (*model.Campaign, error) {
	return getCampaign(t.ctx, t.tx, addr, true)
}

func (t *postgresTx) CreateCampaign(c *model.Campaign) error {
	_, err := t.tx.ExecContext(t.ctx, `
        INSERT INTO campaigns (address, owner, name, description, goal, duration, end_campaign, pledged,
                               image_ipfs_hash, is_active, is_canceled, is_withdrawn, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.Address.String(), c.Owner.String(), c.Name, c.Description, int64(c.Goal), c.Duration, c.EndCampaign,
		int64(c.Pledged), c.ImageIpfsHash, c.IsActive, c.IsCanceled, c.IsWithdrawn, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return appErrors.ErrCampaignExists
	}
	return err
}

// SaveCampaign rewrites the campaign row and its pledger list.
func (t *postgresTx) SaveCampaign(c *model.Campaign) error {
	res, err := t.tx.ExecContext(t.ctx, `
        UPDATE campaigns
        SET pledged=$2, is_active=$3, is_canceled=$4, is_withdrawn=$5, updated_at=$6
        WHERE address=$1`,
		c.Address.String(), int64(c.Pledged), c.IsActive, c.IsCanceled, c.IsWithdrawn, c.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(c.Address.String())
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM pledgers WHERE campaign=$1`, c.Address.String()); err != nil {
		return err
	}
	if len(c.Pledgers) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO pledgers (campaign, pledger_pubkey, pledged_amount, position) VALUES `)
	args := make([]any, 0, len(c.Pledgers)*4)
	for i, p := range c.Pledgers {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, c.Address.String(), p.PledgerPubkey.String(), int64(p.PledgedAmount), i)
	}
	_, err = t.tx.ExecContext(t.ctx, sb.String(), args...)
	return err
}

func (t *postgresTx) GetAdmin(addr solana.PublicKey) (*model.Admin, error) {
	a, err := scanAdmin(t.tx.QueryRowContext(t.ctx,
		`SELECT address, admin_pubkey FROM admins WHERE address=$1 FOR UPDATE`, addr.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.ErrAdminNotFound
	}
	return a, err
}

func (t *postgresTx) CreateAdmin(a *model.Admin) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO admins (address, admin_pubkey) VALUES ($1, $2)`,
		a.Address.String(), a.AdminPubkey.String())
	if isUniqueViolation(err) {
		return appErrors.ErrAdminExists
	}
	return err
}

func (t *postgresTx) SaveAdmin(a *model.Admin) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE admins SET admin_pubkey=$2, updated_at=NOW() WHERE address=$1`,
		a.Address.String(), a.AdminPubkey.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.ErrAdminNotFound
	}
	return nil
}

func (t *postgresTx) Balance(addr solana.PublicKey) (uint64, error) {
	return getBalance(t.ctx, t.tx, addr, true)
}

func (t *postgresTx) Transfer(from, to solana.PublicKey, lamports uint64) error {
	if lamports > MaxBalance {
		return fmt.Errorf("%w: %s cannot cover %d lamports", appErrors.ErrInsufficientFunds, from, lamports)
	}
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE balances SET lamports = lamports - $2 WHERE address=$1 AND lamports >= $2`,
		from.String(), int64(lamports))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s cannot cover %d lamports", appErrors.ErrInsufficientFunds, from, lamports)
	}
	return t.Credit(to, lamports)
}

func (t *postgresTx) Credit(addr solana.PublicKey, lamports uint64) error {
	if err := checkCredit(addr, 0, lamports); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `
        INSERT INTO balances (address, lamports) VALUES ($1, $2)
        ON CONFLICT (address) DO UPDATE SET lamports = balances.lamports + EXCLUDED.lamports`,
		addr.String(), int64(lamports))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == numericOutOfRange {
		return fmt.Errorf("%w: %s cannot add %d lamports", appErrors.ErrBalanceOverflow, addr, lamports)
	}
	return err
}

func (t *postgresTx) HasSignature(signature string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_events WHERE signature=$1)`, signature).Scan(&exists)
	return exists, err
}

func (t *postgresTx) AppendEvent(ev *model.LedgerEvent) error {
	campaign := ""
	if !ev.Campaign.IsZero() {
		campaign = ev.Campaign.String()
	}
	err := t.tx.QueryRowContext(t.ctx, `
        INSERT INTO ledger_events (id, instruction, signer, campaign, amount, signature, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING seq`,
		ev.ID, ev.Instruction, ev.Signer.String(), campaign, int64(ev.Amount), ev.Signature, ev.CreatedAt,
	).Scan(&ev.Seq)
	if isUniqueViolation(err) {
		return appErrors.ErrReplay
	}
	return err
}
