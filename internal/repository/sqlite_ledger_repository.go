package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/model"
)

type campaignRow struct {
	Address       string `gorm:"primaryKey"`
	Owner         string `gorm:"uniqueIndex"`
	Name          string
	Description   string
	Goal          uint64
	Duration      int64
	EndCampaign   int64 `gorm:"index"`
	Pledged       uint64
	ImageIpfsHash string
	IsActive      bool
	IsCanceled    bool
	IsWithdrawn   bool
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (campaignRow) TableName() string { return "campaigns" }

type pledgerRow struct {
	Campaign      string `gorm:"primaryKey"`
	PledgerPubkey string `gorm:"primaryKey;index"`
	PledgedAmount uint64
	Position      int
}

func (pledgerRow) TableName() string { return "pledgers" }

type adminRow struct {
	Address     string `gorm:"primaryKey"`
	AdminPubkey string
}

func (adminRow) TableName() string { return "admins" }

type balanceRow struct {
	Address  string `gorm:"primaryKey"`
	Lamports uint64
}

func (balanceRow) TableName() string { return "balances" }

type eventRow struct {
	Seq         int64  `gorm:"primaryKey;autoIncrement"`
	EventID     string `gorm:"column:id"`
	Instruction string
	Signer      string
	Campaign    string
	Amount      uint64
	Signature   string    `gorm:"uniqueIndex"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
}

func (eventRow) TableName() string { return "ledger_events" }

var sqliteModels = []any{&campaignRow{}, &pledgerRow{}, &adminRow{}, &balanceRow{}, &eventRow{}}

// SqliteLedgerRepository stores the ledger in SQLite through GORM. A single
// connection serializes writers.
type SqliteLedgerRepository struct {
	db *gorm.DB
}

var _ LedgerRepositoryInterface = (*SqliteLedgerRepository)(nil)

// NewSqliteLedgerRepository opens path, or a shared in-memory database when
// path is empty, and migrates the tables.
func NewSqliteLedgerRepository(path string) (*SqliteLedgerRepository, error) {
	dsn := "file::memory:?cache=shared"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), fs.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(sqliteModels...); err != nil {
		return nil, fmt.Errorf("migrate sqlite ledger: %w", err)
	}
	return &SqliteLedgerRepository{db: db}, nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		(err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed"))
}

func (r *SqliteLedgerRepository) RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqliteTx{db: tx})
	})
}

func (row *campaignRow) toModel() (*model.Campaign, error) {
	addr, err := solana.PublicKeyFromBase58(row.Address)
	if err != nil {
		return nil, err
	}
	owner, err := solana.PublicKeyFromBase58(row.Owner)
	if err != nil {
		return nil, err
	}
	return &model.Campaign{
		Address:       addr,
		Owner:         owner,
		Name:          row.Name,
		Description:   row.Description,
		Goal:          row.Goal,
		Duration:      row.Duration,
		EndCampaign:   row.EndCampaign,
		Pledged:       row.Pledged,
		ImageIpfsHash: row.ImageIpfsHash,
		IsActive:      row.IsActive,
		IsCanceled:    row.IsCanceled,
		IsWithdrawn:   row.IsWithdrawn,
		Pledgers:      []model.Pledger{},
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}, nil
}

func newCampaignRow(c *model.Campaign) *campaignRow {
	return &campaignRow{
		Address:       c.Address.String(),
		Owner:         c.Owner.String(),
		Name:          c.Name,
		Description:   c.Description,
		Goal:          c.Goal,
		Duration:      c.Duration,
		EndCampaign:   c.EndCampaign,
		Pledged:       c.Pledged,
		ImageIpfsHash: c.ImageIpfsHash,
		IsActive:      c.IsActive,
		IsCanceled:    c.IsCanceled,
		IsWithdrawn:   c.IsWithdrawn,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func sqliteCampaigns(db *gorm.DB, rows []campaignRow) ([]*model.Campaign, error) {
	campaigns := make([]*model.Campaign, 0, len(rows))
	if len(rows) == 0 {
		return campaigns, nil
	}
	byAddr := make(map[string]*model.Campaign, len(rows))
	addrs := make([]string, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
		byAddr[rows[i].Address] = c
		addrs = append(addrs, rows[i].Address)
	}
	var pledgers []pledgerRow
	if err := db.Where("campaign IN ?", addrs).Order("campaign, position").Find(&pledgers).Error; err != nil {
		return nil, err
	}
	for _, p := range pledgers {
		pk, err := solana.PublicKeyFromBase58(p.PledgerPubkey)
		if err != nil {
			return nil, err
		}
		c := byAddr[p.Campaign]
		c.Pledgers = append(c.Pledgers, model.Pledger{PledgerPubkey: pk, PledgedAmount: p.PledgedAmount})
	}
	return campaigns, nil
}

func (r *SqliteLedgerRepository) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]*model.Campaign, error) {
	db := r.db.WithContext(ctx)
	q := db.Model(&campaignRow{})
	if !filter.Owner.IsZero() {
		q = q.Where("owner = ?", filter.Owner.String())
	}
	if !filter.Pledger.IsZero() {
		sub := db.Model(&pledgerRow{}).Select("campaign").Where("pledger_pubkey = ?", filter.Pledger.String())
		q = q.Where("address IN (?)", sub)
	}
	var rows []campaignRow
	if err := q.Order("address").Find(&rows).Error; err != nil {
		return nil, err
	}
	return sqliteCampaigns(db, rows)
}

func sqliteGetCampaign(db *gorm.DB, addr solana.PublicKey) (*model.Campaign, error) {
	var rows []campaignRow
	if err := db.Where("address = ?", addr.String()).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, appErrors.NewCampaignNotFound(addr.String())
	}
	campaigns, err := sqliteCampaigns(db, rows)
	if err != nil {
		return nil, err
	}
	return campaigns[0], nil
}

func (r *SqliteLedgerRepository) GetCampaign(ctx context.Context, addr solana.PublicKey) (*model.Campaign, error) {
	return sqliteGetCampaign(r.db.WithContext(ctx), addr)
}

func (r *SqliteLedgerRepository) ListAdmins(ctx context.Context) ([]*model.Admin, error) {
	var rows []adminRow
	if err := r.db.WithContext(ctx).Order("address").Find(&rows).Error; err != nil {
		return nil, err
	}
	admins := make([]*model.Admin, 0, len(rows))
	for _, row := range rows {
		a, err := row.toModel()
		if err != nil {
			return nil, err
		}
		admins = append(admins, a)
	}
	return admins, nil
}

func (row adminRow) toModel() (*model.Admin, error) {
	addr, err := solana.PublicKeyFromBase58(row.Address)
	if err != nil {
		return nil, err
	}
	admin, err := solana.PublicKeyFromBase58(row.AdminPubkey)
	if err != nil {
		return nil, err
	}
	return &model.Admin{Address: addr, AdminPubkey: admin}, nil
}

func sqliteBalance(db *gorm.DB, addr solana.PublicKey) (uint64, error) {
	var rows []balanceRow
	if err := db.Where("address = ?", addr.String()).Limit(1).Find(&rows).Error; err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Lamports, nil
}

func (r *SqliteLedgerRepository) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	return sqliteBalance(r.db.WithContext(ctx), addr)
}

func (r *SqliteLedgerRepository) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]*model.LedgerEvent, error) {
	q := r.db.WithContext(ctx).Where("seq > ?", afterSeq).Order("seq")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []eventRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]*model.LedgerEvent, 0, len(rows))
	for _, row := range rows {
		ev := &model.LedgerEvent{
			Seq:         row.Seq,
			Instruction: row.Instruction,
			Amount:      row.Amount,
			Signature:   row.Signature,
			CreatedAt:   row.CreatedAt.UTC(),
		}
		var err error
		if ev.ID, err = uuid.Parse(row.EventID); err != nil {
			return nil, err
		}
		if ev.Signer, err = solana.PublicKeyFromBase58(row.Signer); err != nil {
			return nil, err
		}
		if row.Campaign != "" {
			if ev.Campaign, err = solana.PublicKeyFromBase58(row.Campaign); err != nil {
				return nil, err
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r *SqliteLedgerRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqliteTx struct {
	db *gorm.DB
}

func (t *sqliteTx) GetCampaign(addr solana.PublicKey) (*model.Campaign, error) {
	return sqliteGetCampaign(t.db, addr)
}

func (t *sqliteTx) CreateCampaign(c *model.Campaign) error {
	var count int64
	if err := t.db.Model(&campaignRow{}).Where("address = ?", c.Address.String()).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return appErrors.ErrCampaignExists
	}
	err := t.db.Create(newCampaignRow(c)).Error
	if isDuplicate(err) {
		return appErrors.ErrCampaignExists
	}
	return err
}

func (t *sqliteTx) SaveCampaign(c *model.Campaign) error {
	res := t.db.Model(&campaignRow{}).Where("address = ?", c.Address.String()).Updates(map[string]any{
		"pledged":      c.Pledged,
		"is_active":    c.IsActive,
		"is_canceled":  c.IsCanceled,
		"is_withdrawn": c.IsWithdrawn,
		"updated_at":   c.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return appErrors.NewCampaignNotFound(c.Address.String())
	}
	if err := t.db.Where("campaign = ?", c.Address.String()).Delete(&pledgerRow{}).Error; err != nil {
		return err
	}
	if len(c.Pledgers) == 0 {
		return nil
	}
	rows := make([]pledgerRow, 0, len(c.Pledgers))
	for i, p := range c.Pledgers {
		rows = append(rows, pledgerRow{
			Campaign:      c.Address.String(),
			PledgerPubkey: p.PledgerPubkey.String(),
			PledgedAmount: p.PledgedAmount,
			Position:      i,
		})
	}
	return t.db.Create(&rows).Error
}

func (t *sqliteTx) GetAdmin(addr solana.PublicKey) (*model.Admin, error) {
	var rows []adminRow
	if err := t.db.Where("address = ?", addr.String()).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, appErrors.ErrAdminNotFound
	}
	return rows[0].toModel()
}

func (t *sqliteTx) CreateAdmin(a *model.Admin) error {
	err := t.db.Create(&adminRow{Address: a.Address.String(), AdminPubkey: a.AdminPubkey.String()}).Error
	if isDuplicate(err) {
		return appErrors.ErrAdminExists
	}
	return err
}

func (t *sqliteTx) SaveAdmin(a *model.Admin) error {
	res := t.db.Model(&adminRow{}).Where("address = ?", a.Address.String()).Update("admin_pubkey", a.AdminPubkey.String())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return appErrors.ErrAdminNotFound
	}
	return nil
}

func (t *sqliteTx) Balance(addr solana.PublicKey) (uint64, error) {
	return sqliteBalance(t.db, addr)
}

func (t *sqliteTx) Transfer(from, to solana.PublicKey, lamports uint64) error {
	have, err := sqliteBalance(t.db, from)
	if err != nil {
		return err
	}
	if have < lamports {
		return fmt.Errorf("%w: %s holds %d lamports, needs %d", appErrors.ErrInsufficientFunds, from, have, lamports)
	}
	if err := t.db.Model(&balanceRow{}).Where("address = ?", from.String()).
		Update("lamports", have-lamports).Error; err != nil {
		return err
	}
	return t.Credit(to, lamports)
}

func (t *sqliteTx) Credit(addr solana.PublicKey, lamports uint64) error {
	have, err := sqliteBalance(t.db, addr)
	if err != nil {
		return err
	}
	if err := checkCredit(addr, have, lamports); err != nil {
		return err
	}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(map[string]any{"lamports": gorm.Expr("lamports + ?", lamports)}),
	}).Create(&balanceRow{Address: addr.String(), Lamports: lamports}).Error
}

func (t *sqliteTx) HasSignature(signature string) (bool, error) {
	var count int64
	err := t.db.Model(&eventRow{}).Where("signature = ?", signature).Count(&count).Error
	return count > 0, err
}

func (t *sqliteTx) AppendEvent(ev *model.LedgerEvent) error {
	row := &eventRow{
		EventID:     ev.ID.String(),
		Instruction: ev.Instruction,
		Signer:      ev.Signer.String(),
		Amount:      ev.Amount,
		Signature:   ev.Signature,
		CreatedAt:   ev.CreatedAt,
	}
	if !ev.Campaign.IsZero() {
		row.Campaign = ev.Campaign.String()
	}
	if err := t.db.Create(row).Error; err != nil {
		if isDuplicate(err) {
			return appErrors.ErrReplay
		}
		return err
	}
	ev.Seq = row.Seq
	return nil
}
