package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbilnica/fundwave-dapp/internal/db"
	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/repository"
)

// stores returns every backend available in this environment. PostgreSQL
// runs only when FUNDWAVE_TEST_POSTGRES_DSN points at a scratch database.
func stores(t *testing.T) map[string]repository.LedgerRepositoryInterface {
	t.Helper()
	out := map[string]repository.LedgerRepositoryInterface{
		"memory": repository.NewMemoryLedgerRepository(),
	}

	sqliteRepo, err := repository.NewSqliteLedgerRepository(filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	out["sqlite"] = sqliteRepo

	if dsn := os.Getenv("FUNDWAVE_TEST_POSTGRES_DSN"); dsn != "" {
		ctx := context.Background()
		conn, err := db.Open(ctx, dsn, discardLogger())
		require.NoError(t, err)
		require.NoError(t, db.Migrate(ctx, conn))
		_, err = conn.ExecContext(ctx, `TRUNCATE ledger_events, pledgers, campaigns, admins, balances`)
		require.NoError(t, err)
		out["postgres"] = &repository.PostgresLedgerRepository{DB: conn}
	}

	t.Cleanup(func() {
		for _, s := range out {
			s.Close()
		}
	})
	return out
}

func newCampaign(owner solana.PublicKey) *model.Campaign {
	now := time.Unix(1_700_000_000, 0).UTC()
	return &model.Campaign{
		Address:     solana.NewWallet().PublicKey(),
		Owner:       owner,
		Name:        "Clean water",
		Description: "Wells for three villages",
		Goal:        10_000_000_000,
		Duration:    86400,
		EndCampaign: now.Unix() + 86400,
		Pledgers:    []model.Pledger{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestLedgerRepositories(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			owner := solana.NewWallet().PublicKey()
			donor := solana.NewWallet().PublicKey()
			c := newCampaign(owner)

			t.Run("create and read back", func(t *testing.T) {
				err := store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					return tx.CreateCampaign(c)
				})
				require.NoError(t, err)

				got, err := store.GetCampaign(ctx, c.Address)
				require.NoError(t, err)
				assert.Equal(t, c.Name, got.Name)
				assert.Equal(t, c.Owner, got.Owner)
				assert.Equal(t, c.EndCampaign, got.EndCampaign)
				assert.Empty(t, got.Pledgers)
			})

			t.Run("duplicate campaign", func(t *testing.T) {
				err := store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					return tx.CreateCampaign(c)
				})
				assert.ErrorIs(t, err, appErrors.ErrCampaignExists)
			})

			t.Run("missing campaign", func(t *testing.T) {
				_, err := store.GetCampaign(ctx, solana.NewWallet().PublicKey())
				var nf *appErrors.ErrCampaignNotFound
				assert.True(t, errors.As(err, &nf))
			})

			t.Run("pledge moves lamports and persists pledgers", func(t *testing.T) {
				err := store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					if err := tx.Credit(donor, 5_000_000_000); err != nil {
						return err
					}
					got, err := tx.GetCampaign(c.Address)
					if err != nil {
						return err
					}
					if err := tx.Transfer(donor, c.Address, 3_000_000_000); err != nil {
						return err
					}
					got.Pledged += 3_000_000_000
					got.Pledgers = append(got.Pledgers, model.Pledger{PledgerPubkey: donor, PledgedAmount: 3_000_000_000})
					return tx.SaveCampaign(got)
				})
				require.NoError(t, err)

				bal, err := store.GetBalance(ctx, donor)
				require.NoError(t, err)
				assert.Equal(t, uint64(2_000_000_000), bal)
				escrow, err := store.GetBalance(ctx, c.Address)
				require.NoError(t, err)
				assert.Equal(t, uint64(3_000_000_000), escrow)

				got, err := store.GetCampaign(ctx, c.Address)
				require.NoError(t, err)
				require.Len(t, got.Pledgers, 1)
				assert.Equal(t, donor, got.Pledgers[0].PledgerPubkey)
				assert.Equal(t, uint64(3_000_000_000), got.Pledged)
			})

			t.Run("credit past the maximum balance", func(t *testing.T) {
				rich := solana.NewWallet().PublicKey()
				err := store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					return tx.Credit(rich, repository.MaxBalance)
				})
				require.NoError(t, err)

				err = store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					return tx.Credit(rich, 1)
				})
				assert.ErrorIs(t, err, appErrors.ErrBalanceOverflow)
				assert.Equal(t, appErrors.KindConflict, appErrors.Kind(err))

				err = store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					return tx.Credit(donor, repository.MaxBalance+1)
				})
				assert.ErrorIs(t, err, appErrors.ErrBalanceOverflow)

				err = store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					return tx.Transfer(donor, rich, 1_000_000_000)
				})
				assert.ErrorIs(t, err, appErrors.ErrBalanceOverflow)

				bal, err := store.GetBalance(ctx, rich)
				require.NoError(t, err)
				assert.Equal(t, repository.MaxBalance, bal)
				bal, err = store.GetBalance(ctx, donor)
				require.NoError(t, err)
				assert.Equal(t, uint64(2_000_000_000), bal)
			})

			t.Run("failed transaction leaves nothing behind", func(t *testing.T) {
				err := store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					if err := tx.Transfer(donor, c.Address, 1_000_000_000); err != nil {
						return err
					}
					return tx.Transfer(donor, c.Address, 5_000_000_000)
				})
				assert.ErrorIs(t, err, appErrors.ErrInsufficientFunds)

				bal, err := store.GetBalance(ctx, donor)
				require.NoError(t, err)
				assert.Equal(t, uint64(2_000_000_000), bal)
			})

			t.Run("filters", func(t *testing.T) {
				other := newCampaign(solana.NewWallet().PublicKey())
				require.NoError(t, store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					return tx.CreateCampaign(other)
				}))

				all, err := store.ListCampaigns(ctx, repository.CampaignFilter{})
				require.NoError(t, err)
				assert.Len(t, all, 2)

				mine, err := store.ListCampaigns(ctx, repository.CampaignFilter{Owner: owner})
				require.NoError(t, err)
				require.Len(t, mine, 1)
				assert.Equal(t, c.Address, mine[0].Address)

				backed, err := store.ListCampaigns(ctx, repository.CampaignFilter{Pledger: donor})
				require.NoError(t, err)
				require.Len(t, backed, 1)
				assert.Equal(t, c.Address, backed[0].Address)
			})

			t.Run("admin singleton", func(t *testing.T) {
				adminAddr := solana.NewWallet().PublicKey()
				first := solana.NewWallet().PublicKey()
				second := solana.NewWallet().PublicKey()

				require.NoError(t, store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					return tx.CreateAdmin(&model.Admin{Address: adminAddr, AdminPubkey: first})
				}))
				err := store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					return tx.CreateAdmin(&model.Admin{Address: adminAddr, AdminPubkey: second})
				})
				assert.ErrorIs(t, err, appErrors.ErrAdminExists)

				require.NoError(t, store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					a, err := tx.GetAdmin(adminAddr)
					if err != nil {
						return err
					}
					a.AdminPubkey = second
					return tx.SaveAdmin(a)
				}))
				admins, err := store.ListAdmins(ctx)
				require.NoError(t, err)
				require.Len(t, admins, 1)
				assert.Equal(t, second, admins[0].AdminPubkey)
			})

			t.Run("events are sequenced and unique", func(t *testing.T) {
				for i := 0; i < 3; i++ {
					ev := &model.LedgerEvent{
						ID:          uuid.New(),
						Instruction: "campaign_support",
						Signer:      donor,
						Campaign:    c.Address,
						Amount:      uint64(i + 1),
						Signature:   uuid.NewString(),
						CreatedAt:   time.Now().UTC(),
					}
					require.NoError(t, store.RunInTx(ctx, func(tx repository.LedgerTx) error {
						return tx.AppendEvent(ev)
					}))
					assert.Positive(t, ev.Seq)
				}

				events, err := store.ListEvents(ctx, 0, 0)
				require.NoError(t, err)
				require.Len(t, events, 3)
				assert.Less(t, events[0].Seq, events[1].Seq)

				tail, err := store.ListEvents(ctx, events[0].Seq, 1)
				require.NoError(t, err)
				require.Len(t, tail, 1)
				assert.Equal(t, events[1].Seq, tail[0].Seq)

				dup := *events[2]
				err = store.RunInTx(ctx, func(tx repository.LedgerTx) error {
					seen, err := tx.HasSignature(dup.Signature)
					if err != nil {
						return err
					}
					assert.True(t, seen)
					return tx.AppendEvent(&dup)
				})
				assert.ErrorIs(t, err, appErrors.ErrReplay)
			})
		})
	}
}
