package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/repository"
	"github.com/dbilnica/fundwave-dapp/internal/service"
)

// seedCampaigns stores one campaign per entry; ends are offsets from now in
// seconds.
func seedCampaigns(t *testing.T, repo repository.LedgerRepositoryInterface, now time.Time, ends ...int64) []*model.Campaign {
	t.Helper()
	out := make([]*model.Campaign, len(ends))
	err := repo.RunInTx(context.Background(), func(tx repository.LedgerTx) error {
		for i, end := range ends {
			c := &model.Campaign{
				Address:     solana.NewWallet().PublicKey(),
				Owner:       solana.NewWallet().PublicKey(),
				Name:        "Campaign " + string(rune('A'+i)),
				Description: "Community fundraiser number " + string(rune('A'+i)),
				Goal:        10 * sol,
				Duration:    model.SecondsPerDay,
				EndCampaign: now.Unix() + end,
				Pledgers:    []model.Pledger{},
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.CreateCampaign(c); err != nil {
				return err
			}
			out[i] = c
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func newQueryService(repo repository.LedgerRepositoryInterface, now time.Time) *service.QueryService {
	return &service.QueryService{Repo: repo, Now: func() time.Time { return now }}
}

func addresses(views []service.CampaignView) []solana.PublicKey {
	out := make([]solana.PublicKey, len(views))
	for i, v := range views {
		out[i] = v.Address
	}
	return out
}

func TestListCampaignsOrdering(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	repo := repository.NewMemoryLedgerRepository()
	// a: ongoing late, b: ended long ago, c: ongoing soon, d: ended recently
	cs := seedCampaigns(t, repo, now, 7200, -7200, 60, -60)

	views, pagination, err := newQueryService(repo, now).ListCampaigns(context.Background(), service.CampaignQuery{})
	require.NoError(t, err)

	assert.Equal(t, []solana.PublicKey{cs[2].Address, cs[0].Address, cs[3].Address, cs[1].Address}, addresses(views))
	assert.False(t, views[0].Ended)
	assert.True(t, views[2].Ended)
	assert.Equal(t, 4, pagination["total_count"])
	assert.Equal(t, 1, pagination["total_pages"])
}

func TestListCampaignsPagination(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	repo := repository.NewMemoryLedgerRepository()
	cs := seedCampaigns(t, repo, now, 10, 20, 30, 40, 50)
	svc := newQueryService(repo, now)

	page1, pagination1, err := svc.ListCampaigns(context.Background(), service.CampaignQuery{Page: 1, PageSize: 2})
	require.NoError(t, err)
	page3, pagination3, err := svc.ListCampaigns(context.Background(), service.CampaignQuery{Page: 3, PageSize: 2})
	require.NoError(t, err)
	beyond, _, err := svc.ListCampaigns(context.Background(), service.CampaignQuery{Page: 9, PageSize: 2})
	require.NoError(t, err)

	assert.Equal(t, []solana.PublicKey{cs[0].Address, cs[1].Address}, addresses(page1))
	assert.Equal(t, []solana.PublicKey{cs[4].Address}, addresses(page3))
	assert.Empty(t, beyond)

	far, _, err := svc.ListCampaigns(context.Background(), service.CampaignQuery{Page: 100_000_000_000_000_001, PageSize: service.MaxPageSize})
	require.NoError(t, err)
	assert.Empty(t, far)
	assert.Equal(t, 5, pagination1["total_count"])
	assert.Equal(t, 3, pagination1["total_pages"])
	assert.Equal(t, 3, pagination3["page"])

	capped, pagination, err := svc.ListCampaigns(context.Background(), service.CampaignQuery{PageSize: 1000})
	require.NoError(t, err)
	assert.Len(t, capped, 5)
	assert.Equal(t, service.MaxPageSize, pagination["page_size"])
}

func TestListCampaignsFilters(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	repo := repository.NewMemoryLedgerRepository()
	cs := seedCampaigns(t, repo, now, 100, -100, 200)
	donor := solana.NewWallet().PublicKey()

	err := repo.RunInTx(context.Background(), func(tx repository.LedgerTx) error {
		c := cs[2].Clone()
		c.IsActive = true
		c.Pledgers = []model.Pledger{{PledgerPubkey: donor, PledgedAmount: sol}}
		c.Pledged = sol
		return tx.SaveCampaign(c)
	})
	require.NoError(t, err)
	svc := newQueryService(repo, now)

	tests := []struct {
		name  string
		query service.CampaignQuery
		want  []solana.PublicKey
	}{
		{"ongoing", service.CampaignQuery{State: "ongoing"}, []solana.PublicKey{cs[0].Address, cs[2].Address}},
		{"ended", service.CampaignQuery{State: "ENDED"}, []solana.PublicKey{cs[1].Address}},
		{"reviewed", service.CampaignQuery{State: service.StateReviewed}, []solana.PublicKey{cs[2].Address}},
		{"pending", service.CampaignQuery{State: service.StatePending}, []solana.PublicKey{cs[0].Address, cs[1].Address}},
		{"owner", service.CampaignQuery{Owner: cs[1].Owner}, []solana.PublicKey{cs[1].Address}},
		{"pledger", service.CampaignQuery{Pledger: donor}, []solana.PublicKey{cs[2].Address}},
		{"search", service.CampaignQuery{Search: "number b"}, []solana.PublicKey{cs[1].Address}},
		{"no match", service.CampaignQuery{Search: "nothing like this"}, []solana.PublicKey{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			views, _, err := svc.ListCampaigns(context.Background(), tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.want, addresses(views))
		})
	}

	_, _, err = svc.ListCampaigns(context.Background(), service.CampaignQuery{State: "archived"})
	assert.Equal(t, appErrors.KindValidation, appErrors.Kind(err))
}

func TestGetCampaignView(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	repo := repository.NewMemoryLedgerRepository()
	cs := seedCampaigns(t, repo, now, 100)
	svc := newQueryService(repo, now)

	v, err := svc.GetCampaign(context.Background(), cs[0].Address)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, v.Status)
	assert.Zero(t, v.Progress)

	_, err = svc.GetCampaign(context.Background(), solana.NewWallet().PublicKey())
	assert.Equal(t, appErrors.KindNotFound, appErrors.Kind(err))
}
