package repository

import (
	"context"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/model"
)

// MaxBalance is the largest balance any store holds; PostgreSQL keeps
// lamports in a BIGINT.
const MaxBalance uint64 = math.MaxInt64

// checkCredit fails when adding lamports to have would pass MaxBalance.
func checkCredit(addr solana.PublicKey, have, lamports uint64) error {
	if lamports > MaxBalance || have > MaxBalance-lamports {
		return fmt.Errorf("%w: %s holds %d lamports, cannot add %d", appErrors.ErrBalanceOverflow, addr, have, lamports)
	}
	return nil
}

// CampaignFilter narrows ListCampaigns using indexed columns. Zero keys match
// everything.
type CampaignFilter struct {
	Owner   solana.PublicKey
	Pledger solana.PublicKey
}

func (f CampaignFilter) Matches(c *model.Campaign) bool {
	if !f.Owner.IsZero() && !c.Owner.Equals(f.Owner) {
		return false
	}
	if !f.Pledger.IsZero() && c.PledgeOf(f.Pledger) < 0 {
		return false
	}
	return true
}

// LedgerTx is the view of the store inside one all-or-nothing instruction.
// Nothing written through it is visible to readers until the transaction
// commits, and nothing is kept if fn returns an error.
type LedgerTx interface {
	GetCampaign(addr solana.PublicKey) (*model.Campaign, error)
	CreateCampaign(c *model.Campaign) error
	SaveCampaign(c *model.Campaign) error

	GetAdmin(addr solana.PublicKey) (*model.Admin, error)
	CreateAdmin(a *model.Admin) error
	SaveAdmin(a *model.Admin) error

	Balance(addr solana.PublicKey) (uint64, error)
	Transfer(from, to solana.PublicKey, lamports uint64) error
	Credit(addr solana.PublicKey, lamports uint64) error

	HasSignature(signature string) (bool, error)
	AppendEvent(ev *model.LedgerEvent) error
}

type LedgerRepositoryInterface interface {
	RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error

	ListCampaigns(ctx context.Context, filter CampaignFilter) ([]*model.Campaign, error)
	GetCampaign(ctx context.Context, addr solana.PublicKey) (*model.Campaign, error)
	ListAdmins(ctx context.Context) ([]*model.Admin, error)
	GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	ListEvents(ctx context.Context, afterSeq int64, limit int) ([]*model.LedgerEvent, error)
	Close() error
}
