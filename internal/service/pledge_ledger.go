package service

import (
	"time"

	"github.com/gagliardetto/solana-go"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/repository"
	"github.com/dbilnica/fundwave-dapp/internal/units"
)

// supportCampaign escrows amount from donor and folds it into the donor's
// single pledger entry.
func (s *LedgerService) supportCampaign(tx repository.LedgerTx, donor, addr solana.PublicKey, amount uint64, now time.Time) (*model.Campaign, error) {
	if amount < s.minPledge {
		return nil, appErrors.Validation("pledge must be at least %s SOL", units.FormatSol(s.minPledge))
	}
	c, err := tx.GetCampaign(addr)
	if err != nil {
		return nil, err
	}
	switch {
	case c.IsCanceled:
		return nil, appErrors.ErrAlreadyCanceled
	case c.IsWithdrawn:
		return nil, appErrors.ErrAlreadyWithdrawn
	case c.HasEnded(now):
		return nil, appErrors.ErrCampaignEnded
	}
	if err := (fundTransfer{tx}).escrow(donor, c.Address, amount); err != nil {
		return nil, err
	}
	if i := c.PledgeOf(donor); i >= 0 {
		c.Pledgers[i].PledgedAmount += amount
	} else {
		c.Pledgers = append(c.Pledgers, model.Pledger{PledgerPubkey: donor, PledgedAmount: amount})
	}
	c.Pledged += amount
	c.UpdatedAt = now
	return c, tx.SaveCampaign(c)
}

// cancelSupport refunds the donor's whole entry and removes it. Refunds stay
// open after cancellation or the deadline, until the owner withdraws.
func (s *LedgerService) cancelSupport(tx repository.LedgerTx, donor, addr solana.PublicKey, now time.Time) (*model.Campaign, uint64, error) {
	c, err := tx.GetCampaign(addr)
	if err != nil {
		return nil, 0, err
	}
	i := c.PledgeOf(donor)
	if i < 0 {
		return nil, 0, appErrors.ErrNoPledge
	}
	if c.IsWithdrawn {
		return nil, 0, appErrors.ErrAlreadyWithdrawn
	}
	amount := c.Pledgers[i].PledgedAmount
	if err := (fundTransfer{tx}).refund(c.Address, donor, amount); err != nil {
		return nil, 0, err
	}
	c.Pledgers = append(c.Pledgers[:i], c.Pledgers[i+1:]...)
	c.Pledged -= amount
	c.UpdatedAt = now
	return c, amount, tx.SaveCampaign(c)
}
