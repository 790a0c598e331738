package service

import (
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/dbilnica/fundwave-dapp/internal/address"
	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/repository"
)

// createCampaign opens a pending campaign at the owner's derived address.
func (s *LedgerService) createCampaign(tx repository.LedgerTx, owner, claimed solana.PublicKey, in model.CampaignInput, now time.Time) (*model.Campaign, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	addr, err := address.DeriveCampaignAddress(s.programID, owner)
	if err != nil {
		return nil, err
	}
	if !claimed.IsZero() && !claimed.Equals(addr) {
		return nil, appErrors.Validation("campaign address %s is not derived from owner %s", claimed, owner)
	}
	c := &model.Campaign{
		Address:       addr,
		Owner:         owner,
		Name:          strings.TrimSpace(in.Name),
		Description:   strings.TrimSpace(in.Description),
		Goal:          in.Goal,
		Duration:      in.Duration,
		EndCampaign:   now.Unix() + in.Duration,
		ImageIpfsHash: in.ImageCID,
		Pledgers:      []model.Pledger{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.CreateCampaign(c); err != nil {
		return nil, err
	}
	return c, nil
}

// reviewCampaign approves a pending campaign. Review and cancel are both
// decisions on a pending campaign; whichever commits first wins.
func (s *LedgerService) reviewCampaign(tx repository.LedgerTx, signer, addr solana.PublicKey, now time.Time) (*model.Campaign, error) {
	if _, err := s.requireAdmin(tx, signer); err != nil {
		return nil, err
	}
	c, err := tx.GetCampaign(addr)
	if err != nil {
		return nil, err
	}
	switch {
	case c.IsCanceled:
		return nil, appErrors.ErrAlreadyCanceled
	case c.IsActive:
		return nil, appErrors.ErrAlreadyReviewed
	}
	c.IsActive = true
	c.UpdatedAt = now
	return c, tx.SaveCampaign(c)
}

func (s *LedgerService) cancelCampaign(tx repository.LedgerTx, signer, addr solana.PublicKey, now time.Time) (*model.Campaign, error) {
	if _, err := s.requireAdmin(tx, signer); err != nil {
		return nil, err
	}
	c, err := tx.GetCampaign(addr)
	if err != nil {
		return nil, err
	}
	switch {
	case c.IsActive:
		return nil, appErrors.ErrAlreadyReviewed
	case c.IsCanceled:
		return nil, appErrors.ErrAlreadyCanceled
	}
	c.IsCanceled = true
	c.UpdatedAt = now
	return c, tx.SaveCampaign(c)
}

// withdrawCampaign pays the escrowed pledges out to the owner. Pledged keeps
// its value as the campaign's historical total.
func (s *LedgerService) withdrawCampaign(tx repository.LedgerTx, signer, addr solana.PublicKey, now time.Time) (*model.Campaign, uint64, error) {
	c, err := tx.GetCampaign(addr)
	if err != nil {
		return nil, 0, err
	}
	if err := requireOwner(c, signer); err != nil {
		return nil, 0, err
	}
	switch {
	case c.IsWithdrawn:
		return nil, 0, appErrors.ErrAlreadyWithdrawn
	case !c.IsActive:
		return nil, 0, appErrors.ErrNotReviewed
	case !c.GoalReached():
		return nil, 0, appErrors.ErrGoalNotReached
	}
	if c.Pledged > 0 {
		if err := (fundTransfer{tx}).payout(c.Address, c.Owner, c.Pledged); err != nil {
			return nil, 0, err
		}
	}
	c.IsWithdrawn = true
	c.UpdatedAt = now
	return c, c.Pledged, tx.SaveCampaign(c)
}
