package service

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/dbilnica/fundwave-dapp/internal/repository"
)

// fundTransfer moves lamports between wallets and a campaign's escrow, which
// is the balance held at the campaign address.
type fundTransfer struct {
	tx repository.LedgerTx
}

func (f fundTransfer) escrow(donor, campaign solana.PublicKey, lamports uint64) error {
	if err := f.tx.Transfer(donor, campaign, lamports); err != nil {
		return fmt.Errorf("escrow %d lamports: %w", lamports, err)
	}
	return nil
}

func (f fundTransfer) refund(campaign, donor solana.PublicKey, lamports uint64) error {
	if err := f.tx.Transfer(campaign, donor, lamports); err != nil {
		return fmt.Errorf("refund %d lamports: %w", lamports, err)
	}
	return nil
}

func (f fundTransfer) payout(campaign, owner solana.PublicKey, lamports uint64) error {
	if err := f.tx.Transfer(campaign, owner, lamports); err != nil {
		return fmt.Errorf("payout %d lamports: %w", lamports, err)
	}
	return nil
}
