package service

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/repository"
)

// requireAdmin loads the admin account and checks that signer holds it.
func (s *LedgerService) requireAdmin(tx repository.LedgerTx, signer solana.PublicKey) (*model.Admin, error) {
	admin, err := tx.GetAdmin(s.adminAddress)
	if err != nil {
		if errors.Is(err, appErrors.ErrAdminNotFound) {
			return nil, fmt.Errorf("%w: admin account not initialized", appErrors.ErrUnauthorized)
		}
		return nil, err
	}
	if !admin.AdminPubkey.Equals(signer) {
		return nil, fmt.Errorf("%w: %s is not the admin", appErrors.ErrUnauthorized, signer)
	}
	return admin, nil
}

func requireOwner(c *model.Campaign, signer solana.PublicKey) error {
	if !c.Owner.Equals(signer) {
		return fmt.Errorf("%w: %s does not own campaign %s", appErrors.ErrUnauthorized, signer, c.Address)
	}
	return nil
}

// adminInitialize creates the admin singleton owned by signer.
func (s *LedgerService) adminInitialize(tx repository.LedgerTx, signer solana.PublicKey) error {
	if _, err := tx.GetAdmin(s.adminAddress); err == nil {
		return appErrors.ErrAdminExists
	} else if !errors.Is(err, appErrors.ErrAdminNotFound) {
		return err
	}
	return tx.CreateAdmin(&model.Admin{
		Address:     s.adminAddress,
		AdminPubkey: signer,
	})
}

// ownershipTransfer hands the admin role to newAdmin.
func (s *LedgerService) ownershipTransfer(tx repository.LedgerTx, signer, newAdmin solana.PublicKey) error {
	if newAdmin.IsZero() {
		return appErrors.Validation("new admin key is required")
	}
	admin, err := s.requireAdmin(tx, signer)
	if err != nil {
		return err
	}
	admin.AdminPubkey = newAdmin
	return tx.SaveAdmin(admin)
}
