// Package address derives the program addresses of campaign and admin accounts.
package address

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	CampaignSeed = "crowdfunding"
	AdminSeed    = "admin_account"
)

// DeriveCampaignAddress returns the campaign account of owner. Each owner has
// exactly one campaign address per program.
func DeriveCampaignAddress(programID, owner solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte(CampaignSeed),
			owner.Bytes(),
		},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive campaign address: %w", err)
	}
	return addr, nil
}

// DeriveAdminAddress returns the singleton admin account.
func DeriveAdminAddress(programID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte(AdminSeed),
		},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive admin address: %w", err)
	}
	return addr, nil
}
