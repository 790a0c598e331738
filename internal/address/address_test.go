package address

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgram = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

func TestDeriveCampaignAddressIsDeterministic(t *testing.T) {
	owner := solana.NewWallet().PublicKey()

	a1, err := DeriveCampaignAddress(testProgram, owner)
	require.NoError(t, err)
	a2, err := DeriveCampaignAddress(testProgram, owner)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	other, err := DeriveCampaignAddress(testProgram, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.NotEqual(t, a1, other)
}

func TestDeriveAdminAddressDiffersFromCampaign(t *testing.T) {
	admin, err := DeriveAdminAddress(testProgram)
	require.NoError(t, err)

	campaign, err := DeriveCampaignAddress(testProgram, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.NotEqual(t, admin, campaign)
}
