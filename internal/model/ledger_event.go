package model

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// LedgerEvent records one committed instruction. Seq is assigned by the store
// and is the cursor for polling clients.
type LedgerEvent struct {
	Seq         int64            `json:"seq"`
	ID          uuid.UUID        `json:"id"`
	Instruction string           `json:"instruction"`
	Signer      solana.PublicKey `json:"signer"`
	Campaign    solana.PublicKey `json:"campaign"`
	Amount      uint64           `json:"amount"`
	Signature   string           `json:"signature"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Balance is the lamport balance held at an address.
type Balance struct {
	Address  solana.PublicKey `json:"address"`
	Lamports uint64           `json:"lamports"`
}
