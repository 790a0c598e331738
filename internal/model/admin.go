package model

import "github.com/gagliardetto/solana-go"

// Admin is the singleton account at the "admin_account" address.
type Admin struct {
	Address     solana.PublicKey `json:"address"`
	AdminPubkey solana.PublicKey `json:"adminPubkey"`
}
