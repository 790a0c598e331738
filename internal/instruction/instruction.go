// Package instruction defines the signed envelopes clients submit to the
// ledger and the canonical message their signatures cover.
package instruction

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
)

type Name string

const (
	CampaignCreate    Name = "campaign_create"
	CampaignSupport   Name = "campaign_support"
	SupportCancel     Name = "support_cancel"
	CampaignWithdraw  Name = "campaign_withdraw"
	CampaignReview    Name = "campaign_review"
	CampaignCancel    Name = "campaign_cancel"
	AdminInitialize   Name = "admin_initialize"
	OwnershipTransfer Name = "ownership_transfer"
)

// All lists every instruction the ledger accepts.
var All = []Name{
	CampaignCreate,
	CampaignSupport,
	SupportCancel,
	CampaignWithdraw,
	CampaignReview,
	CampaignCancel,
	AdminInitialize,
	OwnershipTransfer,
}

func (n Name) Valid() bool {
	for _, k := range All {
		if k == n {
			return true
		}
	}
	return false
}

// TargetsCampaign reports whether the envelope must name an existing campaign.
func (n Name) TargetsCampaign() bool {
	switch n {
	case CampaignSupport, SupportCancel, CampaignWithdraw, CampaignReview, CampaignCancel:
		return true
	}
	return false
}

// Discriminator is the first 8 bytes of sha256("global:<name>").
func (n Name) Discriminator() [8]byte {
	hash := sha256.Sum256([]byte("global:" + string(n)))
	var disc [8]byte
	copy(disc[:], hash[:8])
	return disc
}

type Args struct {
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Goal        uint64           `json:"goal,omitempty"`
	Duration    int64            `json:"duration,omitempty"`
	ImageCID    string           `json:"image_cid,omitempty"`
	Amount      uint64           `json:"amount,omitempty"`
	NewAdmin    solana.PublicKey `json:"new_admin"`
}

// Envelope is a signed instruction. Campaign is empty for campaign_create and
// the admin instructions.
type Envelope struct {
	Instruction Name             `json:"instruction"`
	Signer      solana.PublicKey `json:"signer"`
	Campaign    solana.PublicKey `json:"campaign"`
	Args        Args             `json:"args"`
	IssuedAt    int64            `json:"issued_at"`
	Nonce       uuid.UUID        `json:"nonce"`
	Signature   solana.Signature `json:"signature"`
}

// message is the borsh layout covered by the signature.
type message struct {
	Discriminator [8]byte
	ProgramID     [32]byte
	Signer        [32]byte
	Campaign      [32]byte
	IssuedAt      int64
	Nonce         [16]byte
	Name          string
	Description   string
	Goal          uint64
	Duration      int64
	ImageCID      string
	Amount        uint64
	NewAdmin      [32]byte
}

// New builds an unsigned envelope stamped with now and a fresh nonce.
func New(name Name, signer, campaign solana.PublicKey, args Args, now time.Time) *Envelope {
	return &Envelope{
		Instruction: name,
		Signer:      signer,
		Campaign:    campaign,
		Args:        args,
		IssuedAt:    now.Unix(),
		Nonce:       uuid.New(),
	}
}

// Message returns the canonical bytes that are signed for programID.
func (e *Envelope) Message(programID solana.PublicKey) ([]byte, error) {
	m := message{
		Discriminator: e.Instruction.Discriminator(),
		ProgramID:     programID,
		Signer:        e.Signer,
		Campaign:      e.Campaign,
		IssuedAt:      e.IssuedAt,
		Nonce:         e.Nonce,
		Name:          e.Args.Name,
		Description:   e.Args.Description,
		Goal:          e.Args.Goal,
		Duration:      e.Args.Duration,
		ImageCID:      e.Args.ImageCID,
		Amount:        e.Args.Amount,
		NewAdmin:      e.Args.NewAdmin,
	}
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(&m); err != nil {
		return nil, fmt.Errorf("encode %s message: %w", e.Instruction, err)
	}
	return buf.Bytes(), nil
}

// Sign signs the envelope with key, which must belong to Signer.
func (e *Envelope) Sign(programID solana.PublicKey, key solana.PrivateKey) error {
	if !key.PublicKey().Equals(e.Signer) {
		return fmt.Errorf("key %s does not match signer %s", key.PublicKey(), e.Signer)
	}
	msg, err := e.Message(programID)
	if err != nil {
		return err
	}
	sig, err := key.Sign(msg)
	if err != nil {
		return fmt.Errorf("sign %s: %w", e.Instruction, err)
	}
	e.Signature = sig
	return nil
}

// CheckShape rejects envelopes that are malformed before any signature work.
func (e *Envelope) CheckShape() error {
	if !e.Instruction.Valid() {
		return appErrors.Validation("unknown instruction %q", e.Instruction)
	}
	if e.Signer.IsZero() {
		return appErrors.Validation("signer is required")
	}
	if e.Instruction.TargetsCampaign() && e.Campaign.IsZero() {
		return appErrors.Validation("%s requires a campaign address", e.Instruction)
	}
	if e.Nonce == uuid.Nil {
		return appErrors.Validation("nonce is required")
	}
	if e.Signature == (solana.Signature{}) {
		return appErrors.ErrBadSignature
	}
	return nil
}

// Verify checks the signature and that IssuedAt lies within ttl of now.
func (e *Envelope) Verify(programID solana.PublicKey, now time.Time, ttl time.Duration) error {
	if err := e.CheckShape(); err != nil {
		return err
	}
	msg, err := e.Message(programID)
	if err != nil {
		return err
	}
	if !e.Signature.Verify(e.Signer, msg) {
		return appErrors.ErrBadSignature
	}
	issued := time.Unix(e.IssuedAt, 0)
	if issued.Before(now.Add(-ttl)) || issued.After(now.Add(ttl)) {
		return fmt.Errorf("%w: issued %s", appErrors.ErrExpiredInstruction, issued.UTC().Format(time.RFC3339))
	}
	return nil
}
