package model

import (
	"math"
	"math/bits"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
)

const (
	MinNameLength        = 3
	MaxNameLength        = 50
	MinDescriptionLength = 10
	MaxDescriptionLength = 500
	MaxImageCIDLength    = 128
	MaxDurationSeconds   = 365 * 24 * 60 * 60
	SecondsPerDay        = 24 * 60 * 60
	// MaxGoalLamports keeps goals storable as a signed 64-bit column.
	MaxGoalLamports      = math.MaxInt64
)

// Campaign status values derived from the stored flags.
const (
	StatusPending   = "pending"
	StatusReviewed  = "reviewed"
	StatusCanceled  = "canceled"
	StatusWithdrawn = "withdrawn"
)

type Pledger struct {
	PledgerPubkey solana.PublicKey `json:"pledgerPubkey"`
	PledgedAmount uint64           `json:"pledgedAmount"`
}

// Campaign is the account stored at the address derived from the
// "crowdfunding" seed and the owner key.
type Campaign struct {
	Address       solana.PublicKey `json:"address"`
	Owner         solana.PublicKey `json:"owner"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Goal          uint64           `json:"goal"`
	Duration      int64            `json:"duration"`
	EndCampaign   int64            `json:"endCampaign"`
	Pledged       uint64           `json:"pledged"`
	ImageIpfsHash string           `json:"imageIpfsHash"`
	IsActive      bool             `json:"isActive"`
	IsCanceled    bool             `json:"isCanceled"`
	IsWithdrawn   bool             `json:"isWithdrawn"`
	Pledgers      []Pledger        `json:"pledgers"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Status reports the lifecycle state. Ended is orthogonal and reported by HasEnded.
func (c *Campaign) Status() string {
	switch {
	case c.IsWithdrawn:
		return StatusWithdrawn
	case c.IsCanceled:
		return StatusCanceled
	case c.IsActive:
		return StatusReviewed
	default:
		return StatusPending
	}
}

func (c *Campaign) HasEnded(now time.Time) bool {
	return now.Unix() >= c.EndCampaign
}

// GoalReached is true once at least 80% of the goal has been pledged.
func (c *Campaign) GoalReached() bool {
	pHi, pLo := bits.Mul64(c.Pledged, 10)
	gHi, gLo := bits.Mul64(c.Goal, 8)
	if pHi != gHi {
		return pHi > gHi
	}
	return pLo >= gLo
}

// Progress returns pledged/goal as a percentage.
func (c *Campaign) Progress() float64 {
	if c.Goal == 0 {
		return 0
	}
	return float64(c.Pledged) / float64(c.Goal) * 100
}

// PledgeOf returns the index of the donor's entry, or -1.
func (c *Campaign) PledgeOf(donor solana.PublicKey) int {
	for i, p := range c.Pledgers {
		if p.PledgerPubkey.Equals(donor) {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so store snapshots never share pledger slices.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Pledgers = append([]Pledger(nil), c.Pledgers...)
	return &cp
}

// CampaignInput carries the user-supplied fields of campaignCreate.
type CampaignInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Goal        uint64 `json:"goal"`
	Duration    int64  `json:"duration"`
	ImageCID    string `json:"image_cid"`
}

// Validate checks the campaign bounds. The client and the ledger both call it.
func (in CampaignInput) Validate() error {
	name := strings.TrimSpace(in.Name)
	if n := utf8.RuneCountInString(name); n < MinNameLength || n > MaxNameLength {
		return appErrors.Validation("name must be between %d and %d characters", MinNameLength, MaxNameLength)
	}
	desc := strings.TrimSpace(in.Description)
	if n := utf8.RuneCountInString(desc); n < MinDescriptionLength || n > MaxDescriptionLength {
		return appErrors.Validation("description must be between %d and %d characters", MinDescriptionLength, MaxDescriptionLength)
	}
	if in.Goal == 0 || in.Goal > MaxGoalLamports {
		return appErrors.Validation("goal must be between 1 and %d lamports", uint64(MaxGoalLamports))
	}
	if in.Duration <= 0 || in.Duration > MaxDurationSeconds {
		return appErrors.Validation("duration must be between 1 second and 365 days")
	}
	if len(in.ImageCID) > MaxImageCIDLength {
		return appErrors.Validation("image cid longer than %d characters", MaxImageCIDLength)
	}
	return nil
}
