package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/repository"
)

// State filters accepted by ListCampaigns.
const (
	StateAll       = ""
	StateOngoing   = "ongoing"
	StateEnded     = "ended"
	StatePending   = model.StatusPending
	StateReviewed  = model.StatusReviewed
	StateCanceled  = model.StatusCanceled
	StateWithdrawn = model.StatusWithdrawn
)

const MaxPageSize = 100

type QueryService struct {
	Repo repository.LedgerRepositoryInterface
	Now  func() time.Time
}

// CampaignQuery selects and pages campaigns. PageSize 0 returns every match.
type CampaignQuery struct {
	Owner    solana.PublicKey
	Pledger  solana.PublicKey
	State    string
	Search   string
	Page     int
	PageSize int
}

// CampaignView is a campaign with its derived presentation fields.
type CampaignView struct {
	*model.Campaign
	Status   string  `json:"status"`
	Ended    bool    `json:"ended"`
	Progress float64 `json:"progress"`
}

func (s *QueryService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func NewCampaignView(c *model.Campaign, now time.Time) CampaignView {
	return CampaignView{
		Campaign: c,
		Status:   c.Status(),
		Ended:    c.HasEnded(now),
		Progress: c.Progress(),
	}
}

func validState(state string) bool {
	switch state {
	case StateAll, StateOngoing, StateEnded, StatePending, StateReviewed, StateCanceled, StateWithdrawn:
		return true
	}
	return false
}

func matchesState(c *model.Campaign, state string, now time.Time) bool {
	switch state {
	case StateAll:
		return true
	case StateOngoing:
		return !c.HasEnded(now)
	case StateEnded:
		return c.HasEnded(now)
	default:
		return c.Status() == state
	}
}

func matchesSearch(c *model.Campaign, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Name), needle) ||
		strings.Contains(strings.ToLower(c.Description), needle)
}

// SortCampaigns puts ongoing campaigns first, soonest deadline first, then
// ended campaigns, most recently ended first.
func SortCampaigns(campaigns []*model.Campaign, now time.Time) {
	sort.SliceStable(campaigns, func(i, j int) bool {
		a, b := campaigns[i], campaigns[j]
		aEnded, bEnded := a.HasEnded(now), b.HasEnded(now)
		if aEnded != bEnded {
			return !aEnded
		}
		if a.EndCampaign != b.EndCampaign {
			if aEnded {
				return a.EndCampaign > b.EndCampaign
			}
			return a.EndCampaign < b.EndCampaign
		}
		return a.Address.String() < b.Address.String()
	})
}

// ListCampaigns fetches campaigns with filtering, ordering and pagination
func (s *QueryService) ListCampaigns(ctx context.Context, q CampaignQuery) ([]CampaignView, map[string]int, error) {
	state := strings.ToLower(strings.TrimSpace(q.State))
	if !validState(state) {
		return nil, nil, appErrors.Validation("unknown state %q", q.State)
	}

	found, err := s.Repo.ListCampaigns(ctx, repository.CampaignFilter{Owner: q.Owner, Pledger: q.Pledger})
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	filtered := make([]*model.Campaign, 0, len(found))
	for _, c := range found {
		if matchesState(c, state, now) && matchesSearch(c, needle) {
			filtered = append(filtered, c)
		}
	}
	SortCampaigns(filtered, now)

	total := len(filtered)
	page, pageSize := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 0 {
		pageSize = 0
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	window := filtered
	totalPages := 1
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
		start, end := total, total
		if page-1 < totalPages {
			start = (page - 1) * pageSize
			end = min(start+pageSize, total)
		}
		window = filtered[start:end]
	} else {
		page = 1
	}

	views := make([]CampaignView, len(window))
	for i, c := range window {
		views[i] = NewCampaignView(c, now)
	}
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return views, pagination, nil
}

func (s *QueryService) GetCampaign(ctx context.Context, addr solana.PublicKey) (*CampaignView, error) {
	c, err := s.Repo.GetCampaign(ctx, addr)
	if err != nil {
		return nil, err
	}
	v := NewCampaignView(c, s.now())
	return &v, nil
}

func (s *QueryService) ListAdmins(ctx context.Context) ([]*model.Admin, error) {
	return s.Repo.ListAdmins(ctx)
}

func (s *QueryService) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]*model.LedgerEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	return s.Repo.ListEvents(ctx, afterSeq, limit)
}
