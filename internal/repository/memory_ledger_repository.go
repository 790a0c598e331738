package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/model"
)

// MemoryLedgerRepository keeps all accounts in maps. Transactions run on a
// private copy of the state which replaces the live one on commit.
type MemoryLedgerRepository struct {
	mu    sync.RWMutex
	state *memoryState
}

type memoryState struct {
	campaigns  map[solana.PublicKey]*model.Campaign
	admins     map[solana.PublicKey]*model.Admin
	balances   map[solana.PublicKey]uint64
	signatures map[string]struct{}
	events     []*model.LedgerEvent
}

var _ LedgerRepositoryInterface = (*MemoryLedgerRepository)(nil)

func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{
		state: &memoryState{
			campaigns:  make(map[solana.PublicKey]*model.Campaign),
			admins:     make(map[solana.PublicKey]*model.Admin),
			balances:   make(map[solana.PublicKey]uint64),
			signatures: make(map[string]struct{}),
		},
	}
}

func (s *memoryState) clone() *memoryState {
	cp := &memoryState{
		campaigns:  make(map[solana.PublicKey]*model.Campaign, len(s.campaigns)),
		admins:     make(map[solana.PublicKey]*model.Admin, len(s.admins)),
		balances:   make(map[solana.PublicKey]uint64, len(s.balances)),
		signatures: make(map[string]struct{}, len(s.signatures)),
		events:     append([]*model.LedgerEvent(nil), s.events...),
	}
	for k, v := range s.campaigns {
		cp.campaigns[k] = v.Clone()
	}
	for k, v := range s.admins {
		a := *v
		cp.admins[k] = &a
	}
	for k, v := range s.balances {
		cp.balances[k] = v
	}
	for k := range s.signatures {
		cp.signatures[k] = struct{}{}
	}
	return cp
}

func (r *MemoryLedgerRepository) RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := r.state.clone()
	if err := fn(&memoryTx{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *MemoryLedgerRepository) ListCampaigns(_ context.Context, filter CampaignFilter) ([]*model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Campaign, 0, len(r.state.campaigns))
	for _, c := range r.state.campaigns {
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out, nil
}

func (r *MemoryLedgerRepository) GetCampaign(_ context.Context, addr solana.PublicKey) (*model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.state.campaigns[addr]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(addr.String())
	}
	return c.Clone(), nil
}

func (r *MemoryLedgerRepository) ListAdmins(_ context.Context) ([]*model.Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Admin, 0, len(r.state.admins))
	for _, a := range r.state.admins {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryLedgerRepository) GetBalance(_ context.Context, addr solana.PublicKey) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.balances[addr], nil
}

func (r *MemoryLedgerRepository) ListEvents(_ context.Context, afterSeq int64, limit int) ([]*model.LedgerEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*model.LedgerEvent{}
	for _, ev := range r.state.events {
		if ev.Seq <= afterSeq {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryLedgerRepository) Close() error { return nil }

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) GetCampaign(addr solana.PublicKey) (*model.Campaign, error) {
	c, ok := t.state.campaigns[addr]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(addr.String())
	}
	return c.Clone(), nil
}

func (t *memoryTx) CreateCampaign(c *model.Campaign) error {
	if _, exists := t.state.campaigns[c.Address]; exists {
		return appErrors.ErrCampaignExists
	}
	t.state.campaigns[c.Address] = c.Clone()
	return nil
}

func (t *memoryTx) SaveCampaign(c *model.Campaign) error {
	if _, exists := t.state.campaigns[c.Address]; !exists {
		return appErrors.NewCampaignNotFound(c.Address.String())
	}
	t.state.campaigns[c.Address] = c.Clone()
	return nil
}

func (t *memoryTx) GetAdmin(addr solana.PublicKey) (*model.Admin, error) {
	a, ok := t.state.admins[addr]
	if !ok {
		return nil, appErrors.ErrAdminNotFound
	}
	cp := *a
	return &cp, nil
}

func (t *memoryTx) CreateAdmin(a *model.Admin) error {
	if _, exists := t.state.admins[a.Address]; exists {
		return appErrors.ErrAdminExists
	}
	cp := *a
	t.state.admins[a.Address] = &cp
	return nil
}

func (t *memoryTx) SaveAdmin(a *model.Admin) error {
	if _, exists := t.state.admins[a.Address]; !exists {
		return appErrors.ErrAdminNotFound
	}
	cp := *a
	t.state.admins[a.Address] = &cp
	return nil
}

func (t *memoryTx) Balance(addr solana.PublicKey) (uint64, error) {
	return t.state.balances[addr], nil
}

func (t *memoryTx) Transfer(from, to solana.PublicKey, lamports uint64) error {
	if t.state.balances[from] < lamports {
		return fmt.Errorf("%w: %s holds %d lamports, needs %d", appErrors.ErrInsufficientFunds, from, t.state.balances[from], lamports)
	}
	t.state.balances[from] -= lamports
	return t.Credit(to, lamports)
}

func (t *memoryTx) Credit(addr solana.PublicKey, lamports uint64) error {
	if err := checkCredit(addr, t.state.balances[addr], lamports); err != nil {
		return err
	}
	t.state.balances[addr] += lamports
	return nil
}

func (t *memoryTx) HasSignature(signature string) (bool, error) {
	_, ok := t.state.signatures[signature]
	return ok, nil
}

func (t *memoryTx) AppendEvent(ev *model.LedgerEvent) error {
	if _, ok := t.state.signatures[ev.Signature]; ok {
		return appErrors.ErrReplay
	}
	ev.Seq = int64(len(t.state.events)) + 1
	cp := *ev
	t.state.events = append(t.state.events, &cp)
	t.state.signatures[ev.Signature] = struct{}{}
	return nil
}
