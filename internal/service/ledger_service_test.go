package service_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dbilnica/fundwave-dapp/internal/address"
	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/instruction"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/queue"
	"github.com/dbilnica/fundwave-dapp/internal/repository"
	"github.com/dbilnica/fundwave-dapp/internal/service"
	"github.com/dbilnica/fundwave-dapp/internal/units"
)

var testProgram = solana.MustPublicKeyFromBase58("FfAV7kEYoN1H5fVD8AGhppYU4btuTPo9Eo4SEXchXXNv")

const sol = units.LamportsPerSol

type harness struct {
	t     *testing.T
	ctx   context.Context
	repo  *repository.MemoryLedgerRepository
	svc   *service.LedgerService
	now   time.Time
	admin solana.PrivateKey
	owner solana.PrivateKey
	donor solana.PrivateKey
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func newHarness(t *testing.T, q queue.Queue) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		repo:  repository.NewMemoryLedgerRepository(),
		now:   time.Unix(1_700_000_000, 0).UTC(),
		admin: newKey(t),
		owner: newKey(t),
		donor: newKey(t),
	}
	svc, err := service.NewLedgerService(h.repo, q, nil, discardLogger(), service.Options{
		ProgramID:          testProgram,
		InstructionTTL:     time.Minute,
		MinPledgeLamports:  10_000_000,
		AirdropEnabled:     true,
		AirdropMaxLamports: 100 * sol,
		Now:                func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) exec(key solana.PrivateKey, name instruction.Name, campaign solana.PublicKey, args instruction.Args) (*service.Receipt, error) {
	h.t.Helper()
	env := instruction.New(name, key.PublicKey(), campaign, args, h.now)
	require.NoError(h.t, env.Sign(testProgram, key))
	return h.svc.Execute(h.ctx, env)
}

func (h *harness) fund(key solana.PrivateKey, lamports uint64) {
	h.t.Helper()
	_, err := h.svc.Airdrop(h.ctx, key.PublicKey(), lamports)
	require.NoError(h.t, err)
}

func (h *harness) balance(pk solana.PublicKey) uint64 {
	h.t.Helper()
	b, err := h.svc.Balance(h.ctx, pk)
	require.NoError(h.t, err)
	return b
}

func (h *harness) campaign(addr solana.PublicKey) *model.Campaign {
	h.t.Helper()
	c, err := h.repo.GetCampaign(h.ctx, addr)
	require.NoError(h.t, err)
	return c
}

func createArgs(goalSol uint64) instruction.Args {
	return instruction.Args{
		Name:        "Solar school",
		Description: "Panels for the village school roof",
		Goal:        goalSol * sol,
		Duration:    model.SecondsPerDay,
		ImageCID:    "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
	}
}

// setupCampaign initializes the admin and creates a campaign for h.owner.
func (h *harness) setupCampaign(goalSol uint64) solana.PublicKey {
	h.t.Helper()
	_, err := h.exec(h.admin, instruction.AdminInitialize, solana.PublicKey{}, instruction.Args{})
	require.NoError(h.t, err)
	r, err := h.exec(h.owner, instruction.CampaignCreate, solana.PublicKey{}, createArgs(goalSol))
	require.NoError(h.t, err)
	return r.Campaign
}

func assertPledgedMatchesEntries(t *testing.T, c *model.Campaign) {
	t.Helper()
	var sum uint64
	for _, p := range c.Pledgers {
		sum += p.PledgedAmount
	}
	assert.Equal(t, c.Pledged, sum, "pledged must equal the sum of pledger entries")
}

func TestAdminInitializeOnce(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.exec(h.admin, instruction.AdminInitialize, solana.PublicKey{}, instruction.Args{})
	require.NoError(t, err)

	_, err = h.exec(h.owner, instruction.AdminInitialize, solana.PublicKey{}, instruction.Args{})
	require.ErrorIs(t, err, appErrors.ErrAdminExists)
	assert.Contains(t, err.Error(), "admin exists")

	admins, err := h.repo.ListAdmins(h.ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, h.admin.PublicKey(), admins[0].AdminPubkey)

	want, err := address.DeriveAdminAddress(testProgram)
	require.NoError(t, err)
	assert.Equal(t, want, admins[0].Address)
}

func TestOwnershipTransfer(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.exec(h.admin, instruction.AdminInitialize, solana.PublicKey{}, instruction.Args{})
	require.NoError(t, err)
	next := newKey(t)

	_, err = h.exec(h.owner, instruction.OwnershipTransfer, solana.PublicKey{}, instruction.Args{NewAdmin: next.PublicKey()})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = h.exec(h.admin, instruction.OwnershipTransfer, solana.PublicKey{}, instruction.Args{})
	assert.Equal(t, appErrors.KindValidation, appErrors.Kind(err))

	_, err = h.exec(h.admin, instruction.OwnershipTransfer, solana.PublicKey{}, instruction.Args{NewAdmin: next.PublicKey()})
	require.NoError(t, err)

	admins, err := h.repo.ListAdmins(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, next.PublicKey(), admins[0].AdminPubkey)

	// the previous admin lost the role
	_, err = h.exec(h.admin, instruction.OwnershipTransfer, solana.PublicKey{}, instruction.Args{NewAdmin: h.admin.PublicKey()})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestCampaignCreate(t *testing.T) {
	h := newHarness(t, nil)
	addr := h.setupCampaign(10)

	c := h.campaign(addr)
	assert.Equal(t, 10*sol, c.Goal)
	assert.Equal(t, h.owner.PublicKey(), c.Owner)
	assert.Equal(t, h.now.Unix()+model.SecondsPerDay, c.EndCampaign)
	assert.Equal(t, model.StatusPending, c.Status())
	assert.Zero(t, c.Pledged)

	want, err := address.DeriveCampaignAddress(testProgram, h.owner.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, want, addr)

	_, err = h.exec(h.owner, instruction.CampaignCreate, solana.PublicKey{}, createArgs(5))
	assert.ErrorIs(t, err, appErrors.ErrCampaignExists)
}

func TestCampaignCreateValidation(t *testing.T) {
	h := newHarness(t, nil)
	tests := []struct {
		name   string
		mutate func(a *instruction.Args)
	}{
		{"short name", func(a *instruction.Args) { a.Name = "ab" }},
		{"long description", func(a *instruction.Args) { a.Description = string(make([]byte, 501)) }},
		{"zero goal", func(a *instruction.Args) { a.Goal = 0 }},
		{"goal above int64", func(a *instruction.Args) { a.Goal = model.MaxGoalLamports + 1 }},
		{"zero duration", func(a *instruction.Args) { a.Duration = 0 }},
		{"duration over a year", func(a *instruction.Args) { a.Duration = model.MaxDurationSeconds + 1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			args := createArgs(10)
			tc.mutate(&args)
			_, err := h.exec(h.owner, instruction.CampaignCreate, solana.PublicKey{}, args)
			assert.Equal(t, appErrors.KindValidation, appErrors.Kind(err))
		})
	}

	campaigns, err := h.repo.ListCampaigns(h.ctx, repository.CampaignFilter{})
	require.NoError(t, err)
	assert.Empty(t, campaigns)
}

func TestCreateRejectsForeignAddress(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.exec(h.owner, instruction.CampaignCreate, solana.NewWallet().PublicKey(), createArgs(10))
	assert.Equal(t, appErrors.KindValidation, appErrors.Kind(err))
}

func TestWithdrawBoundary(t *testing.T) {
	tests := []struct {
		name    string
		pledge  uint64
		wantErr error
	}{
		{"exactly 80 percent", 8 * sol, nil},
		{"90 percent", 9 * sol, nil},
		{"79 percent", 7_900_000_000, appErrors.ErrGoalNotReached},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			addr := h.setupCampaign(10)
			h.fund(h.donor, 10*sol)

			_, err := h.exec(h.donor, instruction.CampaignSupport, addr, instruction.Args{Amount: tc.pledge})
			require.NoError(t, err)
			_, err = h.exec(h.admin, instruction.CampaignReview, addr, instruction.Args{})
			require.NoError(t, err)

			r, err := h.exec(h.owner, instruction.CampaignWithdraw, addr, instruction.Args{})
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.False(t, h.campaign(addr).IsWithdrawn)
				assert.Equal(t, tc.pledge, h.balance(addr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.pledge, r.Amount)
			assert.Equal(t, tc.pledge, h.balance(h.owner.PublicKey()))
			assert.Zero(t, h.balance(addr))
			assert.True(t, h.campaign(addr).IsWithdrawn)

			_, err = h.exec(h.owner, instruction.CampaignWithdraw, addr, instruction.Args{})
			assert.ErrorIs(t, err, appErrors.ErrAlreadyWithdrawn)
		})
	}
}

func TestWithdrawHugeGoalNotReached(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.exec(h.admin, instruction.AdminInitialize, solana.PublicKey{}, instruction.Args{})
	require.NoError(t, err)
	args := createArgs(1)
	args.Goal = model.MaxGoalLamports
	r, err := h.exec(h.owner, instruction.CampaignCreate, solana.PublicKey{}, args)
	require.NoError(t, err)
	addr := r.Campaign

	h.fund(h.donor, sol)
	_, err = h.exec(h.donor, instruction.CampaignSupport, addr, instruction.Args{Amount: sol / 10})
	require.NoError(t, err)
	_, err = h.exec(h.admin, instruction.CampaignReview, addr, instruction.Args{})
	require.NoError(t, err)

	_, err = h.exec(h.owner, instruction.CampaignWithdraw, addr, instruction.Args{})
	assert.ErrorIs(t, err, appErrors.ErrGoalNotReached)
	assert.False(t, h.campaign(addr).IsWithdrawn)
	assert.Equal(t, sol/10, h.balance(addr))
}

func TestWithdrawRequiresOwnerAndReview(t *testing.T) {
	h := newHarness(t, nil)
	addr := h.setupCampaign(10)
	h.fund(h.donor, 10*sol)
	_, err := h.exec(h.donor, instruction.CampaignSupport, addr, instruction.Args{Amount: 9 * sol})
	require.NoError(t, err)

	_, err = h.exec(h.owner, instruction.CampaignWithdraw, addr, instruction.Args{})
	assert.ErrorIs(t, err, appErrors.ErrNotReviewed)

	_, err = h.exec(h.admin, instruction.CampaignReview, addr, instruction.Args{})
	require.NoError(t, err)

	_, err = h.exec(h.donor, instruction.CampaignWithdraw, addr, instruction.Args{})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
	assert.Equal(t, 9*sol, h.balance(addr))
}

func TestSupportThenCancel(t *testing.T) {
	h := newHarness(t, nil)
	addr := h.setupCampaign(10)
	h.fund(h.donor, 6*sol)

	_, err := h.exec(h.donor, instruction.CampaignSupport, addr, instruction.Args{Amount: 5 * sol})
	require.NoError(t, err)
	c := h.campaign(addr)
	assert.Equal(t, 5*sol, c.Pledged)
	require.Len(t, c.Pledgers, 1)
	assert.Equal(t, sol, h.balance(h.donor.PublicKey()))
	assert.Equal(t, 5*sol, h.balance(addr))

	r, err := h.exec(h.donor, instruction.SupportCancel, addr, instruction.Args{})
	require.NoError(t, err)
	assert.Equal(t, 5*sol, r.Amount)

	c = h.campaign(addr)
	assert.Zero(t, c.Pledged)
	assert.Empty(t, c.Pledgers)
	assert.Equal(t, 6*sol, h.balance(h.donor.PublicKey()))
	assert.Zero(t, h.balance(addr))

	_, err = h.exec(h.donor, instruction.SupportCancel, addr, instruction.Args{})
	assert.ErrorIs(t, err, appErrors.ErrNoPledge)
}

func TestRepeatSupportConsolidates(t *testing.T) {
	h := newHarness(t, nil)
	addr := h.setupCampaign(10)
	h.fund(h.donor, 10*sol)
	other := newKey(t)
	h.fund(other, 10*sol)

	for _, amt := range []uint64{sol, 2 * sol} {
		_, err := h.exec(h.donor, instruction.CampaignSupport, addr, instruction.Args{Amount: amt})
		require.NoError(t, err)
	}
	_, err := h.exec(other, instruction.CampaignSupport, addr, instruction.Args{Amount: sol})
	require.NoError(t, err)

	c := h.campaign(addr)
	require.Len(t, c.Pledgers, 2)
	assert.Equal(t, h.donor.PublicKey(), c.Pledgers[0].PledgerPubkey)
	assert.Equal(t, 3*sol, c.Pledgers[0].PledgedAmount)
	assert.Equal(t, other.PublicKey(), c.Pledgers[1].PledgerPubkey)
	assertPledgedMatchesEntries(t, c)

	_, err = h.exec(h.donor, instruction.SupportCancel, addr, instruction.Args{})
	require.NoError(t, err)
	c = h.campaign(addr)
	require.Len(t, c.Pledgers, 1)
	assert.Equal(t, sol, c.Pledged)
	assertPledgedMatchesEntries(t, c)
}

func TestPledgedEqualsSumAfterMixedOperations(t *testing.T) {
	h := newHarness(t, nil)
	addr := h.setupCampaign(100)
	donors := []solana.PrivateKey{newKey(t), newKey(t), newKey(t)}
	for _, d := range donors {
		h.fund(d, 50*sol)
	}

	steps := []struct {
		donor  int
		amount uint64 // 0 means support_cancel
	}{
		{0, 3 * sol}, {1, 2 * sol}, {0, sol}, {2, 5 * sol},
		{1, 0}, {0, 0}, {1, 4 * sol}, {2, sol}, {0, 2 * sol},
	}
	for _, st := range steps {
		var err error
		if st.amount == 0 {
			_, err = h.exec(donors[st.donor], instruction.SupportCancel, addr, instruction.Args{})
		} else {
			_, err = h.exec(donors[st.donor], instruction.CampaignSupport, addr, instruction.Args{Amount: st.amount})
		}
		require.NoError(t, err)
		c := h.campaign(addr)
		assertPledgedMatchesEntries(t, c)
		assert.Equal(t, c.Pledged, h.balance(addr))
	}
	assert.Equal(t, 14*sol, h.campaign(addr).Pledged)
}

func TestSupportRejections(t *testing.T) {
	h := newHarness(t, nil)
	addr := h.setupCampaign(10)
	h.fund(h.donor, sol)

	_, err := h.exec(h.donor, instruction.CampaignSupport, addr, instruction.Args{Amount: 1_000})
	assert.Equal(t, appErrors.KindValidation, appErrors.Kind(err))

	_, err = h.exec(h.donor, instruction.CampaignSupport, addr, instruction.Args{Amount: 2 * sol})
	assert.ErrorIs(t, err, appErrors.ErrInsufficientFunds)
	assert.Equal(t, sol, h.balance(h.donor.PublicKey()))
	assert.Zero(t, h.campaign(addr).Pledged)

	_, err = h.exec(h.donor, instruction.CampaignSupport, solana.NewWallet().PublicKey(), instruction.Args{Amount: sol / 2})
	assert.Equal(t, appErrors.KindNotFound, appErrors.Kind(err))

	h.now = h.now.Add(25 * time.Hour)
	_, err = h.exec(h.donor, instruction.CampaignSupport, addr, instruction.Args{Amount: sol / 2})
	assert.ErrorIs(t, err, appErrors.ErrCampaignEnded)
}

func TestSupportOnCanceledCampaignRefundStillOpen(t *testing.T) {
	h := newHarness(t, nil)
	addr := h.setupCampaign(10)
	h.fund(h.donor, 5*sol)
	_, err := h.exec(h.donor, instruction.CampaignSupport, addr, instruction.Args{Amount: 2 * sol})
	require.NoError(t, err)

	_, err = h.exec(h.admin, instruction.CampaignCancel, addr, instruction.Args{})
	require.NoError(t, err)

	_, err = h.exec(h.donor, instruction.CampaignSupport, addr, instruction.Args{Amount: sol})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyCanceled)

	_, err = h.exec(h.donor, instruction.SupportCancel, addr, instruction.Args{})
	require.NoError(t, err)
	assert.Equal(t, 5*sol, h.balance(h.donor.PublicKey()))
}

func TestReviewCancelPrecedence(t *testing.T) {
	t.Run("review first", func(t *testing.T) {
		h := newHarness(t, nil)
		addr := h.setupCampaign(10)

		_, err := h.exec(h.owner, instruction.CampaignReview, addr, instruction.Args{})
		assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

		_, err = h.exec(h.admin, instruction.CampaignReview, addr, instruction.Args{})
		require.NoError(t, err)
		_, err = h.exec(h.admin, instruction.CampaignReview, addr, instruction.Args{})
		assert.ErrorIs(t, err, appErrors.ErrAlreadyReviewed)
		_, err = h.exec(h.admin, instruction.CampaignCancel, addr, instruction.Args{})
		assert.ErrorIs(t, err, appErrors.ErrAlreadyReviewed)

		c := h.campaign(addr)
		assert.True(t, c.IsActive)
		assert.False(t, c.IsCanceled)
	})

	t.Run("cancel first", func(t *testing.T) {
		h := newHarness(t, nil)
		addr := h.setupCampaign(10)

		_, err := h.exec(h.donor, instruction.CampaignCancel, addr, instruction.Args{})
		assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

		_, err = h.exec(h.admin, instruction.CampaignCancel, addr, instruction.Args{})
		require.NoError(t, err)
		_, err = h.exec(h.admin, instruction.CampaignCancel, addr, instruction.Args{})
		assert.ErrorIs(t, err, appErrors.ErrAlreadyCanceled)
		_, err = h.exec(h.admin, instruction.CampaignReview, addr, instruction.Args{})
		assert.ErrorIs(t, err, appErrors.ErrAlreadyCanceled)

		c := h.campaign(addr)
		assert.False(t, c.IsActive)
		assert.True(t, c.IsCanceled)
	})
}

func TestReviewWithoutAdmin(t *testing.T) {
	h := newHarness(t, nil)
	r, err := h.exec(h.owner, instruction.CampaignCreate, solana.PublicKey{}, createArgs(10))
	require.NoError(t, err)

	_, err = h.exec(h.admin, instruction.CampaignReview, r.Campaign, instruction.Args{})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthorizationGate(t *testing.T) {
	h := newHarness(t, nil)

	t.Run("replay", func(t *testing.T) {
		env := instruction.New(instruction.AdminInitialize, h.admin.PublicKey(), solana.PublicKey{}, instruction.Args{}, h.now)
		require.NoError(t, env.Sign(testProgram, h.admin))
		_, err := h.svc.Execute(h.ctx, env)
		require.NoError(t, err)
		_, err = h.svc.Execute(h.ctx, env)
		assert.ErrorIs(t, err, appErrors.ErrReplay)
	})

	t.Run("signed by someone else", func(t *testing.T) {
		env := instruction.New(instruction.CampaignCreate, h.owner.PublicKey(), solana.PublicKey{}, createArgs(10), h.now)
		require.NoError(t, env.Sign(testProgram, h.owner))
		env.Signer = h.donor.PublicKey()
		_, err := h.svc.Execute(h.ctx, env)
		assert.ErrorIs(t, err, appErrors.ErrBadSignature)
	})

	t.Run("stale", func(t *testing.T) {
		env := instruction.New(instruction.CampaignCreate, h.owner.PublicKey(), solana.PublicKey{}, createArgs(10), h.now.Add(-time.Hour))
		require.NoError(t, env.Sign(testProgram, h.owner))
		_, err := h.svc.Execute(h.ctx, env)
		assert.ErrorIs(t, err, appErrors.ErrExpiredInstruction)
	})

	campaigns, err := h.repo.ListCampaigns(h.ctx, repository.CampaignFilter{})
	require.NoError(t, err)
	assert.Empty(t, campaigns)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	defer goleak.VerifyNone(t)
	q := queue.NewInMemoryQueue(discardLogger())
	defer q.Close()

	got := make(chan model.LedgerEvent, 8)
	_, err := q.Subscribe(queue.TopicLedgerEvents, func(payload any) error {
		got <- payload.(model.LedgerEvent)
		return nil
	})
	require.NoError(t, err)

	h := newHarness(t, q)
	addr := h.setupCampaign(10)

	seen := map[string]model.LedgerEvent{}
	for len(seen) < 2 {
		select {
		case ev := <-got:
			seen[ev.Instruction] = ev
		case <-time.After(2 * time.Second):
			t.Fatalf("only received %d events", len(seen))
		}
	}
	assert.Contains(t, seen, string(instruction.AdminInitialize))
	assert.Equal(t, addr, seen[string(instruction.CampaignCreate)].Campaign)

	// rejected instructions publish nothing
	_, err = h.exec(h.owner, instruction.CampaignCreate, solana.PublicKey{}, createArgs(10))
	require.Error(t, err)
	select {
	case ev := <-got:
		t.Fatalf("unexpected event %s", ev.Instruction)
	case <-time.After(50 * time.Millisecond):
	}

	events, err := h.repo.ListEvents(h.ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestAirdrop(t *testing.T) {
	h := newHarness(t, nil)
	bal, err := h.svc.Airdrop(h.ctx, h.donor.PublicKey(), 2*sol)
	require.NoError(t, err)
	assert.Equal(t, 2*sol, bal)

	_, err = h.svc.Airdrop(h.ctx, h.donor.PublicKey(), 101*sol)
	assert.Equal(t, appErrors.KindValidation, appErrors.Kind(err))

	disabled, err := service.NewLedgerService(h.repo, nil, nil, discardLogger(), service.Options{ProgramID: testProgram})
	require.NoError(t, err)
	_, err = disabled.Airdrop(h.ctx, h.donor.PublicKey(), sol)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
