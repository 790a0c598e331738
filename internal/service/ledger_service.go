package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/dbilnica/fundwave-dapp/internal/address"
	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/instruction"
	"github.com/dbilnica/fundwave-dapp/internal/metrics"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/queue"
	"github.com/dbilnica/fundwave-dapp/internal/repository"
)

// AirdropInstruction names the dev-only credit in the event log.
const AirdropInstruction = "airdrop"

type Options struct {
	ProgramID          solana.PublicKey
	InstructionTTL     time.Duration
	MinPledgeLamports  uint64
	AirdropEnabled     bool
	AirdropMaxLamports uint64
	Now                func() time.Time
}

// LedgerService applies signed instructions to the store. Each instruction
// runs in one store transaction and either commits fully or changes nothing.
type LedgerService struct {
	Repo    repository.LedgerRepositoryInterface
	Queue   queue.Queue
	Metrics *metrics.LedgerMetrics
	Logger  *slog.Logger

	programID    solana.PublicKey
	adminAddress solana.PublicKey
	ttl          time.Duration
	minPledge    uint64
	airdrop      bool
	airdropMax   uint64
	now          func() time.Time
}

// Receipt acknowledges a committed instruction.
type Receipt struct {
	Signature   string           `json:"signature"`
	Seq         int64            `json:"seq"`
	Instruction string           `json:"instruction"`
	Campaign    solana.PublicKey `json:"campaign"`
	Amount      uint64           `json:"amount"`
}

func NewLedgerService(repo repository.LedgerRepositoryInterface, q queue.Queue, m *metrics.LedgerMetrics, logger *slog.Logger, opts Options) (*LedgerService, error) {
	adminAddr, err := address.DeriveAdminAddress(opts.ProgramID)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InstructionTTL <= 0 {
		opts.InstructionTTL = 2 * time.Minute
	}
	return &LedgerService{
		Repo:         repo,
		Queue:        q,
		Metrics:      m,
		Logger:       logger.With("component", "ledger"),
		programID:    opts.ProgramID,
		adminAddress: adminAddr,
		ttl:          opts.InstructionTTL,
		minPledge:    opts.MinPledgeLamports,
		airdrop:      opts.AirdropEnabled,
		airdropMax:   opts.AirdropMaxLamports,
		now:          opts.Now,
	}, nil
}

func (s *LedgerService) ProgramID() solana.PublicKey    { return s.programID }
func (s *LedgerService) AdminAddress() solana.PublicKey { return s.adminAddress }
func (s *LedgerService) MinPledge() uint64              { return s.minPledge }

// Execute verifies env and applies it atomically.
func (s *LedgerService) Execute(ctx context.Context, env *instruction.Envelope) (*Receipt, error) {
	start := time.Now()
	now := s.now().UTC()
	name := string(env.Instruction)
	if !env.Instruction.Valid() {
		name = "unknown"
	}

	receipt, err := s.execute(ctx, env, now)

	s.Metrics.InstructionLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := appErrors.Kind(err)
		s.Metrics.Instructions.WithLabelValues(name, string(kind)).Inc()
		level := slog.LevelInfo
		if kind == appErrors.KindInternal {
			level = slog.LevelError
		}
		s.Logger.Log(ctx, level, "instruction rejected",
			"instruction", name,
			"signer", env.Signer.String(),
			"kind", kind,
			"error", err,
		)
		return nil, err
	}
	s.Metrics.Instructions.WithLabelValues(name, "ok").Inc()
	s.Logger.Info("instruction committed",
		"instruction", name,
		"signer", env.Signer.String(),
		"campaign", receipt.Campaign.String(),
		"seq", receipt.Seq,
	)
	return receipt, nil
}

func (s *LedgerService) execute(ctx context.Context, env *instruction.Envelope, now time.Time) (*Receipt, error) {
	if err := env.Verify(s.programID, now, s.ttl); err != nil {
		return nil, err
	}
	sig := env.Signature.String()

	var ev model.LedgerEvent
	err := s.Repo.RunInTx(ctx, func(tx repository.LedgerTx) error {
		seen, err := tx.HasSignature(sig)
		if err != nil {
			return err
		}
		if seen {
			return appErrors.ErrReplay
		}
		ev = model.LedgerEvent{
			ID:          uuid.New(),
			Instruction: string(env.Instruction),
			Signer:      env.Signer,
			Campaign:    env.Campaign,
			Signature:   sig,
			CreatedAt:   now,
		}
		if err := s.apply(tx, env, now, &ev); err != nil {
			return err
		}
		return tx.AppendEvent(&ev)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", env.Instruction, err)
	}

	s.recordFlow(env.Instruction, ev.Amount)
	s.publish(ev)
	return &Receipt{
		Signature:   sig,
		Seq:         ev.Seq,
		Instruction: ev.Instruction,
		Campaign:    ev.Campaign,
		Amount:      ev.Amount,
	}, nil
}

// apply dispatches env to its state transition and fills the event fields the
// transition determines.
func (s *LedgerService) apply(tx repository.LedgerTx, env *instruction.Envelope, now time.Time, ev *model.LedgerEvent) error {
	switch env.Instruction {
	case instruction.CampaignCreate:
		c, err := s.createCampaign(tx, env.Signer, env.Campaign, model.CampaignInput{
			Name:        env.Args.Name,
			Description: env.Args.Description,
			Goal:        env.Args.Goal,
			Duration:    env.Args.Duration,
			ImageCID:    env.Args.ImageCID,
		}, now)
		if err != nil {
			return err
		}
		ev.Campaign = c.Address
		ev.Amount = c.Goal
	case instruction.CampaignSupport:
		if _, err := s.supportCampaign(tx, env.Signer, env.Campaign, env.Args.Amount, now); err != nil {
			return err
		}
		ev.Amount = env.Args.Amount
	case instruction.SupportCancel:
		_, refunded, err := s.cancelSupport(tx, env.Signer, env.Campaign, now)
		if err != nil {
			return err
		}
		ev.Amount = refunded
	case instruction.CampaignWithdraw:
		_, paid, err := s.withdrawCampaign(tx, env.Signer, env.Campaign, now)
		if err != nil {
			return err
		}
		ev.Amount = paid
	case instruction.CampaignReview:
		if _, err := s.reviewCampaign(tx, env.Signer, env.Campaign, now); err != nil {
			return err
		}
	case instruction.CampaignCancel:
		if _, err := s.cancelCampaign(tx, env.Signer, env.Campaign, now); err != nil {
			return err
		}
	case instruction.AdminInitialize:
		if err := s.adminInitialize(tx, env.Signer); err != nil {
			return err
		}
		ev.Campaign = solana.PublicKey{}
	case instruction.OwnershipTransfer:
		if err := s.ownershipTransfer(tx, env.Signer, env.Args.NewAdmin); err != nil {
			return err
		}
		ev.Campaign = solana.PublicKey{}
	default:
		return appErrors.Validation("unknown instruction %q", env.Instruction)
	}
	return nil
}

func (s *LedgerService) recordFlow(name instruction.Name, lamports uint64) {
	switch name {
	case instruction.CampaignSupport:
		s.Metrics.LamportsPledged.Add(float64(lamports))
	case instruction.SupportCancel:
		s.Metrics.LamportsRefunded.Add(float64(lamports))
	case instruction.CampaignWithdraw:
		s.Metrics.LamportsWithdrawn.Add(float64(lamports))
	}
}

// publish hands a committed event to subscribers. Delivery failures never
// undo the commit; pollers catch up through ListEvents.
func (s *LedgerService) publish(ev model.LedgerEvent) {
	if s.Queue == nil {
		return
	}
	if err := s.Queue.Publish(queue.TopicLedgerEvents, ev); err != nil {
		if errors.Is(err, queue.ErrNoSubscribers) {
			return
		}
		s.Logger.Warn("failed to publish ledger event", "seq", ev.Seq, "error", err)
		return
	}
	s.Metrics.EventsPublished.Inc()
}

// Airdrop credits a wallet on development deployments.
func (s *LedgerService) Airdrop(ctx context.Context, to solana.PublicKey, lamports uint64) (uint64, error) {
	if !s.airdrop {
		return 0, fmt.Errorf("%w: airdrop disabled", appErrors.ErrUnauthorized)
	}
	if to.IsZero() {
		return 0, appErrors.Validation("address is required")
	}
	if lamports == 0 || lamports > s.airdropMax {
		return 0, appErrors.Validation("airdrop must be between 1 and %d lamports", s.airdropMax)
	}
	now := s.now().UTC()
	ev := model.LedgerEvent{
		ID:          uuid.New(),
		Instruction: AirdropInstruction,
		Signer:      to,
		Amount:      lamports,
		CreatedAt:   now,
	}
	ev.Signature = AirdropInstruction + ":" + ev.ID.String()

	var balance uint64
	err := s.Repo.RunInTx(ctx, func(tx repository.LedgerTx) error {
		if err := tx.Credit(to, lamports); err != nil {
			return err
		}
		var err error
		if balance, err = tx.Balance(to); err != nil {
			return err
		}
		return tx.AppendEvent(&ev)
	})
	if err != nil {
		return 0, fmt.Errorf("airdrop: %w", err)
	}
	s.Logger.Info("airdrop", "address", to.String(), "lamports", lamports)
	s.publish(ev)
	return balance, nil
}

func (s *LedgerService) Balance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	return s.Repo.GetBalance(ctx, addr)
}
