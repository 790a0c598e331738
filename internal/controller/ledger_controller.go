// internal/controller/ledger_controller.go
package controller

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/instruction"
	"github.com/dbilnica/fundwave-dapp/internal/service"
)

// maxEnvelopeBytes bounds an instruction body.
const maxEnvelopeBytes = 64 << 10

// LedgerController accepts signed instructions over HTTP.
type LedgerController struct {
	Ledger *service.LedgerService
	Logger *slog.Logger
}

type receiptResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Receipt *service.Receipt `json:"receipt"`
}

func NewLedgerController(ledger *service.LedgerService, logger *slog.Logger) *LedgerController {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerController{Ledger: ledger, Logger: logger.With("component", "ledger_controller")}
}

// Routes mounts the instruction endpoints on r.
func (c *LedgerController) Routes(r chi.Router) {
	r.Post("/instructions", c.SubmitInstruction)
	r.Post("/campaigns", c.action(instruction.CampaignCreate))
	r.Post("/campaigns/{address}/support", c.action(instruction.CampaignSupport))
	r.Post("/campaigns/{address}/support/cancel", c.action(instruction.SupportCancel))
	r.Post("/campaigns/{address}/review", c.action(instruction.CampaignReview))
	r.Post("/campaigns/{address}/cancel", c.action(instruction.CampaignCancel))
	r.Post("/campaigns/{address}/withdraw", c.action(instruction.CampaignWithdraw))
	r.Post("/admin", c.action(instruction.AdminInitialize))
	r.Post("/admin/transfer", c.action(instruction.OwnershipTransfer))
}

func decodeEnvelope(w http.ResponseWriter, r *http.Request) (*instruction.Envelope, error) {
	var env instruction.Envelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes))
	if err := dec.Decode(&env); err != nil {
		return nil, appErrors.Validation("invalid body: %v", err)
	}
	return &env, nil
}

// SubmitInstruction executes any signed envelope.
func (c *LedgerController) SubmitInstruction(w http.ResponseWriter, r *http.Request) {
	env, err := decodeEnvelope(w, r)
	if err != nil {
		RespondError(w, c.Logger, err)
		return
	}
	c.execute(w, r, env)
}

// action serves a route bound to one instruction. The envelope still carries
// the instruction name because the signature covers it; the route only checks
// that it agrees with the URL.
func (c *LedgerController) action(name instruction.Name) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := decodeEnvelope(w, r)
		if err != nil {
			RespondError(w, c.Logger, err)
			return
		}
		if env.Instruction != name {
			RespondError(w, c.Logger, appErrors.Validation("route expects %s, got %q", name, env.Instruction))
			return
		}
		if raw := chi.URLParam(r, "address"); raw != "" {
			addr, err := solana.PublicKeyFromBase58(raw)
			if err != nil {
				RespondError(w, c.Logger, appErrors.Validation("invalid campaign address %q", raw))
				return
			}
			if !addr.Equals(env.Campaign) {
				RespondError(w, c.Logger, appErrors.Validation("envelope campaign %s does not match %s", env.Campaign, addr))
				return
			}
		}
		c.execute(w, r, env)
	}
}

func (c *LedgerController) execute(w http.ResponseWriter, r *http.Request, env *instruction.Envelope) {
	receipt, err := c.Ledger.Execute(r.Context(), env)
	if err != nil {
		RespondError(w, c.Logger, err)
		return
	}
	status := http.StatusOK
	if env.Instruction == instruction.CampaignCreate {
		status = http.StatusCreated
	}
	RespondJSON(w, receiptResponse{
		Success: true,
		Message: string(env.Instruction) + " committed",
		Receipt: receipt,
	}, status)
}
