// internal/handler/query_handler.go
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"github.com/dbilnica/fundwave-dapp/internal/controller"
	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/service"
)

// DefaultPageSize applies when page is given without page_size.
const DefaultPageSize = 20

// QueryHandler serves the read side of the ledger.
type QueryHandler struct {
	Query  *service.QueryService
	Ledger *service.LedgerService
	Logger *slog.Logger
}

func NewQueryHandler(query *service.QueryService, ledger *service.LedgerService, logger *slog.Logger) *QueryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryHandler{Query: query, Ledger: ledger, Logger: logger.With("component", "query_handler")}
}

func (h *QueryHandler) Routes(r chi.Router) {
	r.Get("/campaigns", h.ListCampaignsHandler)
	r.Get("/campaigns/{address}", h.GetCampaignHandler)
	r.Get("/admins", h.ListAdminsHandler)
	r.Get("/admin", h.GetAdminHandler)
	r.Get("/balances/{address}", h.GetBalanceHandler)
	r.Post("/airdrop", h.AirdropHandler)
}

func parseKey(raw, field string) (solana.PublicKey, error) {
	if raw == "" {
		return solana.PublicKey{}, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, appErrors.Validation("invalid %s %q", field, raw)
	}
	return pk, nil
}

func parseInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, appErrors.Validation("invalid %s %q", field, raw)
	}
	return n, nil
}

// ListCampaignsHandler returns campaigns, every one of them unless page or
// page_size is given.
func (h *QueryHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, err := parseKey(q.Get("owner"), "owner")
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	pledger, err := parseKey(q.Get("pledger"), "pledger")
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	page, err := parseInt(q.Get("page"), "page")
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	pageSize, err := parseInt(q.Get("page_size"), "page_size")
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	if page > 0 && pageSize == 0 {
		pageSize = DefaultPageSize
	}

	campaigns, pagination, err := h.Query.ListCampaigns(r.Context(), service.CampaignQuery{
		Owner:    owner,
		Pledger:  pledger,
		State:    q.Get("state"),
		Search:   q.Get("q"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	controller.RespondJSON(w, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	}, http.StatusOK)
}

func (h *QueryHandler) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	addr, err := parseKey(raw, "campaign address")
	if err == nil && addr.IsZero() {
		err = appErrors.Validation("campaign address is required")
	}
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	campaign, err := h.Query.GetCampaign(r.Context(), addr)
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	controller.RespondJSON(w, campaign, http.StatusOK)
}

func (h *QueryHandler) ListAdminsHandler(w http.ResponseWriter, r *http.Request) {
	admins, err := h.Query.ListAdmins(r.Context())
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	controller.RespondJSON(w, admins, http.StatusOK)
}

// GetAdminHandler returns the admin account of this program.
func (h *QueryHandler) GetAdminHandler(w http.ResponseWriter, r *http.Request) {
	admins, err := h.Query.ListAdmins(r.Context())
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	for _, a := range admins {
		if a.Address.Equals(h.Ledger.AdminAddress()) {
			controller.RespondJSON(w, a, http.StatusOK)
			return
		}
	}
	controller.RespondError(w, h.Logger, appErrors.ErrAdminNotFound)
}

type balanceResponse struct {
	Address  solana.PublicKey `json:"address"`
	Lamports uint64           `json:"lamports"`
}

func (h *QueryHandler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	addr, err := parseKey(chi.URLParam(r, "address"), "address")
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	lamports, err := h.Ledger.Balance(r.Context(), addr)
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	controller.RespondJSON(w, balanceResponse{Address: addr, Lamports: lamports}, http.StatusOK)
}

func (h *QueryHandler) AirdropHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address  solana.PublicKey `json:"address"`
		Lamports uint64           `json:"lamports"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		controller.RespondError(w, h.Logger, appErrors.Validation("invalid body: %v", err))
		return
	}
	lamports, err := h.Ledger.Airdrop(r.Context(), body.Address, body.Lamports)
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	controller.RespondJSON(w, balanceResponse{Address: body.Address, Lamports: lamports}, http.StatusOK)
}
