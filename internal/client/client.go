// Package client talks to the ledger service over HTTP. Every state-changing
// call takes an explicit Session holding the key that signs the instruction.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/dbilnica/fundwave-dapp/internal/address"
	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/instruction"
	"github.com/dbilnica/fundwave-dapp/internal/media"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/service"
)

// DefaultMinPledge mirrors the server default of 0.01 SOL.
const DefaultMinPledge uint64 = 10_000_000

// Session is the identity a caller acts as.
type Session struct {
	Signer solana.PrivateKey
}

func NewSession(key solana.PrivateKey) *Session {
	return &Session{Signer: key}
}

func (s *Session) PublicKey() solana.PublicKey {
	return s.Signer.PublicKey()
}

type Client struct {
	BaseURL   string
	HTTP      *http.Client
	ProgramID solana.PublicKey
	MinPledge uint64
	Now       func() time.Time
}

func New(baseURL string, programID solana.PublicKey, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		HTTP:      httpClient,
		ProgramID: programID,
		MinPledge: DefaultMinPledge,
		Now:       time.Now,
	}
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Message string
	Kind    appErrors.ErrorKind
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Kind)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var res struct {
		Message string              `json:"message"`
		Kind    appErrors.ErrorKind `json:"kind"`
	}
	if err := json.Unmarshal(body, &res); err != nil || res.Message == "" {
		res.Message = strings.TrimSpace(string(body))
	}
	return &APIError{Status: resp.StatusCode, Message: res.Message, Kind: res.Kind}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// submit signs and posts one instruction.
func (c *Client) submit(ctx context.Context, s *Session, path string, name instruction.Name, campaign solana.PublicKey, args instruction.Args) (*service.Receipt, error) {
	if s == nil || len(s.Signer) == 0 {
		return nil, appErrors.Validation("a session is required")
	}
	env := instruction.New(name, s.PublicKey(), campaign, args, c.Now())
	if err := env.Sign(c.ProgramID, s.Signer); err != nil {
		return nil, err
	}
	var res struct {
		Receipt *service.Receipt `json:"receipt"`
	}
	if err := c.postJSON(ctx, path, env, &res); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return res.Receipt, nil
}

// CampaignAddress is the address the session's campaign lives at.
func (c *Client) CampaignAddress(s *Session) (solana.PublicKey, error) {
	return address.DeriveCampaignAddress(c.ProgramID, s.PublicKey())
}

func (c *Client) CreateCampaign(ctx context.Context, s *Session, in model.CampaignInput) (*service.Receipt, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	addr, err := c.CampaignAddress(s)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, s, "/campaigns", instruction.CampaignCreate, addr, instruction.Args{
		Name:        in.Name,
		Description: in.Description,
		Goal:        in.Goal,
		Duration:    in.Duration,
		ImageCID:    in.ImageCID,
	})
}

func campaignPath(campaign solana.PublicKey, action string) string {
	return "/campaigns/" + campaign.String() + "/" + action
}

func (c *Client) Support(ctx context.Context, s *Session, campaign solana.PublicKey, lamports uint64) (*service.Receipt, error) {
	if lamports < c.MinPledge {
		return nil, appErrors.Validation("pledge must be at least %d lamports", c.MinPledge)
	}
	return c.submit(ctx, s, campaignPath(campaign, "support"), instruction.CampaignSupport, campaign, instruction.Args{Amount: lamports})
}

func (c *Client) CancelSupport(ctx context.Context, s *Session, campaign solana.PublicKey) (*service.Receipt, error) {
	return c.submit(ctx, s, campaignPath(campaign, "support/cancel"), instruction.SupportCancel, campaign, instruction.Args{})
}

func (c *Client) Withdraw(ctx context.Context, s *Session, campaign solana.PublicKey) (*service.Receipt, error) {
	return c.submit(ctx, s, campaignPath(campaign, "withdraw"), instruction.CampaignWithdraw, campaign, instruction.Args{})
}

func (c *Client) Review(ctx context.Context, s *Session, campaign solana.PublicKey) (*service.Receipt, error) {
	return c.submit(ctx, s, campaignPath(campaign, "review"), instruction.CampaignReview, campaign, instruction.Args{})
}

func (c *Client) Cancel(ctx context.Context, s *Session, campaign solana.PublicKey) (*service.Receipt, error) {
	return c.submit(ctx, s, campaignPath(campaign, "cancel"), instruction.CampaignCancel, campaign, instruction.Args{})
}

func (c *Client) InitializeAdmin(ctx context.Context, s *Session) (*service.Receipt, error) {
	return c.submit(ctx, s, "/admin", instruction.AdminInitialize, solana.PublicKey{}, instruction.Args{})
}

func (c *Client) TransferOwnership(ctx context.Context, s *Session, newAdmin solana.PublicKey) (*service.Receipt, error) {
	if newAdmin.IsZero() {
		return nil, appErrors.Validation("new admin key is required")
	}
	return c.submit(ctx, s, "/admin/transfer", instruction.OwnershipTransfer, solana.PublicKey{}, instruction.Args{NewAdmin: newAdmin})
}

// ListOptions mirrors the /campaigns query parameters. Zero values are
// omitted.
type ListOptions struct {
	Owner    solana.PublicKey
	Pledger  solana.PublicKey
	State    string
	Search   string
	Page     int
	PageSize int
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if !o.Owner.IsZero() {
		v.Set("owner", o.Owner.String())
	}
	if !o.Pledger.IsZero() {
		v.Set("pledger", o.Pledger.String())
	}
	if o.State != "" {
		v.Set("state", o.State)
	}
	if o.Search != "" {
		v.Set("q", o.Search)
	}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(o.PageSize))
	}
	return v
}

type CampaignPage struct {
	Data       []service.CampaignView `json:"data"`
	Pagination map[string]int         `json:"pagination"`
}

func (c *Client) ListCampaigns(ctx context.Context, opts ListOptions) (*CampaignPage, error) {
	path := "/campaigns"
	if q := opts.values().Encode(); q != "" {
		path += "?" + q
	}
	var page CampaignPage
	if err := c.get(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetCampaign(ctx context.Context, campaign solana.PublicKey) (*service.CampaignView, error) {
	var v service.CampaignView
	if err := c.get(ctx, "/campaigns/"+campaign.String(), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) GetAdmin(ctx context.Context) (*model.Admin, error) {
	var a model.Admin
	if err := c.get(ctx, "/admin", &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Balance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	var b model.Balance
	if err := c.get(ctx, "/balances/"+addr.String(), &b); err != nil {
		return 0, err
	}
	return b.Lamports, nil
}

func (c *Client) Airdrop(ctx context.Context, addr solana.PublicKey, lamports uint64) (uint64, error) {
	var b model.Balance
	in := map[string]any{"address": addr, "lamports": lamports}
	if err := c.postJSON(ctx, "/airdrop", in, &b); err != nil {
		return 0, err
	}
	return b.Lamports, nil
}

// Events returns events committed after seq.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]model.LedgerEvent, error) {
	v := url.Values{}
	v.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	var events []model.LedgerEvent
	if err := c.get(ctx, "/events?"+v.Encode(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Watch polls the event log every interval and delivers events after seq in
// order. The channel closes when ctx is done.
func (c *Client) Watch(ctx context.Context, after int64, interval time.Duration) <-chan model.LedgerEvent {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan model.LedgerEvent)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			events, err := c.Events(ctx, after, 0)
			if err == nil {
				for _, ev := range events {
					select {
					case out <- ev:
						after = ev.Seq
					case <-ctx.Done():
						return
					}
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

// UploadImage sends an image to /files and returns its CID. The type is
// checked locally first so obviously wrong files never leave the machine.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	if _, err := media.DetectImageType(data); err != nil {
		return "", err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/files", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", decodeError(resp)
	}
	cid, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(cid)), nil
}
