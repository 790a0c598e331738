package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const DefaultPinataAPIURL = "https://api.pinata.cloud"

// PinataPinner pins files through the Pinata HTTP API.
type PinataPinner struct {
	BaseURL string
	JWT     string
	Client  *http.Client
}

func NewPinataPinner(baseURL, jwt string, client *http.Client) *PinataPinner {
	if baseURL == "" {
		baseURL = DefaultPinataAPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &PinataPinner{BaseURL: strings.TrimRight(baseURL, "/"), JWT: jwt, Client: client}
}

type pinFileResponse struct {
	IpfsHash  string    `json:"IpfsHash"`
	PinSize   int64     `json:"PinSize"`
	Timestamp time.Time `json:"Timestamp"`
}

type pinListResponse struct {
	Count int `json:"count"`
	Rows  []struct {
		IpfsPinHash string    `json:"ipfs_pin_hash"`
		Size        int64     `json:"size"`
		DatePinned  time.Time `json:"date_pinned"`
		Metadata    struct {
			Name string `json:"name"`
		} `json:"metadata"`
	} `json:"rows"`
}

func (p *PinataPinner) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+p.JWT)
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("pinata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pinata: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("pinata: decode response: %w", err)
	}
	return nil
}

func (p *PinataPinner) Pin(ctx context.Context, name, contentType string, data []byte) (*Pin, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	meta, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res pinFileResponse
	if err := p.do(req, &res); err != nil {
		return nil, err
	}
	if res.IpfsHash == "" {
		return nil, fmt.Errorf("pinata: response carried no hash")
	}
	return &Pin{
		CID:         res.IpfsHash,
		Name:        name,
		ContentType: contentType,
		Size:        res.PinSize,
		PinnedAt:    res.Timestamp,
	}, nil
}

// Latest returns the most recently pinned file.
func (p *PinataPinner) Latest(ctx context.Context) (*Pin, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/data/pinList?status=pinned&pageLimit=1", nil)
	if err != nil {
		return nil, err
	}
	var res pinListResponse
	if err := p.do(req, &res); err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, ErrNoPins
	}
	row := res.Rows[0]
	return &Pin{
		CID:      row.IpfsPinHash,
		Name:     row.Metadata.Name,
		Size:     row.Size,
		PinnedAt: row.DatePinned,
	}, nil
}
