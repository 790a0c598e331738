package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dbilnica/fundwave-dapp/internal/controller"
	appErrors "github.com/dbilnica/fundwave-dapp/internal/errors"
	"github.com/dbilnica/fundwave-dapp/internal/media"
	"github.com/dbilnica/fundwave-dapp/internal/metrics"
)

const DefaultMaxUpload = 10 << 20

// MediaHandler serves /files: POST pins an image and answers with its CID as
// plain text, GET returns the most recent pin.
type MediaHandler struct {
	Pinner    media.Pinner
	Metrics   *metrics.LedgerMetrics
	MaxUpload int64
	Logger    *slog.Logger
}

func NewMediaHandler(p media.Pinner, m *metrics.LedgerMetrics, maxUpload int64, logger *slog.Logger) *MediaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &MediaHandler{Pinner: p, Metrics: m, MaxUpload: maxUpload, Logger: logger.With("component", "media_handler")}
}

func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.upload(w, r)
	case http.MethodGet:
		h.latest(w, r)
	default:
		w.Header().Set("Allow", "POST, GET")
		http.Error(w, "Method "+r.Method+" Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (h *MediaHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUpload+1<<10)
	if err := r.ParseMultipartForm(h.MaxUpload); err != nil {
		h.Metrics.Pins.WithLabelValues("rejected").Inc()
		http.Error(w, "Upload Error", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		h.Metrics.Pins.WithLabelValues("rejected").Inc()
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.MaxUpload))
	if err != nil {
		h.Metrics.Pins.WithLabelValues("error").Inc()
		http.Error(w, "Upload Error", http.StatusInternalServerError)
		return
	}

	mime, err := media.DetectImageType(data)
	if err != nil {
		h.Metrics.Pins.WithLabelValues("rejected").Inc()
		http.Error(w, err.Error(), appErrors.HTTPStatus(err))
		return
	}
	pin, err := h.Pinner.Pin(r.Context(), hdr.Filename, mime, data)
	if err != nil {
		h.Metrics.Pins.WithLabelValues("error").Inc()
		h.Logger.Error("failed to pin file", "name", hdr.Filename, "error", err)
		http.Error(w, "Upload Error", http.StatusBadGateway)
		return
	}
	h.Metrics.Pins.WithLabelValues("ok").Inc()
	h.Logger.Info("pinned image", "cid", pin.CID, "size", len(data), "type", mime)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, pin.CID)
}

func (h *MediaHandler) latest(w http.ResponseWriter, r *http.Request) {
	pin, err := h.Pinner.Latest(r.Context())
	if errors.Is(err, media.ErrNoPins) {
		controller.RespondJSON(w, controller.ErrorResponse{Message: err.Error(), Kind: appErrors.KindNotFound}, http.StatusNotFound)
		return
	}
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	controller.RespondJSON(w, pin, http.StatusOK)
}
