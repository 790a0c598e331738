package media

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	pinPrefix  = []byte("pin/")
	blobPrefix = []byte("blob/")
	latestKey  = []byte("latest")
)

// BadgerPinner keeps pinned files in a local Badger database and addresses
// them by CIDv1 (raw codec, sha2-256).
type BadgerPinner struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewBadgerPinner opens the store in dir. An empty dir keeps everything in
// memory.
func NewBadgerPinner(dir string, logger *slog.Logger) (*BadgerPinner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badger_pinner")
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{logger}).
		WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open pin store: %w", err)
	}
	return &BadgerPinner{db: db, logger: logger, now: time.Now}, nil
}

var cidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ComputeCID returns the base32 CIDv1 of data.
func ComputeCID(data []byte) string {
	digest := sha256.Sum256(data)
	// version 1, raw codec 0x55, sha2-256 multihash 0x12 of length 0x20
	raw := append([]byte{0x01, 0x55, 0x12, 0x20}, digest[:]...)
	return "b" + strings.ToLower(cidEncoding.EncodeToString(raw))
}

func (p *BadgerPinner) Pin(_ context.Context, name, contentType string, data []byte) (*Pin, error) {
	pin := &Pin{
		CID:         ComputeCID(data),
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		PinnedAt:    p.now().UTC(),
	}
	meta, err := json.Marshal(pin)
	if err != nil {
		return nil, err
	}
	err = p.db.Update(func(txn *badger.Txn) error {
		cid := []byte(pin.CID)
		if err := txn.Set(append(append([]byte{}, blobPrefix...), cid...), data); err != nil {
			return err
		}
		if err := txn.Set(append(append([]byte{}, pinPrefix...), cid...), meta); err != nil {
			return err
		}
		return txn.Set(latestKey, cid)
	})
	if err != nil {
		return nil, fmt.Errorf("pin %s: %w", name, err)
	}
	p.logger.Debug("pinned file", "cid", pin.CID, "size", pin.Size)
	return pin, nil
}

func (p *BadgerPinner) Latest(_ context.Context) (*Pin, error) {
	var pin Pin
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey)
		if err != nil {
			return err
		}
		cid, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(append(append([]byte{}, pinPrefix...), cid...))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &pin)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoPins
	}
	if err != nil {
		return nil, err
	}
	return &pin, nil
}

// Get returns the bytes pinned under cid.
func (p *BadgerPinner) Get(cid string) ([]byte, error) {
	var data []byte
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append(append([]byte{}, blobPrefix...), cid...))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("cid %s: %w", cid, ErrNoPins)
	}
	return data, err
}

func (p *BadgerPinner) Close() error {
	return p.db.Close()
}

// badgerLogger routes badger's printf logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
