package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/fido"
	"github.com/codeGROOVE-dev/fido/pkg/store/cloudrun"
)

// recordTTL keeps a year of monthly latency buckets plus the current one.
const recordTTL = 400 * 24 * time.Hour

// FidoStore implements Store using fido with CloudRun backend.
//
// Requires the groupwatch-records Datastore database to exist before use.
type FidoStore struct {
	records *fido.TieredCache[string, recordList]
}

// FidoStoreOption configures a FidoStore.
type FidoStoreOption func(*fidoStoreOptions)

type fidoStoreOptions struct {
	recordStore fido.Store[string, recordList]
}

// WithRecordStore sets a custom backing store, mainly for tests.
func WithRecordStore(s fido.Store[string, recordList]) FidoStoreOption {
	return func(o *fidoStoreOptions) { o.recordStore = s }
}

// NewFidoStore creates a new fido-backed store.
// Uses CloudRun backend which auto-detects environment.
func NewFidoStore(ctx context.Context, opts ...FidoStoreOption) (*FidoStore, error) {
	var o fidoStoreOptions
	for _, opt := range opts {
		opt(&o)
	}

	recordStore := o.recordStore
	if recordStore == nil {
		var err error
		recordStore, err = cloudrun.New[string, recordList](ctx, "groupwatch-records")
		if err != nil {
			return nil, fmt.Errorf("create record store: %w", err)
		}
	}

	records, err := fido.NewTiered(recordStore, fido.TTL(recordTTL))
	if err != nil {
		return nil, fmt.Errorf("create record cache: %w", err)
	}

	slog.Info("initialized fido store")
	return &FidoStore{records: records}, nil
}

// LoadRecords returns the records stored for kind.
func (s *FidoStore) LoadRecords(ctx context.Context, kind string) ([]json.RawMessage, error) {
	var list recordList
	var found bool
	err := retryableCtx(ctx, func() error {
		var err error
		list, found, err = s.records.Get(ctx, kind)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	if !found {
		return nil, nil
	}
	return list.Records, nil
}

// SaveRecords replaces the records stored for kind.
func (s *FidoStore) SaveRecords(ctx context.Context, kind string, records []json.RawMessage) error {
	list := recordList{UpdatedAt: time.Now(), Records: records}
	if err := retryableCtx(ctx, func() error {
		return s.records.Set(ctx, kind, list)
	}); err != nil {
		return fmt.Errorf("save %s: %w", kind, err)
	}
	return nil
}

// Close releases resources.
func (s *FidoStore) Close() error {
	if err := s.records.Close(); err != nil {
		return fmt.Errorf("close records: %w", err)
	}
	return nil
}
