package state

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/codeGROOVE-dev/fido/pkg/store/null"
)

type sample struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func newTestFidoStore(t *testing.T) *FidoStore {
	t.Helper()
	store, err := NewFidoStore(context.Background(), WithRecordStore(null.New[string, recordList]()))
	if err != nil {
		t.Fatalf("failed to create test fido store: %v", err)
	}
	return store
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("failed to create test sqlite store: %v", err)
	}
	return store
}

func TestStores_RoundTrip(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"fido":   func(t *testing.T) Store { return newTestFidoStore(t) },
		"sqlite": func(t *testing.T) Store { return newTestSQLiteStore(t) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close() //nolint:errcheck // test cleanup

			ctx := context.Background()

			got, err := store.LoadRecords(ctx, "missing")
			if err != nil {
				t.Fatalf("LoadRecords(missing) error = %v", err)
			}
			if len(got) != 0 {
				t.Errorf("LoadRecords(missing) = %d records, want 0", len(got))
			}

			recs, err := Encode([]sample{{"a", 1}, {"b", 2}})
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if err := store.SaveRecords(ctx, KindRegistry, recs); err != nil {
				t.Fatalf("SaveRecords() error = %v", err)
			}

			got, err = store.LoadRecords(ctx, KindRegistry)
			if err != nil {
				t.Fatalf("LoadRecords() error = %v", err)
			}
			values, err := Decode[sample](got)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(values) != 2 || values[0].Name != "a" || values[1].Value != 2 {
				t.Errorf("LoadRecords() = %+v, want [{a 1} {b 2}]", values)
			}

			// Save replaces the whole list.
			recs, _ = Encode([]sample{{"c", 3}}) //nolint:errcheck // encoding plain structs cannot fail
			if err := store.SaveRecords(ctx, KindRegistry, recs); err != nil {
				t.Fatalf("SaveRecords() error = %v", err)
			}
			got, err = store.LoadRecords(ctx, KindRegistry)
			if err != nil {
				t.Fatalf("LoadRecords() error = %v", err)
			}
			if len(got) != 1 {
				t.Errorf("LoadRecords() after replace = %d records, want 1", len(got))
			}
		})
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	recs, _ := Encode([]sample{{"kept", 7}}) //nolint:errcheck // encoding plain structs cannot fail
	if err := store.SaveRecords(ctx, LatencyKind("2026-03"), recs); err != nil {
		t.Fatalf("SaveRecords() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer reopened.Close() //nolint:errcheck // test cleanup

	got, err := reopened.LoadRecords(ctx, LatencyKind("2026-03"))
	if err != nil {
		t.Fatalf("LoadRecords() error = %v", err)
	}
	values, err := Decode[sample](got)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(values) != 1 || values[0].Name != "kept" {
		t.Errorf("LoadRecords() = %+v, want [{kept 7}]", values)
	}
}

func TestMemoryStore_CopiesRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	recs := []json.RawMessage{json.RawMessage(`{"name":"a"}`)}
	if err := store.SaveRecords(ctx, "k", recs); err != nil {
		t.Fatalf("SaveRecords() error = %v", err)
	}
	recs[0][2] = 'X'

	got, _ := store.LoadRecords(ctx, "k") //nolint:errcheck // memory store never fails
	if string(got[0]) != `{"name":"a"}` {
		t.Errorf("LoadRecords() = %s, stored slice should be copied", got[0])
	}

	if kinds := store.Kinds(); len(kinds) != 1 || kinds[0] != "k" {
		t.Errorf("Kinds() = %v, want [k]", kinds)
	}
}

func TestDecode_Invalid(t *testing.T) {
	if _, err := Decode[sample]([]json.RawMessage{json.RawMessage(`{`)}); err == nil {
		t.Error("Decode() should fail on invalid JSON")
	}
}

func TestLatencyKind(t *testing.T) {
	if got := LatencyKind("2026-03"); got != "latency-2026-03" {
		t.Errorf("LatencyKind() = %q, want %q", got, "latency-2026-03")
	}
}
