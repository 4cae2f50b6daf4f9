package audit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(StoreConfig{Path: filepath.Join(t.TempDir(), "nested", "audit.db"), Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_Migrates(t *testing.T) {
	s := testStore(t)
	v, err := currentVersion(s.db)
	if err != nil {
		t.Fatal(err)
	}
	if v != schemaVersion {
		t.Fatalf("expected schema version %d, got %d", schemaVersion, v)
	}
}

func TestNewStore_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	for i := 0; i < 2; i++ {
		s, err := NewStore(StoreConfig{Path: path, Logger: testLogger()})
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		s.Close()
	}
}

func TestSummary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	records := []Record{
		{CreatedAt: now.Add(-time.Minute), Platform: "discord", Trigger: "mention", Outcome: "ok", Latency: 100 * time.Millisecond},
		{CreatedAt: now.Add(-time.Minute), Platform: "discord", Trigger: "command:ask", Outcome: "ok", Latency: 300 * time.Millisecond},
		{CreatedAt: now.Add(-time.Minute), Platform: "slack", Trigger: "direct-message", Outcome: "backend_error", ErrorCode: -32000, Latency: 200 * time.Millisecond},
		{CreatedAt: now.Add(-48 * time.Hour), Platform: "telegram", Trigger: "mention", Outcome: "ok"},
	}
	for _, r := range records {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Total != 3 {
		t.Fatalf("expected 3 records in window, got %d", sum.Total)
	}
	if diff := cmp.Diff(map[string]int{"ok": 2, "backend_error": 1}, sum.ByOutcome); diff != "" {
		t.Errorf("by outcome (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"discord": 2, "slack": 1}, sum.ByPlatform); diff != "" {
		t.Errorf("by platform (-want +got):\n%s", diff)
	}
	if sum.AvgLatency != 200*time.Millisecond {
		t.Errorf("expected 200ms average latency, got %s", sum.AvgLatency)
	}
}

func TestSummary_Empty(t *testing.T) {
	sum, err := testStore(t).Summary(context.Background(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 0 || sum.AvgLatency != 0 {
		t.Fatalf("expected empty summary, got %+v", sum)
	}
}

func TestRecord_DefaultsCreatedAt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.Record(ctx, Record{Platform: "discord", Trigger: "mention", Outcome: "ok"}); err != nil {
		t.Fatal(err)
	}
	sum, err := s.Summary(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 1 {
		t.Fatalf("record without timestamp should be stamped now, got %d in window", sum.Total)
	}
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()
	_ = s.Record(ctx, Record{CreatedAt: now.Add(-72 * time.Hour), Platform: "discord", Trigger: "mention", Outcome: "ok"})
	_ = s.Record(ctx, Record{CreatedAt: now, Platform: "discord", Trigger: "mention", Outcome: "ok"})

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}
	sum, _ := s.Summary(ctx, time.Time{})
	if sum.Total != 1 {
		t.Fatalf("expected 1 remaining row, got %d", sum.Total)
	}
}
