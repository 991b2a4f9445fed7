package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"habilitations/internal/db"
	"habilitations/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "audit.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "001_init.sql")); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	return New(sqdb, db.SQLite)
}

func TestRecordAndList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	entries := []models.AuditEntry{
		{ActorCP: "1234567A", Action: "login", Target: "1234567A", CreatedAt: base},
		{ActorCP: "1234567A", Action: "agent.update", Target: "7654321B", Outcome: models.OutcomeRejected, Detail: "Erreur lors de la mise à jour", CreatedAt: base.Add(time.Minute)},
		{ActorCP: "7654321B", Action: "agent.delete", Target: "1111111C", RequestID: "req-1", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		rec, err := st.Record(ctx, e)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if rec.ID == "" {
			t.Fatalf("expected generated id")
		}
	}

	all, err := st.List(ctx, models.AuditQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Action != "agent.delete" || all[0].RequestID != "req-1" {
		t.Fatalf("expected newest first, got %+v", all[0])
	}
	if all[2].Outcome != models.OutcomeOK {
		t.Fatalf("expected default outcome ok, got %q", all[2].Outcome)
	}
	if !all[2].CreatedAt.Equal(base) {
		t.Fatalf("unexpected created_at %s", all[2].CreatedAt)
	}

	mine, err := st.List(ctx, models.AuditQuery{ActorCP: "1234567A", Action: "agent.update"})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(mine) != 1 || mine[0].Outcome != models.OutcomeRejected || mine[0].Target != "7654321B" {
		t.Fatalf("unexpected filtered result %+v", mine)
	}

	page, err := st.List(ctx, models.AuditQuery{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("paged list: %v", err)
	}
	if len(page) != 1 || page[0].Action != "agent.update" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestRecordTruncatesDetail(t *testing.T) {
	st := newTestStore(t)
	rec, err := st.Record(context.Background(), models.AuditEntry{ActorCP: "1234567A", Action: "login", Target: "1234567A", Detail: strings.Repeat("x", 2000)})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(rec.Detail) != maxDetailLen {
		t.Fatalf("expected detail truncated to %d, got %d", maxDetailLen, len(rec.Detail))
	}
}
