package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"habilitations/internal/db"
	"habilitations/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxDetailLen     = 512
)

// Store is the console audit journal.
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

func New(sqdb *sql.DB, dialect db.Dialect) *Store {
	return &Store{db: sqdb, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Record appends one entry. ID and CreatedAt are filled in when empty.
func (s *Store) Record(ctx context.Context, e models.AuditEntry) (models.AuditEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.Outcome == "" {
		e.Outcome = models.OutcomeOK
	}
	if len(e.Detail) > maxDetailLen {
		e.Detail = e.Detail[:maxDetailLen]
	}
	q := fmt.Sprintf(
		`INSERT INTO console_audit(id,actor_cp,action,target,outcome,detail,request_id,created_at) VALUES(%s)`,
		s.dialect.Placeholders(8),
	)
	_, err := s.db.ExecContext(ctx, q,
		e.ID, e.ActorCP, e.Action, e.Target, string(e.Outcome), e.Detail, e.RequestID, e.CreatedAt,
	)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return e, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, q models.AuditQuery) ([]models.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if cp := strings.TrimSpace(q.ActorCP); cp != "" {
		args = append(args, cp)
		where = append(where, "actor_cp="+s.dialect.Placeholder(len(args)))
	}
	if action := strings.TrimSpace(q.Action); action != "" {
		args = append(args, action)
		where = append(where, "action="+s.dialect.Placeholder(len(args)))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id,actor_cp,action,target,outcome,detail,request_id,created_at FROM console_audit`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s",
		s.dialect.Placeholder(len(args)-1), s.dialect.Placeholder(len(args)))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	out := make([]models.AuditEntry, 0, limit)
	for rows.Next() {
		var (
			e       models.AuditEntry
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.ActorCP, &e.Action, &e.Target, &outcome, &e.Detail, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Outcome = models.AuditOutcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}
