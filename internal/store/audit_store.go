package store

import (
	"context"
	"fmt"
	"strings"

	"referralpay/internal/models"
)

type AuditStore struct {
	db DB
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

// Log appends an audit row inside tx. An empty actorID records a system
// action with a NULL actor.
func (s *AuditStore) Log(ctx context.Context, tx Execer, actorID, action, entityType, entityID, data string) error {
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_user_id, action, entity_type, entity_id, data)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5)
	`, actor, action, entityType, entityID, data); err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}

// AuditFilter narrows List. Zero fields match everything.
type AuditFilter struct {
	ActorID    string
	EntityType string
	EntityID   string
}

func (f AuditFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("actor_user_id", f.ActorID)
	add("entity_type", f.EntityType)
	add("entity_id", f.EntityID)
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// List returns audit rows newest first.
func (s *AuditStore) List(ctx context.Context, filter AuditFilter, limit, offset int) ([]models.AuditLog, error) {
	where, args := filter.where()
	query := fmt.Sprintf(`
		SELECT id, actor_user_id, action, entity_type, entity_id, data, created_at
		FROM audit_logs
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	rows := []models.AuditLog{}
	if err := s.db.SelectContext(ctx, &rows, query, append(args, limit, offset)...); err != nil {
		return nil, err
	}
	return rows, nil
}
