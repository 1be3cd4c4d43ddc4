// Package audit records provisioning runs.
//
// Audit records are append-only. Without a database the records are only
// written to the structured log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"nexaauth.io/provisioner/internal/pkg/logger"
)

// Record is one stored audit entry.
type Record struct {
	ID           string
	Action       string
	ResourceType string
	ResourceID   string
	Actor        string
	Details      map[string]interface{}
	CreatedAt    time.Time
}

// Logger writes audit records.
type Logger struct {
	pool *pgxpool.Pool
}

// NewLogger creates a Logger. pool may be nil.
func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

// LogAction records an auditable action. For provisioning the resource is
// the tenant client id and the actor is the subject's Keycloak id.
func (l *Logger) LogAction(ctx context.Context, action, resourceType, resourceID, actor string, details map[string]interface{}) error {
	id := generateAuditID()

	logger.FromContext(ctx).Info("Audit",
		zap.String("audit_id", id),
		zap.String("action", action),
		zap.String("resource_type", resourceType),
		zap.String("resource_id", resourceID),
		zap.String("actor", actor),
		zap.Any("details", details),
	)
	if l.pool == nil {
		return nil
	}

	if details == nil {
		details = map[string]interface{}{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	_, err = l.pool.Exec(ctx,
		`INSERT INTO provisioning_audit (id, action, resource_type, resource_id, actor, details)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, action, resourceType, resourceID, actor, payload,
	)
	if err != nil {
		logger.Error("Failed to write audit log",
			zap.String("action", action),
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// ListByActor returns the most recent records of actor, newest first.
func (l *Logger) ListByActor(ctx context.Context, actor string, limit int) ([]Record, error) {
	if l.pool == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.pool.Query(ctx,
		`SELECT id, action, resource_type, resource_id, actor, details, created_at
		   FROM provisioning_audit
		  WHERE actor = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		actor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r   Record
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.Action, &r.ResourceType, &r.ResourceID, &r.Actor, &raw, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func generateAuditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return fmt.Sprintf("audit-%s", id.String())
}
