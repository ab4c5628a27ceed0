package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
)

// AuditRepository appends and reads immutable audit log entries. The table
// has a delete-prevention trigger, so Append is the only mutation exposed.
type AuditRepository struct {
	q Querier
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(q Querier) *AuditRepository {
	return &AuditRepository{q: q}
}

// Append inserts one audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	oldJSON, err := marshalValues(entry.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalValues(entry.NewValues)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log
		    (id, action, entity_type, entity_id, user_id, request_id, old_values, new_values)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING recorded_at
	`

	err = r.q.QueryRow(ctx, query,
		entry.ID,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		entry.UserID,
		entry.RequestID,
		oldJSON,
		newJSON,
	).Scan(&entry.RecordedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListByRequest returns the full audit trail for a request, oldest first.
func (r *AuditRepository) ListByRequest(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, entity_type, entity_id, user_id, request_id,
		       old_values, new_values, recorded_at
		FROM audit_log
		WHERE request_id = $1
		ORDER BY recorded_at ASC
	`

	rows, err := r.q.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		entry := &AuditEntry{}
		var oldJSON, newJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.EntityType,
			&entry.EntityID,
			&entry.UserID,
			&entry.RequestID,
			&oldJSON,
			&newJSON,
			&entry.RecordedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}

		if oldJSON != nil {
			if err := json.Unmarshal(oldJSON, &entry.OldValues); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit old values")
			}
		}
		if newJSON != nil {
			if err := json.Unmarshal(newJSON, &entry.NewValues); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit new values")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func marshalValues(values map[string]interface{}) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit values")
	}
	return data, nil
}
