package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-procure-requests/internal/repository"
)

// Recorder appends immutable before/after change records. Record is always
// called with the transaction of the mutation it documents; a failed append
// aborts the whole step so the trail can never diverge from actual state.
type Recorder struct{}

// NewRecorder creates an audit recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one audit entry inside tx.
func (r *Recorder) Record(ctx context.Context, tx repository.Tx, action, entityType, entityID string, old, new map[string]interface{}, actorUserID, requestID *string) error {
	return tx.Audit().Append(ctx, &repository.AuditEntry{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     actorUserID,
		RequestID:  requestID,
		OldValues:  old,
		NewValues:  new,
	})
}

// statusChange builds the old/new snapshots for a plain status move.
func statusChange(from, to string) (map[string]interface{}, map[string]interface{}) {
	return map[string]interface{}{"status": from}, map[string]interface{}{"status": to}
}
