package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
)

// WorkflowRepository manages workflow execution rows. Checkpoints are
// append-only; updates are guarded by an optimistic version token so two
// processes can never advance the same execution concurrently.
type WorkflowRepository struct {
	q Querier
}

// NewWorkflowRepository creates a new workflow execution repository.
func NewWorkflowRepository(q Querier) *WorkflowRepository {
	return &WorkflowRepository{q: q}
}

const executionColumns = `
	id, workflow_type, entity_id, entity_type, current_state,
	state_data, status, checkpoints, last_trigger, error_message,
	version, created_at, updated_at`

// Insert stores a new execution. The partial unique index on
// (workflow_type, entity_id) WHERE status not terminal enforces the
// at-most-one-active invariant; a violation surfaces as CONFLICT.
func (r *WorkflowRepository) Insert(ctx context.Context, exec *WorkflowExecution) error {
	stateJSON, checkpointsJSON, err := marshalExecutionState(exec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_executions
		    (id, workflow_type, entity_id, entity_type, current_state,
		     state_data, status, checkpoints, last_trigger, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7::workflow_status, $8, $9, 1)
		RETURNING version, created_at, updated_at
	`

	err = r.q.QueryRow(ctx, query,
		exec.ID,
		exec.WorkflowType,
		exec.EntityID,
		exec.EntityType,
		exec.CurrentState,
		stateJSON,
		exec.Status,
		checkpointsJSON,
		exec.LastTrigger,
	).Scan(&exec.Version, &exec.CreatedAt, &exec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("an active workflow execution already exists for this entity")
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert workflow execution")
	}
	return nil
}

// Update persists the execution, bumping version and failing with CONFLICT
// when the row moved underneath us.
func (r *WorkflowRepository) Update(ctx context.Context, exec *WorkflowExecution) error {
	stateJSON, checkpointsJSON, err := marshalExecutionState(exec)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_executions
		SET current_state = $3,
		    state_data    = $4,
		    status        = $5::workflow_status,
		    checkpoints   = $6,
		    last_trigger  = $7,
		    error_message = $8,
		    version       = version + 1,
		    updated_at    = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`

	err = r.q.QueryRow(ctx, query,
		exec.ID,
		exec.Version,
		exec.CurrentState,
		stateJSON,
		exec.Status,
		checkpointsJSON,
		exec.LastTrigger,
		exec.ErrorMessage,
	).Scan(&exec.Version, &exec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.Conflict("workflow execution was modified concurrently")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update workflow execution")
	}
	return nil
}

// GetActive returns the single non-terminal execution for an entity, or nil.
func (r *WorkflowRepository) GetActive(ctx context.Context, workflowType, entityID string) (*WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_type = $1
		  AND entity_id = $2
		  AND status IN ('PENDING'::workflow_status, 'RUNNING'::workflow_status)
		LIMIT 1`

	exec, err := scanExecution(r.q.QueryRow(ctx, query, workflowType, entityID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow execution")
	}
	return exec, nil
}

// ListByStatus returns executions of a workflow type in a given status,
// oldest first. The resume loop uses this to find RUNNING executions.
func (r *WorkflowRepository) ListByStatus(ctx context.Context, workflowType string, status WorkflowStatus) ([]*WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_type = $1 AND status = $2::workflow_status
		ORDER BY created_at ASC`

	rows, err := r.q.Query(ctx, query, workflowType, status)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow executions")
	}
	defer rows.Close()

	execs := make([]*WorkflowExecution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow execution")
		}
		execs = append(execs, exec)
	}
	return execs, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func marshalExecutionState(exec *WorkflowExecution) (stateJSON, checkpointsJSON []byte, err error) {
	if exec.StateData == nil {
		exec.StateData = StateData{}
	}
	stateJSON, err = json.Marshal(exec.StateData)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal state data")
	}
	if exec.Checkpoints == nil {
		exec.Checkpoints = []Checkpoint{}
	}
	checkpointsJSON, err = json.Marshal(exec.Checkpoints)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal checkpoints")
	}
	return stateJSON, checkpointsJSON, nil
}

func scanExecution(sc rowScanner) (*WorkflowExecution, error) {
	exec := &WorkflowExecution{}
	var stateJSON, checkpointsJSON []byte

	err := sc.Scan(
		&exec.ID,
		&exec.WorkflowType,
		&exec.EntityID,
		&exec.EntityType,
		&exec.CurrentState,
		&stateJSON,
		&exec.Status,
		&checkpointsJSON,
		&exec.LastTrigger,
		&exec.ErrorMessage,
		&exec.Version,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.StateData = StateData{}
	if stateJSON != nil {
		if err := json.Unmarshal(stateJSON, &exec.StateData); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal state data")
		}
	}
	if checkpointsJSON != nil {
		if err := json.Unmarshal(checkpointsJSON, &exec.Checkpoints); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal checkpoints")
		}
	}
	return exec, nil
}
