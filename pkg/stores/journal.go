package stores

import (
	"context"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/declabill/declabill/pkg/engine"
)

// HashState returns the hex BLAKE2b-256 digest of a JSON state blob.
func HashState(state []byte) string {
	sum := blake2b.Sum256(state)
	return hex.EncodeToString(sum[:])
}

// Record implements engine.Journal. The operation is attached to the run
// ctx carries (see ContextWithRun). Successful decisions carrying a state
// refresh the entity snapshot; deletes drop it.
func (s *SQLiteStore) Record(ctx context.Context, rec engine.OperationRecord) error {
	op := &Operation{
		Kind:           rec.Kind,
		EntityID:       rec.EntityID,
		UniqueKey:      rec.UniqueKey,
		Action:         string(rec.Action),
		Detail:         rec.Detail,
		IdempotencyKey: rec.IdempotencyKey,
		Status:         OperationStatusSucceeded,
		DurationMS:     rec.Duration.Milliseconds(),
	}
	runID, hasRun := RunFromContext(ctx)
	if hasRun {
		op.RunID = &runID
	}
	if rec.Err != nil {
		msg := rec.Err.Error()
		op.Status = OperationStatusFailed
		op.Error = &msg
	}
	if err := s.AppendOperation(ctx, op); err != nil {
		return err
	}

	if rec.Err != nil {
		return nil
	}
	key := snapshotKey(rec)
	if key == "" {
		return nil
	}

	if rec.Action == engine.OperationDelete {
		if rec.EntityID != "" {
			if err := s.deleteSnapshotOfEntity(ctx, rec.Kind, rec.EntityID); err != nil {
				return err
			}
		}
		return s.DeleteSnapshot(ctx, rec.Kind, key)
	}
	if len(rec.State) == 0 {
		return nil
	}

	snap := &Snapshot{
		Kind:      rec.Kind,
		UniqueKey: key,
		EntityID:  rec.EntityID,
		State:     string(rec.State),
	}
	if hasRun {
		snap.RunID = &runID
	}
	if _, err := s.UpsertSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to snapshot %s %s: %w", rec.Kind, key, err)
	}
	return nil
}

// snapshotKey prefers the unique key; kinds without one fall back to the
// primary id.
func snapshotKey(rec engine.OperationRecord) string {
	if rec.UniqueKey != "" {
		return rec.UniqueKey
	}
	return rec.EntityID
}

// deleteSnapshotOfEntity removes the snapshots of a primary id, whatever
// unique key they were stored under.
func (s *SQLiteStore) deleteSnapshotOfEntity(ctx context.Context, kind, entityID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE kind = ? AND entity_id = ?`, kind, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
