package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/switchboardhq/switchboard/internal/core"
	"github.com/switchboardhq/switchboard/internal/lease"
	"github.com/switchboardhq/switchboard/internal/storage"
)

// AcquireSlot claims the single active slot for (project, slot type). The
// same lease mechanics as path reservations apply; only the conflict
// predicate differs: identity on the slot type instead of pattern overlap.
// A conflicting holder is returned as data, never as an error, and the
// caller decides whether to retry.
func (s *Store) AcquireSlot(ctx context.Context, req storage.SlotRequest) (*core.BuildSlot, *core.SlotConflict, error) {
	now := s.now()
	window, err := lease.NewWindow(now, req.TTL)
	if err != nil {
		return nil, nil, core.Invalidf("ttl", "%v", err)
	}

	if _, err := s.EnsureAgent(ctx, req.Project, req.Agent); err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin acquire: %w", err)
	}
	defer tx.Rollback()

	existing, err := activeSlotsIn(tx, req.Project, now)
	if err != nil {
		return nil, nil, err
	}

	holders := lease.Conflicts(existing, func(b core.BuildSlot) bool {
		return b.SlotType == req.SlotType && b.AgentID != req.Agent
	})
	if len(holders) > 0 {
		return nil, &core.SlotConflict{SlotType: req.SlotType, Holder: holders[0]}, nil
	}

	// Re-acquiring a slot the agent already holds refreshes the lease
	// instead of stacking a second claim.
	for i := range existing {
		if existing[i].SlotType == req.SlotType && existing[i].AgentID == req.Agent {
			held := existing[i]
			held.ExpiresAt = window.ExpiresAt
			if _, err := tx.Exec(
				`UPDATE build_slots SET expires_at = ? WHERE id = ? AND released_at IS NULL`,
				fmtTime(held.ExpiresAt), held.ID,
			); err != nil {
				return nil, nil, fmt.Errorf("refresh slot: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return nil, nil, fmt.Errorf("commit acquire: %w", err)
			}
			return &held, nil, nil
		}
	}

	slot := core.BuildSlot{
		ID:       uuid.NewString(),
		Project:  req.Project,
		AgentID:  req.Agent,
		SlotType: req.SlotType,
		Reason:   req.Reason,
		Window:   window,
	}
	if _, err := tx.Exec(
		`INSERT INTO build_slots (id, project, agent, slot_type, reason, created_at, expires_at, released_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		slot.ID, slot.Project, slot.AgentID, slot.SlotType, slot.Reason,
		fmtTime(slot.CreatedAt), fmtTime(slot.ExpiresAt),
	); err != nil {
		return nil, nil, fmt.Errorf("insert slot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit acquire: %w", err)
	}
	return &slot, nil, nil
}

func (s *Store) GetSlot(ctx context.Context, project, id string) (core.BuildSlot, error) {
	row := s.db.QueryRow(slotSelect+` WHERE project = ? AND id = ?`, project, id)
	b, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BuildSlot{}, core.ErrNotFound
	}
	return b, err
}

func (s *Store) ReleaseSlot(ctx context.Context, project, id, agent string) error {
	b, err := s.GetSlot(ctx, project, id)
	if err != nil {
		return err
	}
	if b.AgentID != agent {
		return fmt.Errorf("release slot %s by %s: %w", id, agent, core.ErrForbidden)
	}
	if !b.Release(s.now()) {
		return nil
	}
	if _, err := s.db.Exec(
		`UPDATE build_slots SET released_at = ? WHERE id = ? AND released_at IS NULL`,
		fmtTimePtr(b.ReleasedAt), id,
	); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (s *Store) RenewSlot(ctx context.Context, project, id string, ttl time.Duration) (core.BuildSlot, error) {
	b, err := s.GetSlot(ctx, project, id)
	if err != nil {
		return core.BuildSlot{}, err
	}
	if err := b.Renew(s.now(), ttl); err != nil {
		return core.BuildSlot{}, fmt.Errorf("renew slot %s: %w", id, err)
	}
	res, err := s.db.Exec(
		`UPDATE build_slots SET expires_at = ? WHERE id = ? AND released_at IS NULL`,
		fmtTime(b.ExpiresAt), id,
	)
	if err != nil {
		return core.BuildSlot{}, fmt.Errorf("renew slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.BuildSlot{}, lease.ErrNotActive
	}
	return b, nil
}

func (s *Store) ActiveSlots(ctx context.Context, project string) ([]core.BuildSlot, error) {
	return activeSlotsIn(s.db, project, s.now())
}

const slotSelect = `SELECT id, project, agent, slot_type, reason, created_at, expires_at, released_at FROM build_slots`

func activeSlotsIn(q querier, project string, now time.Time) ([]core.BuildSlot, error) {
	rows, err := q.Query(
		slotSelect+` WHERE project = ? AND released_at IS NULL AND expires_at > ? ORDER BY created_at`,
		project, fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	out := []core.BuildSlot{}
	for rows.Next() {
		b, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		if b.ActiveAt(now) {
			out = append(out, b)
		}
	}
	return out, rows.Err()
}

func scanSlot(row scanner) (core.BuildSlot, error) {
	var b core.BuildSlot
	var reason, releasedAt sql.NullString
	var createdAt, expiresAt string
	err := row.Scan(&b.ID, &b.Project, &b.AgentID, &b.SlotType, &reason, &createdAt, &expiresAt, &releasedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.BuildSlot{}, err
		}
		return core.BuildSlot{}, fmt.Errorf("scan slot: %w", err)
	}
	b.Reason = reason.String
	b.CreatedAt = parseTime(createdAt)
	b.ExpiresAt = parseTime(expiresAt)
	b.ReleasedAt = parseTimePtr(releasedAt)
	return b, nil
}
