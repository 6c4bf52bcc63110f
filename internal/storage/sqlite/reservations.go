package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/switchboardhq/switchboard/internal/core"
	"github.com/switchboardhq/switchboard/internal/glob"
	"github.com/switchboardhq/switchboard/internal/lease"
	"github.com/switchboardhq/switchboard/internal/storage"
)

// querier is satisfied by both the store handle and *sql.Tx so scan
// helpers work inside and outside transactions.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// ReservePaths grants each requested path that has no conflicting active
// reservation. The conflict scan and the inserts share one transaction so
// two racing exclusive requests for the same path cannot both win: SQLite
// serializes the writes, and the loser sees the winner's row.
func (s *Store) ReservePaths(ctx context.Context, req storage.ReserveRequest) (core.Grant, error) {
	now := s.now()
	window, err := lease.NewWindow(now, req.TTL)
	if err != nil {
		return core.Grant{}, core.Invalidf("ttl", "%v", err)
	}

	if _, err := s.EnsureAgent(ctx, req.Project, req.Agent); err != nil {
		return core.Grant{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Grant{}, fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback()

	existing, err := activeReservationsIn(tx, req.Project, now)
	if err != nil {
		return core.Grant{}, err
	}

	grant := core.Grant{Granted: []core.Reservation{}, Conflicts: []core.ConflictDetail{}}
	for _, path := range req.Paths {
		// An identical active reservation by the same agent is already
		// satisfied; re-reserving is idempotent, not a conflict.
		if self := findOwn(existing, req.Agent, path); self != nil {
			grant.Granted = append(grant.Granted, *self)
			continue
		}

		blockers := lease.Conflicts(existing, func(r core.Reservation) bool {
			if r.AgentID == req.Agent {
				return false
			}
			if !req.Exclusive && !r.Exclusive {
				return false
			}
			return glob.Overlaps(path, r.PathPattern)
		})
		if len(blockers) > 0 {
			for _, holder := range blockers {
				grant.Conflicts = append(grant.Conflicts, core.ConflictDetail{Requested: path, Holder: holder})
			}
			continue
		}

		r := core.Reservation{
			ID:          uuid.NewString(),
			Project:     req.Project,
			AgentID:     req.Agent,
			PathPattern: path,
			Exclusive:   req.Exclusive,
			Reason:      req.Reason,
			Window:      window,
		}
		if err := insertReservation(tx, r); err != nil {
			return core.Grant{}, err
		}
		grant.Granted = append(grant.Granted, r)
		existing = append(existing, r)
	}

	if err := tx.Commit(); err != nil {
		return core.Grant{}, fmt.Errorf("commit reserve: %w", err)
	}
	return grant, nil
}

func findOwn(existing []core.Reservation, agent, path string) *core.Reservation {
	for i := range existing {
		if existing[i].AgentID == agent && existing[i].PathPattern == path {
			return &existing[i]
		}
	}
	return nil
}

func insertReservation(q querier, r core.Reservation) error {
	_, err := q.Exec(
		`INSERT INTO reservations
		   (id, project, agent, path_pattern, exclusive, reason, created_at, expires_at, released_at, released_by, release_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL)`,
		r.ID, r.Project, r.AgentID, r.PathPattern, boolToInt(r.Exclusive), r.Reason,
		fmtTime(r.CreatedAt), fmtTime(r.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, project, id string) (core.Reservation, error) {
	row := s.db.QueryRow(reservationSelect+` WHERE project = ? AND id = ?`, project, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Reservation{}, core.ErrNotFound
	}
	return r, err
}

// ReleaseReservation ends the lease if the caller holds it. Releasing an
// already-ended reservation by its holder is a no-op; a non-holder is
// rejected regardless of state.
func (s *Store) ReleaseReservation(ctx context.Context, project, id, agent string) error {
	r, err := s.GetReservation(ctx, project, id)
	if err != nil {
		return err
	}
	if r.AgentID != agent {
		return fmt.Errorf("release %s by %s: %w", id, agent, core.ErrForbidden)
	}
	if !r.Release(s.now()) {
		return nil
	}
	_, err = s.db.Exec(
		`UPDATE reservations SET released_at = ? WHERE id = ? AND released_at IS NULL`,
		fmtTimePtr(r.ReleasedAt), id,
	)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

// ForceReleaseReservation is the administrative override: any caller may
// end an active lease, leaving the override reason attributed to them.
// Inactive reservations are left untouched.
func (s *Store) ForceReleaseReservation(ctx context.Context, project, id, agent, reason string) error {
	r, err := s.GetReservation(ctx, project, id)
	if err != nil {
		return err
	}
	if !r.Release(s.now()) {
		return nil
	}
	_, err = s.db.Exec(
		`UPDATE reservations SET released_at = ?, released_by = ?, release_reason = ?
		 WHERE id = ? AND released_at IS NULL`,
		fmtTimePtr(r.ReleasedAt), agent, reason, id,
	)
	if err != nil {
		return fmt.Errorf("force release reservation: %w", err)
	}
	return nil
}

// RenewReservation pushes the expiry forward. Renewal is only valid while
// the lease is active; an expired or released lease stays dead.
func (s *Store) RenewReservation(ctx context.Context, project, id string, ttl time.Duration) (core.Reservation, error) {
	r, err := s.GetReservation(ctx, project, id)
	if err != nil {
		return core.Reservation{}, err
	}
	if err := r.Renew(s.now(), ttl); err != nil {
		return core.Reservation{}, fmt.Errorf("renew reservation %s: %w", id, err)
	}
	res, err := s.db.Exec(
		`UPDATE reservations SET expires_at = ? WHERE id = ? AND released_at IS NULL`,
		fmtTime(r.ExpiresAt), id,
	)
	if err != nil {
		return core.Reservation{}, fmt.Errorf("renew reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Reservation{}, lease.ErrNotActive
	}
	return r, nil
}

func (s *Store) ActiveReservations(ctx context.Context, project string) ([]core.Reservation, error) {
	return activeReservationsIn(s.db, project, s.now())
}

// AllActiveReservations is the cross-project view for lock dashboards.
func (s *Store) AllActiveReservations(ctx context.Context) ([]core.Reservation, error) {
	now := s.now()
	rows, err := s.db.Query(
		reservationSelect+` WHERE released_at IS NULL AND expires_at > ? ORDER BY project, created_at`,
		fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list all reservations: %w", err)
	}
	return collectReservations(rows, now)
}

const reservationSelect = `SELECT id, project, agent, path_pattern, exclusive, reason,
	created_at, expires_at, released_at, released_by, release_reason FROM reservations`

func activeReservationsIn(q querier, project string, now time.Time) ([]core.Reservation, error) {
	rows, err := q.Query(
		reservationSelect+` WHERE project = ? AND released_at IS NULL AND expires_at > ? ORDER BY created_at`,
		project, fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return collectReservations(rows, now)
}

func collectReservations(rows *sql.Rows, now time.Time) ([]core.Reservation, error) {
	defer rows.Close()
	out := []core.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		// The SQL filter compares formatted strings; re-check with the
		// lease window so string-format drift can never widen activity.
		if r.ActiveAt(now) {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

func scanReservation(row scanner) (core.Reservation, error) {
	var r core.Reservation
	var exclusive int
	var reason, releasedAt, releasedBy, releaseReason sql.NullString
	var createdAt, expiresAt string
	err := row.Scan(&r.ID, &r.Project, &r.AgentID, &r.PathPattern, &exclusive, &reason,
		&createdAt, &expiresAt, &releasedAt, &releasedBy, &releaseReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Reservation{}, err
		}
		return core.Reservation{}, fmt.Errorf("scan reservation: %w", err)
	}
	r.Exclusive = exclusive != 0
	r.Reason = reason.String
	r.CreatedAt = parseTime(createdAt)
	r.ExpiresAt = parseTime(expiresAt)
	r.ReleasedAt = parseTimePtr(releasedAt)
	r.ReleasedBy = releasedBy.String
	r.ReleaseReason = releaseReason.String
	return r, nil
}
