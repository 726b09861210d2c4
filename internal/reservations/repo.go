package reservations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cgduncan7/autobaan/internal/db"
)

const selectColumns = `id,owner_id,start_at,end_at,opponents,status,waiting_list_entry_id,created_at,updated_at`

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

func (r *Repo) Create(ctx context.Context, res Reservation) error {
	if err := res.Validate(); err != nil {
		return err
	}
	opps, err := json.Marshal(nonNil(res.Opponents))
	if err != nil {
		return err
	}
	return r.db.Exec(ctx, `
INSERT INTO reservations(id,owner_id,start_at,end_at,opponents,status,waiting_list_entry_id)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		res.ID, res.OwnerID, res.Start.UTC(), res.End.UTC(), opps, string(res.Status), res.WaitingListEntryID,
	)
}

func (r *Repo) Get(ctx context.Context, id string) (Reservation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM reservations WHERE id=$1`, id)
	res, err := scan(row)
	if err != nil {
		return Reservation{}, db.WrapNotFound(err)
	}
	return res, nil
}

func (r *Repo) List(ctx context.Context) ([]Reservation, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM reservations ORDER BY start_at ASC`)
}

func (r *Repo) ListByOwner(ctx context.Context, ownerID string) ([]Reservation, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM reservations WHERE owner_id=$1 ORDER BY start_at ASC`, ownerID)
}

// ListWaitlistedByStart matches the start timestamp exactly.
func (r *Repo) ListWaitlistedByStart(ctx context.Context, start time.Time) ([]Reservation, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM reservations
WHERE status='waitlisted' AND start_at=$1
ORDER BY created_at ASC`, start.UTC())
}

func (r *Repo) ListWaitlistedBetween(ctx context.Context, from, to time.Time) ([]Reservation, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM reservations
WHERE status='waitlisted' AND start_at >= $1 AND start_at < $2
ORDER BY start_at ASC`, from.UTC(), to.UTC())
}

// ListDue returns pending reservations starting after now and before horizon.
func (r *Repo) ListDue(ctx context.Context, now, horizon time.Time) ([]Reservation, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM reservations
WHERE status='pending' AND start_at > $1 AND start_at < $2
ORDER BY start_at ASC`, now.UTC(), horizon.UTC())
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, status Status, entryID *int64) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	if (entryID != nil) != (status == StatusWaitlisted) {
		return fmt.Errorf("waiting list entry id must be set exactly when waitlisted")
	}
	return r.db.ExecAffecting(ctx, `UPDATE reservations SET status=$2, waiting_list_entry_id=$3, updated_at=now() WHERE id=$1`,
		id, string(status), entryID)
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	return r.db.ExecAffecting(ctx, `DELETE FROM reservations WHERE id=$1`, id)
}

// DeletePast drops reservations whose start has passed; they can no longer be booked.
func (r *Repo) DeletePast(ctx context.Context, now time.Time) error {
	return r.db.Exec(ctx, `DELETE FROM reservations WHERE start_at < $1`, now.UTC())
}

func (r *Repo) query(ctx context.Context, sql string, args ...any) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		res, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scan(row db.Row) (Reservation, error) {
	var res Reservation
	var status string
	var opps []byte
	if err := row.Scan(&res.ID, &res.OwnerID, &res.Start, &res.End, &opps, &status,
		&res.WaitingListEntryID, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return Reservation{}, err
	}
	res.Status = Status(status)
	if len(opps) > 0 {
		if err := json.Unmarshal(opps, &res.Opponents); err != nil {
			return Reservation{}, fmt.Errorf("decode opponents for %s: %w", res.ID, err)
		}
	}
	return res, nil
}

func nonNil(o []Opponent) []Opponent {
	if o == nil {
		return []Opponent{}
	}
	return o
}
