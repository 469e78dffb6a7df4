package pg

import (
	"context"
	"database/sql"

	"kampus.org/internal/guest"
)

var _ guest.Repository = (*Store)(nil)

const guestColumns = `id, organization, coalesce(purpose, ''), coalesce(host_unit, ''), arrival_at, departure_at, status,
	created_by, coalesce(approved_by, ''), arrived_at, departed_at, coalesce(cancel_reason, ''), created_at, updated_at, version`

func scanGuest(row interface{ Scan(...any) error }) (guest.Guest, error) {
	var (
		g                   guest.Guest
		status              string
		arrivedAt, departed sql.NullTime
	)
	err := row.Scan(&g.ID, &g.Organization, &g.Purpose, &g.HostUnit, &g.ArrivalAt, &g.DepartureAt, &status,
		&g.CreatedBy, &g.ApprovedBy, &arrivedAt, &departed, &g.CancelReason, &g.CreatedAt, &g.UpdatedAt, &g.Version)
	if err != nil {
		return guest.Guest{}, err
	}
	g.Status = guest.Status(status)
	g.ArrivedAt = timePtr(arrivedAt)
	g.DepartedAt = timePtr(departed)
	return g, nil
}

// CreateGuest inserts the guest and its members in one transaction.
func (s *Store) CreateGuest(ctx context.Context, g guest.Guest) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			insert into guests (id, organization, purpose, host_unit, arrival_at, departure_at, status, created_by, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, g.ID, g.Organization, nullIfEmpty(g.Purpose), nullIfEmpty(g.HostUnit), g.ArrivalAt, g.DepartureAt,
			string(g.Status), g.CreatedBy, g.CreatedAt, g.UpdatedAt)
		if err != nil {
			return mapError(err)
		}
		return insertMembers(ctx, tx, g)
	})
}

func insertMembers(ctx context.Context, tx *sql.Tx, g guest.Guest) error {
	for _, m := range g.Members {
		_, err := tx.ExecContext(ctx, `
			insert into guest_members (id, guest_id, full_name, position, nationality, passport_no)
			values ($1, $2, $3, $4, $5, $6)
		`, m.ID, g.ID, m.FullName, nullIfEmpty(m.Position), nullIfEmpty(m.Nationality), nullIfEmpty(m.PassportNo))
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s *Store) GetGuest(ctx context.Context, id string) (guest.Guest, error) {
	g, err := scanGuest(s.db.QueryRowContext(ctx, `select `+guestColumns+` from guests where id = $1`, id))
	if err != nil {
		return guest.Guest{}, mapError(err)
	}
	members, err := s.members(ctx, []string{id})
	if err != nil {
		return guest.Guest{}, err
	}
	g.Members = members[id]
	return g, nil
}

func (s *Store) ListGuests(ctx context.Context, f guest.Filter) ([]guest.Guest, error) {
	var w where
	if f.OwnerID != "" {
		w.add("created_by = $%d", f.OwnerID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	rows, err := s.db.QueryContext(ctx, `select `+guestColumns+` from guests`+w.String()+` order by id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var (
		out    []guest.Guest
		guests []string
	)
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, g)
		guests = append(guests, g.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	if len(out) == 0 {
		return out, nil
	}
	members, err := s.members(ctx, guests)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Members = members[out[i].ID]
	}
	return out, nil
}

func (s *Store) members(ctx context.Context, guestIDs []string) (map[string][]guest.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, guest_id, full_name, coalesce(position, ''), coalesce(nationality, ''), coalesce(passport_no, '')
		from guest_members
		where guest_id = any($1)
		order by guest_id, id
	`, guestIDs)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	out := make(map[string][]guest.Member, len(guestIDs))
	for rows.Next() {
		var m guest.Member
		if err := rows.Scan(&m.ID, &m.GuestID, &m.FullName, &m.Position, &m.Nationality, &m.PassportNo); err != nil {
			return nil, mapError(err)
		}
		out[m.GuestID] = append(out[m.GuestID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// UpdateGuest rewrites the guest row and replaces its members in one
// transaction, conditioned on the stored status and version.
func (s *Store) UpdateGuest(ctx context.Context, g guest.Guest, from guest.Status) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update guests
			set organization = $3, purpose = $4, host_unit = $5, arrival_at = $6, departure_at = $7, status = $8,
			    approved_by = $9, arrived_at = $10, departed_at = $11, cancel_reason = $12, updated_at = $13,
			    version = version + 1
			where id = $1 and status = $2 and version = $14
		`, g.ID, string(from), g.Organization, nullIfEmpty(g.Purpose), nullIfEmpty(g.HostUnit), g.ArrivalAt,
			g.DepartureAt, string(g.Status), nullIfEmpty(g.ApprovedBy), nullTime(g.ArrivedAt), nullTime(g.DepartedAt),
			nullIfEmpty(g.CancelReason), g.UpdatedAt, g.Version)
		if err != nil {
			return mapError(err)
		}
		ok, err := expectOne(res)
		if err != nil {
			return err
		}
		if !ok {
			return s.missingOrStale(ctx, tx, "guests", g.ID)
		}
		if _, err := tx.ExecContext(ctx, `delete from guest_members where guest_id = $1`, g.ID); err != nil {
			return mapError(err)
		}
		return insertMembers(ctx, tx, g)
	})
}
