package pg

import (
	"context"
	"database/sql"

	"kampus.org/internal/errs"
	"kampus.org/internal/visa"
)

var _ visa.Repository = (*Store)(nil)

const visaColumns = `id, number, holder_name, coalesce(country, ''), status, issued_at, expires_at,
	reminder_sent, coalesce(cancel_reason, ''), created_by, created_at, updated_at, version`

func scanVisa(row interface{ Scan(...any) error }) (visa.Visa, error) {
	var (
		v        visa.Visa
		status   string
		issuedAt sql.NullTime
	)
	err := row.Scan(&v.ID, &v.Number, &v.HolderName, &v.Country, &status, &issuedAt, &v.ExpiresAt,
		&v.ReminderSent, &v.CancelReason, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt, &v.Version)
	if err != nil {
		return visa.Visa{}, err
	}
	v.Status = visa.Status(status)
	if issuedAt.Valid {
		v.IssuedAt = issuedAt.Time.UTC()
	}
	return v, nil
}

const extensionColumns = `id, visa_id, requested_expires_at, coalesce(reason, ''), status, requested_by,
	coalesce(decided_by, ''), decided_at, coalesce(reject_reason, ''), created_at, updated_at`

func scanExtension(row interface{ Scan(...any) error }) (visa.Extension, error) {
	var (
		e         visa.Extension
		status    string
		decidedAt sql.NullTime
	)
	err := row.Scan(&e.ID, &e.VisaID, &e.RequestedExpiresAt, &e.Reason, &status, &e.RequestedBy,
		&e.DecidedBy, &decidedAt, &e.RejectReason, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return visa.Extension{}, err
	}
	e.Status = visa.ExtensionStatus(status)
	e.DecidedAt = timePtr(decidedAt)
	return e, nil
}

func (s *Store) CreateVisa(ctx context.Context, v visa.Visa) error {
	var issued sql.NullTime
	if !v.IssuedAt.IsZero() {
		issued = sql.NullTime{Time: v.IssuedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into visas (id, number, holder_name, country, status, issued_at, expires_at, reminder_sent, created_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, false, $8, $9, $10)
	`, v.ID, v.Number, v.HolderName, nullIfEmpty(v.Country), string(v.Status), issued, v.ExpiresAt,
		v.CreatedBy, v.CreatedAt, v.UpdatedAt)
	return mapError(err)
}

func (s *Store) GetVisa(ctx context.Context, id string) (visa.Visa, error) {
	v, err := scanVisa(s.db.QueryRowContext(ctx, `select `+visaColumns+` from visas where id = $1`, id))
	if err != nil {
		return visa.Visa{}, mapError(err)
	}
	return v, nil
}

func (s *Store) ListVisas(ctx context.Context, f visa.Filter) ([]visa.Visa, error) {
	var w where
	if f.OwnerID != "" {
		w.add("created_by = $%d", f.OwnerID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if !f.ExpiresBefore.IsZero() {
		w.add("expires_at < $%d", f.ExpiresBefore.UTC())
	}
	if f.ReminderSent != nil {
		w.add("reminder_sent = $%d", *f.ReminderSent)
	}
	rows, err := s.db.QueryContext(ctx, `select `+visaColumns+` from visas`+w.String()+` order by id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []visa.Visa
	for rows.Next() {
		v, err := scanVisa(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) UpdateVisa(ctx context.Context, v visa.Visa, from visa.Status) error {
	res, err := s.db.ExecContext(ctx, `
		update visas
		set status = $3, reminder_sent = $4, cancel_reason = $5, updated_at = $6, version = version + 1
		where id = $1 and status = $2 and version = $7
	`, v.ID, string(from), string(v.Status), v.ReminderSent, nullIfEmpty(v.CancelReason), v.UpdatedAt, v.Version)
	if err != nil {
		return mapError(err)
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missingOrStale(ctx, s.db, "visas", v.ID)
	}
	return nil
}

// OpenExtension locks the visa row so that a concurrent cancel or expiry
// cannot slip in between the status check and the insert. The partial unique
// index on pending extensions turns a second request into a conflict.
func (s *Store) OpenExtension(ctx context.Context, e visa.Extension, visaFrom visa.Status) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `select status from visas where id = $1 for update`, e.VisaID).Scan(&status)
		if err != nil {
			return mapError(err)
		}
		if visa.Status(status) != visaFrom {
			return errs.ErrStale
		}
		_, err = tx.ExecContext(ctx, `
			insert into visa_extensions (id, visa_id, requested_expires_at, reason, status, requested_by, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8)
		`, e.ID, e.VisaID, e.RequestedExpiresAt, nullIfEmpty(e.Reason), string(e.Status), e.RequestedBy, e.CreatedAt, e.UpdatedAt)
		return mapError(err)
	})
}

func (s *Store) GetExtension(ctx context.Context, id string) (visa.Extension, error) {
	e, err := scanExtension(s.db.QueryRowContext(ctx, `select `+extensionColumns+` from visa_extensions where id = $1`, id))
	if err != nil {
		return visa.Extension{}, mapError(err)
	}
	return e, nil
}

func (s *Store) ListExtensions(ctx context.Context, f visa.ExtensionFilter) ([]visa.Extension, error) {
	var w where
	if f.VisaID != "" {
		w.add("visa_id = $%d", f.VisaID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	rows, err := s.db.QueryContext(ctx, `select `+extensionColumns+` from visa_extensions`+w.String()+` order by id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []visa.Extension
	for rows.Next() {
		e, err := scanExtension(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// DecideExtension writes the decision and, for an approval, the parent visa
// in one transaction. Any failure rolls both back.
func (s *Store) DecideExtension(ctx context.Context, e visa.Extension, from visa.ExtensionStatus) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update visa_extensions
			set status = $3, decided_by = $4, decided_at = $5, reject_reason = $6, updated_at = $7
			where id = $1 and status = $2
		`, e.ID, string(from), string(e.Status), nullIfEmpty(e.DecidedBy), nullTime(e.DecidedAt),
			nullIfEmpty(e.RejectReason), e.UpdatedAt)
		if err != nil {
			return mapError(err)
		}
		ok, err := expectOne(res)
		if err != nil {
			return err
		}
		if !ok {
			return s.missingOrStale(ctx, tx, "visa_extensions", e.ID)
		}
		if e.Status != visa.ExtensionApproved {
			return nil
		}

		v, err := scanVisa(tx.QueryRowContext(ctx, `select `+visaColumns+` from visas where id = $1 for update`, e.VisaID))
		if err != nil {
			return mapError(err)
		}
		if err := visa.CheckApproval(v, e.RequestedExpiresAt); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			update visas set expires_at = $2, reminder_sent = false, updated_at = $3, version = version + 1
			where id = $1
		`, v.ID, e.RequestedExpiresAt, e.UpdatedAt)
		return mapError(err)
	})
}
