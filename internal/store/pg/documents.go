package pg

import (
	"context"
	"database/sql"

	"kampus.org/internal/document"
)

var _ document.Repository = (*Store)(nil)

const documentColumns = `id, title, coalesce(partner, ''), coalesce(body, ''), status, starts_at, ends_at,
	created_by, coalesce(approved_by, ''), approved_at, signed_at, coalesce(reject_reason, ''), created_at, updated_at, version`

func scanDocument(row interface{ Scan(...any) error }) (document.Document, error) {
	var (
		d                                      document.Document
		status                                 string
		startsAt, endsAt, approvedAt, signedAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.Title, &d.Partner, &d.Body, &status, &startsAt, &endsAt,
		&d.CreatedBy, &d.ApprovedBy, &approvedAt, &signedAt, &d.RejectReason, &d.CreatedAt, &d.UpdatedAt, &d.Version)
	if err != nil {
		return document.Document{}, err
	}
	d.Status = document.Status(status)
	d.StartsAt = timePtr(startsAt)
	d.EndsAt = timePtr(endsAt)
	d.ApprovedAt = timePtr(approvedAt)
	d.SignedAt = timePtr(signedAt)
	return d, nil
}

func (s *Store) CreateDocument(ctx context.Context, d document.Document) error {
	_, err := s.db.ExecContext(ctx, `
		insert into documents (id, title, partner, body, status, starts_at, ends_at, created_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.Title, nullIfEmpty(d.Partner), nullIfEmpty(d.Body), string(d.Status),
		nullTime(d.StartsAt), nullTime(d.EndsAt), d.CreatedBy, d.CreatedAt, d.UpdatedAt)
	return mapError(err)
}

func (s *Store) GetDocument(ctx context.Context, id string) (document.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `select `+documentColumns+` from documents where id = $1`, id))
	if err != nil {
		return document.Document{}, mapError(err)
	}
	return d, nil
}

func (s *Store) ListDocuments(ctx context.Context, f document.Filter) ([]document.Document, error) {
	var w where
	if f.OwnerID != "" {
		w.add("created_by = $%d", f.OwnerID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if !f.EndsBefore.IsZero() {
		w.add("ends_at < $%d", f.EndsBefore.UTC())
	}
	rows, err := s.db.QueryContext(ctx, `select `+documentColumns+` from documents`+w.String()+` order by id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) UpdateDocument(ctx context.Context, d document.Document, from document.Status) error {
	res, err := s.db.ExecContext(ctx, `
		update documents
		set title = $3, partner = $4, body = $5, status = $6, starts_at = $7, ends_at = $8,
		    approved_by = $9, approved_at = $10, signed_at = $11, reject_reason = $12, updated_at = $13,
		    version = version + 1
		where id = $1 and status = $2 and version = $14
	`, d.ID, string(from), d.Title, nullIfEmpty(d.Partner), nullIfEmpty(d.Body), string(d.Status),
		nullTime(d.StartsAt), nullTime(d.EndsAt), nullIfEmpty(d.ApprovedBy), nullTime(d.ApprovedAt),
		nullTime(d.SignedAt), nullIfEmpty(d.RejectReason), d.UpdatedAt, d.Version)
	if err != nil {
		return mapError(err)
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missingOrStale(ctx, s.db, "documents", d.ID)
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string, from document.Status) error {
	res, err := s.db.ExecContext(ctx, `delete from documents where id = $1 and status = $2`, id, string(from))
	if err != nil {
		return mapError(err)
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missingOrStale(ctx, s.db, "documents", id)
	}
	return nil
}
