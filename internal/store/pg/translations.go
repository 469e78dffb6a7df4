package pg

import (
	"context"
	"database/sql"

	"kampus.org/internal/translation"
)

var _ translation.Repository = (*Store)(nil)

const translationColumns = `id, title, source_language, target_language, coalesce(source_file, ''),
	coalesce(translated_file, ''), coalesce(notes, ''), status, requested_by, coalesce(approved_by, ''),
	coalesce(completed_by, ''), completed_at, coalesce(reject_reason, ''), created_at, updated_at, version`

func scanTranslation(row interface{ Scan(...any) error }) (translation.Request, error) {
	var (
		r           translation.Request
		status      string
		completedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Title, &r.SourceLanguage, &r.TargetLanguage, &r.SourceFile, &r.TranslatedFile,
		&r.Notes, &status, &r.RequestedBy, &r.ApprovedBy, &r.CompletedBy, &completedAt, &r.RejectReason,
		&r.CreatedAt, &r.UpdatedAt, &r.Version)
	if err != nil {
		return translation.Request{}, err
	}
	r.Status = translation.Status(status)
	r.CompletedAt = timePtr(completedAt)
	return r, nil
}

func (s *Store) CreateRequest(ctx context.Context, r translation.Request) error {
	_, err := s.db.ExecContext(ctx, `
		insert into translations (id, title, source_language, target_language, source_file, notes, status, requested_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.Title, r.SourceLanguage, r.TargetLanguage, nullIfEmpty(r.SourceFile), nullIfEmpty(r.Notes),
		string(r.Status), r.RequestedBy, r.CreatedAt, r.UpdatedAt)
	return mapError(err)
}

func (s *Store) GetRequest(ctx context.Context, id string) (translation.Request, error) {
	r, err := scanTranslation(s.db.QueryRowContext(ctx, `select `+translationColumns+` from translations where id = $1`, id))
	if err != nil {
		return translation.Request{}, mapError(err)
	}
	return r, nil
}

func (s *Store) ListRequests(ctx context.Context, f translation.Filter) ([]translation.Request, error) {
	var w where
	if f.OwnerID != "" {
		w.add("requested_by = $%d", f.OwnerID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	rows, err := s.db.QueryContext(ctx, `select `+translationColumns+` from translations`+w.String()+` order by id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []translation.Request
	for rows.Next() {
		r, err := scanTranslation(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) UpdateRequest(ctx context.Context, r translation.Request, from translation.Status) error {
	res, err := s.db.ExecContext(ctx, `
		update translations
		set status = $3, translated_file = $4, approved_by = $5, completed_by = $6, completed_at = $7,
		    reject_reason = $8, updated_at = $9, version = version + 1
		where id = $1 and status = $2 and version = $10
	`, r.ID, string(from), string(r.Status), nullIfEmpty(r.TranslatedFile), nullIfEmpty(r.ApprovedBy),
		nullIfEmpty(r.CompletedBy), nullTime(r.CompletedAt), nullIfEmpty(r.RejectReason), r.UpdatedAt, r.Version)
	if err != nil {
		return mapError(err)
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missingOrStale(ctx, s.db, "translations", r.ID)
	}
	return nil
}
