package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// DigestRepository keeps one digest row per run date plus its ordered item references.
type DigestRepository struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

var _ ports.DigestStore = (*DigestRepository)(nil)

// NewDigestRepository wires a sql.DB implementation.
func NewDigestRepository(db *sql.DB, dialect Dialect) *DigestRepository {
	return &DigestRepository{db: db, sb: statementBuilder(dialect), now: time.Now}
}

// Create inserts the digest and its items in one transaction. An existing digest for
// the run date yields *domain.DuplicateDigestError and leaves both tables untouched.
func (r *DigestRepository) Create(ctx context.Context, digest domain.Digest) (err error) {
	if digest.GeneratedAt.IsZero() {
		digest.GeneratedAt = r.now()
	}
	if digest.Status == "" {
		digest.Status = domain.DigestPending
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin digest tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query, args, err := r.sb.Insert("digests").
		Columns("run_date", "generated_at", "status", "attempts", "last_error", "updated_at").
		Values(string(digest.RunDate), formatTime(digest.GeneratedAt), string(digest.Status), 0, "", formatTime(digest.GeneratedAt)).
		Suffix("ON CONFLICT (run_date) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build digest insert: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert digest %s: %w", digest.RunDate, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert digest %s: rows affected: %w", digest.RunDate, err)
	}
	if affected == 0 {
		return &domain.DuplicateDigestError{RunDate: digest.RunDate}
	}

	if len(digest.Items) > 0 {
		insert := r.sb.Insert("digest_items").Columns("run_date", "position", "fingerprint")
		for i, fp := range digest.Items {
			insert = insert.Values(string(digest.RunDate), i, fp)
		}
		query, args, err = insert.ToSql()
		if err != nil {
			return fmt.Errorf("build digest items insert: %w", err)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert digest items %s: %w", digest.RunDate, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit digest %s: %w", digest.RunDate, err)
	}
	return nil
}

// Get loads the digest for a run date with its items in ranked order.
func (r *DigestRepository) Get(ctx context.Context, runDate domain.RunDate) (domain.Digest, error) {
	query, args, err := r.sb.Select("run_date", "generated_at", "status", "attempts", "last_error", "sent_at", "updated_at").
		From("digests").
		Where(sq.Eq{"run_date": string(runDate)}).
		ToSql()
	if err != nil {
		return domain.Digest{}, fmt.Errorf("build digest select: %w", err)
	}

	var (
		digest             domain.Digest
		rd, status         string
		generated, updated string
		sentAt             sql.NullString
	)
	err = r.db.QueryRowContext(ctx, query, args...).
		Scan(&rd, &generated, &status, &digest.Attempts, &digest.LastError, &sentAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Digest{}, fmt.Errorf("digest %s: %w", runDate, domain.ErrDigestNotFound)
	}
	if err != nil {
		return domain.Digest{}, fmt.Errorf("get digest %s: %w", runDate, err)
	}

	digest.RunDate = domain.RunDate(rd)
	digest.Status = domain.DeliveryStatus(status)
	if digest.GeneratedAt, err = parseTime(generated); err != nil {
		return domain.Digest{}, err
	}
	if digest.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Digest{}, err
	}
	if sentAt.Valid {
		if digest.SentAt, err = parseTime(sentAt.String); err != nil {
			return domain.Digest{}, err
		}
	}

	digest.Items, err = r.itemsOf(ctx, runDate)
	if err != nil {
		return domain.Digest{}, err
	}
	return digest, nil
}

func (r *DigestRepository) itemsOf(ctx context.Context, runDate domain.RunDate) ([]string, error) {
	query, args, err := r.sb.Select("fingerprint").
		From("digest_items").
		Where(sq.Eq{"run_date": string(runDate)}).
		OrderBy("position ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build digest items select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query digest items: %w", err)
	}
	defer rows.Close()

	var fingerprints []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan digest item: %w", err)
		}
		fingerprints = append(fingerprints, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return fingerprints, nil
}

// UpdateStatus moves the digest from one delivery status to another if it still holds `from`.
func (r *DigestRepository) UpdateStatus(ctx context.Context, runDate domain.RunDate, from, to domain.DeliveryStatus, lastError string) error {
	if !from.CanTransition(to) {
		return &domain.IllegalTransitionError{Entity: "digest", From: string(from), To: string(to)}
	}

	now := formatTime(r.now())
	builder := r.sb.Update("digests").
		Set("status", string(to)).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_error", lastError).
		Set("updated_at", now)
	if to == domain.DigestSent {
		builder = builder.Set("sent_at", now)
	}

	query, args, err := builder.
		Where(sq.Eq{"run_date": string(runDate), "status": string(from)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build digest update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update digest %s: %w", runDate, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update digest %s: rows affected: %w", runDate, err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.Get(ctx, runDate); err != nil {
		return err
	}
	return fmt.Errorf("digest %s: %w", runDate, domain.ErrDigestStatusChanged)
}

// IncludedFingerprints returns the subset of fingerprints already referenced by any digest.
func (r *DigestRepository) IncludedFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(fingerprints) == 0 {
		return result, nil
	}

	query, args, err := r.sb.Select("DISTINCT fingerprint").
		From("digest_items").
		Where(sq.Eq{"fingerprint": fingerprints}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build included select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query included: %w", err)
	}

	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		result[fp] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}
