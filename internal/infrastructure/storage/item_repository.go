package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	sq "github.com/Masterminds/squirrel"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

const defaultPageSize = 100

var itemColumns = []string{
	"fingerprint", "source", "canonical_id", "title", "url", "content", "published_at",
	"summary", "score", "tags", "stage", "error_count", "failed_runs", "retryable",
	"last_error", "created_at", "updated_at",
}

// ItemRepository stores pipeline items in Postgres or SQLite.
type ItemRepository struct {
	db       *sql.DB
	sb       sq.StatementBuilderType
	pageSize int
	now      func() time.Time
}

var _ ports.ItemStore = (*ItemRepository)(nil)

// NewItemRepository wires a sql.DB implementation.
func NewItemRepository(db *sql.DB, dialect Dialect) *ItemRepository {
	return &ItemRepository{
		db:       db,
		sb:       statementBuilder(dialect),
		pageSize: defaultPageSize,
		now:      time.Now,
	}
}

// InsertIfNew stores the item unless its fingerprint is already known.
func (r *ItemRepository) InsertIfNew(ctx context.Context, item domain.Item) (domain.InsertResult, error) {
	err := r.insert(ctx, item)
	switch {
	case err == nil:
		return domain.Inserted, nil
	case errors.Is(err, domain.ErrDuplicateItem):
		return domain.AlreadyExists, nil
	default:
		return 0, err
	}
}

func (r *ItemRepository) insert(ctx context.Context, item domain.Item) error {
	if item.Fingerprint == "" {
		return fmt.Errorf("insert item: empty fingerprint")
	}
	if !item.Stage.Valid() {
		return fmt.Errorf("insert item %s: invalid stage %q", item.Fingerprint, item.Stage)
	}

	now := r.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	tags, err := encodeTags(item.Tags)
	if err != nil {
		return err
	}

	var summary sql.NullString
	if item.Summary != "" {
		summary = sql.NullString{String: item.Summary, Valid: true}
	}

	query, args, err := r.sb.Insert("items").
		Columns(itemColumns...).
		Values(
			item.Fingerprint, item.Source, item.CanonicalID, item.Title, item.URL, item.Content,
			formatTime(item.PublishedAt), summary, sql.NullFloat64{}, tags, string(item.Stage),
			item.ErrorCount, item.FailedRuns, item.Retryable, item.LastError,
			formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
		).
		Suffix("ON CONFLICT (fingerprint) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert item %s: %w", item.Fingerprint, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert item %s: rows affected: %w", item.Fingerprint, err)
	}
	if affected == 0 {
		return domain.ErrDuplicateItem
	}
	return nil
}

// Get loads one item by fingerprint.
func (r *ItemRepository) Get(ctx context.Context, fingerprint string) (domain.Item, error) {
	query, args, err := r.sb.Select(itemColumns...).
		From("items").
		Where(sq.Eq{"fingerprint": fingerprint}).
		ToSql()
	if err != nil {
		return domain.Item{}, fmt.Errorf("build select: %w", err)
	}

	item, err := scanItem(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, fmt.Errorf("item %s: %w", fingerprint, domain.ErrItemNotFound)
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item %s: %w", fingerprint, err)
	}
	return item, nil
}

// ListByStage yields items in the stage, oldest first. Each page is read and closed
// before items are handed out, so callers may update rows while iterating, and
// ranging over the sequence again restarts from the beginning.
func (r *ItemRepository) ListByStage(ctx context.Context, stage domain.Stage) iter.Seq2[domain.Item, error] {
	return func(yield func(domain.Item, error) bool) {
		var cursor *domain.Item
		for {
			page, err := r.listPage(ctx, stage, cursor)
			if err != nil {
				yield(domain.Item{}, err)
				return
			}
			for _, item := range page {
				if !yield(item, nil) {
					return
				}
			}
			if len(page) < r.pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &last
		}
	}
}

func (r *ItemRepository) listPage(ctx context.Context, stage domain.Stage, after *domain.Item) ([]domain.Item, error) {
	builder := r.sb.Select(itemColumns...).
		From("items").
		Where(sq.Eq{"stage": string(stage)})
	if after != nil {
		created := formatTime(after.CreatedAt)
		builder = builder.Where(sq.Or{
			sq.Gt{"created_at": created},
			sq.And{sq.Eq{"created_at": created}, sq.Gt{"fingerprint": after.Fingerprint}},
		})
	}

	query, args, err := builder.
		OrderBy("created_at ASC", "fingerprint ASC").
		Limit(uint64(r.pageSize)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stage %s: %w", stage, err)
	}

	page := make([]domain.Item, 0, r.pageSize)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan item: %w", err)
		}
		page = append(page, item)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return page, nil
}

// UpdateStage moves an item from one stage to another only if it is still in `from`.
func (r *ItemRepository) UpdateStage(ctx context.Context, fingerprint string, from, to domain.Stage, update domain.ItemUpdate) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}

	builder := r.sb.Update("items").
		Set("stage", string(to)).
		Set("updated_at", formatTime(r.now()))

	if update.Summary != nil {
		builder = builder.Set("summary", *update.Summary)
	}
	if update.Score != nil {
		builder = builder.Set("score", *update.Score)
	}
	if update.Tags != nil {
		tags, err := encodeTags(update.Tags)
		if err != nil {
			return err
		}
		builder = builder.Set("tags", tags)
	}
	if update.LastError != nil {
		builder = builder.Set("last_error", *update.LastError)
	}
	if update.Retryable != nil {
		builder = builder.Set("retryable", *update.Retryable)
	}
	switch {
	case update.ResetErrors:
		builder = builder.Set("error_count", 0)
	case update.IncrementErrors:
		builder = builder.Set("error_count", sq.Expr("error_count + 1"))
	}
	if update.IncrementFailedRuns {
		builder = builder.Set("failed_runs", sq.Expr("failed_runs + 1"))
	}

	query, args, err := builder.
		Where(sq.Eq{"fingerprint": fingerprint, "stage": string(from)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item %s: %w", fingerprint, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item %s: rows affected: %w", fingerprint, err)
	}
	if affected > 0 {
		return nil
	}

	current, err := r.Get(ctx, fingerprint)
	if err != nil {
		return err
	}
	return &domain.StaleStateError{Fingerprint: fingerprint, Expected: from, Actual: current.Stage}
}

// StageCounts returns the number of items per stage.
func (r *ItemRepository) StageCounts(ctx context.Context) (map[domain.Stage]int, error) {
	query, args, err := r.sb.Select("stage", "COUNT(*)").From("items").GroupBy("stage").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build counts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Stage]int)
	for rows.Next() {
		var (
			stage string
			n     int
		)
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.Stage(stage)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item                        domain.Item
		published, created, updated string
		summary, tags               sql.NullString
		score                       sql.NullFloat64
		stage                       string
	)

	err := row.Scan(
		&item.Fingerprint, &item.Source, &item.CanonicalID, &item.Title, &item.URL, &item.Content,
		&published, &summary, &score, &tags, &stage, &item.ErrorCount, &item.FailedRuns,
		&item.Retryable, &item.LastError, &created, &updated,
	)
	if err != nil {
		return domain.Item{}, err
	}

	item.Stage = domain.Stage(stage)
	item.Summary = summary.String
	item.Score = score.Float64
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &item.Tags); err != nil {
			return domain.Item{}, fmt.Errorf("decode tags: %w", err)
		}
	}

	if item.PublishedAt, err = parseTime(published); err != nil {
		return domain.Item{}, err
	}
	if item.CreatedAt, err = parseTime(created); err != nil {
		return domain.Item{}, err
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

func encodeTags(tags []string) (sql.NullString, error) {
	if tags == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode tags: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
