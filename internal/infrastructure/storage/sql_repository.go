package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"ArticlesPodcast/internal/domain"
	"ArticlesPodcast/internal/ports"
)

//go:embed schema.sql
var schema string

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var columns = []string{
	"id", "url", "domain", "title", "author", "excerpt", "extracted_text", "word_count",
	"audio_file_path", "audio_duration_seconds", "state", "error_message", "retry_count",
	"total_paragraphs", "processed_paragraphs", "sort_order", "created_at", "extracted_at",
	"audio_generated_at", "last_played_at", "playback_position", "playback_rate", "has_been_played",
}

// SQLRepository persists work items, settings and leases in SQLite or Postgres.
type SQLRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.WorkItemRepository = (*SQLRepository)(nil)
var _ ports.SettingsStore = (*SQLRepository)(nil)
var _ ports.Lease = (*SQLRepository)(nil)

// Open connects to the database and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLRepository, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		// Other processes may hold the write lock briefly.
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	repo, err := NewSQLRepository(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLRepository wires an existing sql.DB and ensures the schema exists.
func NewSQLRepository(ctx context.Context, db *sql.DB, driver string) (*SQLRepository, error) {
	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		placeholder = sq.Dollar
	}
	r := &SQLRepository{db: db, sb: sq.StatementBuilder.PlaceholderFormat(placeholder)}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (r *SQLRepository) Create(ctx context.Context, item *domain.WorkItem, gap int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := r.sb.Select("COALESCE(MAX(sort_order), 0)").From("work_items").ToSql()
	if err != nil {
		return fmt.Errorf("build max query: %w", err)
	}
	var maxOrder int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&maxOrder); err != nil {
		return fmt.Errorf("query max sort order: %w", err)
	}
	item.SortOrder = maxOrder + gap

	query, args, err = r.sb.Insert("work_items").Columns(columns...).Values(values(*item)...).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert work item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (domain.WorkItem, error) {
	query, args, err := r.sb.Select(columns...).From("work_items").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("build select: %w", err)
	}
	item, err := scanItem(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WorkItem{}, fmt.Errorf("work item %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("scan work item: %w", err)
	}
	return item, nil
}

// UpdateProcessing writes the columns owned by the processing phases, only
// while the stored state is still from. Anything else the row carries, such as
// sort order or playback bookkeeping, is left alone. A deleted row or a state
// changed elsewhere yields ports.ErrConflict.
func (r *SQLRepository) UpdateProcessing(ctx context.Context, from domain.State, item domain.WorkItem) error {
	query, args, err := r.sb.Update("work_items").
		SetMap(map[string]any{
			"title":                  item.Title,
			"author":                 toNullString(item.Author),
			"excerpt":                toNullString(item.Excerpt),
			"extracted_text":         toNullString(item.ExtractedText),
			"word_count":             toNullInt(item.WordCount),
			"audio_file_path":        toNullString(item.AudioFilePath),
			"audio_duration_seconds": toNullFloat(item.AudioDurationSeconds),
			"state":                  item.State.String(),
			"error_message":          toNullString(item.ErrorMessage),
			"retry_count":            item.RetryCount,
			"total_paragraphs":       toNullInt(item.TotalParagraphs),
			"processed_paragraphs":   toNullInt(item.ProcessedParagraphs),
			"extracted_at":           toNullTime(item.ExtractedAt),
			"audio_generated_at":     toNullTime(item.AudioGeneratedAt),
		}).
		Where(sq.Eq{"id": item.ID, "state": from.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build processing update: %w", err)
	}
	return r.execOne(ctx, query, args, ports.ErrConflict, "work item %s in state %s", item.ID, from)
}

// UpdatePlayback writes state and playback bookkeeping.
func (r *SQLRepository) UpdatePlayback(ctx context.Context, item domain.WorkItem) error {
	played := 0
	if item.HasBeenPlayed {
		played = 1
	}
	query, args, err := r.sb.Update("work_items").
		Set("state", item.State.String()).
		Set("last_played_at", toNullTime(item.LastPlayedAt)).
		Set("playback_position", item.PlaybackPosition).
		Set("playback_rate", item.PlaybackRate).
		Set("has_been_played", played).
		Where(sq.Eq{"id": item.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build playback update: %w", err)
	}
	return r.execOne(ctx, query, args, ports.ErrNotFound, "work item %s", item.ID)
}

// execOne runs a statement that must touch exactly one row; otherwise miss is
// returned with the formatted context.
func (r *SQLRepository) execOne(ctx context.Context, query string, args []any, miss error, format string, a ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf(format+": %w", append(a, miss)...)
	}
	return nil
}

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	query, args, err := r.sb.Delete("work_items").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete work item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("work item %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

func (r *SQLRepository) List(ctx context.Context) ([]domain.WorkItem, error) {
	return r.query(ctx, r.sb.Select(columns...).From("work_items").OrderBy("sort_order ASC", "created_at ASC"))
}

func (r *SQLRepository) ListByStates(ctx context.Context, states ...domain.State) ([]domain.WorkItem, error) {
	if len(states) == 0 {
		return nil, nil
	}
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	return r.query(ctx, r.sb.Select(columns...).
		From("work_items").
		Where(sq.Eq{"state": names}).
		OrderBy("sort_order ASC", "created_at ASC"))
}

func (r *SQLRepository) OldestPending(ctx context.Context) (domain.WorkItem, error) {
	items, err := r.query(ctx, r.sb.Select(columns...).
		From("work_items").
		Where(sq.Eq{"state": domain.StatePending.String()}).
		OrderBy("sort_order ASC", "created_at ASC").
		Limit(1))
	if err != nil {
		return domain.WorkItem{}, err
	}
	if len(items) == 0 {
		return domain.WorkItem{}, fmt.Errorf("pending work item: %w", ports.ErrNotFound)
	}
	return items[0], nil
}

func (r *SQLRepository) UpdateProgress(ctx context.Context, id string, processed, total int) error {
	query, args, err := r.sb.Update("work_items").
		Set("processed_paragraphs", processed).
		Set("total_paragraphs", total).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build progress update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// Reorder assigns sort orders index*gap in the given order.
func (r *SQLRepository) Reorder(ctx context.Context, ids []string, gap int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, id := range ids {
		query, args, err := r.sb.Update("work_items").Set("sort_order", i*gap).Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return fmt.Errorf("build reorder: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("reorder %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Acquire takes the named lease for owner, or extends it when owner already
// holds it. A lease held by someone else is only taken over once it expired.
func (r *SQLRepository) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl).UnixNano()

	query, args, err := r.sb.Insert("leases").
		Columns("name", "owner", "expires_at").
		Values(name, owner, expires).
		Suffix("ON CONFLICT (name) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build lease insert: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert lease %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return true, nil
	}

	query, args, err = r.sb.Update("leases").
		Set("owner", owner).
		Set("expires_at", expires).
		Where(sq.Eq{"name": name}).
		Where(sq.Or{sq.Eq{"owner": owner}, sq.Lt{"expires_at": now.UnixNano()}}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build lease update: %w", err)
	}
	res, err = r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Release drops the lease if owner still holds it.
func (r *SQLRepository) Release(ctx context.Context, name, owner string) error {
	query, args, err := r.sb.Delete("leases").Where(sq.Eq{"name": name, "owner": owner}).ToSql()
	if err != nil {
		return fmt.Errorf("build lease delete: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

func (r *SQLRepository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	query, args, err := r.sb.Select("value").From("settings").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build setting query: %w", err)
	}
	var value string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, true, nil
}

func (r *SQLRepository) SetSetting(ctx context.Context, key, value string) error {
	query, args, err := r.sb.Insert("settings").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value").
		ToSql()
	if err != nil {
		return fmt.Errorf("build setting upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

func (r *SQLRepository) query(ctx context.Context, b sq.SelectBuilder) ([]domain.WorkItem, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query work items: %w", err)
	}

	var items []domain.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, item)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (domain.WorkItem, error) {
	var (
		item                                     domain.WorkItem
		author, excerpt, text, audioPath, errMsg sql.NullString
		wordCount, total, processed              sql.NullInt64
		duration                                 sql.NullFloat64
		state                                    string
		createdAt                                int64
		extractedAt, generatedAt, lastPlayedAt   sql.NullInt64
		played                                   int64
	)
	err := row.Scan(
		&item.ID, &item.URL, &item.Domain, &item.Title, &author, &excerpt, &text, &wordCount,
		&audioPath, &duration, &state, &errMsg, &item.RetryCount,
		&total, &processed, &item.SortOrder, &createdAt, &extractedAt,
		&generatedAt, &lastPlayedAt, &item.PlaybackPosition, &item.PlaybackRate, &played,
	)
	if err != nil {
		return domain.WorkItem{}, err
	}

	item.State, err = domain.ParseState(state)
	if err != nil {
		return domain.WorkItem{}, err
	}
	item.Author = nullString(author)
	item.Excerpt = nullString(excerpt)
	item.ExtractedText = nullString(text)
	item.AudioFilePath = nullString(audioPath)
	item.ErrorMessage = nullString(errMsg)
	item.WordCount = nullInt(wordCount)
	item.TotalParagraphs = nullInt(total)
	item.ProcessedParagraphs = nullInt(processed)
	if duration.Valid {
		d := duration.Float64
		item.AudioDurationSeconds = &d
	}
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	item.ExtractedAt = nullTime(extractedAt)
	item.AudioGeneratedAt = nullTime(generatedAt)
	item.LastPlayedAt = nullTime(lastPlayedAt)
	item.HasBeenPlayed = played != 0
	return item, nil
}

func values(item domain.WorkItem) []any {
	played := 0
	if item.HasBeenPlayed {
		played = 1
	}
	return []any{
		item.ID, item.URL, item.Domain, item.Title,
		toNullString(item.Author), toNullString(item.Excerpt), toNullString(item.ExtractedText), toNullInt(item.WordCount),
		toNullString(item.AudioFilePath), toNullFloat(item.AudioDurationSeconds), item.State.String(),
		toNullString(item.ErrorMessage), item.RetryCount,
		toNullInt(item.TotalParagraphs), toNullInt(item.ProcessedParagraphs), item.SortOrder,
		item.CreatedAt.UnixNano(), toNullTime(item.ExtractedAt),
		toNullTime(item.AudioGeneratedAt), toNullTime(item.LastPlayedAt),
		item.PlaybackPosition, item.PlaybackRate, played,
	}
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func toNullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func toNullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func toNullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func toNullTime(v *time.Time) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v.UnixNano(), Valid: true}
}
