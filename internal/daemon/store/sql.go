package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/grovetools/trail/pkg/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

type snapshotModel struct {
	bun.BaseModel `bun:"table:file_snapshots,alias:s"`

	ID         int64     `bun:"id,pk,autoincrement"`
	Path       string    `bun:"path,notnull"`
	Content    []byte    `bun:"content"`
	CapturedAt time.Time `bun:"captured_at,notnull"`
}

func (m *snapshotModel) toModel() *models.FileSnapshot {
	return &models.FileSnapshot{
		ID:         m.ID,
		Path:       m.Path,
		Content:    m.Content,
		CapturedAt: m.CapturedAt,
	}
}

type diffModel struct {
	bun.BaseModel `bun:"table:file_diffs,alias:d"`

	ID               int64  `bun:"id,pk,autoincrement"`
	SourceSnapshotID int64  `bun:"source_snapshot_id,notnull"`
	Path             string `bun:"path,notnull"`
	ChangeKind       string `bun:"change_kind,notnull"`
	Patch            []byte `bun:"patch"`
	CreatedAt        int64  `bun:"created_at,notnull"`
}

func (m *diffModel) toModel() models.FileDiff {
	return models.FileDiff{
		ID:               m.ID,
		SourceSnapshotID: m.SourceSnapshotID,
		Path:             m.Path,
		ChangeKind:       models.ParseChangeKind(m.ChangeKind),
		Patch:            m.Patch,
		CreatedAt:        m.CreatedAt,
	}
}

// SQLStore is a Store backed by SQLite through bun.
type SQLStore struct {
	db  *bun.DB
	now func() time.Time
}

// OpenSQL opens (creating if needed) the SQLite database at path and
// ensures the schema exists.
func OpenSQL(ctx context.Context, path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLStore{
		db:  bun.NewDB(sqlDB, sqlitedialect.New()),
		now: time.Now,
	}
	if err := s.migrate(ctx); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*snapshotModel)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create file_snapshots: %w", err)
	}

	if _, err := s.db.NewCreateTable().
		Model((*diffModel)(nil)).
		IfNotExists().
		ForeignKey(`("source_snapshot_id") REFERENCES "file_snapshots" ("id")`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create file_diffs: %w", err)
	}

	if _, err := s.db.NewCreateIndex().
		Model((*snapshotModel)(nil)).
		Index("file_snapshots_path_idx").
		Column("path").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create file_snapshots index: %w", err)
	}

	if _, err := s.db.NewCreateIndex().
		Model((*diffModel)(nil)).
		Index("file_diffs_path_created_idx").
		Column("path", "created_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create file_diffs index: %w", err)
	}

	return nil
}

// PutSnapshot implements Store.
func (s *SQLStore) PutSnapshot(ctx context.Context, path string, content []byte) (int64, error) {
	m := &snapshotModel{
		Path:       path,
		Content:    content,
		CapturedAt: s.now().UTC(),
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		referenced := tx.NewSelect().
			Model((*diffModel)(nil)).
			Column("source_snapshot_id").
			Where("path = ?", path)

		if _, err := tx.NewDelete().
			Model((*snapshotModel)(nil)).
			Where("path = ?", path).
			Where("id NOT IN (?)", referenced).
			Exec(ctx); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}

		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return m.ID, nil
}

// GetLatestSnapshot implements Store.
func (s *SQLStore) GetLatestSnapshot(ctx context.Context, path string) (*models.FileSnapshot, error) {
	m := new(snapshotModel)
	err := s.db.NewSelect().
		Model(m).
		Where("path = ?", path).
		OrderExpr("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m.toModel(), nil
}

// GetSnapshot implements Store.
func (s *SQLStore) GetSnapshot(ctx context.Context, id int64) (*models.FileSnapshot, error) {
	m := new(snapshotModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m.toModel(), nil
}

// PutDiff implements Store.
func (s *SQLStore) PutDiff(ctx context.Context, diff models.FileDiff) (int64, error) {
	m := &diffModel{
		SourceSnapshotID: diff.SourceSnapshotID,
		Path:             diff.Path,
		ChangeKind:       string(diff.ChangeKind),
		Patch:            diff.Patch,
		CreatedAt:        diff.CreatedAt,
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return 0, fmt.Errorf("insert diff: %w", err)
	}
	return m.ID, nil
}

// ListRecentDiffs implements Store.
func (s *SQLStore) ListRecentDiffs(ctx context.Context, path string, limit int) ([]models.FileDiff, error) {
	var rows []diffModel
	err := s.db.NewSelect().
		Model(&rows).
		Where("path = ?", path).
		OrderExpr("created_at DESC, id DESC").
		Limit(normalizeLimit(limit)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	diffs := make([]models.FileDiff, 0, len(rows))
	for i := range rows {
		diffs = append(diffs, rows[i].toModel())
	}
	return diffs, nil
}

// DeleteAllForPath implements Store.
func (s *SQLStore) DeleteAllForPath(ctx context.Context, path string) (int64, int64, error) {
	var diffsDeleted, snapshotsDeleted int64

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*diffModel)(nil)).
			Where("path = ?", path).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete diffs: %w", err)
		}
		diffsDeleted, _ = res.RowsAffected()

		res, err = tx.NewDelete().
			Model((*snapshotModel)(nil)).
			Where("path = ?", path).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete snapshots: %w", err)
		}
		snapshotsDeleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return diffsDeleted, snapshotsDeleted, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
