// Package ledger 将每次运行与逐文件结果记录到 SQLite（纯 Go 驱动，无需 CGO）。
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"htmldedup/internal/pipeline"
)

// DriverName 为 database/sql 注册的驱动名。
const DriverName = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	corr_id     TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	dry_run     INTEGER NOT NULL,
	strict      INTEGER NOT NULL,
	passes      TEXT NOT NULL,
	status      TEXT NOT NULL,
	files       INTEGER NOT NULL DEFAULT 0,
	removed     INTEGER NOT NULL DEFAULT 0,
	warnings    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS files (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	file_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	digest_before TEXT,
	digest_after  TEXT,
	bytes_before  INTEGER NOT NULL,
	bytes_after   INTEGER NOT NULL,
	removed       INTEGER NOT NULL,
	warnings      INTEGER NOT NULL,
	passes        TEXT NOT NULL,
	error         TEXT,
	recorded_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS files_file_id ON files(file_id);
`

// Ledger 持有数据库连接。
type Ledger struct {
	db *sql.DB
}

// Open 打开（必要时创建）path 处的台账并迁移表结构。
func Open(path string) (*Ledger, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("ledger open %s: %w", path, err)
	}
	// 单写者，避免 database is locked
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger migrate %s: %w", path, err)
	}
	return &Ledger{db: db}, nil
}

// Close 关闭连接。
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Run 为一次运行的记录句柄，实现 pipeline.Recorder。
type Run struct {
	l  *Ledger
	ID string
}

var _ pipeline.Recorder = (*Run)(nil)

// BeginRun 写入一条 running 状态的运行记录。
func (l *Ledger) BeginRun(ctx context.Context, corrID string, dryRun, strict bool, passes []string) (*Run, error) {
	id := uuid.NewString()
	pj, err := json.Marshal(passes)
	if err != nil {
		return nil, err
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO runs (id, corr_id, started_at, dry_run, strict, passes, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, corrID, now(), boolInt(dryRun), boolInt(strict), string(pj), "running")
	if err != nil {
		return nil, fmt.Errorf("ledger begin run: %w", err)
	}
	return &Run{l: l, ID: id}, nil
}

// RecordFile 追加一条文件结果。
func (r *Run) RecordFile(ctx context.Context, f pipeline.FileReport) error {
	pj, err := json.Marshal(f.Passes)
	if err != nil {
		return err
	}
	_, err = r.l.db.ExecContext(ctx,
		`INSERT INTO files (run_id, file_id, status, digest_before, digest_after, bytes_before, bytes_after, removed, warnings, passes, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(f.FileID), f.Status, f.DigestBefore, f.DigestAfter, f.BytesBefore, f.BytesAfter,
		f.Removed, f.Warnings, string(pj), f.Error, now())
	if err != nil {
		return fmt.Errorf("ledger record %s: %w", f.FileID, err)
	}
	return nil
}

// Finish 以最终状态（ok|fail|held）与汇总结束运行。
func (r *Run) Finish(ctx context.Context, status string, rep pipeline.Report) error {
	_, err := r.l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, files = ?, removed = ?, warnings = ? WHERE id = ?`,
		now(), status, len(rep.Files), rep.Removed, rep.Warnings, r.ID)
	if err != nil {
		return fmt.Errorf("ledger finish run: %w", err)
	}
	return nil
}

// RunSummary 为历史查询的一行。
type RunSummary struct {
	ID         string `json:"id"`
	CorrID     string `json:"corr_id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	DryRun     bool   `json:"dry_run"`
	Status     string `json:"status"`
	Files      int    `json:"files"`
	Removed    int    `json:"removed"`
	Warnings   int    `json:"warnings"`
}

// Recent 返回最近 limit 次运行（新→旧）。
func (l *Ledger) Recent(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, corr_id, started_at, COALESCE(finished_at, ''), dry_run, status, files, removed, warnings
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var dry int
		if err := rows.Scan(&s.ID, &s.CorrID, &s.StartedAt, &s.FinishedAt, &dry, &s.Status, &s.Files, &s.Removed, &s.Warnings); err != nil {
			return nil, err
		}
		s.DryRun = dry != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// LastDigest 返回 fileID 最近一次成功写出后的摘要；无记录时 ok=false。
func (l *Ledger) LastDigest(ctx context.Context, fileID string) (digest string, ok bool, err error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT digest_after FROM files WHERE file_id = ? AND status = ? ORDER BY recorded_at DESC, rowid DESC LIMIT 1`,
		fileID, pipeline.StatusWritten)
	if err := row.Scan(&digest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return digest, true, nil
}

// tsLayout 为定宽时间戳，保证按字符串排序即按时间排序。
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func now() string { return time.Now().UTC().Format(tsLayout) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
