package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/storage/models"
)

type Client struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

func NewClient(dbPath string, log *zap.Logger) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	log.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, log: log, now: time.Now}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS search_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		is_dev INTEGER NOT NULL DEFAULT 0,
		topic TEXT NOT NULL,
		context TEXT,
		q_type TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_search_task ON search_log(task_id);

	CREATE TABLE IF NOT EXISTS search_terms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		primary_term TEXT NOT NULL,
		secondary_terms TEXT,
		synonyms TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_terms_task ON search_terms(task_id);

	CREATE TABLE IF NOT EXISTS knowledge_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		analysis TEXT,
		key_points TEXT,
		chunk_ids TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_task ON knowledge_log(task_id);

	CREATE TABLE IF NOT EXISTS verify_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		is_dev INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL,
		question_id TEXT NOT NULL,
		passed INTEGER NOT NULL,
		q_type TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_verify_task ON verify_log(task_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	c.log.Info("Database schema initialized")
	return nil
}

func (c *Client) InsertSearch(ctx context.Context, r *models.SearchRecord) error {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO search_log (task_id, is_dev, topic, context, q_type, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.IsDev, r.Topic, r.Context, r.QType, c.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert search log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

func (c *Client) InsertSearchTerms(ctx context.Context, r *models.SearchTermsRecord) error {
	secondary, err := json.Marshal(r.SecondaryTerms)
	if err != nil {
		return fmt.Errorf("failed to marshal secondary terms: %w", err)
	}
	synonyms, err := json.Marshal(r.Synonyms)
	if err != nil {
		return fmt.Errorf("failed to marshal synonyms: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO search_terms (task_id, primary_term, secondary_terms, synonyms, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.TaskID, r.PrimaryTerm, string(secondary), string(synonyms), c.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert search terms: %w", err)
	}
	return nil
}

func (c *Client) InsertKnowledge(ctx context.Context, r *models.KnowledgeRecord) error {
	chunkIDs, err := json.Marshal(r.ChunkIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk ids: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO knowledge_log (task_id, analysis, key_points, chunk_ids, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.TaskID, r.Analysis, r.KeyPoints, string(chunkIDs), c.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge log: %w", err)
	}
	return nil
}

// InsertVerifyRecords writes all records of one verification in a single
// transaction.
func (c *Client) InsertVerifyRecords(ctx context.Context, records []models.VerifyRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO verify_log (task_id, is_dev, source, question_id, passed, q_type, content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare verify insert: %w", err)
	}
	defer stmt.Close()

	now := c.now().Unix()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.TaskID, r.IsDev, r.Source, r.QuestionID, r.Passed, r.QType, r.Content, now); err != nil {
			return fmt.Errorf("failed to insert verify record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit verify records: %w", err)
	}
	return nil
}

func (c *Client) GetVerifyRecords(ctx context.Context, taskID int64) ([]models.VerifyRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT task_id, is_dev, source, question_id, passed, q_type, content, created_at
		FROM verify_log WHERE task_id = ? ORDER BY id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query verify log: %w", err)
	}
	defer rows.Close()

	var records []models.VerifyRecord
	for rows.Next() {
		var r models.VerifyRecord
		var createdAt int64
		if err := rows.Scan(&r.TaskID, &r.IsDev, &r.Source, &r.QuestionID, &r.Passed, &r.QType, &r.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan verify record: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (c *Client) GetSearches(ctx context.Context, taskID int64) ([]models.SearchRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, task_id, is_dev, topic, context, q_type, created_at
		FROM search_log WHERE task_id = ? ORDER BY id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query search log: %w", err)
	}
	defer rows.Close()

	var records []models.SearchRecord
	for rows.Next() {
		var r models.SearchRecord
		var ctxText sql.NullString
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.TaskID, &r.IsDev, &r.Topic, &ctxText, &r.QType, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan search record: %w", err)
		}
		r.Context = ctxText.String
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (c *Client) GetSearchTerms(ctx context.Context, taskID int64) (*models.SearchTermsRecord, error) {
	var r models.SearchTermsRecord
	var secondary, synonyms sql.NullString
	var createdAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT task_id, primary_term, secondary_terms, synonyms, created_at
		FROM search_terms WHERE task_id = ? ORDER BY id DESC LIMIT 1`,
		taskID,
	).Scan(&r.TaskID, &r.PrimaryTerm, &secondary, &synonyms, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get search terms: %w", err)
	}

	if secondary.Valid {
		json.Unmarshal([]byte(secondary.String), &r.SecondaryTerms)
	}
	if synonyms.Valid {
		json.Unmarshal([]byte(synonyms.String), &r.Synonyms)
	}
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}

func (c *Client) GetKnowledge(ctx context.Context, taskID int64) (*models.KnowledgeRecord, error) {
	var r models.KnowledgeRecord
	var chunkIDs sql.NullString
	var createdAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT task_id, analysis, key_points, chunk_ids, created_at
		FROM knowledge_log WHERE task_id = ? ORDER BY id DESC LIMIT 1`,
		taskID,
	).Scan(&r.TaskID, &r.Analysis, &r.KeyPoints, &chunkIDs, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge log: %w", err)
	}

	if chunkIDs.Valid {
		json.Unmarshal([]byte(chunkIDs.String), &r.ChunkIDs)
	}
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}
