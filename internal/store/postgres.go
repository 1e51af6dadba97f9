package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"socialpulse.app/autopilot/internal/model"
)

// Stores bundles the per-entity stores over one connection pool. All rows are
// scoped by account ID so a single database can serve several connected
// accounts, each with its own engine instance.
type Stores struct {
	processed ProcessedCommentStore
	activity  ActivityLogStore
	state     AutomationStateStore
}

func New(ctx context.Context, pool *pgxpool.Pool, accountID string) (*Stores, error) {
	if err := initSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &Stores{
		processed: &processedCommentStore{pool: pool, accountID: accountID},
		activity:  &activityLogStore{pool: pool, accountID: accountID},
		state:     &automationStateStore{pool: pool, accountID: accountID},
	}, nil
}

func (s *Stores) ProcessedComments() ProcessedCommentStore { return s.processed }
func (s *Stores) ActivityLog() ActivityLogStore            { return s.activity }
func (s *Stores) AutomationState() AutomationStateStore    { return s.state }

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS processed_comments (
			account_id   TEXT NOT NULL,
			comment_id   TEXT NOT NULL,
			post_id      TEXT NOT NULL,
			username     TEXT NOT NULL DEFAULT '',
			comment_text TEXT NOT NULL DEFAULT '',
			reply_text   TEXT NOT NULL DEFAULT '',
			reply_id     TEXT,
			delivery     TEXT,
			status       TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (account_id, comment_id)
		)`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id         BIGINT PRIMARY KEY,
			account_id TEXT NOT NULL,
			entry_type TEXT NOT NULL,
			comment_id TEXT,
			post_id    TEXT,
			message    TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS activity_log_account_created_idx
			ON activity_log (account_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS automation_state (
			account_id TEXT PRIMARY KEY,
			state      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, q := range queries {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}

// --- Processed comments -----------------------------------------------------

type processedCommentStore struct {
	pool      *pgxpool.Pool
	accountID string
}

func (s *processedCommentStore) IsProcessed(ctx context.Context, commentID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_comments WHERE account_id = $1 AND comment_id = $2)`,
		s.accountID, commentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking processed comment: %w", err)
	}
	return exists, nil
}

func (s *processedCommentStore) Mark(ctx context.Context, pc *model.ProcessedComment) error {
	// ON CONFLICT DO NOTHING keeps the first terminal status authoritative:
	// a comment is marked at most once.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_comments
			(account_id, comment_id, post_id, username, comment_text, reply_text, reply_id, delivery, status, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		 ON CONFLICT (account_id, comment_id) DO NOTHING`,
		s.accountID, pc.CommentID, pc.PostID, pc.Username, pc.Text, pc.Reply,
		pc.ReplyID, pc.Delivery, string(pc.Status))
	if err != nil {
		return fmt.Errorf("marking comment processed: %w", err)
	}
	return nil
}

func (s *processedCommentStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM processed_comments WHERE account_id = $1`,
		s.accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting processed comments: %w", err)
	}
	return count, nil
}

func (s *processedCommentStore) ListRecent(ctx context.Context, limit int32) ([]model.ProcessedComment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT comment_id, post_id, username, comment_text, reply_text, reply_id, delivery, status, processed_at
		 FROM processed_comments
		 WHERE account_id = $1
		 ORDER BY processed_at DESC
		 LIMIT $2`,
		s.accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing processed comments: %w", err)
	}
	defer rows.Close()

	var result []model.ProcessedComment
	for rows.Next() {
		var pc model.ProcessedComment
		var status string
		var delivery *string
		if err := rows.Scan(&pc.CommentID, &pc.PostID, &pc.Username, &pc.Text, &pc.Reply,
			&pc.ReplyID, &delivery, &status, &pc.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scanning processed comment: %w", err)
		}
		pc.Status = model.ReplyStatus(status)
		if delivery != nil {
			d := model.DeliveryType(*delivery)
			pc.Delivery = &d
		}
		result = append(result, pc)
	}
	return result, rows.Err()
}

// --- Activity log -----------------------------------------------------------

type activityLogStore struct {
	pool      *pgxpool.Pool
	accountID string
}

func (s *activityLogStore) Append(ctx context.Context, entry *model.ActivityEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activity_log (id, account_id, entry_type, comment_id, post_id, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		entry.ID, s.accountID, string(entry.Type), entry.CommentID, entry.PostID, entry.Message)
	if err != nil {
		return fmt.Errorf("appending activity entry: %w", err)
	}
	return nil
}

func (s *activityLogStore) ListRecent(ctx context.Context, limit int32) ([]model.ActivityEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entry_type, comment_id, post_id, message, created_at
		 FROM activity_log
		 WHERE account_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		s.accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activity entries: %w", err)
	}
	defer rows.Close()

	var result []model.ActivityEntry
	for rows.Next() {
		var entry model.ActivityEntry
		var entryType string
		if err := rows.Scan(&entry.ID, &entryType, &entry.CommentID, &entry.PostID,
			&entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}
		entry.Type = model.ActivityType(entryType)
		result = append(result, entry)
	}
	return result, rows.Err()
}

// --- Automation state -------------------------------------------------------

type automationStateStore struct {
	pool      *pgxpool.Pool
	accountID string
}

func (s *automationStateStore) Save(ctx context.Context, snapshot *model.AutomationSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding automation state: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO automation_state (account_id, state, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (account_id) DO UPDATE SET state = $2, updated_at = now()`,
		s.accountID, payload)
	if err != nil {
		return fmt.Errorf("saving automation state: %w", err)
	}
	return nil
}

func (s *automationStateStore) Load(ctx context.Context) (*model.AutomationSnapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM automation_state WHERE account_id = $1`,
		s.accountID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading automation state: %w", err)
	}

	var snapshot model.AutomationSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("decoding automation state: %w", err)
	}
	return &snapshot, nil
}
