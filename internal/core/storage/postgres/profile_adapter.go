package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	"github.com/tagsift-lab/tagsift/internal/core/storage"
)

// ProfileAdapter implements storage.ProfileStore on PostgreSQL. Each history
// is a set of rows in profile_tags; the 200-entry bound is enforced by a trim
// delete in the same transaction as the insert.
type ProfileAdapter struct {
	db *sql.DB
}

func NewProfileAdapter(db *sql.DB) *ProfileAdapter {
	return &ProfileAdapter{db: db}
}

// Append inserts the tag and trims the history to storage.ProfileLimit in one
// transaction. Replays of the same event_id return storage.ErrDuplicate
// without touching the history.
func (a *ProfileAdapter) Append(ctx context.Context, tag *v1.TagEvent) error {
	tagJSON, err := json.Marshal(tag)
	if err != nil {
		return fmt.Errorf("profile append: marshal tag: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("profile append: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var inserted string
	err = tx.QueryRowContext(ctx, queryAppendProfileTag,
		tag.Cookie,
		string(tag.Action),
		tag.EventID,
		tag.Time.UTC(),
		tagJSON,
	).Scan(&inserted)
	if err == sql.ErrNoRows {
		// Redelivered event; history already holds it.
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("profile append: insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryTrimProfileTags,
		tag.Cookie,
		string(tag.Action),
		storage.ProfileLimit,
	); err != nil {
		return fmt.Errorf("profile append: trim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("profile append: commit: %w", err)
	}
	return nil
}

// Get reads up to limit tags most-recent-first, restricted to timeRange when
// it is non-zero.
func (a *ProfileAdapter) Get(
	ctx context.Context,
	cookie string,
	action v1.Action,
	timeRange v1.TimeRange,
	limit int,
) ([]*v1.TagEvent, error) {
	if limit <= 0 || limit > storage.ProfileLimit {
		limit = storage.ProfileLimit
	}

	from, to := timeRange.From, timeRange.To
	if timeRange.IsZero() {
		from = time.Unix(0, 0).UTC()
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	rows, err := a.db.QueryContext(ctx, queryGetProfileTags,
		cookie, string(action), from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("profile get: %w", err)
	}
	defer rows.Close()

	var tags []*v1.TagEvent
	for rows.Next() {
		var tagJSON []byte
		if err := rows.Scan(&tagJSON); err != nil {
			return nil, fmt.Errorf("profile get: scan row: %w", err)
		}
		var tag v1.TagEvent
		if err := json.Unmarshal(tagJSON, &tag); err != nil {
			return nil, fmt.Errorf("profile get: unmarshal tag: %w", err)
		}
		tags = append(tags, &tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile get: iterate rows: %w", err)
	}
	return tags, nil
}
