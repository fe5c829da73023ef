package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateVideoView records that userID watched videoID. A repeat view returns
// the existing row unchanged.
func (s *PostgresStore) CreateVideoView(ctx context.Context, userID, videoID string) (VideoView, error) {
	var view VideoView
	err := s.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO video_views (user_id, video_id)
			VALUES ($1, $2)
			ON CONFLICT (user_id, video_id) DO NOTHING
			RETURNING user_id, video_id, created_at, updated_at
		)
		SELECT user_id, video_id, created_at, updated_at FROM inserted
		UNION ALL
		SELECT user_id, video_id, created_at, updated_at FROM video_views
		WHERE user_id = $1 AND video_id = $2
		LIMIT 1
	`, userID, videoID).Scan(&view.UserID, &view.VideoID, &view.CreatedAt, &view.UpdatedAt)
	if err != nil {
		return VideoView{}, fmt.Errorf("create video view: %w", err)
	}
	return view, nil
}

// reactionToggle is the statement set shared by video and comment reactions.
type reactionToggle struct {
	table  string
	target string
}

var (
	videoReactionToggle   = reactionToggle{table: "video_reactions", target: "video_id"}
	commentReactionToggle = reactionToggle{table: "comment_reactions", target: "comment_id"}
)

// toggle removes the viewer's reaction on targetID when it already has the
// requested type, otherwise inserts or switches it. The returned bool is true
// when the reaction was removed.
func (r reactionToggle) toggle(ctx context.Context, db *sql.DB, userID, targetID, reactionType string) (reactionRow, bool, error) {
	var row reactionRow
	var removed bool
	err := inTx(ctx, db, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT type FROM %s WHERE user_id = $1 AND %s = $2 FOR UPDATE`, r.table, r.target),
			userID, targetID,
		).Scan(&existing)
		if err != nil && !isNoRows(err) {
			return fmt.Errorf("read %s: %w", r.table, err)
		}

		if existing == reactionType {
			removed = true
			return tx.QueryRowContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND %s = $2 RETURNING user_id, %s, type, created_at, updated_at`, r.table, r.target, r.target),
				userID, targetID,
			).Scan(row.dest()...)
		}

		return tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (user_id, %s, type)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, %s) DO UPDATE SET type = EXCLUDED.type, updated_at = NOW()
			RETURNING user_id, %s, type, created_at, updated_at
		`, r.table, r.target, r.target, r.target), userID, targetID, reactionType).Scan(row.dest()...)
	})
	if err != nil {
		return reactionRow{}, false, err
	}
	return row, removed, nil
}

type reactionRow struct {
	userID    string
	targetID  string
	typ       string
	createdAt time.Time
	updatedAt time.Time
}

func (r *reactionRow) dest() []any {
	return []any{&r.userID, &r.targetID, &r.typ, &r.createdAt, &r.updatedAt}
}

// ToggleVideoReaction applies like/dislike toggle semantics to a video.
func (s *PostgresStore) ToggleVideoReaction(ctx context.Context, userID, videoID, reactionType string) (VideoReaction, bool, error) {
	row, removed, err := videoReactionToggle.toggle(ctx, s.db, userID, videoID, reactionType)
	if err != nil {
		return VideoReaction{}, false, fmt.Errorf("toggle video reaction: %w", err)
	}
	return VideoReaction{
		UserID:    row.userID,
		VideoID:   row.targetID,
		Type:      row.typ,
		CreatedAt: row.createdAt,
		UpdatedAt: row.updatedAt,
	}, removed, nil
}

// ToggleCommentReaction applies like/dislike toggle semantics to a comment.
func (s *PostgresStore) ToggleCommentReaction(ctx context.Context, userID, commentID, reactionType string) (CommentReaction, bool, error) {
	row, removed, err := commentReactionToggle.toggle(ctx, s.db, userID, commentID, reactionType)
	if err != nil {
		return CommentReaction{}, false, fmt.Errorf("toggle comment reaction: %w", err)
	}
	return CommentReaction{
		UserID:    row.userID,
		CommentID: row.targetID,
		Type:      row.typ,
		CreatedAt: row.createdAt,
		UpdatedAt: row.updatedAt,
	}, removed, nil
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, viewerID, creatorID string) (Subscription, error) {
	var sub Subscription
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (viewer_id, creator_id)
		VALUES ($1, $2)
		RETURNING viewer_id, creator_id, created_at, updated_at
	`, viewerID, creatorID).Scan(&sub.ViewerID, &sub.CreatorID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, viewerID, creatorID string) (Subscription, error) {
	var sub Subscription
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM subscriptions
		WHERE viewer_id = $1 AND creator_id = $2
		RETURNING viewer_id, creator_id, created_at, updated_at
	`, viewerID, creatorID).Scan(&sub.ViewerID, &sub.CreatorID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return Subscription{}, err
		}
		return Subscription{}, fmt.Errorf("delete subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions pages the creators viewerID follows by (updated_at,
// creator_id).
func (s *PostgresStore) ListSubscriptions(ctx context.Context, viewerID string, cursor *SubscriptionCursor, limit int) (Page[SubscriptionItem, SubscriptionCursor], error) {
	var a args
	where := []string{"s.viewer_id = " + a.add(viewerID)}
	if cursor != nil {
		at, id := a.add(cursor.UpdatedAt), a.add(cursor.CreatorID)
		where = append(where, fmt.Sprintf("(s.updated_at < %s OR (s.updated_at = %s AND s.creator_id < %s))", at, at, id))
	}
	query := `
		SELECT s.viewer_id, s.creator_id, s.created_at, s.updated_at, ` + userColumns + `,
			(SELECT COUNT(*) FROM subscriptions sc WHERE sc.creator_id = u.id),
			(SELECT COUNT(*) FROM videos v WHERE v.user_id = u.id)
		FROM subscriptions s
		JOIN users u ON u.id = s.creator_id` + whereClause(where) +
		` ORDER BY s.updated_at DESC, s.creator_id DESC LIMIT ` + a.add(limit+1)

	rows, err := s.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return Page[SubscriptionItem, SubscriptionCursor]{}, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	items := make([]SubscriptionItem, 0)
	for rows.Next() {
		var item SubscriptionItem
		dest := []any{&item.ViewerID, &item.CreatorID, &item.CreatedAt, &item.UpdatedAt}
		dest = append(dest, userDest(&item.User.User)...)
		dest = append(dest, &item.User.SubscriberCount, &item.User.VideoCount)
		if err := rows.Scan(dest...); err != nil {
			return Page[SubscriptionItem, SubscriptionCursor]{}, fmt.Errorf("scan subscription: %w", err)
		}
		item.User.ViewerSubscribed = true
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Page[SubscriptionItem, SubscriptionCursor]{}, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return newPage(items, limit, func(item SubscriptionItem) SubscriptionCursor {
		return SubscriptionCursor{CreatorID: item.CreatorID, UpdatedAt: item.UpdatedAt}
	}), nil
}
