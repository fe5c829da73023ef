package store

import (
	"context"
	"fmt"
)

const commentColumns = `c.id, c.parent_id, c.user_id, c.video_id, c.value, c.created_at, c.updated_at`

func commentDest(c *Comment) []any {
	return []any{&c.ID, &c.ParentID, &c.UserID, &c.VideoID, &c.Value, &c.CreatedAt, &c.UpdatedAt}
}

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) (Comment, error) {
	var created Comment
	err := s.db.QueryRowContext(ctx, `
		WITH c AS (
			INSERT INTO comments (parent_id, user_id, video_id, value)
			VALUES ($1, $2, $3, $4)
			RETURNING *
		)
		SELECT `+commentColumns+` FROM c
	`, comment.ParentID, comment.UserID, comment.VideoID, comment.Value).Scan(commentDest(&created)...)
	if err != nil {
		return Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var comment Comment
	err := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments c WHERE c.id = $1`, commentID).Scan(commentDest(&comment)...)
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// DeleteComment removes a comment written by userID; replies cascade.
func (s *PostgresStore) DeleteComment(ctx context.Context, commentID, userID string) (Comment, error) {
	var deleted Comment
	err := s.db.QueryRowContext(ctx, `
		WITH c AS (
			DELETE FROM comments WHERE id = $1 AND user_id = $2
			RETURNING *
		)
		SELECT `+commentColumns+` FROM c
	`, commentID, userID).Scan(commentDest(&deleted)...)
	if err != nil {
		if isNoRows(err) {
			return Comment{}, err
		}
		return Comment{}, fmt.Errorf("delete comment: %w", err)
	}
	return deleted, nil
}

// CountComments counts every comment on a video, replies included.
func (s *PostgresStore) CountComments(ctx context.Context, videoID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE video_id = $1`, videoID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return count, nil
}

// ListComments pages the top-level comments of a video, or the replies to
// parentID when it is set. viewerID may be empty.
func (s *PostgresStore) ListComments(ctx context.Context, videoID string, parentID *string, viewerID string, cursor *Cursor, limit int) (Page[CommentItem, Cursor], error) {
	var a args
	where := []string{"c.video_id = " + a.add(videoID)}
	if parentID != nil {
		where = append(where, "c.parent_id = "+a.add(*parentID))
	} else {
		where = append(where, "c.parent_id IS NULL")
	}
	if cursor != nil {
		at, id := a.add(cursor.UpdatedAt), a.add(cursor.ID)
		where = append(where, fmt.Sprintf("(c.updated_at < %s OR (c.updated_at = %s AND c.id < %s))", at, at, id))
	}
	viewer := a.add(viewerID)
	query := `
		SELECT ` + commentColumns + `, ` + userColumns + `,
			(SELECT r.type FROM comment_reactions r WHERE r.comment_id = c.id AND r.user_id::text = ` + viewer + `),
			(SELECT COUNT(*) FROM comment_reactions r WHERE r.comment_id = c.id AND r.type = 'like'),
			(SELECT COUNT(*) FROM comment_reactions r WHERE r.comment_id = c.id AND r.type = 'dislike'),
			(SELECT COUNT(*) FROM comments rc WHERE rc.parent_id = c.id)
		FROM comments c
		JOIN users u ON u.id = c.user_id` + whereClause(where) +
		` ORDER BY c.updated_at DESC, c.id DESC LIMIT ` + a.add(limit+1)

	rows, err := s.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return Page[CommentItem, Cursor]{}, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]CommentItem, 0)
	for rows.Next() {
		var item CommentItem
		dest := append(commentDest(&item.Comment), userDest(&item.User)...)
		dest = append(dest, &item.ViewerReaction, &item.LikeCount, &item.DislikeCount, &item.ReplyCount)
		if err := rows.Scan(dest...); err != nil {
			return Page[CommentItem, Cursor]{}, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Page[CommentItem, Cursor]{}, fmt.Errorf("iterate comments: %w", err)
	}
	return newPage(items, limit, func(c CommentItem) Cursor {
		return Cursor{ID: c.ID, UpdatedAt: c.UpdatedAt}
	}), nil
}
