package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const videoColumns = `v.id, v.title, v.description, v.mux_status, v.mux_asset_id, v.mux_upload_id,
	v.mux_playback_id, v.mux_track_id, v.mux_track_status, v.thumbnail_url, v.thumbnail_key,
	v.preview_url, v.preview_key, v.duration, v.visibility, v.user_id, v.category_id,
	v.created_at, v.updated_at`

func videoDest(v *Video) []any {
	return []any{
		&v.ID, &v.Title, &v.Description, &v.MuxStatus, &v.MuxAssetID, &v.MuxUploadID,
		&v.MuxPlaybackID, &v.MuxTrackID, &v.MuxTrackStatus, &v.ThumbnailURL, &v.ThumbnailKey,
		&v.PreviewURL, &v.PreviewKey, &v.Duration, &v.Visibility, &v.UserID, &v.CategoryID,
		&v.CreatedAt, &v.UpdatedAt,
	}
}

// cardFrom is the join every video list shares: creator plus engagement
// counts exposed as vc.n, lc.n and dc.n so they can be filtered and sorted.
const cardFrom = `
	FROM videos v
	JOIN users u ON u.id = v.user_id
	LEFT JOIN LATERAL (SELECT COUNT(*) AS n FROM video_views WHERE video_id = v.id) vc ON TRUE
	LEFT JOIN LATERAL (SELECT COUNT(*) AS n FROM video_reactions WHERE video_id = v.id AND type = 'like') lc ON TRUE
	LEFT JOIN LATERAL (SELECT COUNT(*) AS n FROM video_reactions WHERE video_id = v.id AND type = 'dislike') dc ON TRUE`

const cardColumns = videoColumns + `, ` + userColumns + `, vc.n, lc.n, dc.n`

func cardDest(c *VideoCard, extra ...any) []any {
	dest := append(videoDest(&c.Video), userDest(&c.User)...)
	dest = append(dest, &c.ViewCount, &c.LikeCount, &c.DislikeCount)
	return append(dest, extra...)
}

func (s *PostgresStore) returningVideo(ctx context.Context, query string, params ...any) (Video, error) {
	var video Video
	err := s.db.QueryRowContext(ctx, `WITH v AS (`+query+` RETURNING *) SELECT `+videoColumns+` FROM v`, params...).Scan(videoDest(&video)...)
	if err != nil {
		return Video{}, err
	}
	return video, nil
}

func (s *PostgresStore) CreateVideo(ctx context.Context, video Video) (Video, error) {
	created, err := s.returningVideo(ctx, `
		INSERT INTO videos (title, description, mux_status, mux_upload_id, visibility, user_id, category_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, video.Title, video.Description, video.MuxStatus, video.MuxUploadID, video.Visibility, video.UserID, video.CategoryID)
	if err != nil {
		return Video{}, fmt.Errorf("create video: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetVideo(ctx context.Context, videoID string) (Video, error) {
	var video Video
	err := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos v WHERE v.id = $1`, videoID).Scan(videoDest(&video)...)
	if err != nil {
		return Video{}, err
	}
	return video, nil
}

// GetOwnedVideo returns sql.ErrNoRows when the video is missing or belongs to
// someone else.
func (s *PostgresStore) GetOwnedVideo(ctx context.Context, videoID, userID string) (Video, error) {
	var video Video
	err := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos v WHERE v.id = $1 AND v.user_id = $2`, videoID, userID).Scan(videoDest(&video)...)
	if err != nil {
		return Video{}, err
	}
	return video, nil
}

// GetVideoDetail loads the watch page. viewerID may be empty.
func (s *PostgresStore) GetVideoDetail(ctx context.Context, videoID, viewerID string) (VideoDetail, error) {
	var card VideoCard
	var detail VideoDetail
	err := s.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+`,
			(SELECT COUNT(*) FROM subscriptions sc WHERE sc.creator_id = u.id),
			(SELECT COUNT(*) FROM videos uv WHERE uv.user_id = u.id),
			EXISTS(SELECT 1 FROM subscriptions sv WHERE sv.creator_id = u.id AND sv.viewer_id::text = $2),
			(SELECT r.type FROM video_reactions r WHERE r.video_id = v.id AND r.user_id::text = $2)
		`+cardFrom+`
		WHERE v.id = $1
	`, videoID, viewerID).Scan(cardDest(&card,
		&detail.User.SubscriberCount,
		&detail.User.VideoCount,
		&detail.User.ViewerSubscribed,
		&detail.ViewerReaction,
	)...)
	if err != nil {
		return VideoDetail{}, err
	}
	detail.Video = card.Video
	detail.User.User = card.User
	detail.ViewCount = card.ViewCount
	detail.LikeCount = card.LikeCount
	detail.DislikeCount = card.DislikeCount
	return detail, nil
}

// UpdateVideo applies the non-nil fields of update to a video owned by userID.
func (s *PostgresStore) UpdateVideo(ctx context.Context, videoID, userID string, update VideoUpdate) (Video, error) {
	var a args
	sets := []string{"updated_at = NOW()"}
	if update.Title != nil {
		sets = append(sets, "title = "+a.add(*update.Title))
	}
	if update.Description != nil {
		sets = append(sets, "description = "+a.add(*update.Description))
	}
	if update.ClearCategory {
		sets = append(sets, "category_id = NULL")
	} else if update.CategoryID != nil {
		sets = append(sets, "category_id = "+a.add(*update.CategoryID))
	}
	if update.Visibility != nil {
		sets = append(sets, "visibility = "+a.add(*update.Visibility))
	}
	query := fmt.Sprintf(`UPDATE videos SET %s WHERE id = %s AND user_id = %s`,
		strings.Join(sets, ", "), a.add(videoID), a.add(userID))
	video, err := s.returningVideo(ctx, query, a.values...)
	if err != nil {
		if isNoRows(err) {
			return Video{}, err
		}
		return Video{}, fmt.Errorf("update video: %w", err)
	}
	return video, nil
}

func (s *PostgresStore) DeleteVideo(ctx context.Context, videoID, userID string) (Video, error) {
	video, err := s.returningVideo(ctx, `DELETE FROM videos WHERE id = $1 AND user_id = $2`, videoID, userID)
	if err != nil {
		if isNoRows(err) {
			return Video{}, err
		}
		return Video{}, fmt.Errorf("delete video: %w", err)
	}
	return video, nil
}

// SetVideoThumbnail replaces the stored thumbnail. Nil url and key clear it.
func (s *PostgresStore) SetVideoThumbnail(ctx context.Context, videoID, userID string, url, key *string) (Video, error) {
	video, err := s.returningVideo(ctx, `
		UPDATE videos SET thumbnail_url = $3, thumbnail_key = $4, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, videoID, userID, url, key)
	if err != nil {
		if isNoRows(err) {
			return Video{}, err
		}
		return Video{}, fmt.Errorf("set video thumbnail: %w", err)
	}
	return video, nil
}

func assetSets(update AssetUpdate, a *args) []string {
	sets := []string{"updated_at = NOW()", "mux_status = " + a.add(update.Status)}
	fields := []struct {
		column string
		value  any
		set    bool
	}{
		{"mux_asset_id", update.AssetID, update.AssetID != nil},
		{"mux_playback_id", update.PlaybackID, update.PlaybackID != nil},
		{"duration", update.Duration, update.Duration != nil},
		{"thumbnail_url", update.ThumbnailURL, update.ThumbnailURL != nil},
		{"thumbnail_key", update.ThumbnailKey, update.ThumbnailKey != nil},
		{"preview_url", update.PreviewURL, update.PreviewURL != nil},
		{"preview_key", update.PreviewKey, update.PreviewKey != nil},
	}
	for _, field := range fields {
		if field.set {
			sets = append(sets, field.column+" = "+a.add(field.value))
		}
	}
	return sets
}

// UpdateVideoAssetByUpload records media platform state for the video created
// with uploadID.
func (s *PostgresStore) UpdateVideoAssetByUpload(ctx context.Context, uploadID string, update AssetUpdate) (Video, error) {
	var a args
	sets := assetSets(update, &a)
	query := fmt.Sprintf(`UPDATE videos SET %s WHERE mux_upload_id = %s`, strings.Join(sets, ", "), a.add(uploadID))
	video, err := s.returningVideo(ctx, query, a.values...)
	if err != nil {
		if isNoRows(err) {
			return Video{}, err
		}
		return Video{}, fmt.Errorf("update video asset: %w", err)
	}
	return video, nil
}

func (s *PostgresStore) UpdateVideoAsset(ctx context.Context, videoID string, update AssetUpdate) (Video, error) {
	var a args
	sets := assetSets(update, &a)
	query := fmt.Sprintf(`UPDATE videos SET %s WHERE id = %s`, strings.Join(sets, ", "), a.add(videoID))
	video, err := s.returningVideo(ctx, query, a.values...)
	if err != nil {
		if isNoRows(err) {
			return Video{}, err
		}
		return Video{}, fmt.Errorf("update video asset: %w", err)
	}
	return video, nil
}

func (s *PostgresStore) UpdateVideoTrack(ctx context.Context, assetID, trackID, trackStatus string) (Video, error) {
	video, err := s.returningVideo(ctx, `
		UPDATE videos SET mux_track_id = $2, mux_track_status = $3, updated_at = NOW()
		WHERE mux_asset_id = $1
	`, assetID, trackID, trackStatus)
	if err != nil {
		if isNoRows(err) {
			return Video{}, err
		}
		return Video{}, fmt.Errorf("update video track: %w", err)
	}
	return video, nil
}

func (s *PostgresStore) DeleteVideoByUpload(ctx context.Context, uploadID string) (Video, error) {
	video, err := s.returningVideo(ctx, `DELETE FROM videos WHERE mux_upload_id = $1`, uploadID)
	if err != nil {
		if isNoRows(err) {
			return Video{}, err
		}
		return Video{}, fmt.Errorf("delete video by upload: %w", err)
	}
	return video, nil
}

// ListVideos pages through video cards newest first by (updated_at, id).
func (s *PostgresStore) ListVideos(ctx context.Context, filter VideoFilter, cursor *Cursor, limit int) (Page[VideoCard, Cursor], error) {
	var a args
	var where []string
	if filter.Visibility != "" {
		where = append(where, "v.visibility = "+a.add(filter.Visibility))
	}
	if filter.UserID != "" {
		where = append(where, "v.user_id = "+a.add(filter.UserID))
	}
	if filter.CategoryID != "" {
		where = append(where, "v.category_id = "+a.add(filter.CategoryID))
	}
	if filter.Query != "" {
		where = append(where, "v.title ILIKE "+a.add("%"+escapeLike(filter.Query)+"%"))
	}
	if filter.IDs != nil {
		where = append(where, "v.id::text = ANY("+a.add(filter.IDs)+")")
	}
	if filter.ExcludeID != "" {
		where = append(where, "v.id <> "+a.add(filter.ExcludeID))
	}
	if filter.SubscriberID != "" {
		where = append(where, "EXISTS(SELECT 1 FROM subscriptions s WHERE s.creator_id = v.user_id AND s.viewer_id = "+a.add(filter.SubscriberID)+")")
	}
	if filter.PlaylistID != "" {
		where = append(where, "EXISTS(SELECT 1 FROM playlist_videos pv WHERE pv.video_id = v.id AND pv.playlist_id = "+a.add(filter.PlaylistID)+")")
	}
	if cursor != nil {
		at, id := a.add(cursor.UpdatedAt), a.add(cursor.ID)
		where = append(where, fmt.Sprintf("(v.updated_at < %s OR (v.updated_at = %s AND v.id < %s))", at, at, id))
	}

	query := `SELECT ` + cardColumns + cardFrom + whereClause(where) +
		` ORDER BY v.updated_at DESC, v.id DESC LIMIT ` + a.add(limit+1)
	rows, err := s.queryCards(ctx, query, a.values)
	if err != nil {
		return Page[VideoCard, Cursor]{}, fmt.Errorf("list videos: %w", err)
	}
	return newPage(rows, limit, func(c VideoCard) Cursor {
		return Cursor{ID: c.ID, UpdatedAt: c.UpdatedAt}
	}), nil
}

// ListTrendingVideos pages public videos by (view count, id).
func (s *PostgresStore) ListTrendingVideos(ctx context.Context, cursor *TrendingCursor, limit int) (Page[VideoCard, TrendingCursor], error) {
	var a args
	where := []string{"v.visibility = " + a.add(VisibilityPublic)}
	if cursor != nil {
		n, id := a.add(cursor.ViewCount), a.add(cursor.ID)
		where = append(where, fmt.Sprintf("(vc.n < %s OR (vc.n = %s AND v.id < %s))", n, n, id))
	}
	query := `SELECT ` + cardColumns + cardFrom + whereClause(where) +
		` ORDER BY vc.n DESC, v.id DESC LIMIT ` + a.add(limit+1)
	rows, err := s.queryCards(ctx, query, a.values)
	if err != nil {
		return Page[VideoCard, TrendingCursor]{}, fmt.Errorf("list trending videos: %w", err)
	}
	return newPage(rows, limit, func(c VideoCard) TrendingCursor {
		return TrendingCursor{ID: c.ID, ViewCount: c.ViewCount}
	}), nil
}

// ListHistory pages the public videos userID watched, most recent view first.
func (s *PostgresStore) ListHistory(ctx context.Context, userID string, cursor *HistoryCursor, limit int) (Page[VideoCard, HistoryCursor], error) {
	var a args
	where := []string{"h.user_id = " + a.add(userID), "v.visibility = " + a.add(VisibilityPublic)}
	if cursor != nil {
		at, id := a.add(cursor.ViewedAt), a.add(cursor.ID)
		where = append(where, fmt.Sprintf("(h.updated_at < %s OR (h.updated_at = %s AND v.id < %s))", at, at, id))
	}
	query := `SELECT ` + cardColumns + `, h.updated_at` + cardFrom +
		` JOIN video_views h ON h.video_id = v.id` + whereClause(where) +
		` ORDER BY h.updated_at DESC, v.id DESC LIMIT ` + a.add(limit+1)

	rows, err := s.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return Page[VideoCard, HistoryCursor]{}, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]VideoCard, 0)
	for rows.Next() {
		var item VideoCard
		var viewedAt sql.NullTime
		if err := rows.Scan(cardDest(&item, &viewedAt)...); err != nil {
			return Page[VideoCard, HistoryCursor]{}, fmt.Errorf("scan history: %w", err)
		}
		item.ViewedAt = &viewedAt.Time
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Page[VideoCard, HistoryCursor]{}, fmt.Errorf("iterate history: %w", err)
	}
	return newPage(items, limit, func(c VideoCard) HistoryCursor {
		return HistoryCursor{ID: c.ID, ViewedAt: *c.ViewedAt}
	}), nil
}

// ListLiked pages the public videos userID liked, most recent like first.
func (s *PostgresStore) ListLiked(ctx context.Context, userID string, cursor *LikedCursor, limit int) (Page[VideoCard, LikedCursor], error) {
	var a args
	where := []string{"l.user_id = " + a.add(userID), "l.type = 'like'", "v.visibility = " + a.add(VisibilityPublic)}
	if cursor != nil {
		at, id := a.add(cursor.LikedAt), a.add(cursor.ID)
		where = append(where, fmt.Sprintf("(l.updated_at < %s OR (l.updated_at = %s AND v.id < %s))", at, at, id))
	}
	query := `SELECT ` + cardColumns + `, l.updated_at` + cardFrom +
		` JOIN video_reactions l ON l.video_id = v.id` + whereClause(where) +
		` ORDER BY l.updated_at DESC, v.id DESC LIMIT ` + a.add(limit+1)

	rows, err := s.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return Page[VideoCard, LikedCursor]{}, fmt.Errorf("list liked: %w", err)
	}
	defer rows.Close()

	items := make([]VideoCard, 0)
	for rows.Next() {
		var item VideoCard
		var likedAt sql.NullTime
		if err := rows.Scan(cardDest(&item, &likedAt)...); err != nil {
			return Page[VideoCard, LikedCursor]{}, fmt.Errorf("scan liked: %w", err)
		}
		item.LikedAt = &likedAt.Time
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Page[VideoCard, LikedCursor]{}, fmt.Errorf("iterate liked: %w", err)
	}
	return newPage(items, limit, func(c VideoCard) LikedCursor {
		return LikedCursor{ID: c.ID, LikedAt: *c.LikedAt}
	}), nil
}

// ListStudioVideos pages every video owned by userID, private ones included.
func (s *PostgresStore) ListStudioVideos(ctx context.Context, userID string, cursor *Cursor, limit int) (Page[StudioVideo, Cursor], error) {
	var a args
	where := []string{"v.user_id = " + a.add(userID)}
	if cursor != nil {
		at, id := a.add(cursor.UpdatedAt), a.add(cursor.ID)
		where = append(where, fmt.Sprintf("(v.updated_at < %s OR (v.updated_at = %s AND v.id < %s))", at, at, id))
	}
	query := `SELECT ` + videoColumns + `,
			(SELECT COUNT(*) FROM video_views vv WHERE vv.video_id = v.id),
			(SELECT COUNT(*) FROM comments c WHERE c.video_id = v.id),
			(SELECT COUNT(*) FROM video_reactions r WHERE r.video_id = v.id AND r.type = 'like')
		FROM videos v` + whereClause(where) +
		` ORDER BY v.updated_at DESC, v.id DESC LIMIT ` + a.add(limit+1)

	rows, err := s.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return Page[StudioVideo, Cursor]{}, fmt.Errorf("list studio videos: %w", err)
	}
	defer rows.Close()

	items := make([]StudioVideo, 0)
	for rows.Next() {
		var item StudioVideo
		dest := append(videoDest(&item.Video), &item.ViewCount, &item.CommentCount, &item.LikeCount)
		if err := rows.Scan(dest...); err != nil {
			return Page[StudioVideo, Cursor]{}, fmt.Errorf("scan studio video: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Page[StudioVideo, Cursor]{}, fmt.Errorf("iterate studio videos: %w", err)
	}
	return newPage(items, limit, func(v StudioVideo) Cursor {
		return Cursor{ID: v.ID, UpdatedAt: v.UpdatedAt}
	}), nil
}

// ListAllVideos streams every video for search reindexing.
func (s *PostgresStore) ListAllVideos(ctx context.Context) ([]Video, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos v ORDER BY v.created_at`)
	if err != nil {
		return nil, fmt.Errorf("list all videos: %w", err)
	}
	defer rows.Close()

	items := make([]Video, 0)
	for rows.Next() {
		var item Video
		if err := rows.Scan(videoDest(&item)...); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) queryCards(ctx context.Context, query string, params []any) ([]VideoCard, error) {
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]VideoCard, 0)
	for rows.Next() {
		var item VideoCard
		if err := rows.Scan(cardDest(&item)...); err != nil {
			return nil, fmt.Errorf("scan video card: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate video cards: %w", err)
	}
	return items, nil
}

func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
