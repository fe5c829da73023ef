package store

import (
	"context"
	"database/sql"
	"fmt"
)

const playlistColumns = `p.id, p.name, p.description, p.user_id, p.created_at, p.updated_at`

func playlistDest(p *Playlist) []any {
	return []any{&p.ID, &p.Name, &p.Description, &p.UserID, &p.CreatedAt, &p.UpdatedAt}
}

func (s *PostgresStore) CreatePlaylist(ctx context.Context, playlist Playlist) (Playlist, error) {
	var created Playlist
	err := s.db.QueryRowContext(ctx, `
		WITH p AS (
			INSERT INTO playlists (name, description, user_id)
			VALUES ($1, $2, $3)
			RETURNING *
		)
		SELECT `+playlistColumns+` FROM p
	`, playlist.Name, playlist.Description, playlist.UserID).Scan(playlistDest(&created)...)
	if err != nil {
		return Playlist{}, fmt.Errorf("create playlist: %w", err)
	}
	return created, nil
}

// GetPlaylist returns sql.ErrNoRows unless userID owns the playlist.
func (s *PostgresStore) GetPlaylist(ctx context.Context, playlistID, userID string) (Playlist, error) {
	var playlist Playlist
	err := s.db.QueryRowContext(ctx, `SELECT `+playlistColumns+` FROM playlists p WHERE p.id = $1 AND p.user_id = $2`, playlistID, userID).Scan(playlistDest(&playlist)...)
	if err != nil {
		return Playlist{}, err
	}
	return playlist, nil
}

func (s *PostgresStore) DeletePlaylist(ctx context.Context, playlistID, userID string) (Playlist, error) {
	var deleted Playlist
	err := s.db.QueryRowContext(ctx, `
		WITH p AS (
			DELETE FROM playlists WHERE id = $1 AND user_id = $2
			RETURNING *
		)
		SELECT `+playlistColumns+` FROM p
	`, playlistID, userID).Scan(playlistDest(&deleted)...)
	if err != nil {
		if isNoRows(err) {
			return Playlist{}, err
		}
		return Playlist{}, fmt.Errorf("delete playlist: %w", err)
	}
	return deleted, nil
}

// ListPlaylists pages the playlists of userID. When containsVideoID is set
// each item reports whether that video is in it.
func (s *PostgresStore) ListPlaylists(ctx context.Context, userID string, containsVideoID *string, cursor *Cursor, limit int) (Page[PlaylistItem, Cursor], error) {
	var a args
	where := []string{"p.user_id = " + a.add(userID)}
	if cursor != nil {
		at, id := a.add(cursor.UpdatedAt), a.add(cursor.ID)
		where = append(where, fmt.Sprintf("(p.updated_at < %s OR (p.updated_at = %s AND p.id < %s))", at, at, id))
	}
	contains := "NULL::boolean"
	if containsVideoID != nil {
		contains = "EXISTS(SELECT 1 FROM playlist_videos cv WHERE cv.playlist_id = p.id AND cv.video_id = " + a.add(*containsVideoID) + ")"
	}
	query := `
		SELECT ` + playlistColumns + `, ` + userColumns + `,
			(SELECT COUNT(*) FROM playlist_videos pv WHERE pv.playlist_id = p.id),
			(SELECT v.thumbnail_url FROM playlist_videos pv JOIN videos v ON v.id = pv.video_id
				WHERE pv.playlist_id = p.id AND v.visibility = 'public' ORDER BY pv.updated_at DESC LIMIT 1),
			` + contains + `
		FROM playlists p
		JOIN users u ON u.id = p.user_id` + whereClause(where) +
		` ORDER BY p.updated_at DESC, p.id DESC LIMIT ` + a.add(limit+1)

	rows, err := s.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return Page[PlaylistItem, Cursor]{}, fmt.Errorf("list playlists: %w", err)
	}
	defer rows.Close()

	items := make([]PlaylistItem, 0)
	for rows.Next() {
		var item PlaylistItem
		var containsVideo sql.NullBool
		dest := append(playlistDest(&item.Playlist), userDest(&item.User)...)
		dest = append(dest, &item.VideoCount, &item.ThumbnailURL, &containsVideo)
		if err := rows.Scan(dest...); err != nil {
			return Page[PlaylistItem, Cursor]{}, fmt.Errorf("scan playlist: %w", err)
		}
		if containsVideo.Valid {
			item.ContainsVideo = &containsVideo.Bool
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Page[PlaylistItem, Cursor]{}, fmt.Errorf("iterate playlists: %w", err)
	}
	return newPage(items, limit, func(p PlaylistItem) Cursor {
		return Cursor{ID: p.ID, UpdatedAt: p.UpdatedAt}
	}), nil
}

// AddPlaylistVideo links a video and bumps the playlist so it sorts first.
// A duplicate surfaces as a unique violation.
func (s *PostgresStore) AddPlaylistVideo(ctx context.Context, playlistID, videoID string) (PlaylistVideo, error) {
	var item PlaylistVideo
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO playlist_videos (playlist_id, video_id)
			VALUES ($1, $2)
			RETURNING playlist_id, video_id, created_at, updated_at
		`, playlistID, videoID).Scan(&item.PlaylistID, &item.VideoID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE playlists SET updated_at = NOW() WHERE id = $1`, playlistID)
		return err
	})
	if err != nil {
		return PlaylistVideo{}, fmt.Errorf("add playlist video: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) RemovePlaylistVideo(ctx context.Context, playlistID, videoID string) (PlaylistVideo, error) {
	var item PlaylistVideo
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			DELETE FROM playlist_videos
			WHERE playlist_id = $1 AND video_id = $2
			RETURNING playlist_id, video_id, created_at, updated_at
		`, playlistID, videoID).Scan(&item.PlaylistID, &item.VideoID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `UPDATE playlists SET updated_at = NOW() WHERE id = $1`, playlistID)
		if err != nil {
			return err
		}
		return affectedOne(result, "touch playlist")
	})
	if err != nil {
		if isNoRows(err) {
			return PlaylistVideo{}, err
		}
		return PlaylistVideo{}, fmt.Errorf("remove playlist video: %w", err)
	}
	return item, nil
}
