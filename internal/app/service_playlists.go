package app

import (
	"context"
	"strings"

	"vidtube/internal/store"
)

type CreatePlaylistInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type PlaylistsForVideoInput struct {
	VideoID string        `json:"videoId"`
	Cursor  *store.Cursor `json:"cursor"`
	Limit   int           `json:"limit"`
}

type PlaylistVideoInput struct {
	PlaylistID string `json:"playlistId"`
	VideoID    string `json:"videoId"`
}

type PlaylistVideosInput struct {
	PlaylistID string        `json:"playlistId"`
	Cursor     *store.Cursor `json:"cursor"`
	Limit      int           `json:"limit"`
}

type HistoryInput struct {
	Cursor *store.HistoryCursor `json:"cursor"`
	Limit  int                  `json:"limit"`
}

type LikedInput struct {
	Cursor *store.LikedCursor `json:"cursor"`
	Limit  int                `json:"limit"`
}

func (s *Service) CreatePlaylist(ctx context.Context, viewer Session, input CreatePlaylistInput) (store.Playlist, error) {
	name, err := requireText("name", input.Name)
	if err != nil {
		return store.Playlist{}, err
	}
	var description *string
	if input.Description != nil {
		trimmed := strings.TrimSpace(*input.Description)
		description = &trimmed
	}
	return s.store.CreatePlaylist(ctx, store.Playlist{Name: name, Description: description, UserID: viewer.UserID})
}

func (s *Service) ListPlaylists(ctx context.Context, viewer Session, input PageInput) (store.Page[store.PlaylistItem, store.Cursor], error) {
	if err := input.validate(); err != nil {
		return store.Page[store.PlaylistItem, store.Cursor]{}, err
	}
	return s.store.ListPlaylists(ctx, viewer.UserID, nil, input.Cursor, input.Limit)
}

func (s *Service) GetPlaylist(ctx context.Context, viewer Session, input IDInput) (store.Playlist, error) {
	if err := requireUUID("id", input.ID); err != nil {
		return store.Playlist{}, err
	}
	return s.store.GetPlaylist(ctx, input.ID, viewer.UserID)
}

func (s *Service) RemovePlaylist(ctx context.Context, viewer Session, input IDInput) (store.Playlist, error) {
	if err := requireUUID("id", input.ID); err != nil {
		return store.Playlist{}, err
	}
	return s.store.DeletePlaylist(ctx, input.ID, viewer.UserID)
}

// ListPlaylistsForVideo is the "save to playlist" picker: each playlist says
// whether it already holds the video.
func (s *Service) ListPlaylistsForVideo(ctx context.Context, viewer Session, input PlaylistsForVideoInput) (store.Page[store.PlaylistItem, store.Cursor], error) {
	if err := requireUUID("videoId", input.VideoID); err != nil {
		return store.Page[store.PlaylistItem, store.Cursor]{}, err
	}
	page := PageInput{Cursor: input.Cursor, Limit: input.Limit}
	if err := page.validate(); err != nil {
		return store.Page[store.PlaylistItem, store.Cursor]{}, err
	}
	return s.store.ListPlaylists(ctx, viewer.UserID, &input.VideoID, input.Cursor, input.Limit)
}

func (s *Service) AddPlaylistVideo(ctx context.Context, viewer Session, input PlaylistVideoInput) (store.PlaylistVideo, error) {
	if err := s.ownPlaylistVideo(ctx, viewer, input, true); err != nil {
		return store.PlaylistVideo{}, err
	}
	item, err := s.store.AddPlaylistVideo(ctx, input.PlaylistID, input.VideoID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return store.PlaylistVideo{}, conflict("Video is already in the playlist")
		}
		return store.PlaylistVideo{}, err
	}
	return item, nil
}

func (s *Service) RemovePlaylistVideo(ctx context.Context, viewer Session, input PlaylistVideoInput) (store.PlaylistVideo, error) {
	if err := s.ownPlaylistVideo(ctx, viewer, input, false); err != nil {
		return store.PlaylistVideo{}, err
	}
	return s.store.RemovePlaylistVideo(ctx, input.PlaylistID, input.VideoID)
}

// ownPlaylistVideo checks that the viewer owns the playlist and the video
// exists. With mustSee the video must also be public or the viewer's own.
// Removal skips that so a video made private can still be taken out.
func (s *Service) ownPlaylistVideo(ctx context.Context, viewer Session, input PlaylistVideoInput, mustSee bool) error {
	if err := requireUUID("playlistId", input.PlaylistID); err != nil {
		return err
	}
	if err := requireUUID("videoId", input.VideoID); err != nil {
		return err
	}
	if _, err := s.store.GetPlaylist(ctx, input.PlaylistID, viewer.UserID); err != nil {
		return err
	}
	video, err := s.store.GetVideo(ctx, input.VideoID)
	if err != nil {
		return err
	}
	if mustSee && video.Visibility != store.VisibilityPublic && video.UserID != viewer.UserID {
		return notFound("Video not found")
	}
	return nil
}

func (s *Service) ListPlaylistVideos(ctx context.Context, viewer Session, input PlaylistVideosInput) (store.Page[store.VideoCard, store.Cursor], error) {
	if err := requireUUID("playlistId", input.PlaylistID); err != nil {
		return store.Page[store.VideoCard, store.Cursor]{}, err
	}
	page := PageInput{Cursor: input.Cursor, Limit: input.Limit}
	if err := page.validate(); err != nil {
		return store.Page[store.VideoCard, store.Cursor]{}, err
	}
	if _, err := s.store.GetPlaylist(ctx, input.PlaylistID, viewer.UserID); err != nil {
		return store.Page[store.VideoCard, store.Cursor]{}, err
	}
	filter := store.VideoFilter{Visibility: store.VisibilityPublic, PlaylistID: input.PlaylistID}
	return s.store.ListVideos(ctx, filter, input.Cursor, input.Limit)
}

func (s *Service) ListHistory(ctx context.Context, viewer Session, input HistoryInput) (store.Page[store.VideoCard, store.HistoryCursor], error) {
	if input.Cursor != nil {
		if err := requireUUID("cursor.id", input.Cursor.ID); err != nil {
			return store.Page[store.VideoCard, store.HistoryCursor]{}, err
		}
	}
	if err := requireLimit(input.Limit); err != nil {
		return store.Page[store.VideoCard, store.HistoryCursor]{}, err
	}
	return s.store.ListHistory(ctx, viewer.UserID, input.Cursor, input.Limit)
}

func (s *Service) ListLiked(ctx context.Context, viewer Session, input LikedInput) (store.Page[store.VideoCard, store.LikedCursor], error) {
	if input.Cursor != nil {
		if err := requireUUID("cursor.id", input.Cursor.ID); err != nil {
			return store.Page[store.VideoCard, store.LikedCursor]{}, err
		}
	}
	if err := requireLimit(input.Limit); err != nil {
		return store.Page[store.VideoCard, store.LikedCursor]{}, err
	}
	return s.store.ListLiked(ctx, viewer.UserID, input.Cursor, input.Limit)
}
