package search

import (
	"context"

	"vidtube/internal/store"
)

// Query describes a search request.
type Query struct {
	Text       string
	CategoryID string
	Cursor     *store.Cursor
	Limit      int
}

// VideoRecord is the data we index for a video.
type VideoRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CategoryID  string `json:"categoryId"`
	Visibility  string `json:"visibility"`
	UserID      string `json:"userId"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func RecordFromVideo(v store.Video) VideoRecord {
	r := VideoRecord{
		ID:         v.ID,
		Title:      v.Title,
		Visibility: v.Visibility,
		UserID:     v.UserID,
		UpdatedAt:  v.UpdatedAt.UnixMilli(),
	}
	if v.Description != nil {
		r.Description = *v.Description
	}
	if v.CategoryID != nil {
		r.CategoryID = *v.CategoryID
	}
	return r
}

// Index is a full-text video index.
type Index interface {
	Healthy() bool
	// SearchIDs returns ids of public videos matching text, best match first.
	SearchIDs(text, categoryID string, max int) ([]string, error)
	IndexVideos(records []VideoRecord) error
	DeleteVideo(id string) error
}

// VideoLister is the store query every search ends in.
type VideoLister interface {
	ListVideos(ctx context.Context, filter store.VideoFilter, cursor *store.Cursor, limit int) (store.Page[store.VideoCard, store.Cursor], error)
}
