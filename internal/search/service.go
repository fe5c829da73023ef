package search

import (
	"context"
	"log/slog"
	"strings"

	"vidtube/internal/store"
)

// maxCandidates caps how many index hits are handed to Postgres for paging.
const maxCandidates = 1000

// Service pages search results from Postgres with a title ILIKE. When the
// index is healthy its hits narrow the candidate rows first; an index miss
// still falls through to the plain ILIKE so both paths return the same rows.
type Service struct {
	index  Index
	videos VideoLister
	logger *slog.Logger
}

// NewService creates a search service. index may be nil if Meilisearch is not
// configured.
func NewService(index Index, videos VideoLister) *Service {
	return &Service{index: index, videos: videos, logger: slog.Default().With("component", "search")}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) (store.Page[store.VideoCard, store.Cursor], error) {
	text := strings.TrimSpace(q.Text)
	filter := store.VideoFilter{Visibility: store.VisibilityPublic, CategoryID: q.CategoryID}
	if text == "" {
		return s.videos.ListVideos(ctx, filter, q.Cursor, q.Limit)
	}

	filter.Query = text
	if s.indexReady() {
		ids, err := s.index.SearchIDs(text, q.CategoryID, maxCandidates)
		switch {
		case err != nil:
			s.logger.Warn("index search failed, falling back to postgres", "error", err)
		case len(ids) > 0 && len(ids) < maxCandidates:
			narrowed := filter
			narrowed.IDs = ids
			return s.videos.ListVideos(ctx, narrowed, q.Cursor, q.Limit)
		}
	}
	return s.videos.ListVideos(ctx, filter, q.Cursor, q.Limit)
}

// IndexVideo pushes a video to the index (fire-and-forget).
func (s *Service) IndexVideo(video store.Video) {
	if !s.indexReady() {
		return
	}
	record := RecordFromVideo(video)
	go func() {
		if err := s.index.IndexVideos([]VideoRecord{record}); err != nil {
			s.logger.Warn("index video failed", "video_id", record.ID, "error", err)
		}
	}()
}

// DeleteVideo removes a video from the index (fire-and-forget).
func (s *Service) DeleteVideo(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.DeleteVideo(id); err != nil {
			s.logger.Warn("delete indexed video failed", "video_id", id, "error", err)
		}
	}()
}

// Reindex pushes videos to the index in batches and reports how many were
// sent.
func (s *Service) Reindex(videos []store.Video) (int, error) {
	if !s.indexReady() {
		return 0, ErrIndexUnavailable
	}
	const batch = 500
	sent := 0
	for start := 0; start < len(videos); start += batch {
		end := min(start+batch, len(videos))
		records := make([]VideoRecord, 0, end-start)
		for _, v := range videos[start:end] {
			records = append(records, RecordFromVideo(v))
		}
		if err := s.index.IndexVideos(records); err != nil {
			return sent, err
		}
		sent += len(records)
	}
	return sent, nil
}
