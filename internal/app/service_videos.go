package app

import (
	"context"
	"errors"
	"strings"

	"vidtube/internal/media"
	"vidtube/internal/store"
	"vidtube/internal/util"
	"vidtube/internal/workflow"
)

const defaultVideoTitle = "Untitled"

type VideoListInput struct {
	Cursor *store.Cursor `json:"cursor"`
	Limit  int           `json:"limit"`
	UserID *string       `json:"userId"`
}

type TrendingInput struct {
	Cursor *store.TrendingCursor `json:"cursor"`
	Limit  int                   `json:"limit"`
}

type UpdateVideoInput struct {
	ID          string           `json:"id"`
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	CategoryID  nullable[string] `json:"categoryId"`
	Visibility  *string          `json:"visibility"`
}

type GenerateThumbnailInput struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

type CreateVideoResult struct {
	Video store.Video `json:"video"`
	URL   string      `json:"url"`
}

type WorkflowRun struct {
	WorkflowRunID string `json:"workflowRunId"`
}

func (s *Service) ListCategories(ctx context.Context, _ Session, _ EmptyInput) ([]store.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) GetStudioVideo(ctx context.Context, viewer Session, input IDInput) (store.Video, error) {
	if err := requireUUID("id", input.ID); err != nil {
		return store.Video{}, err
	}
	return s.store.GetOwnedVideo(ctx, input.ID, viewer.UserID)
}

func (s *Service) ListStudioVideos(ctx context.Context, viewer Session, input PageInput) (store.Page[store.StudioVideo, store.Cursor], error) {
	if err := input.validate(); err != nil {
		return store.Page[store.StudioVideo, store.Cursor]{}, err
	}
	return s.store.ListStudioVideos(ctx, viewer.UserID, input.Cursor, input.Limit)
}

// GetVideo loads the watch page. Private videos are only visible to their
// owner.
func (s *Service) GetVideo(ctx context.Context, viewer Session, input IDInput) (store.VideoDetail, error) {
	if err := requireUUID("id", input.ID); err != nil {
		return store.VideoDetail{}, err
	}
	video, err := s.store.GetVideoDetail(ctx, input.ID, viewer.UserID)
	if err != nil {
		return store.VideoDetail{}, err
	}
	if video.Visibility != store.VisibilityPublic && video.UserID != viewer.UserID {
		return store.VideoDetail{}, notFound("Video not found")
	}
	return video, nil
}

func (s *Service) ListVideos(ctx context.Context, _ Session, input VideoListInput) (store.Page[store.VideoCard, store.Cursor], error) {
	page := PageInput{Cursor: input.Cursor, Limit: input.Limit}
	if err := page.validate(); err != nil {
		return store.Page[store.VideoCard, store.Cursor]{}, err
	}
	if err := optionalUUID("userId", input.UserID); err != nil {
		return store.Page[store.VideoCard, store.Cursor]{}, err
	}
	filter := store.VideoFilter{Visibility: store.VisibilityPublic}
	if input.UserID != nil {
		filter.UserID = *input.UserID
	}
	return s.store.ListVideos(ctx, filter, input.Cursor, input.Limit)
}

func (s *Service) ListTrendingVideos(ctx context.Context, _ Session, input TrendingInput) (store.Page[store.VideoCard, store.TrendingCursor], error) {
	if input.Cursor != nil {
		if err := requireUUID("cursor.id", input.Cursor.ID); err != nil {
			return store.Page[store.VideoCard, store.TrendingCursor]{}, err
		}
	}
	if err := requireLimit(input.Limit); err != nil {
		return store.Page[store.VideoCard, store.TrendingCursor]{}, err
	}
	return s.store.ListTrendingVideos(ctx, input.Cursor, input.Limit)
}

func (s *Service) ListSubscribedVideos(ctx context.Context, viewer Session, input PageInput) (store.Page[store.VideoCard, store.Cursor], error) {
	if err := input.validate(); err != nil {
		return store.Page[store.VideoCard, store.Cursor]{}, err
	}
	filter := store.VideoFilter{Visibility: store.VisibilityPublic, SubscriberID: viewer.UserID}
	return s.store.ListVideos(ctx, filter, input.Cursor, input.Limit)
}

// CreateVideo opens a direct upload and records an untitled private video
// waiting for its asset.
func (s *Service) CreateVideo(ctx context.Context, viewer Session, _ EmptyInput) (CreateVideoResult, error) {
	if s.media == nil || !s.media.Configured() {
		return CreateVideoResult{}, codedError(CodeInternal, "Video uploads are not configured")
	}
	upload, err := s.media.CreateUpload(ctx, viewer.UserID)
	if err != nil {
		return CreateVideoResult{}, err
	}
	video, err := s.store.CreateVideo(ctx, store.Video{
		Title:       defaultVideoTitle,
		MuxStatus:   media.StatusWaiting,
		MuxUploadID: &upload.ID,
		Visibility:  store.VisibilityPrivate,
		UserID:      viewer.UserID,
	})
	if err != nil {
		return CreateVideoResult{}, err
	}
	s.search.IndexVideo(video)
	return CreateVideoResult{Video: video, URL: upload.URL}, nil
}

func (s *Service) UpdateVideo(ctx context.Context, viewer Session, input UpdateVideoInput) (store.Video, error) {
	if err := requireUUID("id", input.ID); err != nil {
		return store.Video{}, err
	}
	var update store.VideoUpdate
	if input.Title != nil {
		title, err := requireText("title", *input.Title)
		if err != nil {
			return store.Video{}, err
		}
		update.Title = &title
	}
	update.Description = input.Description
	if input.CategoryID.Set {
		if input.CategoryID.Value == nil {
			update.ClearCategory = true
		} else {
			if err := requireUUID("categoryId", *input.CategoryID.Value); err != nil {
				return store.Video{}, err
			}
			exists, err := s.store.CategoryExists(ctx, *input.CategoryID.Value)
			if err != nil {
				return store.Video{}, err
			}
			if !exists {
				return store.Video{}, notFound("Category not found")
			}
			update.CategoryID = input.CategoryID.Value
		}
	}
	if input.Visibility != nil {
		switch *input.Visibility {
		case store.VisibilityPublic, store.VisibilityPrivate:
			update.Visibility = input.Visibility
		default:
			return store.Video{}, badRequest("visibility must be public or private")
		}
	}

	video, err := s.store.UpdateVideo(ctx, input.ID, viewer.UserID, update)
	if err != nil {
		return store.Video{}, err
	}
	s.search.IndexVideo(video)
	return video, nil
}

// RemoveVideo deletes the row, then best-effort cleans up stored images and
// the media platform asset.
func (s *Service) RemoveVideo(ctx context.Context, viewer Session, input IDInput) (store.Video, error) {
	if err := requireUUID("id", input.ID); err != nil {
		return store.Video{}, err
	}
	video, err := s.store.DeleteVideo(ctx, input.ID, viewer.UserID)
	if err != nil {
		return store.Video{}, err
	}
	s.removeVideoObjects(ctx, video)
	if video.MuxAssetID != nil && s.media != nil && s.media.Configured() {
		if err := s.media.DeleteAsset(ctx, *video.MuxAssetID); err != nil {
			s.logger.Warn("delete media asset failed", "video_id", video.ID, "error", err)
		}
	}
	s.search.DeleteVideo(video.ID)
	return video, nil
}

func (s *Service) removeVideoObjects(ctx context.Context, video store.Video) {
	if s.objects == nil {
		return
	}
	for _, key := range []*string{video.ThumbnailKey, video.PreviewKey} {
		if key == nil || *key == "" {
			continue
		}
		if err := s.objects.Remove(ctx, *key); err != nil {
			s.logger.Warn("remove stored object failed", "video_id", video.ID, "key", *key, "error", err)
		}
	}
}

// RestoreThumbnail drops a custom thumbnail and goes back to the frame the
// media platform generated.
func (s *Service) RestoreThumbnail(ctx context.Context, viewer Session, input IDInput) (store.Video, error) {
	if err := requireUUID("id", input.ID); err != nil {
		return store.Video{}, err
	}
	video, err := s.store.GetOwnedVideo(ctx, input.ID, viewer.UserID)
	if err != nil {
		return store.Video{}, err
	}
	if video.MuxPlaybackID == nil || *video.MuxPlaybackID == "" || s.media == nil {
		return store.Video{}, badRequest("Video has no playback id")
	}

	if video.ThumbnailKey != nil && s.objects != nil {
		if err := s.objects.Remove(ctx, *video.ThumbnailKey); err != nil {
			return store.Video{}, err
		}
		if _, err := s.store.SetVideoThumbnail(ctx, video.ID, viewer.UserID, nil, nil); err != nil {
			return store.Video{}, err
		}
	}

	url, key := s.storeImage(ctx, s.media.ThumbnailURL(*video.MuxPlaybackID), workflow.ThumbnailKeyPrefix(video.ID))
	updated, err := s.store.SetVideoThumbnail(ctx, video.ID, viewer.UserID, &url, key)
	if err != nil {
		return store.Video{}, err
	}
	s.search.IndexVideo(updated)
	return updated, nil
}

// storeImage copies src into object storage. When storage is missing or the
// copy fails the source url is kept and no key is returned.
func (s *Service) storeImage(ctx context.Context, src, keyPrefix string) (string, *string) {
	if s.objects == nil {
		return src, nil
	}
	object, err := s.objects.CopyFromURL(ctx, src, keyPrefix)
	if err != nil {
		s.logger.Warn("store image failed, keeping source url", "src", src, "error", err)
		return src, nil
	}
	return object.URL, &object.Key
}

func previewKeyPrefix(videoID string) string {
	return "videos/" + videoID + "/preview-" + util.NewID()
}

// RevalidateVideo re-reads the asset behind a video's upload and records its
// current status, playback id and duration.
func (s *Service) RevalidateVideo(ctx context.Context, viewer Session, input IDInput) (store.Video, error) {
	if err := requireUUID("id", input.ID); err != nil {
		return store.Video{}, err
	}
	video, err := s.store.GetOwnedVideo(ctx, input.ID, viewer.UserID)
	if err != nil {
		return store.Video{}, err
	}
	if video.MuxUploadID == nil || *video.MuxUploadID == "" {
		return store.Video{}, badRequest("Video has no upload")
	}
	if s.media == nil || !s.media.Configured() {
		return store.Video{}, codedError(CodeInternal, "Video uploads are not configured")
	}
	upload, err := s.media.GetUpload(ctx, *video.MuxUploadID)
	if err != nil {
		return store.Video{}, err
	}
	if upload.AssetID == "" {
		return store.Video{}, badRequest("Upload has no asset yet")
	}
	asset, err := s.media.GetAsset(ctx, upload.AssetID)
	if err != nil {
		return store.Video{}, err
	}

	duration := asset.DurationMillis()
	update := store.AssetUpdate{Status: asset.Status, AssetID: &asset.ID, Duration: &duration}
	if playbackID := asset.PlaybackID(); playbackID != "" {
		update.PlaybackID = &playbackID
	}
	updated, err := s.store.UpdateVideoAsset(ctx, video.ID, update)
	if err != nil {
		return store.Video{}, err
	}
	s.search.IndexVideo(updated)
	return updated, nil
}

func (s *Service) GenerateTitle(ctx context.Context, viewer Session, input IDInput) (WorkflowRun, error) {
	return s.startWorkflow(ctx, viewer, workflow.Payload{Workflow: workflow.Title, VideoID: input.ID})
}

func (s *Service) GenerateDescription(ctx context.Context, viewer Session, input IDInput) (WorkflowRun, error) {
	return s.startWorkflow(ctx, viewer, workflow.Payload{Workflow: workflow.Description, VideoID: input.ID})
}

func (s *Service) GenerateThumbnail(ctx context.Context, viewer Session, input GenerateThumbnailInput) (WorkflowRun, error) {
	if len(strings.TrimSpace(input.Prompt)) < workflow.MinPromptLength {
		return WorkflowRun{}, badRequest("prompt must be at least 10 characters")
	}
	return s.startWorkflow(ctx, viewer, workflow.Payload{Workflow: workflow.Thumbnail, VideoID: input.ID, Prompt: input.Prompt})
}

func (s *Service) startWorkflow(ctx context.Context, viewer Session, payload workflow.Payload) (WorkflowRun, error) {
	if err := requireUUID("id", payload.VideoID); err != nil {
		return WorkflowRun{}, err
	}
	if _, err := s.store.GetOwnedVideo(ctx, payload.VideoID, viewer.UserID); err != nil {
		return WorkflowRun{}, err
	}
	if s.workflows == nil {
		return WorkflowRun{}, codedError(CodeInternal, "Workflows are not configured")
	}
	payload.UserID = viewer.UserID
	runID, err := s.workflows.Enqueue(ctx, payload)
	if err != nil {
		if errors.Is(err, workflow.ErrQueueFull) {
			return WorkflowRun{}, codedError(CodeTooManyRequests, "Too many workflows in progress")
		}
		return WorkflowRun{}, err
	}
	return WorkflowRun{WorkflowRunID: runID}, nil
}
