package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vidtube/internal/media"
	"vidtube/internal/retry"
	"vidtube/internal/store"
	"vidtube/internal/webhook"
	"vidtube/internal/workflow"
)

// Identity provider event types.
const (
	UserCreated = "user.created"
	UserUpdated = "user.updated"
	UserDeleted = "user.deleted"
)

type userEvent struct {
	Type string `json:"type"`
	Data struct {
		ID        string `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		ImageURL  string `json:"image_url"`
	} `json:"data"`
}

func verifySignature(v *webhook.Verifier, header string, body []byte) error {
	err := v.Verify(header, body)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrNoSecret):
		return domainError(http.StatusInternalServerError, CodeInternal, "Webhook secret is not configured", nil)
	default:
		return domainError(http.StatusUnauthorized, CodeUnauthorized, "Invalid signature", nil)
	}
}

// HandleMuxWebhook applies a signed media platform event to the video that
// owns the upload or asset. Events for videos that no longer exist are
// acknowledged.
func (s *Service) HandleMuxWebhook(ctx context.Context, signature string, body []byte) error {
	if err := verifySignature(s.muxWebhooks, signature, body); err != nil {
		return err
	}
	event, err := media.ParseEvent(body)
	if err != nil {
		return badRequest(err.Error())
	}
	s.metrics.ObserveWebhook("mux", event.Type)

	var video store.Video
	switch event.Type {
	case media.EventAssetCreated:
		asset, err := event.Asset()
		if err != nil {
			return badRequest(err.Error())
		}
		if asset.UploadID == "" {
			return badRequest("Missing upload id")
		}
		video, err = s.store.UpdateVideoAssetByUpload(ctx, asset.UploadID, store.AssetUpdate{Status: asset.Status, AssetID: &asset.ID})
		if err != nil {
			return ignoreMissing(err)
		}

	case media.EventAssetReady:
		asset, err := event.Asset()
		if err != nil {
			return badRequest(err.Error())
		}
		video, err = s.assetReady(ctx, asset)
		if err != nil {
			return ignoreMissing(err)
		}

	case media.EventAssetErrored:
		asset, err := event.Asset()
		if err != nil {
			return badRequest(err.Error())
		}
		if asset.UploadID == "" {
			return badRequest("Missing upload id")
		}
		video, err = s.store.UpdateVideoAssetByUpload(ctx, asset.UploadID, store.AssetUpdate{Status: asset.Status})
		if err != nil {
			return ignoreMissing(err)
		}

	case media.EventAssetDeleted:
		asset, err := event.Asset()
		if err != nil {
			return badRequest(err.Error())
		}
		if asset.UploadID == "" {
			return badRequest("Missing upload id")
		}
		deleted, err := s.store.DeleteVideoByUpload(ctx, asset.UploadID)
		if err != nil {
			return ignoreMissing(err)
		}
		s.removeVideoObjects(ctx, deleted)
		s.search.DeleteVideo(deleted.ID)
		return nil

	case media.EventAssetTrackReady:
		track, err := event.Track()
		if err != nil {
			return badRequest(err.Error())
		}
		if track.AssetID == "" {
			return badRequest("Missing asset id")
		}
		video, err = s.store.UpdateVideoTrack(ctx, track.AssetID, track.ID, track.Status)
		if err != nil {
			return ignoreMissing(err)
		}

	default:
		s.logger.Debug("ignoring mux event", "type", event.Type)
		return nil
	}

	s.search.IndexVideo(video)
	return nil
}

// assetReady records playback details, then stores copies of the generated
// thumbnail and preview.
func (s *Service) assetReady(ctx context.Context, asset media.Asset) (store.Video, error) {
	if asset.UploadID == "" {
		return store.Video{}, badRequest("Missing upload id")
	}
	playbackID := asset.PlaybackID()
	if playbackID == "" {
		return store.Video{}, badRequest("Missing playback id")
	}
	duration := asset.DurationMillis()
	video, err := s.store.UpdateVideoAssetByUpload(ctx, asset.UploadID, store.AssetUpdate{
		Status:     asset.Status,
		AssetID:    &asset.ID,
		PlaybackID: &playbackID,
		Duration:   &duration,
	})
	if err != nil {
		return store.Video{}, err
	}
	if s.media == nil {
		return video, nil
	}

	thumbnailURL, thumbnailKey := s.storeImage(ctx, s.media.ThumbnailURL(playbackID), workflow.ThumbnailKeyPrefix(video.ID))
	previewURL, previewKey := s.storeImage(ctx, s.media.PreviewURL(playbackID), previewKeyPrefix(video.ID))
	return s.store.UpdateVideoAsset(ctx, video.ID, store.AssetUpdate{
		Status:       asset.Status,
		ThumbnailURL: &thumbnailURL,
		ThumbnailKey: thumbnailKey,
		PreviewURL:   &previewURL,
		PreviewKey:   previewKey,
	})
}

func ignoreMissing(err error) error {
	if isNotFound(err) {
		return nil
	}
	return err
}

// HandleUserWebhook mirrors identity provider users into the users table.
func (s *Service) HandleUserWebhook(ctx context.Context, signature string, body []byte) error {
	if err := verifySignature(s.userWebhooks, signature, body); err != nil {
		return err
	}
	var event userEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return badRequest("Invalid event body")
	}
	s.metrics.ObserveWebhook("users", event.Type)
	if event.Data.ID == "" {
		return badRequest("Missing user id")
	}

	switch event.Type {
	case UserCreated, UserUpdated:
		name := strings.TrimSpace(event.Data.FirstName + " " + event.Data.LastName)
		if name == "" {
			name = "Anonymous"
		}
		_, err := s.store.UpsertUserByExternalID(ctx, store.User{
			ExternalID: event.Data.ID,
			Name:       name,
			ImageURL:   event.Data.ImageURL,
		})
		return err
	case UserDeleted:
		_, err := s.store.DeleteUserByExternalID(ctx, event.Data.ID)
		return err
	default:
		s.logger.Debug("ignoring user event", "type", event.Type)
		return nil
	}
}

// RunWorkflow executes one run for the signed external invoker. Fatal
// failures come back as BAD_REQUEST so the invoker stops retrying.
func (s *Service) RunWorkflow(ctx context.Context, name, signature string, body []byte) (WorkflowRun, error) {
	if !workflow.Known(name) {
		return WorkflowRun{}, notFound("Unknown workflow")
	}
	if err := verifySignature(s.workflowRequests, signature, body); err != nil {
		return WorkflowRun{}, err
	}
	if s.runner == nil {
		return WorkflowRun{}, codedError(CodeInternal, "Workflows are not configured")
	}

	var payload workflow.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return WorkflowRun{}, badRequest("Invalid workflow payload")
	}
	if payload.Workflow == "" {
		payload.Workflow = name
	}
	if payload.Workflow != name {
		return WorkflowRun{}, badRequest(fmt.Sprintf("payload is for workflow %q", payload.Workflow))
	}
	if err := payload.Validate(); err != nil {
		return WorkflowRun{}, badRequest(err.Error())
	}

	if err := s.runner.Execute(ctx, payload); err != nil {
		if retry.IsFatal(err) {
			return WorkflowRun{}, badRequest(err.Error())
		}
		return WorkflowRun{}, err
	}
	return WorkflowRun{WorkflowRunID: payload.RunID}, nil
}
