package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"vidtube/internal/store"
	"vidtube/internal/util"
	"vidtube/internal/workflow"
)

const maxImageBytes = 4 << 20

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ImageUpload carries a base64 encoded image. ID names the video for
// thumbnails and is ignored for banners.
type ImageUpload struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

type image struct {
	data        []byte
	contentType string
	ext         string
}

// decodeImage checks size and sniffs the content type instead of trusting
// the client.
func decodeImage(encoded string) (image, error) {
	if encoded == "" {
		return image{}, badRequest("data is required")
	}
	if base64.StdEncoding.DecodedLen(len(encoded)) > maxImageBytes+2 {
		return image{}, badRequest(fmt.Sprintf("Image must be at most %d bytes", maxImageBytes))
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return image{}, badRequest("data must be base64")
	}
	if len(data) > maxImageBytes {
		return image{}, badRequest(fmt.Sprintf("Image must be at most %d bytes", maxImageBytes))
	}
	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return image{}, badRequest("Image must be jpeg, png or webp")
	}
	return image{data: data, contentType: contentType, ext: ext}, nil
}

func (s *Service) putImage(ctx context.Context, img image, keyPrefix string) (string, string, error) {
	if s.objects == nil {
		return "", "", codedError(CodeInternal, "Object storage is not configured")
	}
	object, err := s.objects.Put(ctx, keyPrefix+img.ext, bytes.NewReader(img.data), int64(len(img.data)), img.contentType)
	if err != nil {
		return "", "", err
	}
	return object.URL, object.Key, nil
}

// dropObject removes key unless it is empty or still current. Failures only
// leave an orphan behind, so they are logged.
func (s *Service) dropObject(ctx context.Context, key *string, current string) {
	if key == nil || *key == "" || *key == current {
		return
	}
	if err := s.objects.Remove(ctx, *key); err != nil {
		s.logger.Warn("remove stored object failed", "key", *key, "error", err)
	}
}

// UploadThumbnail stores a custom thumbnail for a video the viewer owns.
func (s *Service) UploadThumbnail(ctx context.Context, viewer Session, input ImageUpload) (store.Video, error) {
	if err := requireUUID("id", input.ID); err != nil {
		return store.Video{}, err
	}
	img, err := decodeImage(input.Data)
	if err != nil {
		return store.Video{}, err
	}
	video, err := s.store.GetOwnedVideo(ctx, input.ID, viewer.UserID)
	if err != nil {
		return store.Video{}, err
	}

	url, key, err := s.putImage(ctx, img, workflow.ThumbnailKeyPrefix(video.ID))
	if err != nil {
		return store.Video{}, err
	}
	updated, err := s.store.SetVideoThumbnail(ctx, video.ID, viewer.UserID, &url, &key)
	if err != nil {
		s.dropObject(ctx, &key, "")
		return store.Video{}, err
	}
	s.dropObject(ctx, video.ThumbnailKey, key)
	s.search.IndexVideo(updated)
	return updated, nil
}

// UpdateBanner replaces the viewer's channel banner.
func (s *Service) UpdateBanner(ctx context.Context, viewer Session, input ImageUpload) (store.User, error) {
	img, err := decodeImage(input.Data)
	if err != nil {
		return store.User{}, err
	}
	user, err := s.store.GetUserByID(ctx, viewer.UserID)
	if err != nil {
		return store.User{}, err
	}

	url, key, err := s.putImage(ctx, img, bannerKeyPrefix(user.ID))
	if err != nil {
		return store.User{}, err
	}
	updated, err := s.store.SetUserBanner(ctx, user.ID, &url, &key)
	if err != nil {
		s.dropObject(ctx, &key, "")
		return store.User{}, err
	}
	s.dropObject(ctx, user.BannerKey, key)
	return updated, nil
}

func bannerKeyPrefix(userID string) string {
	return "users/" + userID + "/banner-" + util.NewID()
}
