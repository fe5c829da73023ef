package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"vidtube/internal/rbac"
	"vidtube/internal/store"
	"vidtube/internal/util"
)

type procedureFunc func(ctx context.Context, viewer Session, input json.RawMessage) (any, error)

// procedure is one "router.name" entry. Queries may also be called with GET.
type procedure struct {
	access  rbac.Access
	query   bool
	handler procedureFunc
}

func bind[In, Out any](fn func(context.Context, Session, In) (Out, error)) procedureFunc {
	return func(ctx context.Context, viewer Session, raw json.RawMessage) (any, error) {
		input, err := decodeInput[In](raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, viewer, input)
	}
}

func publicQuery[In, Out any](fn func(context.Context, Session, In) (Out, error)) procedure {
	return procedure{access: rbac.AccessPublic, query: true, handler: bind(fn)}
}

func protectedQuery[In, Out any](fn func(context.Context, Session, In) (Out, error)) procedure {
	return procedure{access: rbac.AccessProtected, query: true, handler: bind(fn)}
}

func protectedMutation[In, Out any](fn func(context.Context, Session, In) (Out, error)) procedure {
	return procedure{access: rbac.AccessProtected, handler: bind(fn)}
}

func (s *Service) procedures() map[string]procedure {
	return map[string]procedure{
		"categories.getMany": publicQuery(s.ListCategories),

		"studio.getOne":  protectedQuery(s.GetStudioVideo),
		"studio.getMany": protectedQuery(s.ListStudioVideos),

		"videos.getOne":              publicQuery(s.GetVideo),
		"videos.getMany":             publicQuery(s.ListVideos),
		"videos.getManyTrending":     publicQuery(s.ListTrendingVideos),
		"videos.getManySubscribed":   protectedQuery(s.ListSubscribedVideos),
		"videos.create":              protectedMutation(s.CreateVideo),
		"videos.update":              protectedMutation(s.UpdateVideo),
		"videos.remove":              protectedMutation(s.RemoveVideo),
		"videos.restoreThumbnail":    protectedMutation(s.RestoreThumbnail),
		"videos.uploadThumbnail":     protectedMutation(s.UploadThumbnail),
		"videos.revalidate":          protectedMutation(s.RevalidateVideo),
		"videos.generateTitle":       protectedMutation(s.GenerateTitle),
		"videos.generateDescription": protectedMutation(s.GenerateDescription),
		"videos.generateThumbnail":   protectedMutation(s.GenerateThumbnail),

		"videoViews.create":        protectedMutation(s.CreateVideoView),
		"videoReactions.like":      protectedMutation(s.LikeVideo),
		"videoReactions.dislike":   protectedMutation(s.DislikeVideo),
		"commentReactions.like":    protectedMutation(s.LikeComment),
		"commentReactions.dislike": protectedMutation(s.DislikeComment),

		"comments.create":  protectedMutation(s.CreateComment),
		"comments.remove":  protectedMutation(s.RemoveComment),
		"comments.getMany": publicQuery(s.ListComments),

		"subscriptions.create":  protectedMutation(s.Subscribe),
		"subscriptions.remove":  protectedMutation(s.Unsubscribe),
		"subscriptions.getMany": protectedQuery(s.ListSubscriptions),

		"search.getMany":      publicQuery(s.SearchVideos),
		"suggestions.getMany": publicQuery(s.ListSuggestions),
		"users.getOne":        publicQuery(s.GetUser),
		"users.updateBanner":  protectedMutation(s.UpdateBanner),

		"playlists.create":          protectedMutation(s.CreatePlaylist),
		"playlists.getMany":         protectedQuery(s.ListPlaylists),
		"playlists.getOne":          protectedQuery(s.GetPlaylist),
		"playlists.remove":          protectedMutation(s.RemovePlaylist),
		"playlists.getManyForVideo": protectedQuery(s.ListPlaylistsForVideo),
		"playlists.addVideo":        protectedMutation(s.AddPlaylistVideo),
		"playlists.removeVideo":     protectedMutation(s.RemovePlaylistVideo),
		"playlists.getVideos":       protectedQuery(s.ListPlaylistVideos),
		"playlists.getHistory":      protectedQuery(s.ListHistory),
		"playlists.getLiked":        protectedQuery(s.ListLiked),
	}
}

func (s *Service) lookupProcedure(name string) (procedure, bool) {
	p, ok := s.registry[name]
	return p, ok
}

func decodeInput[T any](raw json.RawMessage) (T, error) {
	var input T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return input, nil
	}
	if err := json.Unmarshal(trimmed, &input); err != nil {
		return input, badRequest("Invalid input: " + err.Error())
	}
	return input, nil
}

// nullable tells an absent field from an explicit null.
type nullable[T any] struct {
	Set   bool
	Value *T
}

func (n *nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(bytes.TrimSpace(data)) == "null" {
		n.Value = nil
		return nil
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	n.Value = &value
	return nil
}

func requireUUID(field, value string) error {
	if !util.IsUUID(value) {
		return badRequest(fmt.Sprintf("%s must be a uuid", field))
	}
	return nil
}

func optionalUUID(field string, value *string) error {
	if value == nil {
		return nil
	}
	return requireUUID(field, *value)
}

func requireLimit(limit int) error {
	if err := store.ValidateLimit(limit); err != nil {
		return badRequest(err.Error())
	}
	return nil
}

func requireCursor(cursor *store.Cursor) error {
	if cursor == nil {
		return nil
	}
	return requireUUID("cursor.id", cursor.ID)
}

func requireText(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", badRequest(field + " is required")
	}
	return trimmed, nil
}

type EmptyInput struct{}

type IDInput struct {
	ID string `json:"id"`
}

type PageInput struct {
	Cursor *store.Cursor `json:"cursor"`
	Limit  int           `json:"limit"`
}

func (p PageInput) validate() error {
	if err := requireCursor(p.Cursor); err != nil {
		return err
	}
	return requireLimit(p.Limit)
}
