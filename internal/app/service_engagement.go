package app

import (
	"context"
	"strings"

	"vidtube/internal/search"
	"vidtube/internal/store"
)

type VideoIDInput struct {
	VideoID string `json:"videoId"`
}

type CommentIDInput struct {
	CommentID string `json:"commentId"`
}

type UserIDInput struct {
	UserID string `json:"userId"`
}

type CreateCommentInput struct {
	VideoID  string  `json:"videoId"`
	Value    string  `json:"value"`
	ParentID *string `json:"parentId"`
}

type CommentsInput struct {
	VideoID  string        `json:"videoId"`
	ParentID *string       `json:"parentId"`
	Cursor   *store.Cursor `json:"cursor"`
	Limit    int           `json:"limit"`
}

type CommentsPage struct {
	store.Page[store.CommentItem, store.Cursor]
	TotalCount int `json:"totalCount"`
}

type SubscriptionsInput struct {
	Cursor *store.SubscriptionCursor `json:"cursor"`
	Limit  int                       `json:"limit"`
}

type SearchInput struct {
	Query      string        `json:"query"`
	CategoryID *string       `json:"categoryId"`
	Cursor     *store.Cursor `json:"cursor"`
	Limit      int           `json:"limit"`
}

type SuggestionsInput struct {
	VideoID string        `json:"videoId"`
	Cursor  *store.Cursor `json:"cursor"`
	Limit   int           `json:"limit"`
}

// CreateVideoView is idempotent: a repeat view returns the first one.
func (s *Service) CreateVideoView(ctx context.Context, viewer Session, input VideoIDInput) (store.VideoView, error) {
	if err := requireUUID("videoId", input.VideoID); err != nil {
		return store.VideoView{}, err
	}
	return s.store.CreateVideoView(ctx, viewer.UserID, input.VideoID)
}

func (s *Service) LikeVideo(ctx context.Context, viewer Session, input VideoIDInput) (store.VideoReaction, error) {
	return s.toggleVideoReaction(ctx, viewer, input, store.ReactionLike)
}

func (s *Service) DislikeVideo(ctx context.Context, viewer Session, input VideoIDInput) (store.VideoReaction, error) {
	return s.toggleVideoReaction(ctx, viewer, input, store.ReactionDislike)
}

func (s *Service) toggleVideoReaction(ctx context.Context, viewer Session, input VideoIDInput, reaction string) (store.VideoReaction, error) {
	if err := requireUUID("videoId", input.VideoID); err != nil {
		return store.VideoReaction{}, err
	}
	row, _, err := s.store.ToggleVideoReaction(ctx, viewer.UserID, input.VideoID, reaction)
	return row, err
}

func (s *Service) LikeComment(ctx context.Context, viewer Session, input CommentIDInput) (store.CommentReaction, error) {
	return s.toggleCommentReaction(ctx, viewer, input, store.ReactionLike)
}

func (s *Service) DislikeComment(ctx context.Context, viewer Session, input CommentIDInput) (store.CommentReaction, error) {
	return s.toggleCommentReaction(ctx, viewer, input, store.ReactionDislike)
}

func (s *Service) toggleCommentReaction(ctx context.Context, viewer Session, input CommentIDInput, reaction string) (store.CommentReaction, error) {
	if err := requireUUID("commentId", input.CommentID); err != nil {
		return store.CommentReaction{}, err
	}
	row, _, err := s.store.ToggleCommentReaction(ctx, viewer.UserID, input.CommentID, reaction)
	return row, err
}

// CreateComment posts a comment or a reply. Replies only go one level deep.
func (s *Service) CreateComment(ctx context.Context, viewer Session, input CreateCommentInput) (store.Comment, error) {
	if err := requireUUID("videoId", input.VideoID); err != nil {
		return store.Comment{}, err
	}
	if err := optionalUUID("parentId", input.ParentID); err != nil {
		return store.Comment{}, err
	}
	value, err := requireText("value", input.Value)
	if err != nil {
		return store.Comment{}, err
	}

	if input.ParentID != nil {
		parent, err := s.store.GetComment(ctx, *input.ParentID)
		if err != nil {
			return store.Comment{}, err
		}
		if parent.ParentID != nil {
			return store.Comment{}, badRequest("Replies cannot be nested")
		}
		if parent.VideoID != input.VideoID {
			return store.Comment{}, badRequest("Parent comment belongs to another video")
		}
	}

	return s.store.CreateComment(ctx, store.Comment{
		ParentID: input.ParentID,
		UserID:   viewer.UserID,
		VideoID:  input.VideoID,
		Value:    value,
	})
}

func (s *Service) RemoveComment(ctx context.Context, viewer Session, input IDInput) (store.Comment, error) {
	if err := requireUUID("id", input.ID); err != nil {
		return store.Comment{}, err
	}
	return s.store.DeleteComment(ctx, input.ID, viewer.UserID)
}

func (s *Service) ListComments(ctx context.Context, viewer Session, input CommentsInput) (CommentsPage, error) {
	if err := requireUUID("videoId", input.VideoID); err != nil {
		return CommentsPage{}, err
	}
	if err := optionalUUID("parentId", input.ParentID); err != nil {
		return CommentsPage{}, err
	}
	page := PageInput{Cursor: input.Cursor, Limit: input.Limit}
	if err := page.validate(); err != nil {
		return CommentsPage{}, err
	}

	total, err := s.store.CountComments(ctx, input.VideoID)
	if err != nil {
		return CommentsPage{}, err
	}
	items, err := s.store.ListComments(ctx, input.VideoID, input.ParentID, viewer.UserID, input.Cursor, input.Limit)
	if err != nil {
		return CommentsPage{}, err
	}
	return CommentsPage{Page: items, TotalCount: total}, nil
}

func (s *Service) Subscribe(ctx context.Context, viewer Session, input UserIDInput) (store.Subscription, error) {
	if err := requireUUID("userId", input.UserID); err != nil {
		return store.Subscription{}, err
	}
	if input.UserID == viewer.UserID {
		return store.Subscription{}, badRequest("You cannot subscribe to yourself")
	}
	sub, err := s.store.CreateSubscription(ctx, viewer.UserID, input.UserID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return store.Subscription{}, conflict("Already subscribed")
		}
		return store.Subscription{}, err
	}
	return sub, nil
}

func (s *Service) Unsubscribe(ctx context.Context, viewer Session, input UserIDInput) (store.Subscription, error) {
	if err := requireUUID("userId", input.UserID); err != nil {
		return store.Subscription{}, err
	}
	if input.UserID == viewer.UserID {
		return store.Subscription{}, badRequest("You cannot unsubscribe from yourself")
	}
	return s.store.DeleteSubscription(ctx, viewer.UserID, input.UserID)
}

func (s *Service) ListSubscriptions(ctx context.Context, viewer Session, input SubscriptionsInput) (store.Page[store.SubscriptionItem, store.SubscriptionCursor], error) {
	if input.Cursor != nil {
		if err := requireUUID("cursor.creatorId", input.Cursor.CreatorID); err != nil {
			return store.Page[store.SubscriptionItem, store.SubscriptionCursor]{}, err
		}
	}
	if err := requireLimit(input.Limit); err != nil {
		return store.Page[store.SubscriptionItem, store.SubscriptionCursor]{}, err
	}
	return s.store.ListSubscriptions(ctx, viewer.UserID, input.Cursor, input.Limit)
}

func (s *Service) SearchVideos(ctx context.Context, _ Session, input SearchInput) (store.Page[store.VideoCard, store.Cursor], error) {
	page := PageInput{Cursor: input.Cursor, Limit: input.Limit}
	if err := page.validate(); err != nil {
		return store.Page[store.VideoCard, store.Cursor]{}, err
	}
	if err := optionalUUID("categoryId", input.CategoryID); err != nil {
		return store.Page[store.VideoCard, store.Cursor]{}, err
	}
	q := search.Query{Text: strings.TrimSpace(input.Query), Cursor: input.Cursor, Limit: input.Limit}
	if input.CategoryID != nil {
		q.CategoryID = *input.CategoryID
	}
	return s.search.Search(ctx, q)
}

// ListSuggestions pages public videos related to videoID: the same category,
// or any category when the video has none.
func (s *Service) ListSuggestions(ctx context.Context, _ Session, input SuggestionsInput) (store.Page[store.VideoCard, store.Cursor], error) {
	if err := requireUUID("videoId", input.VideoID); err != nil {
		return store.Page[store.VideoCard, store.Cursor]{}, err
	}
	page := PageInput{Cursor: input.Cursor, Limit: input.Limit}
	if err := page.validate(); err != nil {
		return store.Page[store.VideoCard, store.Cursor]{}, err
	}
	video, err := s.store.GetVideo(ctx, input.VideoID)
	if err != nil {
		return store.Page[store.VideoCard, store.Cursor]{}, err
	}
	filter := store.VideoFilter{Visibility: store.VisibilityPublic, ExcludeID: video.ID}
	if video.CategoryID != nil {
		filter.CategoryID = *video.CategoryID
	}
	return s.store.ListVideos(ctx, filter, input.Cursor, input.Limit)
}

func (s *Service) GetUser(ctx context.Context, viewer Session, input IDInput) (store.Creator, error) {
	if err := requireUUID("id", input.ID); err != nil {
		return store.Creator{}, err
	}
	return s.store.GetCreator(ctx, input.ID, viewer.UserID)
}
