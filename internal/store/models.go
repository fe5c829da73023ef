package store

import "time"

const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"

	ReactionLike    = "like"
	ReactionDislike = "dislike"
)

type User struct {
	ID           string    `json:"id"`
	ExternalID   string    `json:"externalId"`
	Name         string    `json:"name"`
	Email        string    `json:"-"`
	PasswordHash string    `json:"-"`
	ImageURL     string    `json:"imageUrl"`
	BannerURL    *string   `json:"bannerUrl"`
	BannerKey    *string   `json:"bannerKey"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Creator is a user annotated with channel totals.
type Creator struct {
	User
	SubscriberCount  int  `json:"subscriberCount"`
	VideoCount       int  `json:"videoCount"`
	ViewerSubscribed bool `json:"viewerSubscribed"`
}

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Video struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    *string   `json:"description"`
	MuxStatus      string    `json:"muxStatus"`
	MuxAssetID     *string   `json:"muxAssetId"`
	MuxUploadID    *string   `json:"muxUploadId"`
	MuxPlaybackID  *string   `json:"muxPlaybackId"`
	MuxTrackID     *string   `json:"muxTrackId"`
	MuxTrackStatus *string   `json:"muxTrackStatus"`
	ThumbnailURL   *string   `json:"thumbnailUrl"`
	ThumbnailKey   *string   `json:"thumbnailKey"`
	PreviewURL     *string   `json:"previewUrl"`
	PreviewKey     *string   `json:"previewKey"`
	Duration       int       `json:"duration"`
	Visibility     string    `json:"visibility"`
	UserID         string    `json:"userId"`
	CategoryID     *string   `json:"categoryId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// VideoCard is a video joined with its creator and engagement counts, the
// shape every public video list returns.
type VideoCard struct {
	Video
	User         User       `json:"user"`
	ViewCount    int        `json:"viewCount"`
	LikeCount    int        `json:"likeCount"`
	DislikeCount int        `json:"dislikeCount"`
	ViewedAt     *time.Time `json:"viewedAt,omitempty"`
	LikedAt      *time.Time `json:"likedAt,omitempty"`
}

// VideoDetail is the watch page payload.
type VideoDetail struct {
	Video
	User           Creator `json:"user"`
	ViewCount      int     `json:"viewCount"`
	LikeCount      int     `json:"likeCount"`
	DislikeCount   int     `json:"dislikeCount"`
	ViewerReaction *string `json:"viewerReaction"`
}

// VideoUpdate carries the optional fields of a video edit. Nil leaves the
// column unchanged; ClearCategory sets category_id to NULL.
type VideoUpdate struct {
	Title         *string
	Description   *string
	CategoryID    *string
	ClearCategory bool
	Visibility    *string
}

// AssetUpdate is what the media platform tells us about an upload. Nil
// fields are left untouched.
type AssetUpdate struct {
	Status       string
	AssetID      *string
	PlaybackID   *string
	Duration     *int
	ThumbnailURL *string
	ThumbnailKey *string
	PreviewURL   *string
	PreviewKey   *string
}

// StudioVideo is a row of the creator dashboard.
type StudioVideo struct {
	Video
	ViewCount    int `json:"viewCount"`
	CommentCount int `json:"commentCount"`
	LikeCount    int `json:"likeCount"`
}

// VideoFilter narrows ListVideos. Zero values disable a filter.
type VideoFilter struct {
	Visibility   string
	UserID       string
	CategoryID   string
	Query        string
	ExcludeID    string
	SubscriberID string
	PlaylistID   string
	// IDs restricts the list to these videos, typically search index hits.
	IDs []string
}

type VideoView struct {
	UserID    string    `json:"userId"`
	VideoID   string    `json:"videoId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type VideoReaction struct {
	UserID    string    `json:"userId"`
	VideoID   string    `json:"videoId"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Subscription struct {
	ViewerID  string    `json:"viewerId"`
	CreatorID string    `json:"creatorId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SubscriptionItem struct {
	Subscription
	User Creator `json:"user"`
}

type Comment struct {
	ID        string    `json:"id"`
	ParentID  *string   `json:"parentId"`
	UserID    string    `json:"userId"`
	VideoID   string    `json:"videoId"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CommentItem struct {
	Comment
	User           User    `json:"user"`
	ViewerReaction *string `json:"viewerReaction"`
	LikeCount      int     `json:"likeCount"`
	DislikeCount   int     `json:"dislikeCount"`
	ReplyCount     int     `json:"replyCount"`
}

type CommentReaction struct {
	UserID    string    `json:"userId"`
	CommentID string    `json:"commentId"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Playlist struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type PlaylistItem struct {
	Playlist
	User          User    `json:"user"`
	VideoCount    int     `json:"videoCount"`
	ThumbnailURL  *string `json:"thumbnailUrl"`
	ContainsVideo *bool   `json:"containsVideo,omitempty"`
}

type PlaylistVideo struct {
	PlaylistID string    `json:"playlistId"`
	VideoID    string    `json:"videoId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
