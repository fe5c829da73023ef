package app

import (
	"context"
	"io"
	"log/slog"
	"time"

	"vidtube/internal/auth"
	"vidtube/internal/authpw"
	"vidtube/internal/config"
	"vidtube/internal/media"
	"vidtube/internal/metrics"
	"vidtube/internal/objectstore"
	"vidtube/internal/ratelimit"
	"vidtube/internal/search"
	"vidtube/internal/store"
	"vidtube/internal/util"
	"vidtube/internal/webhook"
	"vidtube/internal/workflow"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) (store.User, error)
	UpsertUserByExternalID(context.Context, store.User) (store.User, error)
	DeleteUserByExternalID(context.Context, string) (bool, error)
	SetUserBanner(ctx context.Context, userID string, url, key *string) (store.User, error)
	GetCreator(ctx context.Context, userID, viewerID string) (store.Creator, error)

	ListCategories(context.Context) ([]store.Category, error)
	CategoryExists(context.Context, string) (bool, error)

	CreateVideo(context.Context, store.Video) (store.Video, error)
	GetVideo(context.Context, string) (store.Video, error)
	GetOwnedVideo(ctx context.Context, videoID, userID string) (store.Video, error)
	GetVideoDetail(ctx context.Context, videoID, viewerID string) (store.VideoDetail, error)
	UpdateVideo(ctx context.Context, videoID, userID string, update store.VideoUpdate) (store.Video, error)
	DeleteVideo(ctx context.Context, videoID, userID string) (store.Video, error)
	SetVideoThumbnail(ctx context.Context, videoID, userID string, url, key *string) (store.Video, error)
	UpdateVideoAssetByUpload(ctx context.Context, uploadID string, update store.AssetUpdate) (store.Video, error)
	UpdateVideoAsset(ctx context.Context, videoID string, update store.AssetUpdate) (store.Video, error)
	UpdateVideoTrack(ctx context.Context, assetID, trackID, trackStatus string) (store.Video, error)
	DeleteVideoByUpload(ctx context.Context, uploadID string) (store.Video, error)
	ListVideos(ctx context.Context, filter store.VideoFilter, cursor *store.Cursor, limit int) (store.Page[store.VideoCard, store.Cursor], error)
	ListTrendingVideos(ctx context.Context, cursor *store.TrendingCursor, limit int) (store.Page[store.VideoCard, store.TrendingCursor], error)
	ListHistory(ctx context.Context, userID string, cursor *store.HistoryCursor, limit int) (store.Page[store.VideoCard, store.HistoryCursor], error)
	ListLiked(ctx context.Context, userID string, cursor *store.LikedCursor, limit int) (store.Page[store.VideoCard, store.LikedCursor], error)
	ListStudioVideos(ctx context.Context, userID string, cursor *store.Cursor, limit int) (store.Page[store.StudioVideo, store.Cursor], error)

	CreateVideoView(ctx context.Context, userID, videoID string) (store.VideoView, error)
	ToggleVideoReaction(ctx context.Context, userID, videoID, reactionType string) (store.VideoReaction, bool, error)
	ToggleCommentReaction(ctx context.Context, userID, commentID, reactionType string) (store.CommentReaction, bool, error)

	CreateSubscription(ctx context.Context, viewerID, creatorID string) (store.Subscription, error)
	DeleteSubscription(ctx context.Context, viewerID, creatorID string) (store.Subscription, error)
	ListSubscriptions(ctx context.Context, viewerID string, cursor *store.SubscriptionCursor, limit int) (store.Page[store.SubscriptionItem, store.SubscriptionCursor], error)

	CreateComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	DeleteComment(ctx context.Context, commentID, userID string) (store.Comment, error)
	CountComments(ctx context.Context, videoID string) (int, error)
	ListComments(ctx context.Context, videoID string, parentID *string, viewerID string, cursor *store.Cursor, limit int) (store.Page[store.CommentItem, store.Cursor], error)

	CreatePlaylist(context.Context, store.Playlist) (store.Playlist, error)
	GetPlaylist(ctx context.Context, playlistID, userID string) (store.Playlist, error)
	DeletePlaylist(ctx context.Context, playlistID, userID string) (store.Playlist, error)
	ListPlaylists(ctx context.Context, userID string, containsVideoID *string, cursor *store.Cursor, limit int) (store.Page[store.PlaylistItem, store.Cursor], error)
	AddPlaylistVideo(ctx context.Context, playlistID, videoID string) (store.PlaylistVideo, error)
	RemovePlaylistVideo(ctx context.Context, playlistID, videoID string) (store.PlaylistVideo, error)
}

// sessionStore holds refresh tokens and revoked access token ids. Redis and
// Postgres both implement it.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type mediaClient interface {
	Configured() bool
	CreateUpload(ctx context.Context, passthrough string) (media.Upload, error)
	GetUpload(ctx context.Context, uploadID string) (media.Upload, error)
	GetAsset(ctx context.Context, assetID string) (media.Asset, error)
	DeleteAsset(ctx context.Context, assetID string) error
	ThumbnailURL(playbackID string) string
	PreviewURL(playbackID string) string
}

type objectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (objectstore.Object, error)
	CopyFromURL(ctx context.Context, src, keyPrefix string) (objectstore.Object, error)
	Remove(ctx context.Context, key string) error
}

type videoSearch interface {
	Search(ctx context.Context, q search.Query) (store.Page[store.VideoCard, store.Cursor], error)
	IndexVideo(video store.Video)
	DeleteVideo(id string)
}

type workflowRunner interface {
	Execute(ctx context.Context, payload workflow.Payload) error
}

// Deps are the collaborators of a Service. Only Store is required.
type Deps struct {
	Store     dataStore
	Sessions  sessionStore
	Media     mediaClient
	Objects   objectStore
	Search    videoSearch
	Workflows workflow.Queue
	Runner    workflowRunner
	Limiter   ratelimit.Limiter
	Metrics   *metrics.Metrics
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	media     mediaClient
	objects   objectStore
	search    videoSearch
	workflows workflow.Queue
	runner    workflowRunner
	limiter   ratelimit.Limiter
	metrics   *metrics.Metrics
	passwords *authpw.Service

	muxWebhooks      *webhook.Verifier
	userWebhooks     *webhook.Verifier
	workflowRequests *webhook.Verifier

	registry map[string]procedure
	logger   *slog.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	sessions := deps.Sessions
	if sessions == nil {
		if fallback, ok := deps.Store.(sessionStore); ok {
			sessions = fallback
		}
	}
	searcher := deps.Search
	if searcher == nil {
		searcher = search.NewService(nil, deps.Store)
	}
	limiter := deps.Limiter
	if limiter == nil && cfg.RateLimitRequests > 0 && cfg.RateLimitWindow > 0 {
		limiter = ratelimit.NewLocal(cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	s := &Service{
		cfg:              cfg,
		store:            deps.Store,
		sessions:         sessions,
		media:            deps.Media,
		objects:          deps.Objects,
		search:           searcher,
		workflows:        deps.Workflows,
		runner:           deps.Runner,
		limiter:          limiter,
		metrics:          deps.Metrics,
		passwords:        authpw.NewService(deps.Store),
		muxWebhooks:      webhook.NewVerifier(cfg.MuxWebhookSecret),
		userWebhooks:     webhook.NewVerifier(cfg.UsersWebhookSecret),
		workflowRequests: webhook.NewVerifier(cfg.WorkflowSigningKey),
		logger:           slog.Default().With("component", "app"),
	}
	s.registry = s.procedures()
	return s
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.passwords.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID()

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken("rft")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	// Deleted users keep valid tokens until expiry; the lookup rejects them.
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// allow charges one call against the per-user budget. Limiter failures let
// the call through.
func (s *Service) allow(ctx context.Context, userID string) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", "error", err)
		return true
	}
	if !ok {
		s.metrics.ObserveRateLimited()
	}
	return ok
}
