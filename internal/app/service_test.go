package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"vidtube/internal/authpw"
	"vidtube/internal/config"
	"vidtube/internal/media"
	"vidtube/internal/objectstore"
	"vidtube/internal/store"
	"vidtube/internal/workflow"
)

const (
	testUserID     = "11111111-1111-4111-8111-111111111111"
	otherUserID    = "22222222-2222-4222-8222-222222222222"
	testVideoID    = "33333333-3333-4333-8333-333333333333"
	testCommentID  = "44444444-4444-4444-8444-444444444444"
	testPlaylistID = "55555555-5555-4555-8555-555555555555"
	testCategoryID = "66666666-6666-4666-8666-666666666666"
)

type fakeStore struct {
	pingFn                     func(context.Context) error
	getUserByIDFn              func(context.Context, string) (store.User, error)
	getUserByEmailFn           func(context.Context, string) (store.User, error)
	createUserFn               func(context.Context, store.User) (store.User, error)
	upsertUserByExternalIDFn   func(context.Context, store.User) (store.User, error)
	deleteUserByExternalIDFn   func(context.Context, string) (bool, error)
	setUserBannerFn            func(context.Context, string, *string, *string) (store.User, error)
	getCreatorFn               func(context.Context, string, string) (store.Creator, error)
	listCategoriesFn           func(context.Context) ([]store.Category, error)
	categoryExistsFn           func(context.Context, string) (bool, error)
	createVideoFn              func(context.Context, store.Video) (store.Video, error)
	getVideoFn                 func(context.Context, string) (store.Video, error)
	getOwnedVideoFn            func(context.Context, string, string) (store.Video, error)
	getVideoDetailFn           func(context.Context, string, string) (store.VideoDetail, error)
	updateVideoFn              func(context.Context, string, string, store.VideoUpdate) (store.Video, error)
	deleteVideoFn              func(context.Context, string, string) (store.Video, error)
	setVideoThumbnailFn        func(context.Context, string, string, *string, *string) (store.Video, error)
	updateVideoAssetByUploadFn func(context.Context, string, store.AssetUpdate) (store.Video, error)
	updateVideoAssetFn         func(context.Context, string, store.AssetUpdate) (store.Video, error)
	updateVideoTrackFn         func(context.Context, string, string, string) (store.Video, error)
	deleteVideoByUploadFn      func(context.Context, string) (store.Video, error)
	listVideosFn               func(context.Context, store.VideoFilter, *store.Cursor, int) (store.Page[store.VideoCard, store.Cursor], error)
	toggleVideoReactionFn      func(context.Context, string, string, string) (store.VideoReaction, bool, error)
	createSubscriptionFn       func(context.Context, string, string) (store.Subscription, error)
	createCommentFn            func(context.Context, store.Comment) (store.Comment, error)
	getCommentFn               func(context.Context, string) (store.Comment, error)
	countCommentsFn            func(context.Context, string) (int, error)
	listCommentsFn             func(context.Context, string, *string, string, *store.Cursor, int) (store.Page[store.CommentItem, store.Cursor], error)
	getPlaylistFn              func(context.Context, string, string) (store.Playlist, error)
	addPlaylistVideoFn         func(context.Context, string, string) (store.PlaylistVideo, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, Name: "Avery"}, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	user.ID = testUserID
	return user, nil
}
func (f *fakeStore) UpsertUserByExternalID(ctx context.Context, user store.User) (store.User, error) {
	if f.upsertUserByExternalIDFn != nil {
		return f.upsertUserByExternalIDFn(ctx, user)
	}
	return user, nil
}
func (f *fakeStore) DeleteUserByExternalID(ctx context.Context, externalID string) (bool, error) {
	if f.deleteUserByExternalIDFn != nil {
		return f.deleteUserByExternalIDFn(ctx, externalID)
	}
	return false, nil
}
func (f *fakeStore) SetUserBanner(ctx context.Context, userID string, url, key *string) (store.User, error) {
	if f.setUserBannerFn != nil {
		return f.setUserBannerFn(ctx, userID, url, key)
	}
	return store.User{ID: userID, BannerURL: url, BannerKey: key}, nil
}
func (f *fakeStore) GetCreator(ctx context.Context, userID, viewerID string) (store.Creator, error) {
	if f.getCreatorFn != nil {
		return f.getCreatorFn(ctx, userID, viewerID)
	}
	return store.Creator{}, sql.ErrNoRows
}
func (f *fakeStore) ListCategories(ctx context.Context) ([]store.Category, error) {
	if f.listCategoriesFn != nil {
		return f.listCategoriesFn(ctx)
	}
	return []store.Category{}, nil
}
func (f *fakeStore) CategoryExists(ctx context.Context, categoryID string) (bool, error) {
	if f.categoryExistsFn != nil {
		return f.categoryExistsFn(ctx, categoryID)
	}
	return true, nil
}
func (f *fakeStore) CreateVideo(ctx context.Context, video store.Video) (store.Video, error) {
	if f.createVideoFn != nil {
		return f.createVideoFn(ctx, video)
	}
	video.ID = testVideoID
	return video, nil
}
func (f *fakeStore) GetVideo(ctx context.Context, videoID string) (store.Video, error) {
	if f.getVideoFn != nil {
		return f.getVideoFn(ctx, videoID)
	}
	return store.Video{}, sql.ErrNoRows
}
func (f *fakeStore) GetOwnedVideo(ctx context.Context, videoID, userID string) (store.Video, error) {
	if f.getOwnedVideoFn != nil {
		return f.getOwnedVideoFn(ctx, videoID, userID)
	}
	return store.Video{}, sql.ErrNoRows
}
func (f *fakeStore) GetVideoDetail(ctx context.Context, videoID, viewerID string) (store.VideoDetail, error) {
	if f.getVideoDetailFn != nil {
		return f.getVideoDetailFn(ctx, videoID, viewerID)
	}
	return store.VideoDetail{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateVideo(ctx context.Context, videoID, userID string, update store.VideoUpdate) (store.Video, error) {
	if f.updateVideoFn != nil {
		return f.updateVideoFn(ctx, videoID, userID, update)
	}
	return store.Video{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteVideo(ctx context.Context, videoID, userID string) (store.Video, error) {
	if f.deleteVideoFn != nil {
		return f.deleteVideoFn(ctx, videoID, userID)
	}
	return store.Video{}, sql.ErrNoRows
}
func (f *fakeStore) SetVideoThumbnail(ctx context.Context, videoID, userID string, url, key *string) (store.Video, error) {
	if f.setVideoThumbnailFn != nil {
		return f.setVideoThumbnailFn(ctx, videoID, userID, url, key)
	}
	return store.Video{ID: videoID, UserID: userID, ThumbnailURL: url, ThumbnailKey: key}, nil
}
func (f *fakeStore) UpdateVideoAssetByUpload(ctx context.Context, uploadID string, update store.AssetUpdate) (store.Video, error) {
	if f.updateVideoAssetByUploadFn != nil {
		return f.updateVideoAssetByUploadFn(ctx, uploadID, update)
	}
	return store.Video{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateVideoAsset(ctx context.Context, videoID string, update store.AssetUpdate) (store.Video, error) {
	if f.updateVideoAssetFn != nil {
		return f.updateVideoAssetFn(ctx, videoID, update)
	}
	return store.Video{ID: videoID, MuxStatus: update.Status}, nil
}
func (f *fakeStore) UpdateVideoTrack(ctx context.Context, assetID, trackID, trackStatus string) (store.Video, error) {
	if f.updateVideoTrackFn != nil {
		return f.updateVideoTrackFn(ctx, assetID, trackID, trackStatus)
	}
	return store.Video{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteVideoByUpload(ctx context.Context, uploadID string) (store.Video, error) {
	if f.deleteVideoByUploadFn != nil {
		return f.deleteVideoByUploadFn(ctx, uploadID)
	}
	return store.Video{}, sql.ErrNoRows
}
func (f *fakeStore) ListVideos(ctx context.Context, filter store.VideoFilter, cursor *store.Cursor, limit int) (store.Page[store.VideoCard, store.Cursor], error) {
	if f.listVideosFn != nil {
		return f.listVideosFn(ctx, filter, cursor, limit)
	}
	return store.Page[store.VideoCard, store.Cursor]{Items: []store.VideoCard{}}, nil
}
func (f *fakeStore) ListTrendingVideos(context.Context, *store.TrendingCursor, int) (store.Page[store.VideoCard, store.TrendingCursor], error) {
	return store.Page[store.VideoCard, store.TrendingCursor]{Items: []store.VideoCard{}}, nil
}
func (f *fakeStore) ListHistory(context.Context, string, *store.HistoryCursor, int) (store.Page[store.VideoCard, store.HistoryCursor], error) {
	return store.Page[store.VideoCard, store.HistoryCursor]{Items: []store.VideoCard{}}, nil
}
func (f *fakeStore) ListLiked(context.Context, string, *store.LikedCursor, int) (store.Page[store.VideoCard, store.LikedCursor], error) {
	return store.Page[store.VideoCard, store.LikedCursor]{Items: []store.VideoCard{}}, nil
}
func (f *fakeStore) ListStudioVideos(context.Context, string, *store.Cursor, int) (store.Page[store.StudioVideo, store.Cursor], error) {
	return store.Page[store.StudioVideo, store.Cursor]{Items: []store.StudioVideo{}}, nil
}
func (f *fakeStore) CreateVideoView(_ context.Context, userID, videoID string) (store.VideoView, error) {
	return store.VideoView{UserID: userID, VideoID: videoID}, nil
}
func (f *fakeStore) ToggleVideoReaction(ctx context.Context, userID, videoID, reactionType string) (store.VideoReaction, bool, error) {
	if f.toggleVideoReactionFn != nil {
		return f.toggleVideoReactionFn(ctx, userID, videoID, reactionType)
	}
	return store.VideoReaction{UserID: userID, VideoID: videoID, Type: reactionType}, false, nil
}
func (f *fakeStore) ToggleCommentReaction(_ context.Context, userID, commentID, reactionType string) (store.CommentReaction, bool, error) {
	return store.CommentReaction{UserID: userID, CommentID: commentID, Type: reactionType}, false, nil
}
func (f *fakeStore) CreateSubscription(ctx context.Context, viewerID, creatorID string) (store.Subscription, error) {
	if f.createSubscriptionFn != nil {
		return f.createSubscriptionFn(ctx, viewerID, creatorID)
	}
	return store.Subscription{ViewerID: viewerID, CreatorID: creatorID}, nil
}
func (f *fakeStore) DeleteSubscription(context.Context, string, string) (store.Subscription, error) {
	return store.Subscription{}, sql.ErrNoRows
}
func (f *fakeStore) ListSubscriptions(context.Context, string, *store.SubscriptionCursor, int) (store.Page[store.SubscriptionItem, store.SubscriptionCursor], error) {
	return store.Page[store.SubscriptionItem, store.SubscriptionCursor]{Items: []store.SubscriptionItem{}}, nil
}
func (f *fakeStore) CreateComment(ctx context.Context, comment store.Comment) (store.Comment, error) {
	if f.createCommentFn != nil {
		return f.createCommentFn(ctx, comment)
	}
	comment.ID = testCommentID
	return comment, nil
}
func (f *fakeStore) GetComment(ctx context.Context, commentID string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, commentID)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteComment(context.Context, string, string) (store.Comment, error) {
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) CountComments(ctx context.Context, videoID string) (int, error) {
	if f.countCommentsFn != nil {
		return f.countCommentsFn(ctx, videoID)
	}
	return 0, nil
}
func (f *fakeStore) ListComments(ctx context.Context, videoID string, parentID *string, viewerID string, cursor *store.Cursor, limit int) (store.Page[store.CommentItem, store.Cursor], error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, videoID, parentID, viewerID, cursor, limit)
	}
	return store.Page[store.CommentItem, store.Cursor]{Items: []store.CommentItem{}}, nil
}
func (f *fakeStore) CreatePlaylist(_ context.Context, playlist store.Playlist) (store.Playlist, error) {
	playlist.ID = testPlaylistID
	return playlist, nil
}
func (f *fakeStore) GetPlaylist(ctx context.Context, playlistID, userID string) (store.Playlist, error) {
	if f.getPlaylistFn != nil {
		return f.getPlaylistFn(ctx, playlistID, userID)
	}
	return store.Playlist{}, sql.ErrNoRows
}
func (f *fakeStore) DeletePlaylist(context.Context, string, string) (store.Playlist, error) {
	return store.Playlist{}, sql.ErrNoRows
}
func (f *fakeStore) ListPlaylists(context.Context, string, *string, *store.Cursor, int) (store.Page[store.PlaylistItem, store.Cursor], error) {
	return store.Page[store.PlaylistItem, store.Cursor]{Items: []store.PlaylistItem{}}, nil
}
func (f *fakeStore) AddPlaylistVideo(ctx context.Context, playlistID, videoID string) (store.PlaylistVideo, error) {
	if f.addPlaylistVideoFn != nil {
		return f.addPlaylistVideoFn(ctx, playlistID, videoID)
	}
	return store.PlaylistVideo{PlaylistID: playlistID, VideoID: videoID}, nil
}
func (f *fakeStore) RemovePlaylistVideo(context.Context, string, string) (store.PlaylistVideo, error) {
	return store.PlaylistVideo{}, sql.ErrNoRows
}

// fakeSessions keeps refresh tokens and revocations in memory.
type fakeSessions struct {
	mu      sync.Mutex
	refresh map[string]string
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: map[string]string{}, revoked: map[string]bool{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}
func (f *fakeSessions) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}
func (f *fakeSessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type fakeMedia struct {
	configured bool
	upload     media.Upload
	asset      media.Asset
	deleted    []string
}

func (f *fakeMedia) Configured() bool { return f.configured }
func (f *fakeMedia) CreateUpload(context.Context, string) (media.Upload, error) {
	return f.upload, nil
}
func (f *fakeMedia) GetUpload(context.Context, string) (media.Upload, error) {
	return f.upload, nil
}
func (f *fakeMedia) GetAsset(context.Context, string) (media.Asset, error) {
	return f.asset, nil
}
func (f *fakeMedia) DeleteAsset(_ context.Context, assetID string) error {
	f.deleted = append(f.deleted, assetID)
	return nil
}
func (f *fakeMedia) ThumbnailURL(playbackID string) string {
	return "https://image.mux.com/" + playbackID + "/thumbnail.jpg"
}
func (f *fakeMedia) PreviewURL(playbackID string) string {
	return "https://image.mux.com/" + playbackID + "/animated.gif"
}

type fakeObjects struct {
	copied  []string
	put     []objectstore.Object
	removed []string
	copyErr error
	putErr  error
}

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) (objectstore.Object, error) {
	if f.putErr != nil {
		return objectstore.Object{}, f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return objectstore.Object{}, err
	}
	if int64(len(data)) != size || !strings.HasPrefix(contentType, "image/") {
		return objectstore.Object{}, fmt.Errorf("bad put %s: %d bytes of %s", key, size, contentType)
	}
	object := objectstore.Object{Key: key, URL: "https://cdn.test/" + key}
	f.put = append(f.put, object)
	return object, nil
}

func (f *fakeObjects) CopyFromURL(_ context.Context, src, keyPrefix string) (objectstore.Object, error) {
	if f.copyErr != nil {
		return objectstore.Object{}, f.copyErr
	}
	f.copied = append(f.copied, src)
	key := keyPrefix + ".jpg"
	return objectstore.Object{Key: key, URL: "https://cdn.test/" + key}, nil
}
func (f *fakeObjects) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

type fakeQueue struct {
	payloads []workflow.Payload
	err      error
}

func (f *fakeQueue) Enqueue(_ context.Context, payload workflow.Payload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}
	f.payloads = append(f.payloads, payload)
	return payload.RunID, nil
}

type fakeRunner struct {
	executeFn func(context.Context, workflow.Payload) error
	runs      []workflow.Payload
}

func (f *fakeRunner) Execute(ctx context.Context, payload workflow.Payload) error {
	f.runs = append(f.runs, payload)
	if f.executeFn != nil {
		return f.executeFn(ctx, payload)
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:          "test-secret",
		AccessTTL:          time.Hour,
		RefreshTTL:         24 * time.Hour,
		MuxWebhookSecret:   "mux-secret",
		UsersWebhookSecret: "users-secret",
		WorkflowSigningKey: "workflow-secret",
	}
}

func newTestService(fs *fakeStore, deps Deps) *Service {
	deps.Store = fs
	if deps.Sessions == nil {
		deps.Sessions = newFakeSessions()
	}
	return New(testConfig(), deps)
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

func viewer(userID string) Session {
	return Session{UserID: userID, UserName: "Avery"}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	_, got, _, _ := mapError(err)
	if got != code {
		t.Fatalf("expected code %s, got %s (%v)", code, got, err)
	}
}

func TestSignUpIssuesUsableSession(t *testing.T) {
	var created store.User
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) (store.User, error) {
			created = user
			user.ID = testUserID
			return user, nil
		},
	}
	svc := newTestService(fs, Deps{})

	session, err := svc.SignUp(context.Background(), authpw.SignUpRequest{Email: "avery@example.com", Password: "correct-horse", Name: "Avery"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if created.PasswordHash == "" || created.PasswordHash == "correct-horse" {
		t.Fatalf("expected hashed password, got %q", created.PasswordHash)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", session)
	}

	resolved, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if resolved.UserID != testUserID {
		t.Fatalf("expected user %s, got %s", testUserID, resolved.UserID)
	}
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	svc := newTestService(&fakeStore{}, Deps{})
	ctx := context.Background()

	first, err := svc.issueSession(ctx, store.User{ID: testUserID, Name: "Avery"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}
	if _, err := svc.Refresh(ctx, first.RefreshToken); err == nil {
		t.Fatalf("expected the old refresh token to be rejected")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	svc := newTestService(&fakeStore{}, Deps{})
	ctx := context.Background()

	session, err := svc.issueSession(ctx, store.User{ID: testUserID, Name: "Avery"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	if err := svc.Logout(ctx, session, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, session.Token); err == nil {
		t.Fatalf("expected revoked token to be rejected")
	}
}

func TestGetVideoHidesPrivateVideosFromOthers(t *testing.T) {
	fs := &fakeStore{
		getVideoDetailFn: func(_ context.Context, videoID, _ string) (store.VideoDetail, error) {
			return store.VideoDetail{Video: store.Video{ID: videoID, UserID: testUserID, Visibility: store.VisibilityPrivate}}, nil
		},
	}
	svc := newTestService(fs, Deps{})
	ctx := context.Background()

	if _, err := svc.GetVideo(ctx, viewer(testUserID), IDInput{ID: testVideoID}); err != nil {
		t.Fatalf("owner should see private video: %v", err)
	}
	_, err := svc.GetVideo(ctx, viewer(otherUserID), IDInput{ID: testVideoID})
	assertCode(t, err, CodeNotFound)
	_, err = svc.GetVideo(ctx, Session{}, IDInput{ID: testVideoID})
	assertCode(t, err, CodeNotFound)
}

func TestUpdateVideoValidatesInput(t *testing.T) {
	var got store.VideoUpdate
	fs := &fakeStore{
		updateVideoFn: func(_ context.Context, videoID, _ string, update store.VideoUpdate) (store.Video, error) {
			got = update
			return store.Video{ID: videoID}, nil
		},
	}
	svc := newTestService(fs, Deps{})
	ctx := context.Background()

	blank := "   "
	_, err := svc.UpdateVideo(ctx, viewer(testUserID), UpdateVideoInput{ID: testVideoID, Title: &blank})
	assertCode(t, err, CodeBadRequest)

	bad := "unlisted"
	_, err = svc.UpdateVideo(ctx, viewer(testUserID), UpdateVideoInput{ID: testVideoID, Visibility: &bad})
	assertCode(t, err, CodeBadRequest)

	_, err = svc.UpdateVideo(ctx, viewer(testUserID), UpdateVideoInput{ID: "not-a-uuid"})
	assertCode(t, err, CodeBadRequest)

	input, err := decodeInput[UpdateVideoInput]([]byte(`{"id":"` + testVideoID + `","title":" New title ","categoryId":null}`))
	if err != nil {
		t.Fatalf("decode input: %v", err)
	}
	if _, err := svc.UpdateVideo(ctx, viewer(testUserID), input); err != nil {
		t.Fatalf("update video: %v", err)
	}
	if got.Title == nil || *got.Title != "New title" {
		t.Fatalf("expected trimmed title, got %v", got.Title)
	}
	if !got.ClearCategory {
		t.Fatalf("expected explicit null category to clear it")
	}
}

func TestUpdateVideoRejectsUnknownCategory(t *testing.T) {
	fs := &fakeStore{
		categoryExistsFn: func(context.Context, string) (bool, error) { return false, nil },
	}
	svc := newTestService(fs, Deps{})
	category := testCategoryID

	_, err := svc.UpdateVideo(context.Background(), viewer(testUserID), UpdateVideoInput{
		ID:         testVideoID,
		CategoryID: nullable[string]{Set: true, Value: &category},
	})
	assertCode(t, err, CodeNotFound)
}

func TestCreateVideoOpensUpload(t *testing.T) {
	fm := &fakeMedia{configured: true, upload: media.Upload{ID: "upload-1", URL: "https://storage.test/upload-1"}}
	var created store.Video
	fs := &fakeStore{
		createVideoFn: func(_ context.Context, video store.Video) (store.Video, error) {
			created = video
			video.ID = testVideoID
			return video, nil
		},
	}
	svc := newTestService(fs, Deps{Media: fm})

	result, err := svc.CreateVideo(context.Background(), viewer(testUserID), EmptyInput{})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	if result.URL != fm.upload.URL {
		t.Fatalf("expected upload url, got %q", result.URL)
	}
	if created.Title != "Untitled" || created.MuxStatus != media.StatusWaiting {
		t.Fatalf("unexpected video: %+v", created)
	}
	if created.MuxUploadID == nil || *created.MuxUploadID != "upload-1" {
		t.Fatalf("expected upload id to be stored, got %v", created.MuxUploadID)
	}
}

func TestCreateVideoWithoutMediaCredentials(t *testing.T) {
	svc := newTestService(&fakeStore{}, Deps{Media: &fakeMedia{}})
	_, err := svc.CreateVideo(context.Background(), viewer(testUserID), EmptyInput{})
	assertCode(t, err, CodeInternal)
}

func TestRestoreThumbnailReplacesCustomImage(t *testing.T) {
	oldKey := "videos/" + testVideoID + "/thumbnail-old.png"
	playbackID := "playback-1"
	fs := &fakeStore{
		getOwnedVideoFn: func(_ context.Context, videoID, userID string) (store.Video, error) {
			return store.Video{ID: videoID, UserID: userID, MuxPlaybackID: &playbackID, ThumbnailKey: &oldKey}, nil
		},
	}
	objects := &fakeObjects{}
	svc := newTestService(fs, Deps{Media: &fakeMedia{configured: true}, Objects: objects})

	video, err := svc.RestoreThumbnail(context.Background(), viewer(testUserID), IDInput{ID: testVideoID})
	if err != nil {
		t.Fatalf("restore thumbnail: %v", err)
	}
	if len(objects.removed) != 1 || objects.removed[0] != oldKey {
		t.Fatalf("expected old thumbnail to be removed, got %v", objects.removed)
	}
	if len(objects.copied) != 1 || objects.copied[0] != "https://image.mux.com/playback-1/thumbnail.jpg" {
		t.Fatalf("expected platform thumbnail to be copied, got %v", objects.copied)
	}
	if video.ThumbnailKey == nil || video.ThumbnailURL == nil {
		t.Fatalf("expected stored thumbnail, got %+v", video)
	}
}

func TestRestoreThumbnailNeedsPlaybackID(t *testing.T) {
	fs := &fakeStore{
		getOwnedVideoFn: func(_ context.Context, videoID, userID string) (store.Video, error) {
			return store.Video{ID: videoID, UserID: userID}, nil
		},
	}
	svc := newTestService(fs, Deps{Media: &fakeMedia{configured: true}})
	_, err := svc.RestoreThumbnail(context.Background(), viewer(testUserID), IDInput{ID: testVideoID})
	assertCode(t, err, CodeBadRequest)
}

func TestRevalidateVideoCopiesAssetState(t *testing.T) {
	uploadID := "upload-1"
	fs := &fakeStore{
		getOwnedVideoFn: func(_ context.Context, videoID, userID string) (store.Video, error) {
			return store.Video{ID: videoID, UserID: userID, MuxUploadID: &uploadID}, nil
		},
	}
	var got store.AssetUpdate
	fs.updateVideoAssetFn = func(_ context.Context, videoID string, update store.AssetUpdate) (store.Video, error) {
		got = update
		return store.Video{ID: videoID}, nil
	}
	fm := &fakeMedia{
		configured: true,
		upload:     media.Upload{ID: uploadID, AssetID: "asset-1"},
		asset: media.Asset{
			ID:          "asset-1",
			Status:      media.StatusReady,
			Duration:    12.5,
			PlaybackIDs: []media.PlaybackID{{ID: "playback-1", Policy: "public"}},
		},
	}
	svc := newTestService(fs, Deps{Media: fm})

	if _, err := svc.RevalidateVideo(context.Background(), viewer(testUserID), IDInput{ID: testVideoID}); err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if got.Status != media.StatusReady || got.AssetID == nil || *got.AssetID != "asset-1" {
		t.Fatalf("unexpected update: %+v", got)
	}
	if got.PlaybackID == nil || *got.PlaybackID != "playback-1" {
		t.Fatalf("expected playback id, got %v", got.PlaybackID)
	}
	if got.Duration == nil || *got.Duration != 12500 {
		t.Fatalf("expected duration in ms, got %v", got.Duration)
	}
}

func TestGenerateThumbnailEnqueuesOwnedVideo(t *testing.T) {
	fs := &fakeStore{
		getOwnedVideoFn: func(_ context.Context, videoID, userID string) (store.Video, error) {
			if userID != testUserID {
				return store.Video{}, sql.ErrNoRows
			}
			return store.Video{ID: videoID, UserID: userID}, nil
		},
	}
	queue := &fakeQueue{}
	svc := newTestService(fs, Deps{Workflows: queue})
	ctx := context.Background()

	_, err := svc.GenerateThumbnail(ctx, viewer(testUserID), GenerateThumbnailInput{ID: testVideoID, Prompt: "short"})
	assertCode(t, err, CodeBadRequest)

	_, err = svc.GenerateThumbnail(ctx, viewer(otherUserID), GenerateThumbnailInput{ID: testVideoID, Prompt: "a neon city at night"})
	assertCode(t, err, CodeNotFound)

	run, err := svc.GenerateThumbnail(ctx, viewer(testUserID), GenerateThumbnailInput{ID: testVideoID, Prompt: "a neon city at night"})
	if err != nil {
		t.Fatalf("generate thumbnail: %v", err)
	}
	if run.WorkflowRunID == "" {
		t.Fatalf("expected a run id")
	}
	if len(queue.payloads) != 1 {
		t.Fatalf("expected one queued run, got %d", len(queue.payloads))
	}
	payload := queue.payloads[0]
	if payload.Workflow != workflow.Thumbnail || payload.UserID != testUserID || payload.VideoID != testVideoID {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestGenerateTitleQueueFull(t *testing.T) {
	fs := &fakeStore{
		getOwnedVideoFn: func(_ context.Context, videoID, userID string) (store.Video, error) {
			return store.Video{ID: videoID, UserID: userID}, nil
		},
	}
	svc := newTestService(fs, Deps{Workflows: &fakeQueue{err: workflow.ErrQueueFull}})
	_, err := svc.GenerateTitle(context.Background(), viewer(testUserID), IDInput{ID: testVideoID})
	assertCode(t, err, CodeTooManyRequests)
}

func TestCreateCommentAllowsOneReplyLevel(t *testing.T) {
	topLevel := store.Comment{ID: testCommentID, VideoID: testVideoID}
	parentID := testCommentID
	reply := store.Comment{ID: testCommentID, VideoID: testVideoID, ParentID: &parentID}

	var parent store.Comment
	fs := &fakeStore{
		getCommentFn: func(context.Context, string) (store.Comment, error) { return parent, nil },
	}
	svc := newTestService(fs, Deps{})
	ctx := context.Background()

	_, err := svc.CreateComment(ctx, viewer(testUserID), CreateCommentInput{VideoID: testVideoID, Value: "  "})
	assertCode(t, err, CodeBadRequest)

	parent = reply
	_, err = svc.CreateComment(ctx, viewer(testUserID), CreateCommentInput{VideoID: testVideoID, Value: "hi", ParentID: &parentID})
	assertCode(t, err, CodeBadRequest)

	parent = topLevel
	created, err := svc.CreateComment(ctx, viewer(testUserID), CreateCommentInput{VideoID: testVideoID, Value: " hi ", ParentID: &parentID})
	if err != nil {
		t.Fatalf("create reply: %v", err)
	}
	if created.Value != "hi" || created.ParentID == nil {
		t.Fatalf("unexpected comment: %+v", created)
	}
}

func TestCreateCommentMissingParent(t *testing.T) {
	svc := newTestService(&fakeStore{}, Deps{})
	parentID := testCommentID
	_, err := svc.CreateComment(context.Background(), viewer(testUserID), CreateCommentInput{VideoID: testVideoID, Value: "hi", ParentID: &parentID})
	assertCode(t, err, CodeNotFound)
}

func TestListCommentsIncludesTotal(t *testing.T) {
	fs := &fakeStore{
		countCommentsFn: func(context.Context, string) (int, error) { return 7, nil },
	}
	svc := newTestService(fs, Deps{})

	page, err := svc.ListComments(context.Background(), Session{}, CommentsInput{VideoID: testVideoID, Limit: 10})
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if page.TotalCount != 7 {
		t.Fatalf("expected total 7, got %d", page.TotalCount)
	}

	_, err = svc.ListComments(context.Background(), Session{}, CommentsInput{VideoID: testVideoID, Limit: 0})
	assertCode(t, err, CodeBadRequest)
}

func TestSubscribeRules(t *testing.T) {
	fs := &fakeStore{
		createSubscriptionFn: func(context.Context, string, string) (store.Subscription, error) {
			return store.Subscription{}, errors.New("boom")
		},
	}
	svc := newTestService(fs, Deps{})
	ctx := context.Background()

	_, err := svc.Subscribe(ctx, viewer(testUserID), UserIDInput{UserID: testUserID})
	assertCode(t, err, CodeBadRequest)

	_, err = svc.Subscribe(ctx, viewer(testUserID), UserIDInput{UserID: otherUserID})
	assertCode(t, err, CodeInternal)
}

func TestSuggestionsFollowVideoCategory(t *testing.T) {
	category := testCategoryID
	var got store.VideoFilter
	fs := &fakeStore{
		getVideoFn: func(_ context.Context, videoID string) (store.Video, error) {
			return store.Video{ID: videoID, CategoryID: &category}, nil
		},
		listVideosFn: func(_ context.Context, filter store.VideoFilter, _ *store.Cursor, _ int) (store.Page[store.VideoCard, store.Cursor], error) {
			got = filter
			return store.Page[store.VideoCard, store.Cursor]{Items: []store.VideoCard{}}, nil
		},
	}
	svc := newTestService(fs, Deps{})

	if _, err := svc.ListSuggestions(context.Background(), Session{}, SuggestionsInput{VideoID: testVideoID, Limit: 5}); err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	if got.CategoryID != testCategoryID || got.ExcludeID != testVideoID || got.Visibility != store.VisibilityPublic {
		t.Fatalf("unexpected filter: %+v", got)
	}
}

func TestSuggestionsUnknownVideo(t *testing.T) {
	svc := newTestService(&fakeStore{}, Deps{})
	_, err := svc.ListSuggestions(context.Background(), Session{}, SuggestionsInput{VideoID: testVideoID, Limit: 5})
	assertCode(t, err, CodeNotFound)
}

func TestSearchFallsBackToTitleMatch(t *testing.T) {
	var got store.VideoFilter
	fs := &fakeStore{
		listVideosFn: func(_ context.Context, filter store.VideoFilter, _ *store.Cursor, _ int) (store.Page[store.VideoCard, store.Cursor], error) {
			got = filter
			return store.Page[store.VideoCard, store.Cursor]{Items: []store.VideoCard{}}, nil
		},
	}
	svc := newTestService(fs, Deps{})

	if _, err := svc.SearchVideos(context.Background(), Session{}, SearchInput{Query: "  cats ", Limit: 5}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if got.Query != "cats" || got.Visibility != store.VisibilityPublic {
		t.Fatalf("unexpected filter: %+v", got)
	}
}

func TestAddPlaylistVideoConflict(t *testing.T) {
	fs := &fakeStore{
		getPlaylistFn: func(_ context.Context, playlistID, userID string) (store.Playlist, error) {
			return store.Playlist{ID: playlistID, UserID: userID}, nil
		},
		getVideoFn: func(_ context.Context, videoID string) (store.Video, error) {
			return store.Video{ID: videoID, Visibility: store.VisibilityPublic}, nil
		},
		addPlaylistVideoFn: func(context.Context, string, string) (store.PlaylistVideo, error) {
			return store.PlaylistVideo{}, uniqueViolation()
		},
	}
	svc := newTestService(fs, Deps{})

	_, err := svc.AddPlaylistVideo(context.Background(), viewer(testUserID), PlaylistVideoInput{PlaylistID: testPlaylistID, VideoID: testVideoID})
	assertCode(t, err, CodeConflict)
}

func TestAddPlaylistVideoRequiresOwnership(t *testing.T) {
	svc := newTestService(&fakeStore{}, Deps{})
	_, err := svc.AddPlaylistVideo(context.Background(), viewer(otherUserID), PlaylistVideoInput{PlaylistID: testPlaylistID, VideoID: testVideoID})
	assertCode(t, err, CodeNotFound)
}

func TestAddPlaylistVideoHidesOthersPrivateVideos(t *testing.T) {
	var added []string
	fs := &fakeStore{
		getPlaylistFn: func(_ context.Context, playlistID, userID string) (store.Playlist, error) {
			return store.Playlist{ID: playlistID, UserID: userID}, nil
		},
		getVideoFn: func(_ context.Context, videoID string) (store.Video, error) {
			return store.Video{ID: videoID, UserID: otherUserID, Visibility: store.VisibilityPrivate}, nil
		},
		addPlaylistVideoFn: func(_ context.Context, playlistID, videoID string) (store.PlaylistVideo, error) {
			added = append(added, videoID)
			return store.PlaylistVideo{PlaylistID: playlistID, VideoID: videoID}, nil
		},
	}
	svc := newTestService(fs, Deps{})
	input := PlaylistVideoInput{PlaylistID: testPlaylistID, VideoID: testVideoID}

	_, err := svc.AddPlaylistVideo(context.Background(), viewer(testUserID), input)
	assertCode(t, err, CodeNotFound)
	if len(added) != 0 {
		t.Fatalf("private video was added: %v", added)
	}

	if _, err := svc.AddPlaylistVideo(context.Background(), viewer(otherUserID), input); err != nil {
		t.Fatalf("owner adding their private video: %v", err)
	}
	if len(added) != 1 {
		t.Fatalf("expected one add, got %v", added)
	}
}

func TestCreatePlaylistNeedsName(t *testing.T) {
	svc := newTestService(&fakeStore{}, Deps{})
	_, err := svc.CreatePlaylist(context.Background(), viewer(testUserID), CreatePlaylistInput{Name: " "})
	assertCode(t, err, CodeBadRequest)

	playlist, err := svc.CreatePlaylist(context.Background(), viewer(testUserID), CreatePlaylistInput{Name: " Watch later "})
	if err != nil {
		t.Fatalf("create playlist: %v", err)
	}
	if playlist.Name != "Watch later" || playlist.UserID != testUserID {
		t.Fatalf("unexpected playlist: %+v", playlist)
	}
}
