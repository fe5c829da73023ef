package store

import (
	"testing"
)

// walkPages follows NextCursor with a page size of two and returns the ids
// in the order they were served. It fails on repeats and on runaway walks.
func walkPages[T any, C any](t *testing.T, list func(*C) (Page[T, C], error), idOf func(T) string) []string {
	t.Helper()
	var ids []string
	seen := map[string]bool{}
	var cursor *C
	for pages := 0; ; pages++ {
		if pages > 20 {
			t.Fatal("pagination did not terminate")
		}
		page, err := list(cursor)
		if err != nil {
			t.Fatalf("list page %d: %v", pages, err)
		}
		if len(page.Items) > 2 {
			t.Fatalf("page %d has %d items", pages, len(page.Items))
		}
		for _, item := range page.Items {
			id := idOf(item)
			if seen[id] {
				t.Fatalf("%s served twice", id)
			}
			seen[id] = true
			ids = append(ids, id)
		}
		if page.NextCursor == nil {
			return ids
		}
		cursor = page.NextCursor
	}
}

func TestPostgresStoreKeysetPages(t *testing.T) {
	db, ctx := openTestDB(t)
	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	s := NewPostgresStore(db)

	viewer, err := s.CreateUser(ctx, User{ExternalID: "ext-viewer", Name: "Viewer"})
	if err != nil {
		t.Fatalf("create viewer: %v", err)
	}
	var creators []User
	for _, name := range []string{"Ada", "Bo", "Cy"} {
		u, err := s.CreateUser(ctx, User{ExternalID: "ext-" + name, Name: name})
		if err != nil {
			t.Fatalf("create creator: %v", err)
		}
		creators = append(creators, u)
		if _, err := s.CreateSubscription(ctx, viewer.ID, u.ID); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	var ids []string
	for i := 0; i < 5; i++ {
		upload := "upload-" + string(rune('a'+i))
		video, err := s.CreateVideo(ctx, Video{Title: "Clip", MuxStatus: "ready", MuxUploadID: &upload, Visibility: VisibilityPublic, UserID: creators[0].ID})
		if err != nil {
			t.Fatalf("create video: %v", err)
		}
		ids = append(ids, video.ID)
		if _, err := s.CreateVideoView(ctx, viewer.ID, video.ID); err != nil {
			t.Fatalf("view: %v", err)
		}
		if _, _, err := s.ToggleVideoReaction(ctx, viewer.ID, video.ID, ReactionLike); err != nil {
			t.Fatalf("like: %v", err)
		}
	}
	// Uneven view counts so trending sorts on more than the tie breaker.
	for _, c := range creators[1:] {
		if _, err := s.CreateVideoView(ctx, c.ID, ids[0]); err != nil {
			t.Fatalf("view: %v", err)
		}
	}
	if _, err := s.CreateVideoView(ctx, creators[1].ID, ids[1]); err != nil {
		t.Fatalf("view: %v", err)
	}

	cardID := func(c VideoCard) string { return c.ID }

	t.Run("trending", func(t *testing.T) {
		got := walkPages(t, func(c *TrendingCursor) (Page[VideoCard, TrendingCursor], error) {
			return s.ListTrendingVideos(ctx, c, 2)
		}, cardID)
		if len(got) != len(ids) || got[0] != ids[0] || got[1] != ids[1] {
			t.Fatalf("unexpected trending order %v", got)
		}
	})

	t.Run("subscriptions", func(t *testing.T) {
		got := walkPages(t, func(c *SubscriptionCursor) (Page[SubscriptionItem, SubscriptionCursor], error) {
			return s.ListSubscriptions(ctx, viewer.ID, c, 2)
		}, func(item SubscriptionItem) string { return item.CreatorID })
		if len(got) != len(creators) {
			t.Fatalf("expected %d subscriptions, got %v", len(creators), got)
		}
	})

	t.Run("history", func(t *testing.T) {
		got := walkPages(t, func(c *HistoryCursor) (Page[VideoCard, HistoryCursor], error) {
			return s.ListHistory(ctx, viewer.ID, c, 2)
		}, cardID)
		if len(got) != len(ids) || got[0] != ids[4] {
			t.Fatalf("history must list every view newest first, got %v", got)
		}
	})

	t.Run("liked", func(t *testing.T) {
		got := walkPages(t, func(c *LikedCursor) (Page[VideoCard, LikedCursor], error) {
			return s.ListLiked(ctx, viewer.ID, c, 2)
		}, cardID)
		if len(got) != len(ids) || got[0] != ids[4] {
			t.Fatalf("liked must list every like newest first, got %v", got)
		}
	})

	t.Run("playlists", func(t *testing.T) {
		for _, name := range []string{"One", "Two", "Three"} {
			if _, err := s.CreatePlaylist(ctx, Playlist{Name: name, UserID: viewer.ID}); err != nil {
				t.Fatalf("create playlist: %v", err)
			}
		}
		got := walkPages(t, func(c *Cursor) (Page[PlaylistItem, Cursor], error) {
			return s.ListPlaylists(ctx, viewer.ID, nil, c, 2)
		}, func(p PlaylistItem) string { return p.ID })
		if len(got) != 3 {
			t.Fatalf("expected 3 playlists, got %v", got)
		}
	})

	t.Run("private videos leave personal lists", func(t *testing.T) {
		private := VisibilityPrivate
		hidden := ids[4]
		thumb := "https://cdn.test/private.jpg"
		if _, err := s.SetVideoThumbnail(ctx, hidden, creators[0].ID, &thumb, nil); err != nil {
			t.Fatalf("set thumbnail: %v", err)
		}
		playlist, err := s.CreatePlaylist(ctx, Playlist{Name: "Mixed", UserID: viewer.ID})
		if err != nil {
			t.Fatalf("create playlist: %v", err)
		}
		if _, err := s.AddPlaylistVideo(ctx, playlist.ID, hidden); err != nil {
			t.Fatalf("add video: %v", err)
		}
		if _, err := s.UpdateVideo(ctx, hidden, creators[0].ID, VideoUpdate{Visibility: &private}); err != nil {
			t.Fatalf("make private: %v", err)
		}

		history, err := s.ListHistory(ctx, viewer.ID, nil, 10)
		if err != nil {
			t.Fatalf("list history: %v", err)
		}
		liked, err := s.ListLiked(ctx, viewer.ID, nil, 10)
		if err != nil {
			t.Fatalf("list liked: %v", err)
		}
		for _, item := range append(history.Items, liked.Items...) {
			if item.ID == hidden {
				t.Fatalf("private video %s is still listed", hidden)
			}
		}
		if len(history.Items) != len(ids)-1 || len(liked.Items) != len(ids)-1 {
			t.Fatalf("expected %d items, got history=%d liked=%d", len(ids)-1, len(history.Items), len(liked.Items))
		}

		videos, err := s.ListVideos(ctx, VideoFilter{Visibility: VisibilityPublic, PlaylistID: playlist.ID}, nil, 10)
		if err != nil {
			t.Fatalf("list playlist videos: %v", err)
		}
		if len(videos.Items) != 0 {
			t.Fatalf("playlist must not serve the private video, got %+v", videos.Items)
		}
		playlists, err := s.ListPlaylists(ctx, viewer.ID, nil, nil, 1)
		if err != nil {
			t.Fatalf("list playlists: %v", err)
		}
		if len(playlists.Items) != 1 || playlists.Items[0].ID != playlist.ID {
			t.Fatalf("expected the newest playlist first, got %+v", playlists.Items)
		}
		if playlists.Items[0].ThumbnailURL != nil {
			t.Fatalf("playlist thumbnail leaks a private video: %s", *playlists.Items[0].ThumbnailURL)
		}
	})
}
