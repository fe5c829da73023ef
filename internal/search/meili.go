package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"vidtube/internal/store"
)

const idxVideos = "vidtube_videos"

var ErrIndexUnavailable = errors.New("search index unavailable")

// Meili implements Index via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the video index. An
// unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		slog.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxVideos,
		PrimaryKey: "id",
	}); err != nil {
		slog.Debug("create index (may already exist)", "index", idxVideos, "error", err)
	}

	index := m.client.Index(idxVideos)
	filterable := []interface{}{"visibility", "categoryId", "userId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		slog.Warn("update filterable attributes", "index", idxVideos, "error", err)
	}
	searchable := []string{"title"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		slog.Warn("update searchable attributes", "index", idxVideos, "error", err)
	}
	if _, err := index.UpdateTypoTolerance(&meili.TypoTolerance{Enabled: false}); err != nil {
		slog.Warn("disable typo tolerance", "index", idxVideos, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				slog.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) SearchIDs(text, categoryID string, max int) ([]string, error) {
	if !m.healthy.Load() {
		return nil, ErrIndexUnavailable
	}

	filters := []string{fmt.Sprintf("visibility = %q", store.VisibilityPublic)}
	if categoryID != "" {
		filters = append(filters, fmt.Sprintf("categoryId = %q", categoryID))
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:             idxVideos,
			Query:                text,
			Limit:                int64(max),
			Filter:               filters,
			AttributesToRetrieve: []string{"id"},
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	ids := make([]string, 0)
	for _, result := range resp.Results {
		for _, hit := range result.Hits {
			if id := decodeString(hit, "id"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func (m *Meili) IndexVideos(records []VideoRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxVideos).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteVideo(id string) error {
	_, err := m.client.Index(idxVideos).DeleteDocument(id, nil)
	return err
}
