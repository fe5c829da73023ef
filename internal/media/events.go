package media

import (
	"encoding/json"
	"fmt"
)

const (
	EventAssetCreated    = "video.asset.created"
	EventAssetReady      = "video.asset.ready"
	EventAssetErrored    = "video.asset.errored"
	EventAssetDeleted    = "video.asset.deleted"
	EventAssetTrackReady = "video.asset.track.ready"
)

// Event is a webhook delivery. Data is decoded per type.
type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TrackEvent is the payload of track events; the asset id is included.
type TrackEvent struct {
	ID      string `json:"id"`
	AssetID string `json:"asset_id"`
	Status  string `json:"status"`
	Type    string `json:"type"`
}

func ParseEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	return event, nil
}

func (e Event) Asset() (Asset, error) {
	var asset Asset
	if err := json.Unmarshal(e.Data, &asset); err != nil {
		return Asset{}, fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return asset, nil
}

func (e Event) Track() (TrackEvent, error) {
	var track TrackEvent
	if err := json.Unmarshal(e.Data, &track); err != nil {
		return TrackEvent{}, fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return track, nil
}
