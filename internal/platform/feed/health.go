package feed

import (
	"context"
	"time"
)

// MarkerStatus is the feed position shown on the health endpoint.
type MarkerStatus struct {
	FeedURI         string     `json:"feed_uri"`
	Started         bool       `json:"started"`
	LastReadEntryID string     `json:"last_read_entry_id,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	AgeSeconds      float64    `json:"age_seconds,omitempty"`
}

// MarkerHealth reports how long ago the feed marker last moved.
func MarkerHealth(markers MarkerStore, feedURI string) func(ctx context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		m, err := markers.Get(ctx, feedURI)
		if err != nil {
			return nil, err
		}
		st := MarkerStatus{FeedURI: feedURI}
		if m == nil {
			return st, nil
		}
		st.Started = true
		st.LastReadEntryID = m.LastReadEntryID
		st.UpdatedAt = &m.UpdatedAt
		st.AgeSeconds = time.Since(m.UpdatedAt).Seconds()
		return st, nil
	}
}
