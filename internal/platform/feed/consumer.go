package feed

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/elisfeed/internal/platform/metrics"
)

// EventWorker handles one feed event.
type EventWorker interface {
	Process(ctx context.Context, ev Event) error
}

// FatalError wraps a worker error that must stop consumption. The event is
// neither parked nor marked as read.
type FatalError struct {
	EventID string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("feed: fatal error on event %s: %v", e.EventID, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Stats summarises one consumption pass.
type Stats struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithMaxRetries sets how many times a parked event is retried before it is
// left for manual replay.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) { c.maxRetries = n }
}

// WithFatal sets the predicate that decides whether a worker error stops
// consumption.
func WithFatal(fn func(error) bool) ConsumerOption {
	return func(c *Consumer) { c.isFatal = fn }
}

// WithBatchSize sets how many parked events one retry pass handles.
func WithBatchSize(n int) ConsumerOption {
	return func(c *Consumer) { c.batchSize = n }
}

// Consumer reads a feed from its marker and hands each unread event to the
// worker. Failed events are parked and the marker moves on.
type Consumer struct {
	feedURI    string
	reader     *Reader
	worker     EventWorker
	markers    MarkerStore
	failed     FailedEventStore
	logger     zerolog.Logger
	maxRetries int
	batchSize  int
	isFatal    func(error) bool
}

func NewConsumer(feedURI string, reader *Reader, worker EventWorker, markers MarkerStore, failed FailedEventStore, logger zerolog.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		feedURI:    feedURI,
		reader:     reader,
		worker:     worker,
		markers:    markers,
		failed:     failed,
		logger:     logger.With().Str("component", "feed").Str("feed", feedURI).Logger(),
		maxRetries: 5,
		batchSize:  100,
		isFatal:    func(error) bool { return false },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FeedURI returns the address of the feed being consumed.
func (c *Consumer) FeedURI() string { return c.feedURI }

// ProcessEvents processes every event after the marker, page by page, up to
// the newest page.
func (c *Consumer) ProcessEvents(ctx context.Context) (Stats, error) {
	var stats Stats
	marker, err := c.markers.Get(ctx, c.feedURI)
	if err != nil {
		return stats, err
	}

	var pageURI, lastEntry string
	if marker != nil {
		pageURI, lastEntry = marker.LastReadPageURI, marker.LastReadEntryID
	}
	if pageURI == "" {
		if pageURI, err = c.oldestPage(ctx); err != nil {
			return stats, err
		}
	}

	visited := map[string]bool{}
	for pageURI != "" && !visited[pageURI] {
		visited[pageURI] = true
		page, err := c.reader.ReadPage(ctx, pageURI)
		if err != nil {
			return stats, err
		}
		for _, ev := range unread(page.Events, lastEntry) {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if err := c.handle(ctx, ev, &stats); err != nil {
				return stats, err
			}
			if err := c.markers.Save(ctx, &Marker{FeedURI: c.feedURI, LastReadEntryID: ev.ID, LastReadPageURI: page.Self}); err != nil {
				return stats, fmt.Errorf("save marker: %w", err)
			}
		}
		pageURI, lastEntry = page.NextArchive, ""
	}
	return stats, nil
}

func (c *Consumer) handle(ctx context.Context, ev Event, stats *Stats) error {
	err := c.worker.Process(ctx, ev)
	if err == nil {
		stats.Processed++
		return nil
	}
	if c.isFatal(err) {
		return &FatalError{EventID: ev.ID, Err: err}
	}

	c.logger.Error().Err(err).Str("event_id", ev.ID).Str("content", ev.Content).Msg("event failed, parking for retry")
	parked := &FailedEvent{
		FeedURI:      c.feedURI,
		EventID:      ev.ID,
		Title:        ev.Title,
		Content:      ev.Content,
		ErrorMessage: err.Error(),
	}
	if err := c.failed.Add(ctx, parked); err != nil {
		return fmt.Errorf("park event %s: %w", ev.ID, err)
	}
	metrics.RecordEvent(metrics.OutcomeParked)
	stats.Failed++
	return nil
}

// oldestPage walks prev-archive links from the feed head to the first page.
func (c *Consumer) oldestPage(ctx context.Context) (string, error) {
	uri := c.feedURI
	seen := map[string]bool{}
	for {
		page, err := c.reader.ReadPage(ctx, uri)
		if err != nil {
			return "", err
		}
		if page.PrevArchive == "" || seen[page.PrevArchive] {
			return uri, nil
		}
		seen[uri] = true
		uri = page.PrevArchive
	}
}

// unread returns the events after lastEntry. When lastEntry is not on the page
// every event is unread.
func unread(events []Event, lastEntry string) []Event {
	if lastEntry == "" {
		return events
	}
	for i, ev := range events {
		if ev.ID == lastEntry {
			return events[i+1:]
		}
	}
	return events
}

// ProcessFailedEvents retries parked events of this feed that have not used
// up their retries. Successful events are removed from the store.
func (c *Consumer) ProcessFailedEvents(ctx context.Context) (Stats, error) {
	var stats Stats
	events, err := c.failed.ListRetryable(ctx, c.feedURI, c.maxRetries, c.batchSize)
	if err != nil {
		return stats, err
	}
	for _, fe := range events {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		ok, err := c.retry(ctx, fe)
		if err != nil {
			return stats, err
		}
		if ok {
			stats.Processed++
		} else {
			stats.Failed++
		}
	}
	return stats, nil
}

// RetryFailedEvent retries one parked event regardless of its retry count.
func (c *Consumer) RetryFailedEvent(ctx context.Context, id uuid.UUID) error {
	fe, err := c.failed.Get(ctx, id)
	if err != nil {
		return err
	}
	ok, err := c.retry(ctx, fe)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("retry event %s: %s", fe.EventID, fe.ErrorMessage)
	}
	return nil
}

func (c *Consumer) retry(ctx context.Context, fe *FailedEvent) (bool, error) {
	err := c.worker.Process(ctx, fe.Event())
	metrics.RecordFailedEventRetry(err == nil)
	if err == nil {
		if err := c.failed.Delete(ctx, fe.ID); err != nil {
			return false, fmt.Errorf("remove failed event %s: %w", fe.ID, err)
		}
		return true, nil
	}
	if c.isFatal(err) {
		return false, &FatalError{EventID: fe.EventID, Err: err}
	}

	fe.Retries++
	fe.ErrorMessage = err.Error()
	c.logger.Warn().Err(err).Str("event_id", fe.EventID).Int("retries", fe.Retries).Msg("failed event retry failed")
	if err := c.failed.Update(ctx, fe); err != nil {
		return false, fmt.Errorf("update failed event %s: %w", fe.ID, err)
	}
	return false, nil
}
