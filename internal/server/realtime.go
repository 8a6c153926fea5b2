package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	RealtimeEventResultsChanged = "results-changed"
	realtimeEventHeartbeat      = "heartbeat"
	realtimeSourceBackend       = "pollster-api"
	realtimeHeartbeatInterval   = 25 * time.Second
)

type RealtimeMessage struct {
	PollID    string
	EventType string
	Timestamp time.Time
}

// RealtimeDispatcher fans result-change notifications out to subscribers of a poll.
// Slow subscribers drop messages rather than block publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, pollID string) (<-chan RealtimeMessage, func()) {
	if pollID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(pollID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(pollID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.PollID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.PollID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PublishResultsChanged satisfies polls.ResultsNotifier.
func (d *RealtimeDispatcher) PublishResultsChanged(pollID string, at time.Time) {
	d.Publish(RealtimeMessage{
		PollID:    pollID,
		EventType: RealtimeEventResultsChanged,
		Timestamp: at.UTC(),
	})
}

// SubscriberCount reports the active subscriptions for a poll.
func (d *RealtimeDispatcher) SubscriberCount(pollID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[pollID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(pollID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[pollID]; !ok {
		d.subscribers[pollID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[pollID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(pollID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[pollID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, pollID)
		}
	}
	d.mu.Unlock()
}

type realtimeEventPayload struct {
	PollID    string `json:"pollId"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// handleResultsStream serves a server-sent event stream of result changes for one poll.
// The stream carries notifications only; clients refetch /results on each event.
func (h *httpHandler) handleResultsStream(c *gin.Context) {
	pollID := strings.TrimSpace(c.Param("pollID"))
	if _, err := h.pollsService.GetPoll(c.Request.Context(), pollID); err != nil {
		h.writeServiceError(c, err)
		return
	}

	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), pollID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				PollID:    message.PollID,
				Source:    realtimeSourceBackend,
				Timestamp: message.Timestamp.Format(time.RFC3339Nano),
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{
				PollID:    pollID,
				Source:    realtimeSourceBackend,
				Timestamp: tick.UTC().Format(time.RFC3339Nano),
			})
			return true
		}
	})
}
