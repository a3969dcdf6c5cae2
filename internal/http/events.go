package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/apexai/nexus/internal/log"
	"github.com/apexai/nexus/pkg/service"
)

// allTasksTopic receives every task event; per-task topics are keyed by task id.
const allTasksTopic = "*"

// Hub fans task events out to SSE subscribers. All topic bookkeeping happens on
// the goroutine running Run.
type Hub struct {
	topics map[string]map[chan []byte]bool

	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan topicMessage
	done        chan struct{}
}

type subscription struct {
	ch    chan []byte
	topic string
}

type topicMessage struct {
	topic string
	msg   []byte
}

func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]map[chan []byte]bool),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan topicMessage, 100),
		done:        make(chan struct{}),
	}
}

// Run processes subscriptions and publications until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.subscribe:
			subs, ok := h.topics[s.topic]
			if !ok {
				subs = make(map[chan []byte]bool)
				h.topics[s.topic] = subs
			}
			subs[s.ch] = true
		case s := <-h.unsubscribe:
			if subs, ok := h.topics[s.topic]; ok {
				delete(subs, s.ch)
				if len(subs) == 0 {
					delete(h.topics, s.topic)
				}
			}
		case tm := <-h.publish:
			for ch := range h.topics[tm.topic] {
				select {
				case ch <- tm.msg:
				default:
					// slow client, drop
				}
			}
		}
	}
}

// Notify implements service.TaskNotifier. It never blocks the engine: events
// are dropped when the publish buffer is full or the hub has stopped.
func (h *Hub) Notify(ev service.TaskEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.GetLogger().Errorf("Failed to encode task event: %v", err)
		return
	}
	h.PublishTopic(allTasksTopic, msg)
	if ev.Task.ID != "" {
		h.PublishTopic(ev.Task.ID, msg)
	}
}

func (h *Hub) PublishTopic(topic string, msg []byte) {
	select {
	case h.publish <- topicMessage{topic: topic, msg: msg}:
	case <-h.done:
	default:
		log.GetLogger().Warnf("SSE publish buffer full, dropping event for %s", topic)
	}
}

// Subscribe registers ch for topic and reports false when the hub has stopped.
// The caller owns ch and must Unsubscribe before dropping it.
func (h *Hub) Subscribe(ch chan []byte, topic string) bool {
	select {
	case h.subscribe <- subscription{ch: ch, topic: topic}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unsubscribe(ch chan []byte, topic string) {
	select {
	case h.unsubscribe <- subscription{ch: ch, topic: topic}:
	case <-h.done:
	}
}

// ServeSSE streams task events. With ?task_id= only that task's events are sent.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("task_id")
	if topic == "" {
		topic = allTasksTopic
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	msgCh := make(chan []byte, 16)
	if !h.Subscribe(msgCh, topic) {
		writeError(w, http.StatusServiceUnavailable, "event hub stopped")
		return
	}
	defer h.Unsubscribe(msgCh, topic)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case msg := <-msgCh:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
