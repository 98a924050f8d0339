package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"perpbot/internal/model"
	"perpbot/pkg/logger"
	"perpbot/pkg/redis"
)

const deliveryTimeout = 10 * time.Second

// Notifier accepts lifecycle events without blocking the caller
type Notifier interface {
	Post(event model.Event)
}

// EventJournal stores events per bot
type EventJournal interface {
	Append(ctx context.Context, event model.Event) error
}

// EventPublisher fans events out to live subscribers
type EventPublisher interface {
	PublishJSON(ctx context.Context, channel string, value interface{}) error
}

// MessageSender delivers human readable messages
type MessageSender interface {
	Enabled() bool
	SendMessage(ctx context.Context, text string) error
}

// NotificationService queues events and delivers them to the journal,
// the pub/sub channel and the chat sink from a single goroutine
type NotificationService struct {
	queue     chan model.Event
	journal   EventJournal
	publisher EventPublisher
	sender    MessageSender
	log       *logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	dropped int64
}

// NewNotificationService starts the delivery loop. Any sink may be nil.
func NewNotificationService(queueSize int, journal EventJournal, publisher EventPublisher, sender MessageSender) *NotificationService {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &NotificationService{
		queue:     make(chan model.Event, queueSize),
		journal:   journal,
		publisher: publisher,
		sender:    sender,
		log:       logger.GetLogger().WithField("component", "notifications"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Post enqueues event. When the queue is full the event is dropped.
func (s *NotificationService) Post(event model.Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	select {
	case <-s.stop:
		return
	default:
	}
	select {
	case s.queue <- event:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.log.Warnf("notification queue full, dropped %s for bot %s", event.Type, event.BotID)
	}
}

// Dropped returns the number of events discarded on a full queue
func (s *NotificationService) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stop delivers what is queued and ends the loop
func (s *NotificationService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *NotificationService) run() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.queue:
			s.deliver(ev)
		case <-s.stop:
			for {
				select {
				case ev := <-s.queue:
					s.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *NotificationService) deliver(ev model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if s.journal != nil {
		if err := s.journal.Append(ctx, ev); err != nil {
			s.log.Errorf("failed to journal %s for bot %s: %v", ev.Type, ev.BotID, err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishJSON(ctx, redis.ChannelBotEvents, ev); err != nil {
			s.log.Errorf("failed to publish %s for bot %s: %v", ev.Type, ev.BotID, err)
		}
	}
	if s.sender != nil && s.sender.Enabled() {
		if err := s.sender.SendMessage(ctx, FormatEvent(ev)); err != nil {
			s.log.Warnf("failed to send %s message: %v", ev.Type, err)
		}
	}
}

var eventTitles = map[model.EventType]string{
	model.EventBotStarted:      "🤖 Bot started",
	model.EventBotStopped:      "🛑 Bot stopped",
	model.EventSymbolAdded:     "➕ Symbol added",
	model.EventSymbolReleased:  "➖ Symbol released",
	model.EventPositionOpened:  "📈 Position opened",
	model.EventPositionClosed:  "✅ Position closed",
	model.EventPositionAverage: "🔁 Position averaged",
	model.EventError:           "⚠️ Error",
}

// FormatEvent renders event as a Telegram HTML message
func FormatEvent(ev model.Event) string {
	title, ok := eventTitles[ev.Type]
	if !ok {
		title = string(ev.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>", html.EscapeString(title))
	if ev.Symbol != "" {
		fmt.Fprintf(&b, " <code>%s</code>", html.EscapeString(ev.Symbol))
	}
	fmt.Fprintf(&b, "\nBot: <code>%s</code>", html.EscapeString(ev.BotID))
	if ev.Message != "" {
		fmt.Fprintf(&b, "\n%s", html.EscapeString(ev.Message))
	}

	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: <b>%s</b>", html.EscapeString(k), html.EscapeString(formatField(ev.Fields[k])))
	}
	return b.String()
}

func formatField(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return fmt.Sprintf("%.4f", x)
	default:
		return fmt.Sprint(x)
	}
}

// FormatFields renders fields as sorted key=value pairs
func FormatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + formatField(fields[k])
	}
	return strings.Join(parts, " ")
}
