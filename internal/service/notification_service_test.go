package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"perpbot/internal/model"
	"perpbot/pkg/redis"
)

type recordingJournal struct {
	mu     sync.Mutex
	events []model.Event
}

func (j *recordingJournal) Append(ctx context.Context, ev model.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func (j *recordingJournal) all() []model.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]model.Event(nil), j.events...)
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
}

func (p *recordingPublisher) PublishJSON(ctx context.Context, channel string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	return nil
}

type failingSender struct {
	mu    sync.Mutex
	texts []string
}

func (f *failingSender) Enabled() bool { return true }

func (f *failingSender) SendMessage(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return errors.New("telegram down")
}

func TestNotificationServiceDeliversToAllSinks(t *testing.T) {
	journal := &recordingJournal{}
	pub := &recordingPublisher{}
	sender := &failingSender{}
	s := NewNotificationService(8, journal, pub, sender)

	s.Post(model.Event{Type: model.EventPositionOpened, BotID: "b1", Symbol: "ETHUSDC"})
	s.Post(model.Event{Type: model.EventPositionClosed, BotID: "b1", Symbol: "ETHUSDC"})
	s.Stop()

	if got := journal.all(); len(got) != 2 || got[0].Time.IsZero() {
		t.Fatalf("journal = %+v", got)
	}
	if len(pub.channels) != 2 || pub.channels[0] != redis.ChannelBotEvents {
		t.Fatalf("published to %v", pub.channels)
	}
	if len(sender.texts) != 2 {
		t.Fatalf("sent %d messages, want 2 despite sender errors", len(sender.texts))
	}

	// posting after stop is a no-op
	s.Post(model.Event{Type: model.EventError, BotID: "b1"})
}

type blockingJournal struct {
	release chan struct{}
}

func (b *blockingJournal) Append(ctx context.Context, ev model.Event) error {
	<-b.release
	return nil
}

func TestNotificationServicePostNeverBlocks(t *testing.T) {
	j := &blockingJournal{release: make(chan struct{})}
	s := NewNotificationService(1, j, nil, nil)

	for i := 0; i < 20; i++ {
		s.Post(model.Event{Type: model.EventError, BotID: "b1"})
	}
	if s.Dropped() == 0 {
		t.Fatal("expected dropped events on a full queue")
	}
	close(j.release)
	s.Stop()
}

func TestFormatEventEscapesHTML(t *testing.T) {
	text := FormatEvent(model.Event{
		Type:    model.EventPositionClosed,
		BotID:   "b1",
		Symbol:  "BTCUSDC",
		Message: "reason <take_profit>",
		Fields:  map[string]interface{}{"roi": 12.5, "averaging_count": 2},
	})
	if !strings.Contains(text, "&lt;take_profit&gt;") {
		t.Fatalf("message not escaped: %s", text)
	}
	if !strings.Contains(text, "roi: <b>12.5000</b>") {
		t.Fatalf("roi field missing: %s", text)
	}
	if strings.Index(text, "averaging_count") > strings.Index(text, "roi") {
		t.Fatalf("fields not sorted: %s", text)
	}
}

func TestFormatFields(t *testing.T) {
	got := FormatFields(map[string]interface{}{"roi": 12.5, "reason": "take_profit", "averaging_count": 2})
	want := "averaging_count=2 reason=take_profit roi=12.5000"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
