package events

import (
	"sync"
	"time"
)

// EventType identifies a class of system event.
type EventType string

const (
	EventBotRegistered    EventType = "BOT_REGISTERED"
	EventBotUnregistered  EventType = "BOT_UNREGISTERED"
	EventEmergencyMode    EventType = "EMERGENCY_MODE"
	EventRateLimitHit     EventType = "RATE_LIMIT_HIT"
	EventQueueDrained     EventType = "QUEUE_DRAINED"
	EventCooldownStarted  EventType = "COOLDOWN_STARTED"
	EventGovernorCooldown EventType = "GOVERNOR_COOLDOWN"
	EventTradeCreated     EventType = "TRADE_CREATED"
	EventTradeOpened      EventType = "TRADE_OPENED"
	EventTradeClosed      EventType = "TRADE_CLOSED"
	EventTradeCancelled   EventType = "TRADE_CANCELLED"
	EventAdmissionDenied  EventType = "ADMISSION_DENIED"
	EventError            EventType = "ERROR"
)

// Event is a single published system event.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles published events. Subscribers run on their own
// goroutine per delivery and must not assume ordering across event types.
type Subscriber func(Event)

// Bus fans events out to subscribers. Publishing is fire-and-forget.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// SubscribeAll registers a subscriber for every event type.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish delivers an event to all matching subscribers without blocking
// the publisher.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishEmergencyMode publishes an emergency mode flip for a credential.
func (b *Bus) PublishEmergencyMode(credentialID string, enabled bool, botCount int, reason string) {
	b.Publish(Event{
		Type: EventEmergencyMode,
		Data: map[string]interface{}{
			"credential_id": credentialID,
			"enabled":       enabled,
			"bot_count":     botCount,
			"reason":        reason,
		},
	})
}

// PublishRateLimitHit publishes a broker rate-limit rejection.
func (b *Bus) PublishRateLimitHit(credentialID string, rejected int, cooldown time.Duration) {
	b.Publish(Event{
		Type: EventRateLimitHit,
		Data: map[string]interface{}{
			"credential_id":    credentialID,
			"rejected_queued":  rejected,
			"cooldown_seconds": int(cooldown.Seconds()),
		},
	})
}

// PublishTradeClosed publishes a realized trade result.
func (b *Bus) PublishTradeClosed(botID, tradeID, symbol string, pnl, pnlPercent float64) {
	b.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"bot_id":      botID,
			"trade_id":    tradeID,
			"symbol":      symbol,
			"pnl":         pnl,
			"pnl_percent": pnlPercent,
		},
	})
}

// PublishError publishes a component error.
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}
