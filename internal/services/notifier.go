package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

// EventKind identifies a lifecycle transition.
type EventKind string

const (
	EventCheckout EventKind = "checkout"
	EventCheckin  EventKind = "checkin"
	EventLost     EventKind = "lost"
	EventRestore  EventKind = "restore"
	EventUpdate   EventKind = "update"
)

// Event is the record emitted after every successful lifecycle transition.
// Detail carries kind-specific fields; for update events it holds the due
// date before and after the edit.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Actor     string                 `json:"actor"`
	LibraryID uuid.UUID              `json:"library_id"`
	LoanID    uuid.UUID              `json:"loan_id"`
	ItemID    uuid.UUID              `json:"item_id"`
	UserID    uuid.UUID              `json:"user_id"`
	Timestamp time.Time              `json:"timestamp"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Notifier receives lifecycle events. Implementations must not assume the
// engine waits on them: emission is fire-and-forget and a failed notification
// never rolls back the transition it describes.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// logNotifier writes events to the process log.
type logNotifier struct{}

func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) Notify(_ context.Context, event Event) {
	log.Printf("[INFO] event %s: library=%s loan=%s item=%s user=%s detail=%v",
		event.Kind, event.LibraryID, event.LoanID, event.ItemID, event.UserID, event.Detail)
}

// redisNotifier publishes events to a Redis channel so connected front-desk
// clients can refresh their loan tables live.
type redisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) Notifier {
	return &redisNotifier{client: client, channel: channel}
}

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

func (n *redisNotifier) Notify(ctx context.Context, event Event) {
	payload, err := jsonFast.Marshal(event)
	if err != nil {
		log.Printf("[WARN] notifier: failed to marshal %s event for loan %s: %v", event.Kind, event.LoanID, err)
		return
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		log.Printf("[WARN] notifier: failed to publish %s event for loan %s: %v", event.Kind, event.LoanID, err)
	}
}

// multiNotifier fans one event out to several notifiers.
type multiNotifier []Notifier

func NewMultiNotifier(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}

func (m multiNotifier) Notify(ctx context.Context, event Event) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}
