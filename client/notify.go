package client

import (
	"context"
	"log/slog"

	evbus "github.com/asaskevich/EventBus"

	"github.com/panyam/shopauth"
)

// TopicPrefix is prepended to the notification kind to form the bus topic
const TopicPrefix = "shopauth:"

// Topic returns the bus topic notifications of kind are published on
func Topic(kind shopauth.NotificationKind) string {
	return TopicPrefix + string(kind)
}

// BusNotifier publishes notifications on an event bus so any number of UI
// components can subscribe to the kinds they render.
//
//	bus := evbus.New()
//	bus.Subscribe(client.Topic(shopauth.NotifySessionExpired), func(n shopauth.Notification) { ... })
type BusNotifier struct {
	bus evbus.Bus
}

// NewBusNotifier wraps bus. A nil bus gets a new synchronous bus.
func NewBusNotifier(bus evbus.Bus) *BusNotifier {
	if bus == nil {
		bus = evbus.New()
	}
	return &BusNotifier{bus: bus}
}

// Bus returns the underlying bus for subscribing
func (b *BusNotifier) Bus() evbus.Bus {
	return b.bus
}

func (b *BusNotifier) Notify(n shopauth.Notification) {
	b.bus.Publish(Topic(n.Kind), n)
}

// LogNotifier writes notifications to a structured logger
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(n shopauth.Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch n.Kind {
	case shopauth.NotifySessionExpired, shopauth.NotifyServerError, shopauth.NotifyNetworkError:
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, n.Message, "kind", n.Kind, "fields", n.Fields)
}
