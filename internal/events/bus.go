// Package events fans out domain events to in-process subscribers such as
// metrics and the audit log. Events are published only after the state change
// they describe has committed.
package events

import (
	"time"

	"github.com/ethereum/go-ethereum/event"
)

// Kind identifies an event type.
type Kind string

const (
	KindBuy               Kind = "trade.buy"
	KindSell              Kind = "trade.sell"
	KindCurveExhausted    Kind = "curve.exhausted"
	KindAgentCreated      Kind = "agent.created"
	KindPerformance       Kind = "oracle.performance"
	KindPeriodSettled     Kind = "rewards.settled"
	KindRewardsClaimed    Kind = "rewards.claimed"
	KindRewardPoolFunded  Kind = "rewards.pool_funded"
	KindPlatformConfigure Kind = "platform.configured"
)

// Event is a committed state change.
type Event struct {
	Kind      Kind
	AgentID   string
	Actor     string
	AmountIn  uint64
	AmountOut uint64
	Fee       uint64
	Period    int64
	TxRef     string
	At        time.Time
	Attrs     map[string]string
}

// Bus delivers events to every subscriber. Send blocks until each subscriber
// has accepted the event, so subscribers should use buffered channels.
type Bus struct {
	feed  event.Feed
	scope event.SubscriptionScope
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Publish delivers ev and returns the number of subscribers reached. A nil bus
// drops the event.
func (b *Bus) Publish(ev Event) int {
	if b == nil {
		return 0
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return b.feed.Send(ev)
}

// Subscribe registers ch for all future events.
func (b *Bus) Subscribe(ch chan<- Event) event.Subscription {
	return b.scope.Track(b.feed.Subscribe(ch))
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.scope.Close()
}
