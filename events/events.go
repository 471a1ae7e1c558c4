package events

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeBalanceChange  EventType = "balance_change"
	EventTypeInviteCreated  EventType = "invite_created"
	EventTypeInviteDeleted  EventType = "invite_deleted"
	EventTypeJoinAttributed EventType = "join_attributed"
	EventTypeGuildReset     EventType = "guild_reset"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// BalanceChangeEvent represents a balance change that occurred
type BalanceChangeEvent struct {
	GuildID      int64
	UserID       int64
	RoleID       int64
	OldRemaining int64
	NewRemaining int64
	ChangeAmount int64
	Reason       string // "mint", "refund", "seed", "admin_add", "admin_remove"
}

func (e BalanceChangeEvent) Type() EventType {
	return EventTypeBalanceChange
}

// InviteCreatedEvent represents a freshly minted invite link
type InviteCreatedEvent struct {
	GuildID int64
	UserID  int64
	Code    string
	Link    string
	MaxUses int
}

func (e InviteCreatedEvent) Type() EventType {
	return EventTypeInviteCreated
}

// InviteDeletedEvent represents an invite record that was removed
type InviteDeletedEvent struct {
	GuildID  int64
	UserID   int64
	Code     string
	Refunded bool
	Reason   string // "manual", "consumed", "orphan_sweep", "reset"
}

func (e InviteDeletedEvent) Type() EventType {
	return EventTypeInviteDeleted
}

// JoinAttributedEvent represents a member join matched to a consumed invite
type JoinAttributedEvent struct {
	GuildID      int64
	InviterID    int64
	JoinedUserID int64
	Code         string
}

func (e JoinAttributedEvent) Type() EventType {
	return EventTypeJoinAttributed
}

// GuildResetEvent represents a full wipe of a guild's invite data.
// LogsChannelID is captured before the config row is deleted so the wipe
// itself can still be announced.
type GuildResetEvent struct {
	GuildID        int64
	ResetByUserID  int64
	InvitesRevoked int
	LogsChannelID  int64
}

func (e GuildResetEvent) Type() EventType {
	return EventTypeGuildReset
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// Emit publishes an event to all registered handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	// Call handlers asynchronously to avoid blocking
	for i, handler := range handlers {
		go func(h Handler, handlerIndex int) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

// TransactionalBus stashes events published during a unit of work and
// flushes them to the underlying bus only after the transaction commits.
type TransactionalBus struct {
	real    *Bus
	pending []Event
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

func (b *TransactionalBus) Publish(e Event) {
	b.pending = append(b.pending, e)
}

// Flush emits all pending events. Called after a successful commit.
func (b *TransactionalBus) Flush(ctx context.Context) error {
	// Events are processed independently of the transaction lifecycle, so a
	// background context avoids issues with transaction context expiration.
	eventCtx := context.Background()

	for _, ev := range b.pending {
		b.real.Emit(eventCtx, ev)
	}
	b.pending = nil
	return nil
}

// Discard drops pending events. Called after rollback.
func (b *TransactionalBus) Discard() {
	b.pending = nil
}
