package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	OrderFilled          Type = "OrderFilled"
	OrdersMatched        Type = "OrdersMatched"
	TokenRegistered      Type = "TokenRegistered"
	TradingPaused        Type = "TradingPaused"
	TradingUnpaused      Type = "TradingUnpaused"
	NonceIncremented     Type = "NonceIncremented"
	FeeRateCeilingSet    Type = "FeeRateCeilingSet"
	RoleChanged          Type = "RoleChanged"
	UpgradeScheduled     Type = "UpgradeScheduled"
	UpgradeExecuted      Type = "UpgradeExecuted"
	UpgradeCancelled     Type = "UpgradeCancelled"
	UpgradeRolledBack    Type = "UpgradeRolledBack"
	EmergencyUpgrade     Type = "EmergencyUpgrade"
	BeaconPaused         Type = "BeaconPaused"
	BeaconUnpaused       Type = "BeaconUnpaused"
	OwnershipTransferred Type = "OwnershipTransferred"
	ProxyCreated         Type = "ProxyCreated"
	WalletPaused         Type = "WalletPaused"
	WalletUnpaused       Type = "WalletUnpaused"
	WalletExecuted       Type = "WalletExecuted"
	PriceRequested       Type = "PriceRequested"
	PriceProposed        Type = "PriceProposed"
	PriceDisputed        Type = "PriceDisputed"
	PriceSettled         Type = "PriceSettled"
	PayoutsReported      Type = "PayoutsReported"
	ProposerAdded        Type = "ProposerAdded"
	ProposerRemoved      Type = "ProposerRemoved"
)

// Event is an immutable record of a protocol state transition.
type Event struct {
	ID      string         `json:"id"`
	Type    Type           `json:"type"`
	Source  string         `json:"source"`
	Time    time.Time      `json:"time"`
	Payload map[string]any `json:"payload"`
}

func New(t Type, source string, at time.Time, payload map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		Source:  source,
		Time:    at.UTC(),
		Payload: payload,
	}
}

type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus fans events out to every registered sink. Every sink is tried; their
// failures come back joined so the publisher can log them, and they never fail
// the transition that produced the event.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
	log   *slog.Logger
}

func NewBus(log *slog.Logger, sinks ...Sink) *Bus {
	return &Bus{sinks: sinks, log: log}
}

func (b *Bus) Attach(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, ev); err != nil {
			if b.log != nil {
				b.log.Debug("event sink failed", "type", ev.Type, "id", ev.ID, "error", err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of type t in publication order.
func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
