package vault

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/oasisprotocol/yieldvault/common"
)

type EventType string

const (
	EventDeposited            EventType = "Deposited"
	EventWithdrawn            EventType = "Withdrawn"
	EventYieldClaimed         EventType = "YieldClaimed"
	EventFeeCollected         EventType = "FeeCollected"
	EventStrategyChanged      EventType = "StrategyChanged"
	EventStrategyAuthorized   EventType = "StrategyAuthorized"
	EventRewardTokenWithdrawn EventType = "RewardTokenWithdrawn"
	EventFeesWithdrawn        EventType = "FeesWithdrawn"
	EventEmergencyWithdrawn   EventType = "EmergencyWithdrawn"
	EventRewardsClaimed       EventType = "RewardsClaimed"
)

// EventTypes lists every event type the engine emits.
var EventTypes = []EventType{
	EventDeposited,
	EventWithdrawn,
	EventYieldClaimed,
	EventFeeCollected,
	EventStrategyChanged,
	EventStrategyAuthorized,
	EventRewardTokenWithdrawn,
	EventFeesWithdrawn,
	EventEmergencyWithdrawn,
	EventRewardsClaimed,
}

// Event is a notification about a committed vault operation. Only the
// fields relevant to Type are set.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	User       *common.Address `json:"user,omitempty"`
	Adapter    *common.Address `json:"adapter,omitempty"`
	OldAdapter *common.Address `json:"old_adapter,omitempty"`
	NewAdapter *common.Address `json:"new_adapter,omitempty"`
	Token      *common.Address `json:"token,omitempty"`
	To         *common.Address `json:"to,omitempty"`
	Amount     *common.BigInt  `json:"amount,omitempty"`
	Yield      *common.BigInt  `json:"yield,omitempty"`
	Authorized *bool           `json:"authorized,omitempty"`
}

// EventSink receives events after the operation that raised them committed.
type EventSink interface {
	Publish(ctx context.Context, events []Event) error
}

type nopSink struct{}

func (nopSink) Publish(context.Context, []Event) error { return nil }

func newEvent(typ EventType, ts time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, Timestamp: ts}
}

func addr(a common.Address) *common.Address { return &a }

func amount(v *big.Int) *common.BigInt {
	b := common.BigIntFrom(v)
	return &b
}
