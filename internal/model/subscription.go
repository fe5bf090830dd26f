package model

import "time"

// Condition is the side of the threshold a rule watches.
type Condition string

const (
	ConditionUnder Condition = "UNDER"
	ConditionOver  Condition = "OVER"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	return c == ConditionUnder || c == ConditionOver
}

// Operator returns the comparison symbol used in alert lines.
func (c Condition) Operator() string {
	if c == ConditionUnder {
		return "<"
	}
	return ">"
}

// AlertMode controls when a rule fires: on zone entry only, or on every
// cycle spent inside the zone.
type AlertMode string

const (
	ModeCrossing AlertMode = "CROSSING"
	ModeLevel    AlertMode = "LEVEL"
)

// Status is the hysteresis-banded classification of the last reading
// relative to a rule's threshold.
type Status string

const (
	StatusAbove   Status = "ABOVE"
	StatusBelow   Status = "BELOW"
	StatusUnknown Status = "UNKNOWN"
)

// Subscription is a standing alert rule owned by a guild.
type Subscription struct {
	ID            int64     `db:"id"`
	GuildID       int64     `db:"guild_id"`
	Ticker        string    `db:"ticker"`
	Condition     Condition `db:"condition"`
	Threshold     float64   `db:"threshold"`
	Period        int       `db:"period"`
	CooldownHours int       `db:"cooldown_hours"`
	Enabled       bool      `db:"enabled"`
	CreatedBy     int64     `db:"created_by_user_id"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// SubscriptionState is the engine's working memory for one subscription.
// Pointer fields are nil until the rule has been evaluated at least once;
// LastRSI == nil is what distinguishes "never evaluated" from "inside the
// hysteresis band" (both report StatusUnknown).
type SubscriptionState struct {
	SubscriptionID int64      `db:"subscription_id"`
	LastRSI        *float64   `db:"last_rsi"`
	LastClose      *float64   `db:"last_close"`
	LastDate       *string    `db:"last_date"`
	LastStatus     Status     `db:"last_status"`
	LastAlertAt    *time.Time `db:"-"`
	DaysInZone     int        `db:"days_in_zone"`
}

// Evaluated reports whether the engine has ever observed a reading for
// this subscription.
func (s SubscriptionState) Evaluated() bool {
	return s.LastRSI != nil
}

// SubscriptionWithState joins a subscription with its persisted state for
// one evaluation pass.
type SubscriptionWithState struct {
	Subscription
	State SubscriptionState
}

// StateUpdate carries a partial state write. Nil fields are left untouched.
type StateUpdate struct {
	LastRSI     *float64
	LastClose   *float64
	LastDate    *string
	LastStatus  *Status
	LastAlertAt *time.Time
	DaysInZone  *int
}
