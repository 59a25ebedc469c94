package notification

import (
	"sandboxnotify/internal/ownership"
	"sandboxnotify/pkg/models"
)

// State is a step of the per-event state machine. Transitions only move
// forward and every terminal state is final.
type State string

const (
	StateReceived           State = "received"
	StateAuthorized         State = "authorized"
	StateOwnershipVerified  State = "ownership_verified"
	StateIdempotencyChecked State = "idempotency_checked"
	StateDelivered          State = "delivered"
	StateSkipped            State = "skipped"
	StateFailed             State = "failed"
)

var stateRank = map[State]int{
	StateReceived:           0,
	StateAuthorized:         1,
	StateOwnershipVerified:  2,
	StateIdempotencyChecked: 3,
	StateDelivered:          4,
	StateSkipped:            4,
	StateFailed:             4,
}

func (s State) Terminal() bool {
	return s == StateDelivered || s == StateSkipped || s == StateFailed
}

// Skip reasons besides the idempotency ones.
const (
	ReasonNoRoute = "no_route"
)

// Outcome is the result of processing one event. Err is set only in
// StateFailed.
type Outcome struct {
	EventID    string
	EventType  models.EventType
	State      State
	SkipReason string
	Results    []models.NotificationResult
	Ownership  *ownership.Result
	Err        error
	History    []State
}

func newOutcome(event *models.Event) *Outcome {
	return &Outcome{
		EventID:   event.ID,
		EventType: event.Type,
		State:     StateReceived,
		History:   []State{StateReceived},
	}
}

// advance moves to next and reports whether the move was legal.
func (o *Outcome) advance(next State) bool {
	if o.State.Terminal() || stateRank[next] <= stateRank[o.State] {
		return false
	}
	o.State = next
	o.History = append(o.History, next)
	return true
}

func (o *Outcome) skip(reason string) {
	if o.advance(StateSkipped) {
		o.SkipReason = reason
	}
}

func (o *Outcome) fail(err error) {
	if o.advance(StateFailed) {
		o.Err = err
	}
}

// Delivered lists the channels that accepted the notification.
func (o *Outcome) Delivered() []models.Channel {
	var out []models.Channel
	for _, r := range o.Results {
		if r.Success {
			out = append(out, r.Channel)
		}
	}
	return out
}
