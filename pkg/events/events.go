package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Type identifies the kind of notification record
type Type string

const (
	TypeProposalCreated     Type = "proposal_created"
	TypeVoteCast            Type = "vote_cast"
	TypeProposalDecided     Type = "proposal_decided"
	TypeProposalExecuted    Type = "proposal_executed"
	TypeProposalCanceled    Type = "proposal_canceled"
	TypeProposalExpired     Type = "proposal_expired"
	TypeRewardDistributed   Type = "reward_distributed"
	TypeRewardConfigUpdated Type = "reward_config_updated"
	TypeFeeCollected        Type = "fee_collected"
	TypeFeeRateUpdated      Type = "fee_rate_updated"
	TypeFundsReceived       Type = "funds_received"
	TypeFundsWithdrawn      Type = "funds_withdrawn"
	TypeRoleGranted         Type = "role_granted"
	TypeRoleRevoked         Type = "role_revoked"
)

// Attribute keys shared by emitters
const (
	AttrProposalID = "proposal_id"
	AttrVoter      = "voter"
	AttrOutcome    = "outcome"
	AttrRecipient  = "recipient"
	AttrAmount     = "amount"
	AttrToken      = "token"
	AttrRole       = "role"
	AttrIdentity   = "identity"
	AttrReason     = "reason"
)

// Event is a structured notification record emitted by a completed
// mutating operation. Records are append-only and never retried.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	Time       time.Time         `json:"time"`
	Attributes map[string]string `json:"attributes"`
}

// Recorder collects notification records for off-engine observers.
// Emitters call Emit only after their state mutations have succeeded,
// so an aborted operation leaves no record behind.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
	log    zerolog.Logger
	now    func() time.Time
}

// NewRecorder creates a new notification recorder
func NewRecorder(log zerolog.Logger) *Recorder {
	return &Recorder{
		log: log,
		now: time.Now,
	}
}

// Emit appends a notification record
func (r *Recorder) Emit(t Type, attrs map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := Event{
		ID:         uuid.NewString(),
		Type:       t,
		Time:       r.now(),
		Attributes: attrs,
	}
	r.events = append(r.events, ev)
	r.log.Info().Str("event", string(t)).Fields(toFields(attrs)).Msg("notification emitted")
}

// Events returns a copy of all recorded notifications
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns all recorded notifications of the given type
func (r *Recorder) ByType(t Type) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0)
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func toFields(attrs map[string]string) map[string]interface{} {
	fields := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		fields[k] = v
	}
	return fields
}
