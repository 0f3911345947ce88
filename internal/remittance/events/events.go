// Package events defines the events emitted by committed engine operations and
// the publishers that deliver them to consumers (dashboard live updates,
// compliance archives).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"remittance/internal/remittance/models"
	id "remittance/pkg/domain"
)

// Kind names an event. Values match the event names the dashboard subscribes to.
type Kind string

const (
	KindKYCRequested       Kind = "KYCRequested"
	KindKYCApproved        Kind = "KYCApproved"
	KindKYCRejected        Kind = "KYCRejected"
	KindSent               Kind = "Sent"
	KindClaimed            Kind = "Claimed"
	KindFrozen             Kind = "Frozen"
	KindTierUpdated        Kind = "TierUpdated"
	KindUserWhitelisted    Kind = "UserWhitelisted"
	KindUserBlacklisted    Kind = "UserBlacklisted"
	KindPaused             Kind = "Paused"
	KindUnpaused           Kind = "Unpaused"
	KindTierLimitUpdated   Kind = "TierLimitUpdated"
	KindEmergencyWithdrawn Kind = "EmergencyWithdrawn"
)

// Category classifies events for routing and retention.
type Category string

const (
	// CategoryCompliance covers identity decisions and value movement.
	CategoryCompliance Category = "compliance"
	// CategorySecurity covers restrictions and system-wide switches.
	CategorySecurity Category = "security"
	// CategoryOperations covers configuration changes.
	CategoryOperations Category = "operations"
)

var kindCategories = map[Kind]Category{
	KindKYCRequested:       CategoryCompliance,
	KindKYCApproved:        CategoryCompliance,
	KindKYCRejected:        CategoryCompliance,
	KindSent:               CategoryCompliance,
	KindClaimed:            CategoryCompliance,
	KindEmergencyWithdrawn: CategoryCompliance,

	KindFrozen:          CategorySecurity,
	KindUserBlacklisted: CategorySecurity,
	KindPaused:          CategorySecurity,
	KindUnpaused:        CategorySecurity,

	KindUserWhitelisted:  CategoryOperations,
	KindTierUpdated:      CategoryOperations,
	KindTierLimitUpdated: CategoryOperations,
}

// Category returns the category for k. Unknown kinds default to operations.
func (k Kind) Category() Category {
	if c, ok := kindCategories[k]; ok {
		return c
	}
	return CategoryOperations
}

// Event is appended to the outbox in the same transaction as the mutation it
// describes, so an event exists if and only if its operation committed.
// Only the fields relevant to a Kind are populated.
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Kind       Kind       `json:"kind"`
	OccurredAt time.Time  `json:"occurred_at"`
	RequestID  string     `json:"request_id,omitempty"`
	Actor      id.Address `json:"actor"`
	// Subject is the account the event is about: the KYC applicant, the sender
	// of a remittance, the claimant, the flagged user.
	Subject      id.Address  `json:"subject"`
	Recipient    *id.Address `json:"recipient,omitempty"`
	Amount       uint64      `json:"amount,omitempty"`
	Tier         models.Tier `json:"tier,omitempty"`
	Status       *bool       `json:"status,omitempty"`
	DocumentHash string      `json:"document_hash,omitempty"`
	Reason       string      `json:"reason,omitempty"`
}

// New builds an event with a fresh ID.
func New(kind Kind, actor, subject id.Address, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		OccurredAt: at.UTC(),
		Actor:      actor,
		Subject:    subject,
	}
}

// WithRecipient sets the recipient of a value movement.
func (e Event) WithRecipient(addr id.Address) Event {
	e.Recipient = &addr
	return e
}

// WithStatus sets the boolean payload of a flag event.
func (e Event) WithStatus(v bool) Event {
	e.Status = &v
	return e
}

// Publisher delivers committed events to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
