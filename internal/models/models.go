package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who a message or presence entry belongs to. A field has
// exactly two human slots plus the counsellor persona.
type Role string

const (
	RolePartnerA   Role = "partner-a"
	RolePartnerB   Role = "partner-b"
	RoleCounsellor Role = "counsellor"
)

// GuidanceMode selects the counsellor's system instruction for a field.
type GuidanceMode string

const (
	GuidanceStandard GuidanceMode = "standard"
	GuidanceConflict GuidanceMode = "conflict-resolution"
	GuidanceIntimacy GuidanceMode = "intimacy-building"
	GuidanceFuture   GuidanceMode = "future-planning"
)

// ValidGuidanceMode reports whether m is one of the supported modes.
func ValidGuidanceMode(m GuidanceMode) bool {
	switch m {
	case GuidanceStandard, GuidanceConflict, GuidanceIntimacy, GuidanceFuture:
		return true
	}
	return false
}

// Tier is the subscription level on a profile.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// FieldStatus is the membership state machine for a field:
// waiting (only partner A has joined) -> full (both slots taken).
// The transition happens through a conditional UPDATE at the store layer
// so two concurrent joins cannot both claim the B slot.
type FieldStatus string

const (
	FieldWaiting FieldStatus = "waiting"
	FieldFull    FieldStatus = "full"
)

// Field is a counselling session room. It is identified by a short code
// rather than a UUID because the code is what one partner reads out to
// the other. Fields are never hard-deleted, only flagged inactive.
type Field struct {
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	CreatorID    uuid.UUID    `json:"creator_id"`
	PartnerAID   *uuid.UUID   `json:"partner_a_id,omitempty"`
	PartnerAName string       `json:"partner_a_name"`
	PartnerBID   *uuid.UUID   `json:"partner_b_id,omitempty"`
	PartnerBName string       `json:"partner_b_name,omitempty"`
	GuidanceMode GuidanceMode `json:"guidance_mode"`
	Status       FieldStatus  `json:"status"`
	Active       bool         `json:"active"`
	LastActiveAt time.Time    `json:"last_active_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// HasPartner reports whether userID occupies one of the two slots.
func (f *Field) HasPartner(userID uuid.UUID) bool {
	if f.PartnerAID != nil && *f.PartnerAID == userID {
		return true
	}
	if f.PartnerBID != nil && *f.PartnerBID == userID {
		return true
	}
	return false
}

// RoleOf returns the slot role for userID, or "" if they are not a partner.
func (f *Field) RoleOf(userID uuid.UUID) Role {
	if f.PartnerAID != nil && *f.PartnerAID == userID {
		return RolePartnerA
	}
	if f.PartnerBID != nil && *f.PartnerBID == userID {
		return RolePartnerB
	}
	return ""
}

// Participant is the ephemeral in-channel identity of one partner. A
// fresh ID is generated on every join; durable identity stays on the
// Profile. The struct doubles as the presence payload other members see.
type Participant struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Online      bool      `json:"online"`
	Paid        bool      `json:"is_paid"`
}

// Message is one entry in a field's transcript. SentAt is milliseconds
// since epoch; ordering is defined by arrival order at the transport,
// the timestamp is informational.
type Message struct {
	ID         string `json:"id"`
	FieldCode  string `json:"field_code"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	SenderRole Role   `json:"sender_role"`
	Content    string `json:"content"`
	SentAt     int64  `json:"sent_at"`
}

// Profile is the durable account record: identity plus the entitlement
// state the usage gate reads and writes. WeeklyCount counts counsellor
// interactions and resets once ResetAt falls out of the rolling window.
type Profile struct {
	UserID       uuid.UUID `json:"user_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Tier         Tier      `json:"tier"`
	WeeklyCount  int       `json:"weekly_count"`
	ResetAt      time.Time `json:"reset_at"`
	CustomerRef  string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
