package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/FueledByOctane/fieldtalk/internal/models"
)

// ChannelPrefix is fixed by the presence-channel naming convention.
const ChannelPrefix = "presence-room-"

// ChannelName builds the channel name for a field code.
func ChannelName(code string) string {
	return ChannelPrefix + strings.ToUpper(code)
}

// EventName is the discriminator of the channel event union.
type EventName string

const (
	EventNewMessage            EventName = "new-message"
	EventUserTyping            EventName = "user-typing"
	EventCounsellorTyping      EventName = "counsellor-typing"
	EventStreamStart           EventName = "counsellor-stream-start"
	EventStreamChunk           EventName = "counsellor-stream"
	EventStreamEnd             EventName = "counsellor-stream-end"
	EventRoomSettings          EventName = "room-settings"
	EventSyncMessages          EventName = "sync-messages"
	EventMemberAdded           EventName = "member-added"
	EventMemberRemoved         EventName = "member-removed"
	EventSubscriptionSucceeded EventName = "subscription-succeeded"
)

// Event is the wire envelope: a name plus a payload whose schema is fixed
// per name. Payloads are validated when an event is built and again when
// one is decoded, so a malformed frame never crosses either boundary.
type Event struct {
	Name EventName       `json:"event"`
	Data json.RawMessage `json:"data"`
}

// UserTyping is a human partner's typing-state broadcast. Receivers
// filter out their own SenderID.
type UserTyping struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	IsTyping   bool   `json:"isTyping"`
}

// CounsellorTyping advertises whether a counsellor turn is in flight.
// False means no turn is running for the room; the engine guarantees
// exactly one false per accepted turn, on every path.
type CounsellorTyping struct {
	IsTyping bool `json:"isTyping"`
}

// StreamStart opens an incremental counsellor reply.
type StreamStart struct {
	ID string `json:"id"`
}

// StreamChunk carries one incremental piece of the reply identified by ID.
type StreamChunk struct {
	ID    string `json:"id"`
	Chunk string `json:"chunk"`
}

// RoomSettings broadcasts a settings change. Nil fields are "unchanged".
type RoomSettings struct {
	SenderID     string               `json:"senderId"`
	GuidanceMode *models.GuidanceMode `json:"guidanceMode,omitempty"`
	IsPaid       *bool                `json:"isPaid,omitempty"`
}

// SyncMessages primes a late joiner with the transcript window.
type SyncMessages struct {
	SenderID string           `json:"senderId"`
	Messages []models.Message `json:"messages"`
}

// MemberChange announces presence membership. A removal does not say
// why: it means "no longer online", never "conversation ended".
type MemberChange struct {
	Member models.Participant `json:"member"`
}

// MemberSnapshot is delivered to a socket right after it subscribes.
type MemberSnapshot struct {
	Members []models.Participant `json:"members"`
}

// payloadFor returns a zero value of the payload type for name, or nil
// for an unknown name.
func payloadFor(name EventName) any {
	switch name {
	case EventNewMessage, EventStreamEnd:
		return &models.Message{}
	case EventUserTyping:
		return &UserTyping{}
	case EventCounsellorTyping:
		return &CounsellorTyping{}
	case EventStreamStart:
		return &StreamStart{}
	case EventStreamChunk:
		return &StreamChunk{}
	case EventRoomSettings:
		return &RoomSettings{}
	case EventSyncMessages:
		return &SyncMessages{}
	case EventMemberAdded, EventMemberRemoved:
		return &MemberChange{}
	case EventSubscriptionSucceeded:
		return &MemberSnapshot{}
	}
	return nil
}

// NewEvent builds a validated envelope. The payload's concrete type must
// match the schema registered for the name.
func NewEvent(name EventName, payload any) (Event, error) {
	want := payloadFor(name)
	if want == nil {
		return Event{}, fmt.Errorf("unknown event name %q", name)
	}
	if fmt.Sprintf("%T", payload) != fmt.Sprintf("%T", want) {
		return Event{}, fmt.Errorf("event %q: payload type %T, want %T", name, payload, want)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %q payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// Decode validates the envelope and unmarshals the payload into its
// typed struct. Unknown names and malformed payloads are errors; callers
// drop such frames instead of forwarding them.
func (e Event) Decode() (any, error) {
	target := payloadFor(e.Name)
	if target == nil {
		return nil, fmt.Errorf("unknown event name %q", e.Name)
	}
	if err := json.Unmarshal(e.Data, target); err != nil {
		return nil, fmt.Errorf("decode %q payload: %w", e.Name, err)
	}
	return target, nil
}

// Encode renders the full envelope as JSON for a socket frame.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
