package model

import "time"

type EventType string

const (
	EventAssigned      EventType = "assigned"
	EventStatusChanged EventType = "status_changed"
	EventCommented     EventType = "commented"
	EventMentioned     EventType = "mentioned"
	EventReassigned    EventType = "reassigned"
	EventUpdated       EventType = "updated"
	EventDueSoon       EventType = "due_soon"
	EventBroadcast     EventType = "broadcast"
)

var EventTypes = []EventType{
	EventAssigned, EventStatusChanged, EventCommented, EventMentioned,
	EventReassigned, EventUpdated, EventDueSoon, EventBroadcast,
}

func (e EventType) Valid() bool {
	for _, t := range EventTypes {
		if t == e {
			return true
		}
	}
	return false
}

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

type Notification struct {
	ID          int64      `json:"id"`
	RecipientID int64      `json:"recipient_id"`
	TaskID      *int64     `json:"task_id"`
	Type        EventType  `json:"type"`
	Message     string     `json:"message"`
	IsRead      bool       `json:"is_read"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at"`
}

// Event is a single-recipient notification request produced by the
// lifecycle engine or the scheduler.
type Event struct {
	Type        EventType
	RecipientID int64
	TaskID      *int64
	Message     string
}

type Preference struct {
	EventType EventType `json:"event_type"`
	InApp     bool      `json:"in_app"`
	Email     bool      `json:"email"`
}

// PreferenceMatrix is a user's opt-in table. Missing entries mean "on".
type PreferenceMatrix map[EventType]Preference

func (m PreferenceMatrix) Allows(e EventType, ch Channel) bool {
	p, ok := m[e]
	if !ok {
		return true
	}
	if ch == ChannelEmail {
		return p.Email
	}
	return p.InApp
}

// Full expands the matrix to one entry per known event type.
func (m PreferenceMatrix) Full() []Preference {
	out := make([]Preference, 0, len(EventTypes))
	for _, e := range EventTypes {
		out = append(out, Preference{
			EventType: e,
			InApp:     m.Allows(e, ChannelInApp),
			Email:     m.Allows(e, ChannelEmail),
		})
	}
	return out
}

// EmailIntent is an email the fanout engine decided to send once the
// surrounding transaction commits.
type EmailIntent struct {
	RecipientID int64
	Type        EventType
	Message     string
}

type BroadcastResult struct {
	RecipientID    int64  `json:"recipient_id"`
	NotificationID *int64 `json:"notification_id,omitempty"`
	Error          string `json:"error,omitempty"`
}
