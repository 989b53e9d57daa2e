package models

import "time"

// SessionStatus is the lifecycle state of a listing session
type SessionStatus string

const (
	StatusCollectingPhotos     SessionStatus = "collecting_photos"
	StatusAnalyzing            SessionStatus = "analyzing"
	StatusAwaitingUserInfo     SessionStatus = "awaiting_user_info"
	StatusAwaitingConfirmation SessionStatus = "awaiting_confirmation"
	StatusPublishing           SessionStatus = "publishing"
	StatusDone                 SessionStatus = "done"
	StatusCancelled            SessionStatus = "cancelled"
	StatusError                SessionStatus = "error"
)

// IsTerminal reports whether the status is a final state
func (s SessionStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusError
}

// PendingKind identifies which field a guided dialog is waiting for
type PendingKind string

const (
	PendingCategory  PendingKind = "category"
	PendingCondition PendingKind = "condition"
	PendingPrice     PendingKind = "price"
	PendingTitle     PendingKind = "title"
	PendingAttribute PendingKind = "attribute"
)

// PendingField is the guided-dialog cursor: which answer the session
// is waiting for. AttributeID is set only when Kind is PendingAttribute.
type PendingField struct {
	Kind        PendingKind `json:"kind"`
	AttributeID string      `json:"attribute_id,omitempty"`
}

// Session tracks one product from first photo to published/cancelled/errored
type Session struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status       SessionStatus `json:"status"`
	CollectUntil *time.Time    `json:"collect_until,omitempty"` // meaningful only while collecting_photos

	Photos     []PhotoRef        `json:"photos"`
	Vision     *VisionResult     `json:"vision,omitempty"`
	CategoryID string            `json:"category_id,omitempty"`
	Pricing    *PriceAnalysis    `json:"pricing,omitempty"`
	UserInput  map[string]string `json:"user_input,omitempty"`

	Draft     *ListingDraft  `json:"draft,omitempty"`
	Published *PublishedItem `json:"published,omitempty"`
	Pending   *PendingField  `json:"pending,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ScopeKey returns the active-session ownership key for the session.
// With "user" scope two people in the same group get independent sessions;
// with "group" scope the whole group shares one.
func (s *Session) ScopeKey(scope string) string {
	return ScopeKey(scope, s.GroupID, s.UserID)
}

// ScopeKey builds the ownership key for a (group, user) pair
func ScopeKey(scope, groupID, userID string) string {
	if scope == "group" {
		return groupID
	}
	return groupID + "|" + userID
}

// SetInput records a key=value override (last write wins per key)
func (s *Session) SetInput(key, value string) {
	if s.UserInput == nil {
		s.UserInput = make(map[string]string)
	}
	s.UserInput[key] = value
}
