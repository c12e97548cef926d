// Package session holds per-user conversation state and the stores that
// persist it between messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

// State is the position of a session in the confirmation flow.
type State string

// Session states. Every path returns to Idle.
const (
	Idle                 State = "idle"
	AwaitingConfirmation State = "awaiting_confirmation"
	AwaitingEdit         State = "awaiting_edit"
)

// ErrNotFound is returned by stores when a user has no saved session.
var ErrNotFound = errors.New("session not found")

// Session is one user's conversation state.
type Session struct {
	UserID string `json:"user_id"`
	State  State  `json:"state"`
	// Pending is set exactly when State is not Idle.
	Pending *api.ExpenseSuggestion `json:"pending,omitempty"`
	// OriginalText is the message the pending suggestion was built from.
	OriginalText string `json:"original_text,omitempty"`
	// UserContext accumulates extra context supplied for regeneration.
	UserContext string `json:"user_context,omitempty"`
	// EditField is the field awaiting a value in AwaitingEdit, or empty.
	EditField       string    `json:"edit_field,omitempty"`
	Turn            int       `json:"turn"`
	LastInteraction time.Time `json:"last_interaction"`
}

// New returns an idle session for userID.
func New(userID string) *Session {
	return &Session{UserID: userID, State: Idle}
}

// Clone returns a deep copy so callers can mutate state without touching the stored version.
func (s *Session) Clone() *Session {
	out := *s
	if s.Pending != nil {
		p := *s.Pending
		p.Tags = slices.Clone(s.Pending.Tags)
		p.Alternatives = slices.Clone(s.Pending.Alternatives)
		out.Pending = &p
	}
	return &out
}

// Expired reports whether a non-idle session has been inactive longer than timeout.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return s.State != Idle && timeout > 0 && now.Sub(s.LastInteraction) > timeout
}

// Present moves to AwaitingConfirmation with a new pending suggestion.
func (s *Session) Present(sugg *api.ExpenseSuggestion, text string) {
	s.State = AwaitingConfirmation
	s.Pending = sugg
	s.OriginalText = text
	s.EditField = ""
}

// BeginEdit moves to AwaitingEdit. field may be empty when the user has not chosen one yet.
func (s *Session) BeginEdit(field string) {
	s.State = AwaitingEdit
	s.EditField = field
}

// EndEdit returns to AwaitingConfirmation keeping the pending suggestion.
func (s *Session) EndEdit() {
	s.State = AwaitingConfirmation
	s.EditField = ""
}

// Reset discards any pending suggestion and returns to Idle.
func (s *Session) Reset() {
	s.State = Idle
	s.Pending = nil
	s.OriginalText = ""
	s.UserContext = ""
	s.EditField = ""
}

// Touch records an interaction.
func (s *Session) Touch(now time.Time) {
	s.Turn++
	s.LastInteraction = now
}

// Validate checks the pending-suggestion invariant.
func (s *Session) Validate() error {
	switch s.State {
	case Idle:
		if s.Pending != nil {
			return fmt.Errorf("idle session %s has a pending suggestion", s.UserID)
		}
	case AwaitingConfirmation, AwaitingEdit:
		if s.Pending == nil {
			return fmt.Errorf("session %s in state %s has no pending suggestion", s.UserID, s.State)
		}
	default:
		return fmt.Errorf("session %s has unknown state %q", s.UserID, s.State)
	}
	return nil
}

// Store persists sessions keyed by user id.
type Store interface {
	// Load returns ErrNotFound when the user has no session.
	Load(ctx context.Context, userID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID string) error
	// List returns every saved session.
	List(ctx context.Context) ([]*Session, error)
}
