// Package session stores conversation history as an append-only event log
// keyed by actor and session.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/szaher/augur/internal/llm"
)

// ErrStore wraps every backend failure.
var ErrStore = errors.New("history store failure")

// Defaults used when a request omits its identifiers.
const (
	DefaultActorID   = "default_user"
	DefaultSessionID = "default_session"
)

// Role is the speaker of a turn.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// Turn is one utterance. Immutable once created.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Key identifies a session.
type Key struct {
	ActorID   string `json:"actor_id"`
	SessionID string `json:"session_id"`
}

// NewKey fills in defaults for empty identifiers.
func NewKey(actorID, sessionID string) Key {
	if actorID == "" {
		actorID = DefaultActorID
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	return Key{ActorID: actorID, SessionID: sessionID}
}

func (k Key) String() string { return k.ActorID + "/" + k.SessionID }

// Event is one append: the turns written together, in order.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Turns     []Turn    `json:"turns"`
}

// Store is the history collaborator.
//
// Append writes turns as a single event; the turns of one event are never
// interleaved with another append to the same session. List returns the most
// recent max events, oldest first. A session that was never written lists as
// empty, not as an error.
type Store interface {
	Append(ctx context.Context, key Key, turns []Turn) error
	List(ctx context.Context, key Key, max int) ([]Event, error)
}

// Pair builds the USER/ASSISTANT pair persisted after a turn.
func Pair(prompt, answer string) []Turn {
	return []Turn{{Role: RoleUser, Text: prompt}, {Role: RoleAssistant, Text: answer}}
}

// Messages flattens events into generation history. Empty turns are skipped
// and a leading assistant message is dropped so the history starts with the
// user.
func Messages(events []Event) []llm.Message {
	var out []llm.Message
	for _, ev := range events {
		for _, t := range ev.Turns {
			if t.Text == "" {
				continue
			}
			var role llm.Role
			switch t.Role {
			case RoleUser:
				role = llm.RoleUser
			case RoleAssistant:
				if len(out) == 0 {
					continue
				}
				role = llm.RoleAssistant
			default:
				continue
			}
			out = append(out, llm.Message{Role: role, Content: t.Text})
		}
	}
	return out
}

func newEvent(turns []Turn, now time.Time) Event {
	return Event{
		ID:        NewEventID(now),
		Timestamp: now.UTC(),
		Turns:     append([]Turn(nil), turns...),
	}
}

func storeErr(op string, key Key, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStore, op, key, err)
}

func validate(turns []Turn) error {
	if len(turns) == 0 {
		return errors.New("no turns to append")
	}
	for i, t := range turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return fmt.Errorf("turn %d: unknown role %q", i, t.Role)
		}
	}
	return nil
}

// tail returns the last max events; max <= 0 means all.
func tail(events []Event, max int) []Event {
	if max > 0 && len(events) > max {
		events = events[len(events)-max:]
	}
	return append([]Event(nil), events...)
}
