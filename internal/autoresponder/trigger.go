package autoresponder

import (
	"fmt"
	"strings"
	"time"

	"github.com/imobflow/messaging-engine/internal/model"
)

// Event is one inbound message as seen by the responder. The ingestor fills
// the derived flags so trigger evaluation stays pure.
type Event struct {
	TenantID       int64
	ConversationID string
	Channel        model.Channel
	Phone          string
	Text           string

	// FirstContact is true when this message opened a new conversation or
	// arrived after the configured quiet window.
	FirstContact bool
	// WithinBusinessHours is computed against the tenant's configured hours.
	WithinBusinessHours bool

	At time.Time
}

// Trigger decides whether a rule fires for an event.
type Trigger interface {
	Matches(ev Event) bool
}

type keywordTrigger struct {
	keywords []string
}

func (t keywordTrigger) Matches(ev Event) bool {
	text := strings.ToLower(ev.Text)
	for _, kw := range t.keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// businessHoursTrigger fires outside business hours (the away message).
type businessHoursTrigger struct{}

func (businessHoursTrigger) Matches(ev Event) bool { return !ev.WithinBusinessHours }

type firstContactTrigger struct{}

func (firstContactTrigger) Matches(ev Event) bool { return ev.FirstContact }

type allMessagesTrigger struct{}

func (allMessagesTrigger) Matches(Event) bool { return true }

// triggerFor maps a stored rule to its trigger. The set of trigger types is
// closed; an unknown type is an error, never a silent match.
func triggerFor(rule model.AutoResponseRule) (Trigger, error) {
	switch rule.TriggerType {
	case model.TriggerKeyword:
		return keywordTrigger{keywords: rule.Keywords}, nil
	case model.TriggerBusinessHours:
		return businessHoursTrigger{}, nil
	case model.TriggerFirstContact:
		return firstContactTrigger{}, nil
	case model.TriggerAllMessages:
		return allMessagesTrigger{}, nil
	default:
		return nil, fmt.Errorf("unknown trigger type %q", rule.TriggerType)
	}
}
