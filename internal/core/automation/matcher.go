package automation

import (
	"sort"
	"strings"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

// Input is the message a rule set is evaluated against.
type Input struct {
	Body        string
	ContentType models.ContentType

	lowered string
}

// Lowered returns the body in lower case. It is computed once per Match.
func (in Input) Lowered() string {
	return in.lowered
}

// Strategy decides whether a rule of one automation type fires.
type Strategy interface {
	Type() models.AutomationType
	Matches(rule *models.AutomationRule, in Input) bool
}

// Matcher evaluates automation rules in priority order; the first rule
// whose strategy matches wins.
type Matcher struct {
	strategies map[models.AutomationType]Strategy
}

// NewMatcher returns a matcher with the keyword strategy and passive
// strategies for every other type. extra replaces the defaults per type.
func NewMatcher(extra ...Strategy) *Matcher {
	m := &Matcher{strategies: map[models.AutomationType]Strategy{
		models.AutomationKeyword:       KeywordStrategy{},
		models.AutomationWelcome:       passiveStrategy{t: models.AutomationWelcome},
		models.AutomationIntent:        passiveStrategy{t: models.AutomationIntent},
		models.AutomationSchedule:      passiveStrategy{t: models.AutomationSchedule},
		models.AutomationAbandonedCart: passiveStrategy{t: models.AutomationAbandonedCart},
	}}
	for _, s := range extra {
		m.strategies[s.Type()] = s
	}
	return m
}

// Match returns the winning rule or (nil, false). Rules are ordered by
// priority ascending, then id, whatever order they arrive in.
func (m *Matcher) Match(rules []models.AutomationRule, in Input) (*models.AutomationRule, bool) {
	if len(rules) == 0 {
		return nil, false
	}
	in.lowered = strings.ToLower(in.Body)

	ordered := make([]*models.AutomationRule, 0, len(rules))
	for i := range rules {
		if rules[i].IsActive {
			ordered = append(ordered, &rules[i])
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	for _, rule := range ordered {
		s, ok := m.strategies[rule.Type]
		if !ok {
			continue
		}
		if s.Matches(rule, in) {
			return rule, true
		}
	}
	return nil, false
}

// KeywordStrategy fires when the lowercased body contains any of the
// rule's keywords.
type KeywordStrategy struct{}

func (KeywordStrategy) Type() models.AutomationType {
	return models.AutomationKeyword
}

func (KeywordStrategy) Matches(rule *models.AutomationRule, in Input) bool {
	body := in.Lowered()
	if body == "" {
		return false
	}
	for _, kw := range rule.TriggerKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(body, kw) {
			return true
		}
	}
	return false
}

// passiveStrategy never matches inbound messages. Welcome, schedule and
// abandoned-cart rules are driven by other triggers; intent needs an NLU
// engine the router does not have.
type passiveStrategy struct {
	t models.AutomationType
}

func (p passiveStrategy) Type() models.AutomationType {
	return p.t
}

func (passiveStrategy) Matches(*models.AutomationRule, Input) bool {
	return false
}
