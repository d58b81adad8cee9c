package automation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

func keywordRule(priority int, keywords ...string) models.AutomationRule {
	return models.AutomationRule{
		ID:               uuid.New(),
		Type:             models.AutomationKeyword,
		TriggerKeywords:  keywords,
		ResponseTemplate: "reply",
		IsActive:         true,
		Priority:         priority,
	}
}

func TestFirstMatchWins(t *testing.T) {
	t.Parallel()

	p1 := keywordRule(1, "iade")
	p2 := keywordRule(2, "iade", "kargo")

	// order of arrival must not matter
	got, ok := NewMatcher().Match([]models.AutomationRule{p2, p1}, Input{Body: "kargo ve iade sorum var"})
	require.True(t, ok)
	assert.Equal(t, p1.ID, got.ID)
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	rule := keywordRule(1, "Kargo")
	got, ok := NewMatcher().Match([]models.AutomationRule{rule}, Input{Body: "KARGO nerede?"})
	require.True(t, ok)
	assert.Equal(t, rule.ID, got.ID)
}

func TestMatchSubstring(t *testing.T) {
	t.Parallel()

	rule := keywordRule(1, "kargo")
	_, ok := NewMatcher().Match([]models.AutomationRule{rule}, Input{Body: "merhaba, kargo durumu?"})
	assert.True(t, ok)
}

func TestNoMatch(t *testing.T) {
	t.Parallel()

	m := NewMatcher()
	cases := []struct {
		name  string
		rules []models.AutomationRule
		body  string
	}{
		{"no rules", nil, "kargo"},
		{"no keyword present", []models.AutomationRule{keywordRule(1, "iade")}, "merhaba"},
		{"empty body", []models.AutomationRule{keywordRule(1, "iade")}, ""},
		{"blank keywords ignored", []models.AutomationRule{keywordRule(1, "", "  ")}, "anything"},
		{"inactive rule", []models.AutomationRule{func() models.AutomationRule {
			r := keywordRule(1, "kargo")
			r.IsActive = false
			return r
		}()}, "kargo"},
		{"non keyword types are passive", []models.AutomationRule{
			{ID: uuid.New(), Type: models.AutomationWelcome, TriggerKeywords: []string{"kargo"}, IsActive: true},
			{ID: uuid.New(), Type: models.AutomationIntent, TriggerKeywords: []string{"kargo"}, IsActive: true},
			{ID: uuid.New(), Type: "unknown", TriggerKeywords: []string{"kargo"}, IsActive: true},
		}, "kargo"},
	}
	for _, tc := range cases {
		got, ok := m.Match(tc.rules, Input{Body: tc.body})
		assert.False(t, ok, tc.name)
		assert.Nil(t, got, tc.name)
	}
}

func TestEqualPriorityBreaksTieByID(t *testing.T) {
	t.Parallel()

	a := keywordRule(5, "kargo")
	b := keywordRule(5, "kargo")
	want := a
	if b.ID.String() < a.ID.String() {
		want = b
	}
	got, ok := NewMatcher().Match([]models.AutomationRule{a, b}, Input{Body: "kargo"})
	require.True(t, ok)
	assert.Equal(t, want.ID, got.ID)
}

type alwaysIntent struct{}

func (alwaysIntent) Type() models.AutomationType { return models.AutomationIntent }

func (alwaysIntent) Matches(*models.AutomationRule, Input) bool { return true }

func TestCustomStrategy(t *testing.T) {
	t.Parallel()

	intent := models.AutomationRule{ID: uuid.New(), Type: models.AutomationIntent, IsActive: true, Priority: 0}
	kw := keywordRule(1, "kargo")

	got, ok := NewMatcher(alwaysIntent{}).Match([]models.AutomationRule{kw, intent}, Input{Body: "kargo"})
	require.True(t, ok)
	assert.Equal(t, intent.ID, got.ID)
}
