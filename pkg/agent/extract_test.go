package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a": 1}`, `{"a": 1}`},
		{"surrounded by prose", `Sure! {"a": {"b": 2}} hope this helps`, `{"a": {"b": 2}}`},
		{"fenced json", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced without tag", "text\n```\n{\"a\": 1}\n```\nmore {\"z\": 0}", `{"a": 1}`},
		{"braces inside strings", `{"s": "a } b { c", "q": "say \"}\""}`, `{"s": "a } b { c", "q": "say \"}\""}`},
		{"unterminated fence", "```json\n{\"a\": 1}", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := extractJSON("no json here")
	assert.ErrorIs(t, err, errNoJSON)
	_, err = extractJSON(`{"a": 1`)
	assert.Error(t, err)
}

func TestParseAnalysis(t *testing.T) {
	a, err := parseAnalysis(`{"intent": " job_search ", "required_info": ["location"], "entities": {"skill": "go"}, "confidence": 1.7}`)
	require.NoError(t, err)
	assert.Equal(t, "job_search", a.Intent)
	assert.Equal(t, []string{"location"}, a.RequiredInfo)
	assert.Equal(t, "go", a.Entities["skill"])
	assert.Equal(t, 1.0, a.Confidence)

	a, err = parseAnalysis(`{"confidence": -3}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Confidence)
	assert.NotNil(t, a.Entities)

	a, err = parseAnalysis("I could not decide")
	assert.Error(t, err)
	assert.Equal(t, "", a.Intent)
	assert.NotNil(t, a.Entities)

	a, err = parseAnalysis(`{"intent": 42}`)
	assert.Error(t, err)
	assert.Equal(t, Analysis{Entities: map[string]any{}}, a)
}

func TestParsePlan(t *testing.T) {
	known := func(name string) bool { return name == "search_jobs" || name == "get_profile" }

	plan, dropped, err := parsePlan(`{
		"actions": ["search_jobs", {"name": "get_profile", "parameters": {"id": "u1"}}, "rm_rf", "search_jobs", 7],
		"parameters": {"search_jobs": {"query": "go"}},
		"strategy": "PARALLEL",
		"reasoning": "both are needed"
	}`, known)
	require.NoError(t, err)
	assert.Equal(t, []string{"search_jobs", "get_profile"}, plan.Actions)
	assert.Equal(t, []string{"rm_rf"}, dropped)
	assert.Equal(t, StrategyParallel, plan.Strategy)
	assert.Equal(t, "both are needed", plan.Reasoning)
	assert.Equal(t, map[string]any{"query": "go"}, plan.Parameters["search_jobs"])
	assert.Equal(t, map[string]any{"id": "u1"}, plan.Parameters["get_profile"])

	plan, _, err = parsePlan(`{"actions": ["get_profile"], "strategy": "whatever"}`, known)
	require.NoError(t, err)
	assert.Equal(t, StrategySequential, plan.Strategy)
	assert.Equal(t, map[string]any{}, plan.Parameters["get_profile"])

	plan, _, err = parsePlan("no plan", known)
	assert.Error(t, err)
	assert.Empty(t, plan.Actions)
	assert.Equal(t, StrategySequential, plan.Strategy)
}
