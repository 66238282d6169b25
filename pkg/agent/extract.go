package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSON = errors.New("no JSON object found")

// extractJSON finds the first JSON object in model output. A fenced block
// (```json or bare ```) wins; otherwise the first balanced {...} is used.
func extractJSON(text string) (string, error) {
	if block, ok := fencedBlock(text); ok {
		if obj, err := balancedObject(block); err == nil {
			return obj, nil
		}
	}
	return balancedObject(text)
}

func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start == -1 {
		return "", false
	}
	rest := text[start+3:]
	// Skip the language tag line.
	if nl := strings.IndexByte(rest, '\n'); nl != -1 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return rest, true
	}
	return rest[:end], true
}

// balancedObject returns the first {...} whose braces balance, ignoring braces
// inside JSON strings.
func balancedObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", errNoJSON
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object starting at offset %d", start)
}

// decodeJSON extracts and unmarshals the first object in text into v.
func decodeJSON(text string, v any) error {
	obj, err := extractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return nil
}

// parseAnalysis never fails: unusable output yields an empty Analysis.
func parseAnalysis(text string) (Analysis, error) {
	var a Analysis
	err := decodeJSON(text, &a)
	if err != nil {
		a = Analysis{}
	}
	if a.Entities == nil {
		a.Entities = map[string]any{}
	}
	a.Intent = strings.TrimSpace(a.Intent)
	a.Confidence = min(max(a.Confidence, 0), 1)
	return a, err
}

// rawPlan accepts actions either as names or as {"name", "parameters"} objects.
type rawPlan struct {
	Parameters map[string]map[string]any `json:"parameters"`
	Strategy   string                    `json:"strategy"`
	Reasoning  string                    `json:"reasoning"`
	Actions    []json.RawMessage         `json:"actions"`
}

type rawPlanAction struct {
	Parameters map[string]any `json:"parameters"`
	Name       string         `json:"name"`
}

// parsePlan never fails: unusable output yields an empty sequential plan.
// Actions for which known returns false are dropped, as are repeats.
func parsePlan(text string, known func(string) bool) (Plan, []string, error) {
	plan := Plan{Strategy: StrategySequential, Parameters: map[string]map[string]any{}}

	var raw rawPlan
	if err := decodeJSON(text, &raw); err != nil {
		return plan, nil, err
	}
	plan.Reasoning = raw.Reasoning
	if Strategy(strings.ToLower(raw.Strategy)) == StrategyParallel {
		plan.Strategy = StrategyParallel
	}

	var dropped []string
	seen := map[string]bool{}
	for _, item := range raw.Actions {
		var name string
		var params map[string]any
		if err := json.Unmarshal(item, &name); err != nil {
			var obj rawPlanAction
			if json.Unmarshal(item, &obj) != nil {
				continue
			}
			name, params = obj.Name, obj.Parameters
		}
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		if !known(name) {
			dropped = append(dropped, name)
			continue
		}
		seen[name] = true
		plan.Actions = append(plan.Actions, name)
		if p, ok := raw.Parameters[name]; ok {
			params = p
		}
		if params == nil {
			params = map[string]any{}
		}
		plan.Parameters[name] = params
	}
	return plan, dropped, nil
}
