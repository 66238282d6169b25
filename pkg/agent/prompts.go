package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"agentengine/pkg/actions"
	"agentengine/pkg/memory"
	"agentengine/pkg/utils"
)

const (
	analyzeSystemPrompt = `You analyze messages sent to a career assistant.
Reply with a single JSON object and nothing else:
{"intent": "<short snake_case intent>", "required_info": ["..."], "entities": {"<name>": "<value>"}, "confidence": <0..1>}`

	planSystemPrompt = `You choose which actions a career assistant should run.
Only use actions from the catalogue. Reply with a single JSON object and nothing else:
{"actions": ["<name>", ...], "parameters": {"<name>": {...}}, "strategy": "sequential" | "parallel", "reasoning": "<one sentence>"}
Use an empty "actions" list when no action is needed.`

	respondSystemPrompt = `You are a helpful career assistant. Answer the user directly and concisely.
Base factual statements on the action results provided. If an action failed, say what you could not do.`

	fastPathSystemPrompt = `You are a friendly career assistant. Reply briefly and naturally.`

	// resultTokenLimit bounds the action results section of the RESPOND prompt.
	resultTokenLimit = 3000
)

func analyzePrompt(req Request, history []memory.Turn, budget int) string {
	var sb strings.Builder
	writeHistory(&sb, history, budget)
	fmt.Fprintf(&sb, "Message:\n%s\n", req.Message)
	return sb.String()
}

func planPrompt(req Request, analysis Analysis, catalogue []actions.CatalogueEntry) string {
	var sb strings.Builder
	sb.WriteString("Action catalogue:\n")
	for _, entry := range catalogue {
		fmt.Fprintf(&sb, "- %s: %s\n", entry.Name, entry.Description)
	}
	fmt.Fprintf(&sb, "\nMessage:\n%s\n\nAnalysis:\n%s\n", req.Message, mustJSON(analysis))
	return sb.String()
}

func respondPrompt(req Request, analysis *Analysis, plan *Plan, results *ActionResults, history []memory.Turn, budget int) string {
	var sb strings.Builder
	writeHistory(&sb, history, budget)
	fmt.Fprintf(&sb, "Message:\n%s\n", req.Message)
	if analysis != nil && analysis.Intent != "" {
		fmt.Fprintf(&sb, "\nIntent: %s\n", analysis.Intent)
	}
	if plan != nil && plan.Reasoning != "" {
		fmt.Fprintf(&sb, "Plan: %s\n", plan.Reasoning)
	}
	if results != nil && len(results.Results) > 0 {
		counter := utils.DefaultCounter()
		sb.WriteString("\nAction results:\n")
		for _, name := range plan.Actions {
			res, ok := results.Results[name]
			if !ok {
				continue
			}
			if res.Success {
				fmt.Fprintf(&sb, "- %s: %s\n", name, counter.TruncateToTokenLimit(mustJSON(res.Data), resultTokenLimit/len(plan.Actions)))
			} else {
				fmt.Fprintf(&sb, "- %s failed: %s\n", name, res.Error)
			}
		}
	}
	return sb.String()
}

func fastPathPrompt(req Request, history []memory.Turn, budget int) string {
	var sb strings.Builder
	writeHistory(&sb, history, budget)
	sb.WriteString(req.Message)
	return sb.String()
}

// writeHistory writes the most recent turns that fit in budget tokens.
func writeHistory(sb *strings.Builder, history []memory.Turn, budget int) {
	if len(history) == 0 || budget <= 0 {
		return
	}
	lines := make([]string, len(history))
	for i, t := range history {
		lines[i] = fmt.Sprintf("User: %s\nAssistant: %s\n", t.UserMessage, t.AgentResponse)
	}
	kept := utils.DefaultCounter().KeepRecent(lines, budget)
	if len(kept) == 0 {
		return
	}
	sb.WriteString("Earlier in this conversation:\n")
	for _, line := range kept {
		sb.WriteString(line)
	}
	sb.WriteString("\n")
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
