// Package contextmgr keeps accumulated tool outputs within the model's
// context budget. All functions are pure: no IO and no model calls.
package contextmgr

import (
	"encoding/json"
	"fmt"
)

const (
	// CharsPerToken is the character-to-token ratio used for estimation.
	CharsPerToken = 3.5

	// DefaultMaxOutputTokens bounds the combined size of all task outputs.
	DefaultMaxOutputTokens = 50000

	// DefaultMaxSingleOutputTokens bounds any individual tool output.
	DefaultMaxSingleOutputTokens = 10000

	// DefaultMaxListItems caps list payloads inside JSON tool results.
	DefaultMaxListItems = 20
)

// EstimateTokens approximates the token count of a string.
func EstimateTokens(s string) int {
	return int(float64(len(s)) / CharsPerToken)
}

// TruncateOutput shrinks an output that exceeds maxTokens, keeping the
// beginning and the end and marking the elided middle. Outputs within
// budget come back unchanged.
func TruncateOutput(s string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxSingleOutputTokens
	}
	if EstimateTokens(s) <= maxTokens {
		return s
	}

	maxChars := int(float64(maxTokens) * CharsPerToken)
	keepStart := int(float64(maxChars) * 0.4)
	keepEnd := int(float64(maxChars) * 0.4)
	if keepStart+keepEnd >= len(s) {
		return s
	}

	removed := len(s) - keepStart - keepEnd
	return fmt.Sprintf("%s\n\n... [TRUNCATED: %d characters (~%d tokens) removed for context efficiency] ...\n\n%s",
		s[:keepStart], removed, int(float64(removed)/CharsPerToken), s[len(s)-keepEnd:])
}

// SummarizeListResult trims oversized lists inside a JSON object payload.
// Each list longer than maxItems is cut to its first maxItems entries and
// annotated with "<key>_total_count" and "<key>_truncated" fields. Payloads
// that are not JSON objects are returned unchanged.
func SummarizeListResult(payload string, maxItems int) string {
	if maxItems <= 0 {
		maxItems = DefaultMaxListItems
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return payload
	}

	changed := false
	for key, val := range doc {
		list, ok := val.([]interface{})
		if !ok || len(list) <= maxItems {
			continue
		}
		doc[key+"_total_count"] = len(list)
		doc[key+"_truncated"] = true
		doc[key] = list[:maxItems]
		changed = true
	}
	if !changed {
		return payload
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return payload
	}
	return string(out)
}

// FormatOutput renders one tool invocation result for inclusion in model
// context. List-valued fields are capped to maxItems (recursing through
// nested objects) before serialization, then the whole payload is cut to
// maxTokens.
func FormatOutput(toolName string, args map[string]interface{}, result map[string]interface{}, maxItems, maxTokens int) string {
	if maxItems <= 0 {
		maxItems = DefaultMaxListItems
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxSingleOutputTokens
	}

	var doc interface{} = result
	if raw, err := json.Marshal(result); err == nil {
		var generic map[string]interface{}
		if json.Unmarshal(raw, &generic) == nil {
			doc = summarizeValue(generic, maxItems)
		}
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", result))
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("{}")
	}

	out := fmt.Sprintf("Tool: %s\nArguments: %s\nResult: %s", toolName, argsJSON, payload)
	return TruncateOutput(out, maxTokens)
}

func summarizeValue(v interface{}, maxItems int) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for key, val := range t {
			if list, ok := val.([]interface{}); ok && len(list) > maxItems {
				trimmed := make([]interface{}, 0, maxItems)
				for _, item := range list[:maxItems] {
					trimmed = append(trimmed, summarizeValue(item, maxItems))
				}
				out[key] = trimmed
				out[key+"_total_count"] = len(list)
				out[key+"_truncated"] = true
				continue
			}
			out[key] = summarizeValue(val, maxItems)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, item := range t {
			out = append(out, summarizeValue(item, maxItems))
		}
		return out
	default:
		return v
	}
}

// ManageContextSize keeps the most recent outputs that fit within 80% of
// maxTokens, preserving chronological order. The newest output is always
// kept even if it alone exceeds the budget. When older outputs drop, a
// notice is prepended as the first element.
func ManageContextSize(outputs []string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	if len(outputs) == 0 {
		return outputs
	}

	budget := int(float64(maxTokens) * 0.8)
	total := 0
	kept := 0
	for i := len(outputs) - 1; i >= 0; i-- {
		t := EstimateTokens(outputs[i])
		if kept > 0 && total+t > budget {
			break
		}
		total += t
		kept++
	}

	if kept == len(outputs) {
		return outputs
	}

	dropped := len(outputs) - kept
	managed := make([]string, 0, kept+1)
	managed = append(managed, fmt.Sprintf(
		"[CONTEXT MANAGER: %d earlier outputs truncated to fit context limit. Keeping %d most recent outputs.]\n\n",
		dropped, kept))
	managed = append(managed, outputs[len(outputs)-kept:]...)
	return managed
}

// Stats describes current context usage.
type Stats struct {
	TotalOutputs int     `json:"total_outputs"`
	TotalTokens  int     `json:"total_tokens"`
	TotalChars   int     `json:"total_chars"`
	MaxTokens    int     `json:"max_tokens"`
	UsagePercent float64 `json:"usage_percent"`
	AtRisk       bool    `json:"at_risk"`
}

// GetContextStats reports accumulated usage against maxTokens. AtRisk is
// set once usage passes 80% of the budget.
func GetContextStats(outputs []string, maxTokens int) Stats {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	st := Stats{TotalOutputs: len(outputs), MaxTokens: maxTokens}
	for _, o := range outputs {
		st.TotalChars += len(o)
		st.TotalTokens += EstimateTokens(o)
	}
	st.UsagePercent = float64(st.TotalTokens) / float64(maxTokens) * 100
	st.AtRisk = float64(st.TotalTokens) > float64(maxTokens)*0.8
	return st
}
