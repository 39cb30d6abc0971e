package core

import "strings"

// completionOverride forces a task category to stay open until its
// mandatory tooling has actually run, regardless of what the model
// decided. Overrides are data so new categories don't touch the loop.
type completionOverride struct {
	Name     string
	Keywords []string

	// RequiredTool, when set, must appear in the task's step outputs.
	RequiredTool string

	// ShallowTools trigger the check: if any was used, at least one of
	// DeepTools must also have been used.
	ShallowTools []string
	DeepTools    []string
}

var completionOverrides = []completionOverride{
	{
		Name: "delegated_document_analysis",
		Keywords: []string{
			"mcp", "external analysis", "delegate", "remote analysis",
			"specialist server", "analyze_medical_document", "document analysis",
		},
		RequiredTool: "analyze_medical_document",
	},
	{
		Name: "comorbidity_depth",
		Keywords: []string{
			"comorbid", "comprehensive", "coexisting condition", "co-existing condition",
		},
		ShallowTools: []string{"search_patients", "list_patients"},
		DeepTools:    []string{"get_patient_data", "get_conditions"},
	},
}

// matchOverride returns the first override whose keywords match the task
// description, or nil.
func matchOverride(description string) *completionOverride {
	lower := strings.ToLower(description)
	for i := range completionOverrides {
		for _, kw := range completionOverrides[i].Keywords {
			if strings.Contains(lower, kw) {
				return &completionOverrides[i]
			}
		}
	}
	return nil
}

// satisfied reports whether the task's step outputs show the override's
// tool requirements were met.
func (o *completionOverride) satisfied(outputs []string) bool {
	if o.RequiredTool != "" {
		return toolInvoked(outputs, o.RequiredTool)
	}
	shallowUsed := false
	for _, t := range o.ShallowTools {
		if toolInvoked(outputs, t) {
			shallowUsed = true
			break
		}
	}
	if !shallowUsed {
		return true
	}
	for _, t := range o.DeepTools {
		if toolInvoked(outputs, t) {
			return true
		}
	}
	return false
}

// toolInvoked scans formatted outputs for evidence a tool ran. Both
// success and error outputs start with a "Tool: <name>" header.
func toolInvoked(outputs []string, tool string) bool {
	header := "Tool: " + tool + "\n"
	for _, out := range outputs {
		if strings.HasPrefix(out, header) {
			return true
		}
	}
	return false
}
