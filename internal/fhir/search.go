package fhir

import (
	"sort"
	"strings"
)

// SearchParams narrows a resource query within a bundle. Zero values mean
// "no filter". Dates are YYYY-MM-DD prefixes compared lexically, which is
// valid for ISO-8601 timestamps.
type SearchParams struct {
	Category string // matches category[].coding[].code
	Code     string // matches code.coding[].code (observation LOINC codes)
	CodeText string // case-insensitive substring of code.text
	Status   string
	DateFrom string
	DateTo   string
	Limit    int
}

// Search filters a bundle's entries by resource type and params, newest
// first.
func (b *Bundle) Search(resourceType string, p SearchParams) []map[string]interface{} {
	var out []map[string]interface{}
	for _, e := range b.Entry {
		r := e.Resource
		if rt, _ := r["resourceType"].(string); rt != resourceType {
			continue
		}
		if p.Category != "" && !hasCategoryCode(r, p.Category) {
			continue
		}
		if p.Code != "" && !hasCode(r, p.Code) {
			continue
		}
		if p.CodeText != "" && !codeTextContains(r, p.CodeText) {
			continue
		}
		if p.Status != "" && str(r["status"]) != p.Status {
			continue
		}
		d := ResourceDate(r)
		if p.DateFrom != "" && d != "" && d < p.DateFrom {
			continue
		}
		if p.DateTo != "" && d != "" && d > p.DateTo+"￿" {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return ResourceDate(out[i]) > ResourceDate(out[j])
	})
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out
}

// ResourceDate picks the best-known timestamp field for ordering.
func ResourceDate(r map[string]interface{}) string {
	for _, field := range []string{"effectiveDateTime", "date", "issued", "authoredOn", "recordedDate", "onsetDateTime"} {
		if v := str(r[field]); v != "" {
			return v
		}
	}
	return ""
}

func hasCategoryCode(r map[string]interface{}, code string) bool {
	cats, _ := r["category"].([]interface{})
	for _, c := range cats {
		cm, _ := c.(map[string]interface{})
		if cm == nil {
			continue
		}
		for _, coding := range codings(cm) {
			if str(coding["code"]) == code {
				return true
			}
		}
	}
	return false
}

func hasCode(r map[string]interface{}, code string) bool {
	cm, _ := r["code"].(map[string]interface{})
	if cm == nil {
		return false
	}
	for _, coding := range codings(cm) {
		if str(coding["code"]) == code {
			return true
		}
	}
	return false
}

func codeTextContains(r map[string]interface{}, needle string) bool {
	cm, _ := r["code"].(map[string]interface{})
	if cm == nil {
		return false
	}
	text := str(cm["text"])
	if text == "" {
		for _, coding := range codings(cm) {
			if d := str(coding["display"]); d != "" {
				text = d
				break
			}
		}
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(needle))
}

func codings(concept map[string]interface{}) []map[string]interface{} {
	raw, _ := concept["coding"].([]interface{})
	out := make([]map[string]interface{}, 0, len(raw))
	for _, c := range raw {
		if cm, ok := c.(map[string]interface{}); ok {
			out = append(out, cm)
		}
	}
	return out
}
