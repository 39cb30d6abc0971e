package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/medsterhq/medster/internal/fhir"
)

// AnalysisTool runs a fixed set of analysis primitives over a
// patient's extracted records. The primitives compose into the
// filter/group/aggregate queries the model would otherwise ask to
// script.
type AnalysisTool struct {
	Store *fhir.Store
}

func (t *AnalysisTool) Name() string { return "run_analysis" }
func (t *AnalysisTool) Description() string {
	return "Runs an analysis primitive (filter_by_text, filter_by_value, count_by_field, group_by_field, aggregate_numeric) over a patient's labs, vitals, conditions, or medications."
}
func (t *AnalysisTool) Schema() string {
	return `{
  "type": "object",
  "required": ["patient_id", "dataset", "operation", "field"],
  "properties": {
    "patient_id": {"type": "string", "minLength": 1, "description": "The patient's unique identifier."},
    "dataset": {"type": "string", "enum": ["labs", "vitals", "conditions", "medications"]},
    "operation": {"type": "string", "enum": ["filter_by_text", "filter_by_value", "count_by_field", "group_by_field", "aggregate_numeric"]},
    "field": {"type": "string", "minLength": 1, "description": "Record field the operation applies to (e.g. code, value, status)."},
    "search_text": {"type": "string", "description": "Required for filter_by_text."},
    "operator": {"type": "string", "enum": ["gt", "lt", "gte", "lte", "eq"], "description": "Required for filter_by_value."},
    "threshold": {"type": "number", "description": "Required for filter_by_value."}
  },
  "additionalProperties": false
}`
}

func (t *AnalysisTool) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	patientID := strArg(args, "patient_id")
	dataset := strArg(args, "dataset")
	operation := strArg(args, "operation")
	field := strArg(args, "field")

	items, err := t.loadDataset(patientID, dataset)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"patient_id": patientID,
		"dataset":    dataset,
		"operation":  operation,
		"field":      field,
	}

	switch operation {
	case "filter_by_text":
		search := strArg(args, "search_text")
		if search == "" {
			return nil, fmt.Errorf("filter_by_text requires search_text")
		}
		matched := filterByText(items, field, search)
		result["count"] = len(matched)
		result["items"] = matched
	case "filter_by_value":
		op := strArg(args, "operator")
		if op == "" {
			return nil, fmt.Errorf("filter_by_value requires operator")
		}
		matched := filterByValue(items, field, op, floatArg(args, "threshold", 0))
		result["count"] = len(matched)
		result["items"] = matched
	case "count_by_field":
		result["counts"] = countByField(items, field)
	case "group_by_field":
		groups := groupByField(items, field)
		sizes := make(map[string]int, len(groups))
		for k, g := range groups {
			sizes[k] = len(g)
		}
		result["groups"] = groups
		result["group_sizes"] = sizes
	case "aggregate_numeric":
		result["statistics"] = aggregateNumeric(items, field)
	default:
		return nil, fmt.Errorf("unknown operation %q", operation)
	}

	return result, nil
}

func (t *AnalysisTool) loadDataset(patientID, dataset string) ([]map[string]interface{}, error) {
	bundle, err := t.Store.LoadBundle(patientID)
	if err != nil {
		return nil, err
	}
	switch dataset {
	case "labs":
		return toMaps(fhir.ExtractObservations(bundle.Search("Observation", fhir.SearchParams{Category: "laboratory"})))
	case "vitals":
		return toMaps(fhir.ExtractObservations(bundle.Search("Observation", fhir.SearchParams{Category: "vital-signs"})))
	case "conditions":
		return toMaps(fhir.ExtractConditions(bundle.Search("Condition", fhir.SearchParams{})))
	case "medications":
		resources := bundle.Search("MedicationRequest", fhir.SearchParams{})
		resources = append(resources, bundle.Search("MedicationStatement", fhir.SearchParams{})...)
		return toMaps(fhir.ExtractMedications(resources))
	}
	return nil, fmt.Errorf("unknown dataset %q", dataset)
}

func filterByText(items []map[string]interface{}, field, search string) []map[string]interface{} {
	needle := strings.ToLower(search)
	out := []map[string]interface{}{}
	for _, item := range items {
		if strings.Contains(strings.ToLower(fieldString(item, field)), needle) {
			out = append(out, item)
		}
	}
	return out
}

func filterByValue(items []map[string]interface{}, field, operator string, threshold float64) []map[string]interface{} {
	out := []map[string]interface{}{}
	for _, item := range items {
		v, ok := fieldNumber(item, field)
		if !ok {
			continue
		}
		keep := false
		switch operator {
		case "gt":
			keep = v > threshold
		case "lt":
			keep = v < threshold
		case "gte":
			keep = v >= threshold
		case "lte":
			keep = v <= threshold
		case "eq":
			keep = v == threshold
		}
		if keep {
			out = append(out, item)
		}
	}
	return out
}

// FieldCount is one value with its occurrence count, ordered most
// frequent first.
type FieldCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

func countByField(items []map[string]interface{}, field string) []FieldCount {
	counts := map[string]int{}
	for _, item := range items {
		key := fieldString(item, field)
		if key == "" {
			key = "Unknown"
		}
		counts[key]++
	}
	out := make([]FieldCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, FieldCount{Value: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func groupByField(items []map[string]interface{}, field string) map[string][]map[string]interface{} {
	groups := map[string][]map[string]interface{}{}
	for _, item := range items {
		key := fieldString(item, field)
		if key == "" {
			key = "Unknown"
		}
		groups[key] = append(groups[key], item)
	}
	return groups
}

func aggregateNumeric(items []map[string]interface{}, field string) map[string]float64 {
	var values []float64
	for _, item := range items {
		if v, ok := fieldNumber(item, field); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return map[string]float64{"count": 0, "min": 0, "max": 0, "mean": 0, "sum": 0}
	}
	min, max, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	return map[string]float64{
		"count": float64(len(values)),
		"min":   min,
		"max":   max,
		"mean":  sum / float64(len(values)),
		"sum":   sum,
	}
}

func fieldString(item map[string]interface{}, field string) string {
	switch v := item[field].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fieldNumber(item map[string]interface{}, field string) (float64, bool) {
	switch v := item[field].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// toMaps round-trips typed records through JSON so primitives can
// address fields by their wire names.
func toMaps(v interface{}) ([]map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []map[string]interface{}{}
	}
	return out, nil
}
