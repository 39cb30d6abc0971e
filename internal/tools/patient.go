package tools

import (
	"context"
	"strings"

	"github.com/medsterhq/medster/internal/fhir"
)

// vitalCodeMap maps common vital sign names to LOINC codes.
var vitalCodeMap = map[string]string{
	"blood-pressure":    "85354-9",
	"heart-rate":        "8867-4",
	"respiratory-rate":  "9279-1",
	"body-temperature":  "8310-5",
	"oxygen-saturation": "2708-6",
}

// ListPatientsTool lists available patient IDs.
type ListPatientsTool struct {
	Store *fhir.Store
}

func (t *ListPatientsTool) Name() string { return "list_patients" }
func (t *ListPatientsTool) Description() string {
	return "Lists available patient IDs in the data set. Use this to discover what patients are available for analysis."
}
func (t *ListPatientsTool) Schema() string {
	return `{
  "type": "object",
  "properties": {
    "limit": {"type": "integer", "minimum": 1, "description": "Maximum number of patients to return. Omit for all."}
  },
  "additionalProperties": false
}`
}

func (t *ListPatientsTool) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	limit := intArg(args, "limit", 0)
	patients, err := t.Store.ListPatients(limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(patients))
	for _, p := range patients {
		ids = append(ids, p.ID)
	}
	return map[string]interface{}{
		"patient_count": len(ids),
		"patients":      ids,
		"note":          "Use these patient IDs with get_patient_labs, get_vital_signs, etc.",
	}, nil
}

// SearchPatientsTool finds patients matching clinical criteria by
// scanning each patient's bundle.
type SearchPatientsTool struct {
	Store *fhir.Store
}

func (t *SearchPatientsTool) Name() string { return "search_patients" }
func (t *SearchPatientsTool) Description() string {
	return "Finds patients matching criteria: a condition keyword, a medication name, or both. Returns matching patient IDs."
}
func (t *SearchPatientsTool) Schema() string {
	return `{
  "type": "object",
  "properties": {
    "condition": {"type": "string", "description": "Condition/diagnosis keyword to search for."},
    "medication": {"type": "string", "description": "Medication name to search for."},
    "limit": {"type": "integer", "minimum": 1, "description": "Maximum patients to return.", "default": 20}
  },
  "additionalProperties": false
}`
}

func (t *SearchPatientsTool) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	condition := strArg(args, "condition")
	medication := strArg(args, "medication")
	limit := intArg(args, "limit", 20)

	patients, err := t.Store.ListPatients(0)
	if err != nil {
		return nil, err
	}

	var filters []string
	if condition != "" {
		filters = append(filters, "condition="+condition)
	}
	if medication != "" {
		filters = append(filters, "medication="+medication)
	}

	var matching []string
	for _, p := range patients {
		if len(matching) >= limit {
			break
		}
		if condition == "" && medication == "" {
			matching = append(matching, p.ID)
			continue
		}
		bundle, err := t.Store.LoadBundle(p.ID)
		if err != nil {
			continue
		}
		if condition != "" && !bundleHasCondition(bundle, condition) {
			continue
		}
		if medication != "" && !bundleHasMedication(bundle, medication) {
			continue
		}
		matching = append(matching, p.ID)
	}
	if filters == nil {
		filters = []string{}
	}

	return map[string]interface{}{
		"patient_ids":     matching,
		"count":           len(matching),
		"filters_applied": filters,
	}, nil
}

func bundleHasCondition(bundle *fhir.Bundle, keyword string) bool {
	kw := strings.ToLower(keyword)
	for _, c := range fhir.ExtractConditions(bundle.Search("Condition", fhir.SearchParams{})) {
		if strings.Contains(strings.ToLower(c.Display), kw) || c.Code == keyword {
			return true
		}
	}
	return false
}

func bundleHasMedication(bundle *fhir.Bundle, keyword string) bool {
	kw := strings.ToLower(keyword)
	resources := bundle.Search("MedicationRequest", fhir.SearchParams{})
	resources = append(resources, bundle.Search("MedicationStatement", fhir.SearchParams{})...)
	for _, m := range fhir.ExtractMedications(resources) {
		if strings.Contains(strings.ToLower(m.Medication), kw) {
			return true
		}
	}
	return false
}

// PatientDataTool assembles a combined view of one patient across data
// types.
type PatientDataTool struct {
	Store *fhir.Store
}

func (t *PatientDataTool) Name() string { return "get_patient_data" }
func (t *PatientDataTool) Description() string {
	return "Retrieves comprehensive patient data combining demographics with labs, vitals, medications, and conditions in a single response."
}
func (t *PatientDataTool) Schema() string {
	return `{
  "type": "object",
  "required": ["patient_id"],
  "properties": {
    "patient_id": {"type": "string", "minLength": 1, "description": "The patient's unique identifier."},
    "data_types": {
      "type": "array",
      "items": {"type": "string", "enum": ["labs", "vitals", "medications", "conditions", "all"]},
      "description": "Data types to retrieve. Default: all."
    },
    "limit": {"type": "integer", "minimum": 1, "description": "Max records per data type.", "default": 50}
  },
  "additionalProperties": false
}`
}

func (t *PatientDataTool) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	patientID := strArg(args, "patient_id")
	limit := intArg(args, "limit", 50)

	wanted := map[string]bool{}
	if raw, ok := args["data_types"].([]interface{}); ok && len(raw) > 0 {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				wanted[s] = true
			}
		}
	} else {
		wanted["all"] = true
	}
	if wanted["all"] {
		for _, dt := range []string{"labs", "vitals", "medications", "conditions"} {
			wanted[dt] = true
		}
	}

	bundle, err := t.Store.LoadBundle(patientID)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{"patient_id": patientID}

	demo, err := t.Store.Demographics(patientID)
	if err != nil {
		result["demographics"] = map[string]interface{}{"error": err.Error()}
	} else {
		result["demographics"] = demo
	}

	if wanted["labs"] {
		labs := fhir.ExtractObservations(bundle.Search("Observation", fhir.SearchParams{Category: "laboratory", Limit: limit}))
		result["labs"] = map[string]interface{}{"lab_count": len(labs), "labs": labs}
	}
	if wanted["vitals"] {
		vitals := fhir.ExtractObservations(bundle.Search("Observation", fhir.SearchParams{Category: "vital-signs", Limit: limit}))
		result["vitals"] = map[string]interface{}{"vital_count": len(vitals), "vitals": vitals}
	}
	if wanted["medications"] {
		resources := bundle.Search("MedicationRequest", fhir.SearchParams{Limit: limit})
		resources = append(resources, bundle.Search("MedicationStatement", fhir.SearchParams{Limit: limit})...)
		meds := fhir.ExtractMedications(resources)
		result["medications"] = map[string]interface{}{"medication_count": len(meds), "medications": meds}
	}
	if wanted["conditions"] {
		conds := fhir.ExtractConditions(bundle.Search("Condition", fhir.SearchParams{Limit: limit}))
		result["conditions"] = map[string]interface{}{"condition_count": len(conds), "conditions": conds}
	}

	return result, nil
}

// PatientLabsTool fetches laboratory results.
type PatientLabsTool struct {
	Store *fhir.Store
}

func (t *PatientLabsTool) Name() string { return "get_patient_labs" }
func (t *PatientLabsTool) Description() string {
	return "Fetches a patient's laboratory results with values, units, and reference ranges, most recent first. Can filter by lab name and date range."
}
func (t *PatientLabsTool) Schema() string {
	return `{
  "type": "object",
  "required": ["patient_id"],
  "properties": {
    "patient_id": {"type": "string", "minLength": 1, "description": "The patient's unique identifier."},
    "lab_type": {"type": "string", "description": "Lab name filter (e.g. 'hemoglobin', 'creatinine'). Omit for all labs."},
    "limit": {"type": "integer", "minimum": 1, "default": 20},
    "date_start": {"type": "string", "description": "Only labs on/after this date (YYYY-MM-DD)."},
    "date_end": {"type": "string", "description": "Only labs on/before this date (YYYY-MM-DD)."}
  },
  "additionalProperties": false
}`
}

func (t *PatientLabsTool) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	patientID := strArg(args, "patient_id")
	bundle, err := t.Store.LoadBundle(patientID)
	if err != nil {
		return nil, err
	}
	labs := fhir.ExtractObservations(bundle.Search("Observation", fhir.SearchParams{
		Category: "laboratory",
		CodeText: strArg(args, "lab_type"),
		DateFrom: strArg(args, "date_start"),
		DateTo:   strArg(args, "date_end"),
		Limit:    intArg(args, "limit", 20),
	}))
	return map[string]interface{}{
		"patient_id": patientID,
		"lab_count":  len(labs),
		"labs":       labs,
	}, nil
}

// VitalSignsTool fetches vital sign measurements.
type VitalSignsTool struct {
	Store *fhir.Store
}

func (t *VitalSignsTool) Name() string { return "get_vital_signs" }
func (t *VitalSignsTool) Description() string {
	return "Retrieves a patient's vital signs (blood pressure, heart rate, respiratory rate, temperature, oxygen saturation), most recent first."
}
func (t *VitalSignsTool) Schema() string {
	return `{
  "type": "object",
  "required": ["patient_id"],
  "properties": {
    "patient_id": {"type": "string", "minLength": 1, "description": "The patient's unique identifier."},
    "vital_type": {"type": "string", "description": "One of blood-pressure, heart-rate, respiratory-rate, body-temperature, oxygen-saturation. Omit for all."},
    "limit": {"type": "integer", "minimum": 1, "default": 50},
    "date_start": {"type": "string", "description": "Only vitals on/after this date (YYYY-MM-DD)."},
    "date_end": {"type": "string", "description": "Only vitals on/before this date (YYYY-MM-DD)."}
  },
  "additionalProperties": false
}`
}

func (t *VitalSignsTool) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	patientID := strArg(args, "patient_id")
	bundle, err := t.Store.LoadBundle(patientID)
	if err != nil {
		return nil, err
	}
	params := fhir.SearchParams{
		Category: "vital-signs",
		DateFrom: strArg(args, "date_start"),
		DateTo:   strArg(args, "date_end"),
		Limit:    intArg(args, "limit", 50),
	}
	if vt := strArg(args, "vital_type"); vt != "" {
		if code, ok := vitalCodeMap[vt]; ok {
			params.Code = code
		} else {
			params.CodeText = vt
		}
	}
	vitals := fhir.ExtractObservations(bundle.Search("Observation", params))
	return map[string]interface{}{
		"patient_id":  patientID,
		"vital_count": len(vitals),
		"vitals":      vitals,
	}, nil
}

// MedicationListTool fetches the medication list.
type MedicationListTool struct {
	Store *fhir.Store
}

func (t *MedicationListTool) Name() string { return "get_medication_list" }
func (t *MedicationListTool) Description() string {
	return "Retrieves a patient's medications with dosage instructions. Useful for medication reconciliation and safety checks."
}
func (t *MedicationListTool) Schema() string {
	return `{
  "type": "object",
  "required": ["patient_id"],
  "properties": {
    "patient_id": {"type": "string", "minLength": 1, "description": "The patient's unique identifier."},
    "active_only": {"type": "boolean", "description": "Only active medications.", "default": true},
    "limit": {"type": "integer", "minimum": 1, "default": 50}
  },
  "additionalProperties": false
}`
}

func (t *MedicationListTool) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	patientID := strArg(args, "patient_id")
	activeOnly := boolArg(args, "active_only", true)
	limit := intArg(args, "limit", 50)

	bundle, err := t.Store.LoadBundle(patientID)
	if err != nil {
		return nil, err
	}
	params := fhir.SearchParams{Limit: limit}
	if activeOnly {
		params.Status = "active"
	}
	resources := bundle.Search("MedicationRequest", params)
	resources = append(resources, bundle.Search("MedicationStatement", params)...)
	meds := fhir.ExtractMedications(resources)

	return map[string]interface{}{
		"patient_id":       patientID,
		"medication_count": len(meds),
		"active_only":      activeOnly,
		"medications":      meds,
	}, nil
}

// ConditionsTool fetches diagnoses and conditions.
type ConditionsTool struct {
	Store *fhir.Store
}

func (t *ConditionsTool) Name() string { return "get_conditions" }
func (t *ConditionsTool) Description() string {
	return "Retrieves a patient's diagnoses and conditions with codes and clinical status. Can filter by keyword and exclude resolved conditions."
}
func (t *ConditionsTool) Schema() string {
	return `{
  "type": "object",
  "required": ["patient_id"],
  "properties": {
    "patient_id": {"type": "string", "minLength": 1, "description": "The patient's unique identifier."},
    "condition_filter": {"type": "string", "description": "Keyword filter (e.g. 'diabetes', 'cancer'). Omit for all conditions."},
    "include_resolved": {"type": "boolean", "description": "Include resolved/historical conditions.", "default": true}
  },
  "additionalProperties": false
}`
}

func (t *ConditionsTool) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	patientID := strArg(args, "patient_id")
	filter := strings.ToLower(strArg(args, "condition_filter"))
	includeResolved := boolArg(args, "include_resolved", true)

	bundle, err := t.Store.LoadBundle(patientID)
	if err != nil {
		return nil, err
	}
	all := fhir.ExtractConditions(bundle.Search("Condition", fhir.SearchParams{}))

	conditions := all[:0:0]
	for _, c := range all {
		if filter != "" && !strings.Contains(strings.ToLower(c.Display), filter) && !strings.Contains(strings.ToLower(c.Code), filter) {
			continue
		}
		if !includeResolved {
			status := strings.ToLower(c.ClinicalStatus)
			if status == "resolved" || status == "inactive" || status == "remission" {
				continue
			}
		}
		conditions = append(conditions, c)
	}

	return map[string]interface{}{
		"patient_id":       patientID,
		"total_conditions": len(conditions),
		"conditions":       conditions,
	}, nil
}

func strArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func boolArg(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func floatArg(args map[string]interface{}, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
