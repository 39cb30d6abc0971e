package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/medsterhq/medster/internal/fhir"
	"github.com/medsterhq/medster/internal/scores"
)

// ClinicalScoreTool computes a score from explicitly supplied
// parameters.
type ClinicalScoreTool struct{}

func (t *ClinicalScoreTool) Name() string { return "calculate_clinical_score" }
func (t *ClinicalScoreTool) Description() string {
	return "Calculates a clinical risk score (wells_dvt, chadsvasc, curb65, meld) from explicitly provided parameters."
}
func (t *ClinicalScoreTool) Schema() string {
	return `{
  "type": "object",
  "required": ["score_type"],
  "properties": {
    "score_type": {"type": "string", "enum": ["wells_dvt", "chadsvasc", "curb65", "meld"]},
    "parameters": {
      "type": "object",
      "description": "Score inputs: boolean criteria flags and numeric values (e.g. creatinine, bilirubin, inr for meld).",
      "additionalProperties": true
    }
  },
  "additionalProperties": false
}`
}

func (t *ClinicalScoreTool) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	scoreType := strArg(args, "score_type")
	params := scores.Params{Flags: map[string]bool{}, Values: map[string]float64{}}
	if raw, ok := args["parameters"].(map[string]interface{}); ok {
		for k, v := range raw {
			switch val := v.(type) {
			case bool:
				params.Flags[k] = val
			case float64:
				params.Values[k] = val
			}
		}
	}
	res, err := scores.Calculate(scoreType, params)
	if err != nil {
		return nil, err
	}
	return resultToMap(res)
}

// PatientScoreTool computes a score with parameters derived from the
// patient's record. Only chadsvasc can be fully derived; other scores
// need bedside findings and should use calculate_clinical_score.
type PatientScoreTool struct {
	Store *fhir.Store
	Now   func() time.Time
}

func (t *PatientScoreTool) Name() string { return "calculate_patient_score" }
func (t *PatientScoreTool) Description() string {
	return "Calculates the chadsvasc score for a patient by deriving inputs (age, gender, conditions) from their record."
}
func (t *PatientScoreTool) Schema() string {
	return `{
  "type": "object",
  "required": ["patient_id", "score_type"],
  "properties": {
    "patient_id": {"type": "string", "minLength": 1, "description": "The patient's unique identifier."},
    "score_type": {"type": "string", "enum": ["chadsvasc"]}
  },
  "additionalProperties": false
}`
}

func (t *PatientScoreTool) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	patientID := strArg(args, "patient_id")

	demo, err := t.Store.Demographics(patientID)
	if err != nil {
		return nil, err
	}
	bundle, err := t.Store.LoadBundle(patientID)
	if err != nil {
		return nil, err
	}
	conditions := fhir.ExtractConditions(bundle.Search("Condition", fhir.SearchParams{}))

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	params := scores.ExtractCHADSVAScParams(demo, conditions, now())

	res, err := scores.Calculate(strArg(args, "score_type"), params)
	if err != nil {
		return nil, err
	}
	out, err := resultToMap(res)
	if err != nil {
		return nil, err
	}
	out["patient_id"] = patientID
	derived := map[string]interface{}{}
	for flag, set := range params.Flags {
		if set {
			derived[flag] = true
		}
	}
	out["derived_parameters"] = derived
	return out, nil
}

func resultToMap(res scores.Result) (map[string]interface{}, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
