package fhir

import (
	"fmt"
	"strings"
)

// Observation is a flattened lab result or vital sign.
type Observation struct {
	Code           string   `json:"code"`
	Value          string   `json:"value"`
	Unit           string   `json:"unit,omitempty"`
	ReferenceRange string   `json:"reference_range,omitempty"`
	Category       []string `json:"category,omitempty"`
	Status         string   `json:"status,omitempty"`
	Date           string   `json:"date,omitempty"`
}

// Condition is a flattened diagnosis entry.
type Condition struct {
	Code               string `json:"code"`
	Display            string `json:"display"`
	ClinicalStatus     string `json:"clinical_status,omitempty"`
	VerificationStatus string `json:"verification_status,omitempty"`
	OnsetDate          string `json:"onset_date,omitempty"`
	AbatementDate      string `json:"abatement_date,omitempty"`
}

// Medication is a flattened MedicationRequest or MedicationStatement.
type Medication struct {
	Medication        string `json:"medication"`
	Status            string `json:"status,omitempty"`
	AuthoredOn        string `json:"authored_on,omitempty"`
	DosageInstruction string `json:"dosage_instruction,omitempty"`
}

// ExtractObservations flattens Observation resources.
func ExtractObservations(resources []map[string]interface{}) []Observation {
	var out []Observation
	for _, r := range resources {
		if str(r["resourceType"]) != "Observation" {
			continue
		}
		obs := Observation{
			Status: str(r["status"]),
			Date:   ResourceDate(r),
		}
		if cm, ok := r["code"].(map[string]interface{}); ok {
			obs.Code = str(cm["text"])
			if obs.Code == "" {
				for _, coding := range codings(cm) {
					if d := str(coding["display"]); d != "" {
						obs.Code = d
						break
					}
				}
			}
		}
		obs.Value, obs.Unit = observationValue(r)
		obs.ReferenceRange = referenceRange(r)
		if cats, ok := r["category"].([]interface{}); ok {
			for _, c := range cats {
				cm, _ := c.(map[string]interface{})
				if cm == nil {
					continue
				}
				for _, coding := range codings(cm) {
					if code := str(coding["code"]); code != "" {
						obs.Category = append(obs.Category, code)
					}
				}
			}
		}
		out = append(out, obs)
	}
	return out
}

func observationValue(r map[string]interface{}) (value, unit string) {
	if vq, ok := r["valueQuantity"].(map[string]interface{}); ok {
		return trimFloat(vq["value"]), str(vq["unit"])
	}
	if vs := str(r["valueString"]); vs != "" {
		return vs, ""
	}
	if vc, ok := r["valueCodeableConcept"].(map[string]interface{}); ok {
		return str(vc["text"]), ""
	}
	return "", ""
}

func referenceRange(r map[string]interface{}) string {
	ranges, _ := r["referenceRange"].([]interface{})
	if len(ranges) == 0 {
		return ""
	}
	rr, _ := ranges[0].(map[string]interface{})
	if rr == nil {
		return ""
	}
	var low, high string
	if lm, ok := rr["low"].(map[string]interface{}); ok {
		low = trimFloat(lm["value"])
	}
	if hm, ok := rr["high"].(map[string]interface{}); ok {
		high = trimFloat(hm["value"])
	}
	if low == "" && high == "" {
		return ""
	}
	return low + "-" + high
}

// ExtractConditions flattens Condition resources.
func ExtractConditions(resources []map[string]interface{}) []Condition {
	var out []Condition
	for _, r := range resources {
		if str(r["resourceType"]) != "Condition" {
			continue
		}
		c := Condition{
			OnsetDate:     str(r["onsetDateTime"]),
			AbatementDate: str(r["abatementDateTime"]),
		}
		if cm, ok := r["code"].(map[string]interface{}); ok {
			c.Display = str(cm["text"])
			for _, coding := range codings(cm) {
				if c.Code == "" {
					c.Code = str(coding["code"])
				}
				if c.Display == "" {
					c.Display = str(coding["display"])
				}
			}
		}
		c.ClinicalStatus = firstCodingCode(r["clinicalStatus"])
		c.VerificationStatus = firstCodingCode(r["verificationStatus"])
		out = append(out, c)
	}
	return out
}

func firstCodingCode(v interface{}) string {
	concept, _ := v.(map[string]interface{})
	if concept == nil {
		return ""
	}
	for _, coding := range codings(concept) {
		if code := str(coding["code"]); code != "" {
			return code
		}
	}
	return str(concept["text"])
}

// ExtractMedications flattens MedicationRequest and MedicationStatement
// resources.
func ExtractMedications(resources []map[string]interface{}) []Medication {
	var out []Medication
	for _, r := range resources {
		rt := str(r["resourceType"])
		if rt != "MedicationRequest" && rt != "MedicationStatement" {
			continue
		}
		m := Medication{
			Status:     str(r["status"]),
			AuthoredOn: str(r["authoredOn"]),
		}
		if m.AuthoredOn == "" {
			m.AuthoredOn = str(r["effectiveDateTime"])
		}
		if mc, ok := r["medicationCodeableConcept"].(map[string]interface{}); ok {
			m.Medication = str(mc["text"])
			if m.Medication == "" {
				for _, coding := range codings(mc) {
					if d := str(coding["display"]); d != "" {
						m.Medication = d
						break
					}
				}
			}
		}
		if m.Medication == "" {
			m.Medication = "Unknown"
		}
		m.DosageInstruction = dosageText(r)
		out = append(out, m)
	}
	return out
}

func dosageText(r map[string]interface{}) string {
	for _, field := range []string{"dosageInstruction", "dosage"} {
		list, _ := r[field].([]interface{})
		if len(list) == 0 {
			continue
		}
		if dm, ok := list[0].(map[string]interface{}); ok {
			if t := str(dm["text"]); t != "" {
				return t
			}
		}
	}
	return ""
}

func trimFloat(v interface{}) string {
	f, ok := v.(float64)
	if !ok {
		return str(v)
	}
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
