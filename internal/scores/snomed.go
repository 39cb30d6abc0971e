package scores

import (
	"strings"
	"time"

	"github.com/medsterhq/medster/internal/fhir"
)

// chadsvascSNOMED maps CHA2DS2-VASc components to SNOMED CT condition
// codes seen in synthetic FHIR bundles.
var chadsvascSNOMED = map[string][]string{
	"chf": {
		"42343007",  // Congestive heart failure
		"88805009",  // Chronic congestive heart failure
		"84114007",  // Heart failure
	},
	"hypertension": {
		"38341003",  // Hypertensive disorder
		"59621000",  // Essential hypertension
	},
	"diabetes": {
		"44054006",  // Diabetes mellitus type 2
		"46635009",  // Diabetes mellitus type 1
		"73211009",  // Diabetes mellitus
	},
	"stroke_tia": {
		"230690007", // Cerebrovascular accident
		"266257000", // Transient ischemic attack
		"371041009", // Embolic stroke
	},
	"vascular_disease": {
		"22298006",  // Myocardial infarction
		"53741008",  // Coronary arteriosclerosis
		"399957001", // Peripheral arterial occlusive disease
	},
}

// chadsvascKeywords is the fallback match on condition display text when
// no code matches.
var chadsvascKeywords = map[string][]string{
	"chf":              {"heart failure", "congestive"},
	"hypertension":     {"hypertension", "hypertensive"},
	"diabetes":         {"diabetes"},
	"stroke_tia":       {"stroke", "cerebrovascular", "transient ischemic"},
	"vascular_disease": {"myocardial infarction", "coronary", "peripheral arterial"},
}

// ExtractCHADSVAScParams derives CHA2DS2-VASc inputs from patient
// demographics and the patient's condition list.
func ExtractCHADSVAScParams(demographics map[string]interface{}, conditions []fhir.Condition, now time.Time) Params {
	flags := map[string]bool{}

	if bd, ok := demographics["birth_date"].(string); ok && bd != "" {
		age := Age(bd, now)
		flags["age_75_or_older"] = age >= 75
		flags["age_65_to_74"] = age >= 65 && age < 75
	}
	if g, ok := demographics["gender"].(string); ok {
		flags["female"] = strings.EqualFold(g, "female")
	}

	for component, codes := range chadsvascSNOMED {
		for _, cond := range conditions {
			if conditionMatches(cond, codes, chadsvascKeywords[component]) {
				flags[component] = true
				break
			}
		}
	}

	return Params{Flags: flags}
}

func conditionMatches(cond fhir.Condition, codes, keywords []string) bool {
	for _, code := range codes {
		if cond.Code == code {
			return true
		}
	}
	display := strings.ToLower(cond.Display)
	for _, kw := range keywords {
		if strings.Contains(display, kw) {
			return true
		}
	}
	return false
}
