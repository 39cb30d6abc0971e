// Package scores implements clinical risk score calculators. These are
// decision support tools only; every result carries a disclaimer.
package scores

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Disclaimer is appended to every score result.
const Disclaimer = "Clinical scores are decision support tools. Always use clinical judgment."

// Result is a computed score with its interpretation.
type Result struct {
	ScoreName      string            `json:"score_name"`
	Score          int               `json:"score"`
	RiskCategory   string            `json:"risk_category,omitempty"`
	Recommendation string            `json:"recommendation,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
	Disclaimer     string            `json:"disclaimer"`
}

// Params carries named boolean and numeric inputs for a calculator.
type Params struct {
	Flags  map[string]bool
	Values map[string]float64
}

func (p Params) flag(name string) bool {
	return p.Flags[name]
}

func (p Params) value(name string, def float64) float64 {
	if v, ok := p.Values[name]; ok {
		return v
	}
	return def
}

// Calculator computes one scoring system.
type Calculator func(Params) Result

// Registry maps score type names to calculators.
var Registry = map[string]Calculator{
	"wells_dvt": WellsDVT,
	"chadsvasc": CHADSVASc,
	"curb65":    CURB65,
	"meld":      MELD,
}

// Available lists supported score types, sorted.
func Available() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calculate dispatches to a registered calculator.
func Calculate(scoreType string, p Params) (Result, error) {
	calc, ok := Registry[scoreType]
	if !ok {
		return Result{}, fmt.Errorf("score type %q not implemented (available: %v)", scoreType, Available())
	}
	return calc(p), nil
}

// WellsDVT computes Wells' Criteria for DVT probability.
func WellsDVT(p Params) Result {
	score := 0
	for _, f := range []string{
		"active_cancer",
		"paralysis_or_immobilization",
		"bedridden_or_surgery",
		"localized_tenderness",
		"leg_swelling",
		"calf_swelling_3cm",
		"pitting_edema",
		"collateral_veins",
		"previous_dvt",
	} {
		if p.flag(f) {
			score++
		}
	}
	if p.flag("alternative_diagnosis") {
		score -= 2
	}

	var risk, probability string
	switch {
	case score <= 0:
		risk, probability = "Low", "5%"
	case score <= 2:
		risk, probability = "Moderate", "17%"
	default:
		risk, probability = "High", "53%"
	}

	return Result{
		ScoreName:      "Wells' Criteria for DVT",
		Score:          score,
		RiskCategory:   risk,
		Recommendation: fmt.Sprintf("%s probability - consider D-dimer and/or ultrasound based on clinical judgment", risk),
		Extra:          map[string]string{"dvt_probability": probability},
		Disclaimer:     Disclaimer,
	}
}

// CHADSVASc computes the CHA2DS2-VASc stroke risk score for atrial
// fibrillation.
func CHADSVASc(p Params) Result {
	score := 0
	if p.flag("chf") {
		score++
	}
	if p.flag("hypertension") {
		score++
	}
	if p.flag("age_75_or_older") {
		score += 2
	} else if p.flag("age_65_to_74") {
		score++
	}
	if p.flag("diabetes") {
		score++
	}
	if p.flag("stroke_tia") {
		score += 2
	}
	if p.flag("vascular_disease") {
		score++
	}
	if p.flag("female") {
		score++
	}

	var risk, rec string
	switch {
	case score == 0:
		risk, rec = "Low", "No anticoagulation recommended"
	case score == 1:
		risk, rec = "Low-Moderate", "Consider anticoagulation"
	default:
		risk, rec = "Moderate-High", "Anticoagulation recommended"
	}

	return Result{
		ScoreName:      "CHA2DS2-VASc Score",
		Score:          score,
		RiskCategory:   risk,
		Recommendation: rec,
		Disclaimer:     Disclaimer,
	}
}

// CURB65 computes pneumonia severity.
func CURB65(p Params) Result {
	score := 0
	for _, f := range []string{"confusion", "urea_elevated", "respiratory_rate_30", "low_blood_pressure", "age_65_or_older"} {
		if p.flag(f) {
			score++
		}
	}

	var risk, mortality, rec string
	switch {
	case score <= 1:
		risk, mortality, rec = "Low", "1.5%", "Consider outpatient treatment"
	case score == 2:
		risk, mortality, rec = "Moderate", "9.2%", "Consider short inpatient stay or closely supervised outpatient"
	default:
		risk, mortality, rec = "High", "22%", "Hospitalize, consider ICU if score 4-5"
	}

	return Result{
		ScoreName:      "CURB-65 Pneumonia Severity",
		Score:          score,
		RiskCategory:   risk,
		Recommendation: rec,
		Extra:          map[string]string{"30_day_mortality": mortality},
		Disclaimer:     Disclaimer,
	}
}

// MELD computes the Model for End-Stage Liver Disease score. Inputs are
// clamped per the UNOS formula; dialysis forces creatinine to 4.0.
func MELD(p Params) Result {
	creatinine := math.Max(1.0, math.Min(4.0, p.value("creatinine", 1.0)))
	bilirubin := math.Max(1.0, p.value("bilirubin", 1.0))
	inr := math.Max(1.0, p.value("inr", 1.0))
	if p.flag("dialysis") {
		creatinine = 4.0
	}

	raw := (0.957*math.Log(creatinine) + 0.378*math.Log(bilirubin) + 1.120*math.Log(inr) + 0.643) * 10
	score := int(math.Round(raw))
	if score < 6 {
		score = 6
	}
	if score > 40 {
		score = 40
	}

	var mortality string
	switch {
	case score < 10:
		mortality = "1.9%"
	case score < 20:
		mortality = "6.0%"
	case score < 30:
		mortality = "19.6%"
	case score < 40:
		mortality = "52.6%"
	default:
		mortality = "71.3%"
	}

	return Result{
		ScoreName: "MELD Score",
		Score:     score,
		Extra: map[string]string{
			"3_month_mortality": mortality,
			"note":              "Higher scores indicate more urgent need for transplant",
		},
		Disclaimer: Disclaimer,
	}
}

// Age computes whole years from a YYYY-MM-DD birth date; 0 on parse error.
func Age(birthDate string, now time.Time) int {
	bd, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		return 0
	}
	age := now.Year() - bd.Year()
	if now.Month() < bd.Month() || (now.Month() == bd.Month() && now.Day() < bd.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}
