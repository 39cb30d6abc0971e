package scores

import (
	"testing"
	"time"

	"github.com/medsterhq/medster/internal/fhir"
)

func boolParams(flags ...string) Params {
	p := Params{Flags: map[string]bool{}}
	for _, f := range flags {
		p.Flags[f] = true
	}
	return p
}

func TestWellsDVTNegativeScoreIsLow(t *testing.T) {
	res := WellsDVT(boolParams("alternative_diagnosis"))
	if res.Score != -2 {
		t.Fatalf("expected score -2, got %d", res.Score)
	}
	if res.RiskCategory != "Low" {
		t.Fatalf("expected Low, got %q", res.RiskCategory)
	}
	if res.Extra["dvt_probability"] != "5%" {
		t.Fatalf("expected 5%% probability, got %q", res.Extra["dvt_probability"])
	}
}

func TestWellsDVTModerateAndHigh(t *testing.T) {
	res := WellsDVT(boolParams("active_cancer", "leg_swelling"))
	if res.Score != 2 || res.RiskCategory != "Moderate" {
		t.Fatalf("expected score 2 Moderate, got %d %q", res.Score, res.RiskCategory)
	}
	res = WellsDVT(boolParams("active_cancer", "leg_swelling", "pitting_edema"))
	if res.Score != 3 || res.RiskCategory != "High" {
		t.Fatalf("expected score 3 High, got %d %q", res.Score, res.RiskCategory)
	}
}

func TestCHADSVAScWeights(t *testing.T) {
	res := CHADSVASc(boolParams("chf", "hypertension", "age_75_or_older", "diabetes", "stroke_tia", "vascular_disease", "female"))
	if res.Score != 9 {
		t.Fatalf("expected max score 9, got %d", res.Score)
	}
	if res.Recommendation != "Anticoagulation recommended" {
		t.Fatalf("unexpected recommendation %q", res.Recommendation)
	}
}

func TestCHADSVAScAgeBandsExclusive(t *testing.T) {
	// age_75_or_older must not also count the 65-74 point
	res := CHADSVASc(boolParams("age_75_or_older", "age_65_to_74"))
	if res.Score != 2 {
		t.Fatalf("expected score 2, got %d", res.Score)
	}
}

func TestCHADSVAScZeroNoAnticoagulation(t *testing.T) {
	res := CHADSVASc(Params{})
	if res.Score != 0 || res.Recommendation != "No anticoagulation recommended" {
		t.Fatalf("expected 0 / no anticoagulation, got %d %q", res.Score, res.Recommendation)
	}
	res = CHADSVASc(boolParams("female"))
	if res.Score != 1 || res.Recommendation != "Consider anticoagulation" {
		t.Fatalf("expected 1 / consider, got %d %q", res.Score, res.Recommendation)
	}
}

func TestCURB65Bands(t *testing.T) {
	res := CURB65(boolParams("confusion"))
	if res.RiskCategory != "Low" || res.Extra["30_day_mortality"] != "1.5%" {
		t.Fatalf("expected Low/1.5%%, got %q/%q", res.RiskCategory, res.Extra["30_day_mortality"])
	}
	res = CURB65(boolParams("confusion", "urea_elevated"))
	if res.RiskCategory != "Moderate" || res.Extra["30_day_mortality"] != "9.2%" {
		t.Fatalf("expected Moderate/9.2%%, got %q/%q", res.RiskCategory, res.Extra["30_day_mortality"])
	}
	res = CURB65(boolParams("confusion", "urea_elevated", "age_65_or_older"))
	if res.RiskCategory != "High" || res.Extra["30_day_mortality"] != "22%" {
		t.Fatalf("expected High/22%%, got %q/%q", res.RiskCategory, res.Extra["30_day_mortality"])
	}
}

func TestMELDClampsAndDialysis(t *testing.T) {
	// All inputs at the lower clamp: ln(1)=0 so score = round(6.43) = 6.
	res := MELD(Params{Values: map[string]float64{"creatinine": 0.5, "bilirubin": 0.4, "inr": 0.9}})
	if res.Score != 6 {
		t.Fatalf("expected floor score 6, got %d", res.Score)
	}
	if res.Extra["3_month_mortality"] != "1.9%" {
		t.Fatalf("expected 1.9%% mortality, got %q", res.Extra["3_month_mortality"])
	}

	// Dialysis forces creatinine to 4 regardless of the measured value.
	withDialysis := MELD(Params{
		Flags:  map[string]bool{"dialysis": true},
		Values: map[string]float64{"creatinine": 1.0, "bilirubin": 3.0, "inr": 2.0},
	})
	without := MELD(Params{Values: map[string]float64{"creatinine": 1.0, "bilirubin": 3.0, "inr": 2.0}})
	if withDialysis.Score <= without.Score {
		t.Fatalf("expected dialysis to raise score, got %d vs %d", withDialysis.Score, without.Score)
	}
}

func TestMELDCeiling(t *testing.T) {
	res := MELD(Params{Values: map[string]float64{"creatinine": 10, "bilirubin": 50, "inr": 12}})
	if res.Score != 40 {
		t.Fatalf("expected ceiling score 40, got %d", res.Score)
	}
}

func TestCalculateUnknownScoreType(t *testing.T) {
	if _, err := Calculate("apache2", Params{}); err == nil {
		t.Fatal("expected error for unknown score type")
	}
}

func TestCalculateCarriesDisclaimer(t *testing.T) {
	res, err := Calculate("wells_dvt", Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Disclaimer != Disclaimer {
		t.Fatalf("expected disclaimer on result, got %q", res.Disclaimer)
	}
}

func TestAge(t *testing.T) {
	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	if got := Age("1950-08-30", now); got != 76 {
		t.Fatalf("expected 76, got %d", got)
	}
	if got := Age("1950-08-31", now); got != 75 {
		t.Fatalf("expected 75 before birthday, got %d", got)
	}
	if got := Age("not-a-date", now); got != 0 {
		t.Fatalf("expected 0 for malformed date, got %d", got)
	}
}

func TestExtractCHADSVAScParams(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	demo := map[string]interface{}{"birth_date": "1948-03-10", "gender": "female"}
	conds := []fhir.Condition{
		{Code: "38341003", Display: "Hypertensive disorder"},
		{Code: "99999999", Display: "Congestive heart failure (disorder)"},
	}
	p := ExtractCHADSVAScParams(demo, conds, now)
	for _, f := range []string{"age_75_or_older", "female", "hypertension", "chf"} {
		if !p.Flags[f] {
			t.Fatalf("expected flag %q set, flags: %v", f, p.Flags)
		}
	}
	if p.Flags["age_65_to_74"] {
		t.Fatal("expected age_65_to_74 unset for a 77-year-old")
	}

	res := CHADSVASc(p)
	// chf 1 + hypertension 1 + age>=75 2 + female 1 = 5
	if res.Score != 5 {
		t.Fatalf("expected score 5, got %d", res.Score)
	}
}
