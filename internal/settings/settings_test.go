package settings

import (
	"testing"
	"time"
)

func TestDefaultProctoring_valid(t *testing.T) {
	if err := DefaultProctoring().Validate(); err != nil {
		t.Errorf("default proctoring settings should validate: %v", err)
	}
}

func TestProctoring_Validate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Proctoring)
		wantErr bool
	}{
		{"negative tab switches", func(p *Proctoring) { p.AllowedTabSwitches = -1 }, true},
		{"negative face tolerance", func(p *Proctoring) { p.FaceMissingTolerance = -time.Second }, true},
		{"negative attention timeout", func(p *Proctoring) { p.AttentionTimeout = -time.Second }, true},
		{"zero max warnings", func(p *Proctoring) { p.MaxWarnings = 0 }, true},
		{"zero tolerances allowed", func(p *Proctoring) {
			p.AllowedTabSwitches = 0
			p.FaceMissingTolerance = 0
			p.AttentionTimeout = 0
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultProctoring()
			tc.mutate(&p)
			err := p.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRiskThresholds_Validate(t *testing.T) {
	if err := DefaultRiskThresholds().Validate(); err != nil {
		t.Fatalf("default thresholds should validate: %v", err)
	}
	bad := []RiskThresholds{
		{Low: 50, Medium: 50, High: 75},  // not strictly increasing
		{Low: 80, Medium: 50, High: 75},  // out of order
		{Low: -1, Medium: 50, High: 75},  // below range
		{Low: 25, Medium: 50, High: 101}, // above range
	}
	for _, th := range bad {
		if err := th.Validate(); err == nil {
			t.Errorf("thresholds %+v should not validate", th)
		}
	}
}

func TestRiskThresholds_Band(t *testing.T) {
	th := DefaultRiskThresholds() // 25/50/75
	cases := []struct {
		score int
		want  Band
	}{
		{0, BandNone},
		{24, BandNone},
		{25, BandLow},
		{49, BandLow},
		{50, BandMedium},
		{74, BandMedium},
		{75, BandHigh},
		{100, BandHigh},
	}
	for _, tc := range cases {
		if got := th.Band(tc.score); got != tc.want {
			t.Errorf("Band(%d) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestWeights_Validate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights should validate: %v", err)
	}
	if err := (Weights{}).Validate(); err == nil {
		t.Error("all-zero weights should not validate")
	}
	if err := (Weights{TabSwitch: -1, NoFace: 50}).Validate(); err == nil {
		t.Error("negative weight should not validate")
	}
}
