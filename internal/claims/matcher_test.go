package claims

import "testing"

func seq(n int64) *int64 { return &n }

func TestMatchRule(t *testing.T) {
	rules := []MappingRule{
		{Strategy: StrategySKU, SKU: "AB-12", TriggerPattern: "ab-12", VariantID: "V1"},
		{Strategy: StrategyKeyword, TriggerPattern: "drop2", VariantID: "V2"},
		{Strategy: StrategySequentialID, TriggerPattern: "#7", SequentialID: seq(7), VariantID: "V7"},
		{Strategy: StrategyKeyword, TriggerPattern: "DROP2", VariantID: "V-late"},
		{Strategy: StrategyKeyword, TriggerPattern: "ghost"},
		{Strategy: StrategyKeyword, TriggerPattern: "ghost", VariantID: "V-ghost"},
		{Strategy: StrategyBarcode, TriggerPattern: "0123456789012", VariantID: "VB"},
	}

	tests := []struct {
		name   string
		intent Intent
		want   string
		ok     bool
	}{
		{"keyword", Intent{StrategyKeyword, "drop2", 1}, "V2", true},
		{"sku case-insensitive", Intent{StrategySKU, "ab-12", 1}, "V1", true},
		{"sku no match", Intent{StrategySKU, "zz-99", 1}, "", false},
		{"sequential", Intent{StrategySequentialID, "7", 1}, "V7", true},
		{"sequential miss", Intent{StrategySequentialID, "8", 1}, "", false},
		{"matching rule without variant stops the scan", Intent{StrategyKeyword, "ghost", 1}, "", false},
		{"barcode", Intent{StrategyBarcode, "0123456789012", 1}, "VB", true},
		{"unknown keyword", Intent{StrategyKeyword, "nope", 1}, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := MatchRule(tc.intent, rules)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("got (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestMatchRuleEmpty(t *testing.T) {
	if _, ok := MatchRule(Intent{StrategyKeyword, "x", 1}, nil); ok {
		t.Fatal("matched against no rules")
	}
}
