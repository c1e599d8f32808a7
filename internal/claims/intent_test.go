package claims

import (
	"encoding/json"
	"testing"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		raw      string
		strategy Strategy
		id       string
		ok       bool
	}{
		{"claim 42", StrategySequentialID, "42", true},
		{"Claim #007", StrategySequentialID, "7", true},
		{"  SOLD 12  ", StrategySequentialID, "12", true},
		{"buy ab-12", StrategySKU, "ab-12", true},
		{"buy drop2", StrategySKU, "drop2", true},
		{"#15", StrategySequentialID, "15", true},
		{"15", StrategySequentialID, "15", true},
		{"drop2", StrategyKeyword, "drop2", true},
		{"claim", StrategyKeyword, "claim", true},
		// overflows int64, falls through to the token grammars
		{"claim 99999999999999999999", StrategySKU, "99999999999999999999", true},
		{"99999999999999999999", StrategyKeyword, "99999999999999999999", true},
		{"!!!", "", "", false},
		{"", "", "", false},
		{"   ", "", "", false},
		{"claim ab 12", "", "", false},
		{"ab-12", "", "", false},
		{"claim #ab", "", "", false},
		{"i want 2 please", "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, ok := ParseIntent(tc.raw)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v (%+v)", ok, tc.ok, got)
			}
			if !ok {
				return
			}
			if got.Strategy != tc.strategy || got.Identifier != tc.id || got.Quantity != 1 {
				t.Fatalf("got %+v, want {%s %s 1}", got, tc.strategy, tc.id)
			}
		})
	}
}

func TestIntentJSONRoundTrip(t *testing.T) {
	for _, raw := range []string{"claim 42", "#7", "buy ab-12", "drop2", "claim 99999999999999999999"} {
		in, ok := ParseIntent(raw)
		if !ok {
			t.Fatalf("parse %q failed", raw)
		}
		b, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal %q: %v", raw, err)
		}
		var out Intent
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if out != in {
			t.Fatalf("round trip of %q: got %+v, want %+v", raw, out, in)
		}
	}
}

func TestIntentJSONShape(t *testing.T) {
	b, err := json.Marshal(Intent{Strategy: StrategySequentialID, Identifier: "42", Quantity: 1})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"strategy":"SEQUENTIAL_ID","identifier":42,"quantity":1}`; string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}

	var in Intent
	if err := json.Unmarshal([]byte(`{"strategy":"SEQUENTIAL_ID","identifier":"42","quantity":1}`), &in); err != nil {
		t.Fatal(err)
	}
	if n, ok := in.Number(); !ok || n != 42 {
		t.Fatalf("string identifier not accepted: %+v", in)
	}
}
