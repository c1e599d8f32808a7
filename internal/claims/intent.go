package claims

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Intent is the structured reading of a claim message. For SEQUENTIAL_ID the
// identifier holds the canonical base-10 number.
type Intent struct {
	Strategy   Strategy
	Identifier string
	Quantity   int
}

type grammar struct {
	re       *regexp.Regexp
	strategy Strategy
}

// Order matters: first match wins.
var grammars = []grammar{
	{regexp.MustCompile(`^(?:sold|claim|buy)\s+#?(\d+)$`), StrategySequentialID},
	{regexp.MustCompile(`^(?:sold|claim|buy)\s+([a-z0-9-]+)$`), StrategySKU},
	{regexp.MustCompile(`^(?:sold|claim|buy)\s+([a-z0-9]+)$`), StrategyKeyword},
	{regexp.MustCompile(`^#?(\d+)$`), StrategySequentialID},
	{regexp.MustCompile(`^([a-z0-9]+)$`), StrategyKeyword},
}

// ParseIntent turns a raw comment or DM into an Intent. Multi-item claims are
// not parsed, quantity is always 1.
func ParseIntent(raw string) (Intent, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return Intent{}, false
	}

	for _, g := range grammars {
		m := g.re.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		id := m[1]
		if g.strategy == StrategySequentialID {
			n, err := strconv.ParseInt(id, 10, 64)
			if err != nil {
				// too large for an id, let the next grammar have it
				continue
			}
			id = strconv.FormatInt(n, 10)
		}
		return Intent{Strategy: g.strategy, Identifier: id, Quantity: 1}, true
	}
	return Intent{}, false
}

// Number returns the sequential id for SEQUENTIAL_ID intents.
func (i Intent) Number() (int64, bool) {
	if i.Strategy != StrategySequentialID {
		return 0, false
	}
	n, err := strconv.ParseInt(i.Identifier, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (i Intent) Qty() int {
	if i.Quantity < 1 {
		return 1
	}
	return i.Quantity
}

type intentJSON struct {
	Strategy   Strategy        `json:"strategy"`
	Identifier json.RawMessage `json:"identifier"`
	Quantity   int             `json:"quantity"`
}

// MarshalJSON writes the identifier as a number for sequential ids so the
// stored snapshot reads naturally.
func (i Intent) MarshalJSON() ([]byte, error) {
	var id []byte
	var err error
	if n, ok := i.Number(); ok {
		id = []byte(strconv.FormatInt(n, 10))
	} else {
		id, err = json.Marshal(i.Identifier)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(intentJSON{Strategy: i.Strategy, Identifier: id, Quantity: i.Quantity})
}

func (i *Intent) UnmarshalJSON(b []byte) error {
	var raw intentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	i.Strategy = raw.Strategy
	i.Quantity = raw.Quantity

	id := bytes.TrimSpace(raw.Identifier)
	switch {
	case len(id) == 0 || bytes.Equal(id, []byte("null")):
		i.Identifier = ""
	case id[0] == '"':
		var s string
		if err := json.Unmarshal(id, &s); err != nil {
			return err
		}
		i.Identifier = s
	default:
		var n json.Number
		if err := json.Unmarshal(id, &n); err != nil {
			return fmt.Errorf("decode intent identifier: %w", err)
		}
		i.Identifier = n.String()
	}
	return nil
}
