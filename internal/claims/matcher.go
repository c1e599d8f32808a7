package claims

import "strings"

// MatchRule scans rules in order and returns the variant of the first rule
// whose strategy and identifier both match. A matching rule without a
// resolved variant ends the scan with no match.
func MatchRule(intent Intent, rules []MappingRule) (string, bool) {
	for _, rule := range rules {
		if rule.Strategy != intent.Strategy {
			continue
		}
		if !ruleMatches(intent, rule) {
			continue
		}
		if rule.VariantID == "" {
			return "", false
		}
		return rule.VariantID, true
	}
	return "", false
}

func ruleMatches(intent Intent, rule MappingRule) bool {
	switch intent.Strategy {
	case StrategySequentialID:
		n, ok := intent.Number()
		return ok && rule.SequentialID != nil && *rule.SequentialID == n
	case StrategySKU:
		return rule.SKU != "" && strings.EqualFold(rule.SKU, intent.Identifier)
	case StrategyKeyword, StrategyBarcode:
		return rule.TriggerPattern != "" && strings.EqualFold(rule.TriggerPattern, intent.Identifier)
	}
	return false
}
