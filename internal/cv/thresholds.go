package cv

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Template families with their own threshold rules
const (
	FamilyDefault    = ""
	FamilySendButton = "send-button"
	FamilyNavigation = "navigation"
	FamilyInputBox   = "input-box"
)

// ThresholdRule adjusts the global threshold for one family:
// effective = clamp(global + Offset, Floor, 1)
type ThresholdRule struct {
	Floor  float64
	Offset float64
}

// ThresholdTable maps an explicitly declared template family to its rule
type ThresholdTable map[string]ThresholdRule

// DefaultThresholds returns the built-in family rules. Send buttons sit on busy
// backgrounds and need a stricter minimum, input boxes are plain and tolerate less.
func DefaultThresholds() ThresholdTable {
	return ThresholdTable{
		FamilySendButton: {Floor: 0.88},
		FamilyNavigation: {Floor: 0.85},
		FamilyInputBox:   {Floor: 0.60, Offset: -0.05},
	}
}

// Effective returns the threshold a template of the given family must reach
func (t ThresholdTable) Effective(family string, global float64) float64 {
	rule := t[family]
	v := global + rule.Offset
	if v < rule.Floor {
		v = rule.Floor
	}
	if v > 1 {
		v = 1
	}
	return v
}

// Merge returns a copy of t with overrides applied
func (t ThresholdTable) Merge(overrides ThresholdTable) ThresholdTable {
	out := make(ThresholdTable, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Families returns the family names in the table, sorted
func (t ThresholdTable) Families() []string {
	names := make([]string, 0, len(t))
	for k := range t {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ParseThresholdRule parses "floor" or "floor,offset" as written in Settings.ini
func ParseThresholdRule(s string) (ThresholdRule, error) {
	parts := strings.Split(s, ",")
	if len(parts) == 0 || len(parts) > 2 {
		return ThresholdRule{}, fmt.Errorf("invalid threshold rule %q", s)
	}

	floor, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return ThresholdRule{}, fmt.Errorf("invalid threshold floor %q: %w", parts[0], err)
	}
	rule := ThresholdRule{Floor: floor}

	if len(parts) == 2 {
		offset, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return ThresholdRule{}, fmt.Errorf("invalid threshold offset %q: %w", parts[1], err)
		}
		rule.Offset = offset
	}
	return rule, nil
}

// String formats the rule the way ParseThresholdRule reads it
func (r ThresholdRule) String() string {
	if r.Offset == 0 {
		return strconv.FormatFloat(r.Floor, 'f', -1, 64)
	}
	return strconv.FormatFloat(r.Floor, 'f', -1, 64) + "," + strconv.FormatFloat(r.Offset, 'f', -1, 64)
}
