package fields

import (
	"encoding/json"
	"fmt"
	"strings"

	"groupbook/backend/internal/domain"
)

type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FieldChoices parses a field's options into choices. Accepted shapes are a
// JSON array of strings or {value,label} objects, an object holding such an
// array under "choices" or "options", or plain text with one choice per line.
func FieldChoices(f domain.CustomField) []Choice {
	raw := strings.TrimSpace(f.FieldOptions)
	if raw == "" {
		return []Choice{}
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return splitLines(raw)
	}
	if obj, ok := v.(map[string]any); ok {
		for _, k := range []string{"choices", "options"} {
			if list, ok := obj[k].([]any); ok {
				return choicesFrom(list)
			}
		}
		return []Choice{}
	}
	if list, ok := v.([]any); ok {
		return choicesFrom(list)
	}
	return []Choice{}
}

// DependentChoices returns the choices a dependent_select offers when its
// parent field holds parentValue. Options are either
// {"parent_field": "...", "choices": {"<parent value>": [...]}} or a bare
// object keyed by parent value.
func DependentChoices(f domain.CustomField, parentValue string) []Choice {
	groups := dependentGroups(f)
	if list, ok := groups[parentValue].([]any); ok {
		return choicesFrom(list)
	}
	return []Choice{}
}

// DependentParent names the field a dependent_select follows, if declared.
func DependentParent(f domain.CustomField) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(f.FieldOptions), &obj); err != nil {
		return ""
	}
	s, _ := obj["parent_field"].(string)
	return s
}

func dependentGroups(f domain.CustomField) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(f.FieldOptions)), &obj); err != nil {
		return nil
	}
	if nested, ok := obj["choices"].(map[string]any); ok {
		return nested
	}
	return obj
}

// ValidationRules decodes a field's rules object. Anything that is not a JSON
// object yields an empty map.
func ValidationRules(f domain.CustomField) map[string]any {
	rules := map[string]any{}
	raw := strings.TrimSpace(f.ValidationRules)
	if raw == "" {
		return rules
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return rules
	}
	return obj
}

func choicesFrom(list []any) []Choice {
	out := make([]Choice, 0, len(list))
	for _, item := range list {
		switch t := item.(type) {
		case string:
			out = append(out, Choice{Value: t, Label: t})
		case float64, bool:
			s := fmt.Sprint(t)
			out = append(out, Choice{Value: s, Label: s})
		case map[string]any:
			value := stringOf(t["value"])
			label := stringOf(t["label"])
			if value == "" {
				value = label
			}
			if label == "" {
				label = value
			}
			if value != "" {
				out = append(out, Choice{Value: value, Label: label})
			}
		}
	}
	return out
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func splitLines(raw string) []Choice {
	out := make([]Choice, 0)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, Choice{Value: line, Label: line})
		}
	}
	return out
}
