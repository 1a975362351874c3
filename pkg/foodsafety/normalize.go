// Package foodsafety normalises food-recognition results into a safety
// classification and display values.
//
// The recognition endpoint returns a loosely-shaped JSON object: the safety
// verdict may live under safety_info.is_safe, safety.answer, a bare is_safe
// flag, or only inside free-form Korean/English prose. This package walks the
// candidate fields in priority order and falls back to keyword scanning so
// that callers always get a stable tri-state answer.
package foodsafety

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Classification is the display-level safety verdict for a food.
type Classification string

const (
	// Safe means general consumption is recommended.
	Safe Classification = "safe"

	// Warning means the food needs a second look before eating.
	Warning Classification = "warning"

	// Unknown means no verdict could be derived from the result.
	Unknown Classification = "unknown"
)

// DefaultFoodName is shown when the result carries no food name.
const DefaultFoodName = "인식된 음식"

// DefaultCautionPercent is used when pregnancy_stats.caution_percent is
// absent from the result.
const DefaultCautionPercent = 0.64

var (
	negativePattern = regexp.MustCompile(`(주의|위험|금지|피해|피하|불가|금물|나쁨|해로움|avoid|unsafe|not\s+recommended|no)`)
	positivePattern = regexp.MustCompile(`(안전|추천|가능|괜찮|권장|safe|ok|okay|yes|recommended)`)
)

var positiveLiterals = map[string]bool{
	"true": true, "1": true, "yes": true, "y": true,
	"추천": true, "안전": true, "safe": true, "ok": true, "okay": true,
	"가능": true, "괜찮음": true, "권장": true,
}

var negativeLiterals = map[string]bool{
	"false": true, "0": true, "no": true, "n": true,
	"주의": true, "위험": true, "금지": true, "불가": true,
	"unsafe": true, "avoid": true, "피함": true, "불가능": true,
	"금물": true, "not recommended": true,
}

// ExtractText flattens an arbitrarily nested JSON value into display text.
// Objects prefer an "answer" or "content" string; other values are joined
// with newlines.
func ExtractText(input any) string {
	switch v := input.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return fmt.Sprintf("%t", v)
	case float64:
		return trimFloat(v)
	case []any:
		var parts []string
		for _, item := range v {
			if s := ExtractText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		if s, ok := v["answer"].(string); ok {
			return s
		}
		if s, ok := v["content"].(string); ok {
			return s
		}
		var parts []string
		for _, key := range sortedKeys(v) {
			if s := ExtractText(v[key]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// NormalizeIsSafe derives a tri-state safety verdict from an arbitrary JSON
// value. The second return value reports whether a verdict was found.
func NormalizeIsSafe(input any) (isSafe, ok bool) {
	switch v := input.(type) {
	case nil:
		return false, false
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case []any:
		for _, item := range v {
			if safe, found := NormalizeIsSafe(item); found {
				return safe, true
			}
		}
		return false, false
	case map[string]any:
		if inner, exists := v["is_safe"]; exists {
			if safe, found := NormalizeIsSafe(inner); found {
				return safe, true
			}
		}
		if inner, exists := v["answer"]; exists {
			if safe, found := NormalizeIsSafe(inner); found {
				return safe, true
			}
		}
		var parts []string
		for _, key := range sortedKeys(v) {
			if s, isStr := v[key].(string); isStr {
				parts = append(parts, s)
			}
		}
		return scanKeywords(strings.ToLower(strings.Join(parts, " ")))
	case string:
		normalized := strings.ToLower(strings.TrimSpace(v))
		if positiveLiterals[normalized] {
			return true, true
		}
		if negativeLiterals[normalized] {
			return false, true
		}
		return scanKeywords(normalized)
	default:
		return false, false
	}
}

// scanKeywords applies the negative/positive keyword patterns to text.
// A verdict is only returned when exactly one polarity matches.
func scanKeywords(text string) (isSafe, ok bool) {
	if text == "" {
		return false, false
	}
	hasNegative := negativePattern.MatchString(text)
	hasPositive := positivePattern.MatchString(text)
	switch {
	case hasNegative && !hasPositive:
		return false, true
	case hasPositive && !hasNegative:
		return true, true
	default:
		return false, false
	}
}

// DetermineIsSafe walks the recognition result's safety-bearing fields in
// priority order and normalises the first one that yields a verdict.
func DetermineIsSafe(result map[string]any) (isSafe, ok bool) {
	if result == nil {
		return false, false
	}
	candidates := []any{
		dig(result, "safety_info", "is_safe"),
		dig(result, "safety", "is_safe"),
		result["is_safe"],
		dig(result, "safety_info", "answer"),
		dig(result, "safety", "answer"),
		result["safety_info"],
		result["safety"],
	}
	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		if safe, found := NormalizeIsSafe(candidate); found {
			return safe, true
		}
	}
	return false, false
}

// Classify maps a recognition result to its display classification.
func Classify(result map[string]any) Classification {
	safe, ok := DetermineIsSafe(result)
	switch {
	case !ok:
		return Unknown
	case safe:
		return Safe
	default:
		return Warning
	}
}

// FoodName returns the recognised food name, or [DefaultFoodName] when the
// result carries none.
func FoodName(result map[string]any) string {
	if name, ok := result["food_name"].(string); ok {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			return trimmed
		}
	}
	return DefaultFoodName
}

// NutritionText extracts the nutrition explanation from a result. It prefers
// nutritional_advice (or its nested answer), then falls back to flattening
// everything except the name and safety fields.
func NutritionText(result map[string]any) string {
	if result == nil {
		return ""
	}
	if advice, exists := result["nutritional_advice"]; exists && advice != nil {
		if s := ExtractText(advice); s != "" {
			return s
		}
	}
	rest := make(map[string]any, len(result))
	for key, value := range result {
		switch key {
		case "food_name", "safety_info", "is_safe", "nutritional_advice":
			continue
		}
		rest[key] = value
	}
	return ExtractText(rest)
}

// CautionPercent returns pregnancy_stats.caution_percent clamped to [0, 1],
// defaulting to [DefaultCautionPercent] when absent or non-numeric.
func CautionPercent(result map[string]any) float64 {
	value := DefaultCautionPercent
	if raw := dig(result, "pregnancy_stats", "caution_percent"); raw != nil {
		if f, ok := raw.(float64); ok && !math.IsNaN(f) {
			value = f
		}
	}
	return math.Min(math.Max(value, 0), 1)
}

// CautionLabel returns pregnancy_stats.label, or a templated default built
// from the caution percent and food name.
func CautionLabel(result map[string]any) string {
	if label, ok := dig(result, "pregnancy_stats", "label").(string); ok && label != "" {
		return label
	}
	percent := int(math.Round(CautionPercent(result) * 100))
	return fmt.Sprintf("비슷한 주수에서 약 %d%%가 %s을 '주의'로 선택했어요.", percent, FoodName(result))
}

// dig returns result[outer][inner] when both levels exist, else nil.
func dig(result map[string]any, outer, inner string) any {
	nested, ok := result[outer].(map[string]any)
	if !ok {
		return nil
	}
	return nested[inner]
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func trimFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
