package logger

import (
	"encoding/json"
	"fmt"
	"strings"
)

type MaskingType string

const (
	MaskingTypeFull    MaskingType = "full"    // "***"
	MaskingTypePartial MaskingType = "partial" // "a*****z"
	MaskingTypeEmail   MaskingType = "email"   // "a***@example.com"
	MaskingTypeToken   MaskingType = "token"   // keeps the JOSE header segment only
)

type MaskingRule struct {
	Field   string      // dot notation, e.g. "body.secret", "keys.*.d"
	Type    MaskingType
	IsArray bool // mask every element when the field holds an array
}

// MaskData applies masking rules to a JSON-shaped copy of data.
func MaskData(data any, rules []MaskingRule) any {
	if len(rules) == 0 {
		return data
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return data
	}

	var dataMap map[string]any
	if err := json.Unmarshal(jsonBytes, &dataMap); err != nil {
		return data
	}

	for _, rule := range rules {
		applyMaskingRecursive(dataMap, strings.Split(rule.Field, "."), rule.Type, rule.IsArray)
	}

	return dataMap
}

func applyMaskingRecursive(data any, pathParts []string, maskType MaskingType, isArray bool) {
	if len(pathParts) == 0 {
		return
	}

	currentPart := pathParts[0]
	remainingParts := pathParts[1:]

	switch v := data.(type) {
	case map[string]any:
		if currentPart == "*" {
			for key := range v {
				if len(remainingParts) == 0 {
					v[key] = maskValue(v[key], maskType)
				} else {
					applyMaskingRecursive(v[key], remainingParts, maskType, isArray)
				}
			}
			return
		}

		val, exists := v[currentPart]
		if !exists {
			return
		}
		arr, isArr := val.([]any)
		switch {
		case len(remainingParts) == 0 && isArr && isArray:
			for i := range arr {
				arr[i] = maskValue(arr[i], maskType)
			}
		case len(remainingParts) == 0:
			v[currentPart] = maskValue(val, maskType)
		case isArr && isArray:
			for i := range arr {
				applyMaskingRecursive(arr[i], remainingParts, maskType, isArray)
			}
		default:
			applyMaskingRecursive(val, remainingParts, maskType, isArray)
		}

	case []any:
		for i := range v {
			applyMaskingRecursive(v[i], pathParts, maskType, isArray)
		}
	}
}

func maskValue(value any, maskType MaskingType) any {
	strValue, ok := value.(string)
	if !ok {
		strValue = toString(value)
	}

	if strValue == "" {
		return value
	}

	switch maskType {
	case MaskingTypePartial:
		return maskPartial(strValue)
	case MaskingTypeEmail:
		return maskEmail(strValue)
	case MaskingTypeToken:
		return maskToken(strValue)
	default:
		return "***"
	}
}

func maskPartial(s string) string {
	length := len(s)
	if length <= 3 {
		return "***"
	}
	if length <= 6 {
		return string(s[0]) + "***"
	}
	return string(s[0]) + strings.Repeat("*", length-2) + string(s[length-1])
}

func maskEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***"
	}

	username, domain := parts[0], parts[1]
	if len(username) <= 1 {
		return "*@" + domain
	}

	maskLength := len(username) - 1
	if maskLength < 3 {
		maskLength = 3
	}
	return string(username[0]) + strings.Repeat("*", maskLength) + "@" + domain
}

func maskToken(token string) string {
	header, _, found := strings.Cut(token, ".")
	if !found {
		return "***"
	}
	return header + ".***.***"
}

func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return fmt.Sprint(v)
	default:
		jsonBytes, _ := json.Marshal(value)
		return string(jsonBytes)
	}
}
