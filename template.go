package notify

import (
	"fmt"
	"regexp"
	"time"
)

type Template struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`

	Subject  string `json:"subject"`
	TextBody string `json:"textBody"`
	HtmlBody string `json:"htmlBody"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render replaces {{name}} tokens with values from vars. Tokens without a value
// are left as they are.
func Render(body string, vars map[string]interface{}) string {
	if len(vars) == 0 {
		return body
	}

	return tokenPattern.ReplaceAllStringFunc(body, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]

		value, ok := vars[name]
		if !ok || value == nil {
			return token
		}

		return fmt.Sprint(value)
	})
}

// TemplateVars flattens a payload into substitution variables: scalar top-level
// entries first, then anything under templateData on top.
func TemplateVars(payload map[string]interface{}) map[string]interface{} {
	vars := make(map[string]interface{}, len(payload))

	for key, value := range payload {
		switch value.(type) {
		case string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
			vars[key] = value
		}
	}

	if data, ok := payload["templateData"].(map[string]interface{}); ok {
		for key, value := range data {
			vars[key] = value
		}
	}

	return vars
}

// payloadString returns the first non-empty string found under keys.
func payloadString(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}

	return ""
}

func payloadMap(payload map[string]interface{}, key string) map[string]interface{} {
	if m, ok := payload[key].(map[string]interface{}); ok {
		return m
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
