package gateway

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"agencycrm/internal/apierr"
)

// Human-readable rewrites for constraint violations the backend leaks verbatim.
const (
	msgDuplicateEmail = "A user with this email already exists."
	msgForeignKey     = "This record is still referenced by other records."
)

// parseErrorBody normalizes the backend's error shapes into one *apierr.Error.
// Accepted shapes: {"message"}, {"error": "..."}, {"error": {"message"}},
// {"detail"}, and a field-keyed {"errors"} map of strings or string lists.
func parseErrorBody(status int, body []byte) *apierr.Error {
	kind := apierr.KindForStatus(status)
	message := ""
	count := -1

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		message = extractMessage(payload)
		count = extractCount(payload)
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) < 300 {
		message = text
	}

	message, kind = rewrite(message, kind)
	if message == "" {
		message = http.StatusText(status)
	}

	e := apierr.New(kind, status, message)
	e.Count = count
	return e
}

func extractMessage(payload map[string]interface{}) string {
	// Field-keyed validation maps win over the generic envelope message.
	if errs, ok := payload["errors"]; ok {
		if msg := firstValidationMessage(errs); msg != "" {
			return msg
		}
	}
	for _, key := range []string{"message", "error", "detail"} {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]interface{}:
			if msg, ok := v["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return ""
}

func firstValidationMessage(errs interface{}) string {
	switch v := errs.(type) {
	case map[string]interface{}:
		fields := make([]string, 0, len(v))
		for field := range v {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			if msg := firstString(v[field]); msg != "" {
				return msg
			}
		}
	case []interface{}:
		return firstString(v)
	case string:
		return v
	}
	return ""
}

func firstString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		for _, item := range t {
			if s := firstString(item); s != "" {
				return s
			}
		}
	case map[string]interface{}:
		if msg, ok := t["message"].(string); ok {
			return msg
		}
	}
	return ""
}

func extractCount(payload map[string]interface{}) int {
	for _, key := range []string{"user_count", "users_count", "count"} {
		if n, ok := payload[key].(float64); ok && n >= 0 {
			return int(n)
		}
	}
	return -1
}

func rewrite(message string, kind apierr.Kind) (string, apierr.Kind) {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "duplicate") && strings.Contains(lower, "email"),
		strings.Contains(lower, "unique") && strings.Contains(lower, "email"):
		return msgDuplicateEmail, apierr.KindValidation
	case strings.Contains(lower, "foreign key"):
		return msgForeignKey, apierr.KindConflict
	}
	return message, kind
}
