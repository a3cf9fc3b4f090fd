package job

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"jobcore/internal/apperrors"
)

// Validation limits
const (
	maxTaskTypeLength = 64
	maxDeadline       = 24 * time.Hour
	maxConfigEntries  = 128
)

// taskTypePattern allows alphanumeric, hyphens, and underscores
var taskTypePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// validateStart checks the arguments of Start. It does not look at config
// contents beyond its size; ValidateConfig handles required keys.
func validateStart(taskType string, cfg Config, deadline time.Duration) error {
	if taskType == "" {
		return apperrors.Validation("taskType", "task type is required")
	}
	if len(taskType) > maxTaskTypeLength {
		return apperrors.Validation("taskType", fmt.Sprintf("task type exceeds maximum length of %d", maxTaskTypeLength))
	}
	if !taskTypePattern.MatchString(taskType) {
		return apperrors.Validation("taskType", "task type must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
	}
	if deadline < 0 {
		return apperrors.Validation("deadline", "deadline cannot be negative")
	}
	if deadline > maxDeadline {
		return apperrors.Validation("deadline", fmt.Sprintf("deadline exceeds maximum of %s", maxDeadline))
	}
	if len(cfg) > maxConfigEntries {
		return apperrors.Validation("config", fmt.Sprintf("config exceeds maximum of %d entries", maxConfigEntries))
	}
	return nil
}

// ValidateConfig checks that every required key is present and non-empty.
func ValidateConfig(required []string, cfg Config) error {
	var missing []string
	for _, key := range required {
		if isEmpty(cfg[key]) {
			missing = append(missing, key)
		}
	}
	switch len(missing) {
	case 0:
		return nil
	case 1:
		return apperrors.Validation("config."+missing[0], fmt.Sprintf("config %q is required", missing[0]))
	default:
		return apperrors.Validation("config", fmt.Sprintf("config keys are required: %s", strings.Join(missing, ", ")))
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
