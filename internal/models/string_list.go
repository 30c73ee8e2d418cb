package models

import (
	"strings"

	"gorm.io/datatypes"
)

// StringList stores a list of strings as a JSON column.
type StringList = datatypes.JSONSlice[string]

// CleanStrings normalizes a string list by removing blanks and duplicates.
func CleanStrings(list []string) StringList {
	if len(list) == 0 {
		return StringList{}
	}
	seen := make(map[string]struct{}, len(list))
	cleaned := make(StringList, 0, len(list))
	for _, item := range list {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	return cleaned
}

// ContainsString reports whether the list holds the exact value.
func ContainsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// WithoutString returns a copy of the list with the value removed.
func WithoutString(list []string, value string) StringList {
	out := make(StringList, 0, len(list))
	for _, item := range list {
		if item == value {
			continue
		}
		out = append(out, item)
	}
	return out
}
