package persistence

import (
	"strings"

	"sentimentengine/internal/retry"
)

func retryMark(err error) error {
	return retry.MarkTransient(err)
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
