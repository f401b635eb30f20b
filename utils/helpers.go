package utils

import (
	"regexp"
	"strings"
)

var (
	emailRegex      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	trackingIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func ValidateEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// ValidTrackingID reports whether id is non-empty, URL-safe and at most maxLen bytes.
func ValidTrackingID(id string, maxLen int) bool {
	if id == "" || len(id) > maxLen {
		return false
	}
	return trackingIDRegex.MatchString(id)
}

func MaskEmail(email string) string {
	if len(email) < 5 {
		return email
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return email
	}

	username := parts[0]
	domain := parts[1]

	if len(username) > 2 {
		maskedUsername := string(username[0]) + "***" + string(username[len(username)-1])
		return maskedUsername + "@" + domain
	}

	return username + "@" + domain
}

// MaskRecipients masks each address of a comma separated recipient list.
func MaskRecipients(to string) string {
	parts := strings.Split(to, ",")
	for i, p := range parts {
		parts[i] = MaskEmail(strings.TrimSpace(p))
	}
	return strings.Join(parts, ",")
}
