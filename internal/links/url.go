package links

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxURLLength bounds stored URLs.
	MaxURLLength = 500
	// MaxNameLength bounds link labels.
	MaxNameLength = 255
)

// ValidateURL accepts only absolute http(s) URLs with a host.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return invalid("url", "is required")
	}
	if len(raw) > MaxURLLength {
		return invalid("url", "must be at most 500 characters")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("url", "is not a valid URL")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return invalid("url", "must use http or https")
	}
	if u.Hostname() == "" {
		return invalid("url", "must include a host")
	}
	return nil
}

// ValidateMetadata checks the optional project reference and label.
func ValidateMetadata(projectID, name *string) error {
	if projectID != nil {
		if _, err := uuid.Parse(*projectID); err != nil {
			return invalid("projectId", "must be a UUID")
		}
	}
	if name != nil && len(*name) > MaxNameLength {
		return invalid("name", "must be at most 255 characters")
	}
	return nil
}

// Host returns the lowercase hostname of raw, or "unknown".
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
