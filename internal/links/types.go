// Package links defines the link validation domain types and the contracts
// shared by the publisher, the validation channel, and the workers.
package links

import (
	"fmt"
	"time"
)

// ChannelName is the logical name of the validation channel.
const ChannelName = "link-validation"

// Status enumerates link validation states.
type Status string

const (
	// StatusPending marks a link awaiting a probe.
	StatusPending Status = "PENDING"
	// StatusValidated marks a link whose last probe returned 2xx or 3xx.
	StatusValidated Status = "VALIDATED"
	// StatusBroken marks a link whose last probe failed.
	StatusBroken Status = "BROKEN"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusValidated, StatusBroken}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusValidated, StatusBroken:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is the result of a completed probe.
func (s Status) Terminal() bool {
	return s == StatusValidated || s == StatusBroken
}

// ParseStatus converts a stored or user-supplied value into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown link status %q", raw)
	}
	return s, nil
}

// Link is the durable record of an external link.
type Link struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	ProjectID   *string    `json:"projectId"`
	Name        *string    `json:"name"`
	Status      Status     `json:"status"`
	LastChecked *time.Time `json:"lastChecked"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Task returns the validation task for the link's current URL.
func (l Link) Task() Task {
	return Task{ID: l.ID, URL: l.URL}
}

// Task is the transient unit of work carried on the validation channel.
type Task struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Outcome is the result of a completed probe.
type Outcome struct {
	Status    Status
	CheckedAt time.Time
}

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	Status    Status
	ProjectID string
	Limit     int
	Offset    int
}

// Counts maps each status to the number of links holding it.
type Counts map[Status]int64

// Total sums all status buckets.
func (c Counts) Total() int64 {
	var total int64
	for _, n := range c {
		total += n
	}
	return total
}
