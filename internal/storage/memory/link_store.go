// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/link-validator/internal/links"
)

// LinkStore keeps link records in a map guarded by a RWMutex.
type LinkStore struct {
	mu    sync.RWMutex
	links map[string]links.Link
}

// NewLinkStore constructs an empty LinkStore.
func NewLinkStore() *LinkStore {
	return &LinkStore{
		links: make(map[string]links.Link),
	}
}

// Create inserts a new link.
func (s *LinkStore) Create(_ context.Context, link links.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.links[link.ID]; exists {
		return fmt.Errorf("link %s already exists", link.ID)
	}
	s.links[link.ID] = clone(link)
	return nil
}

// Get returns a copy of the stored link.
func (s *LinkStore) Get(_ context.Context, id string) (links.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[id]
	if !ok {
		return links.Link{}, links.ErrNotFound
	}
	return clone(link), nil
}

// Update overwrites the mutable columns of an existing link.
func (s *LinkStore) Update(_ context.Context, link links.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.links[link.ID]
	if !ok {
		return links.ErrNotFound
	}
	current.URL = link.URL
	current.ProjectID = cloneString(link.ProjectID)
	current.Name = cloneString(link.Name)
	current.Status = link.Status
	current.UpdatedAt = link.UpdatedAt
	s.links[link.ID] = current
	return nil
}

// UpdateMetadata overwrites project, name and updated_at only.
func (s *LinkStore) UpdateMetadata(_ context.Context, link links.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.links[link.ID]
	if !ok {
		return links.ErrNotFound
	}
	current.ProjectID = cloneString(link.ProjectID)
	current.Name = cloneString(link.Name)
	current.UpdatedAt = link.UpdatedAt
	s.links[link.ID] = current
	return nil
}

// RecordOutcome stores a probe result on an existing link.
func (s *LinkStore) RecordOutcome(_ context.Context, id string, outcome links.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.links[id]
	if !ok {
		return links.ErrNotFound
	}
	checked := outcome.CheckedAt
	current.Status = outcome.Status
	current.LastChecked = &checked
	current.UpdatedAt = checked
	s.links[id] = current
	return nil
}

// Delete removes a link.
func (s *LinkStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[id]; !ok {
		return links.ErrNotFound
	}
	delete(s.links, id)
	return nil
}

// DeleteAll removes every link and reports how many were dropped.
func (s *LinkStore) DeleteAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.links))
	s.links = make(map[string]links.Link)
	return n, nil
}

// List returns links matching filter ordered by creation time.
func (s *LinkStore) List(_ context.Context, filter links.ListFilter) ([]links.Link, error) {
	s.mu.RLock()
	out := make([]links.Link, 0, len(s.links))
	for _, link := range s.links {
		if filter.Status != "" && link.Status != filter.Status {
			continue
		}
		if filter.ProjectID != "" && (link.ProjectID == nil || *link.ProjectID != filter.ProjectID) {
			continue
		}
		out = append(out, clone(link))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, filter.Offset, filter.Limit), nil
}

// CountByStatus tallies links per status.
func (s *LinkStore) CountByStatus(_ context.Context) (links.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := links.Counts{}
	for _, st := range links.Statuses {
		counts[st] = 0
	}
	for _, link := range s.links {
		counts[link.Status]++
	}
	return counts, nil
}

// ListStalePending returns PENDING links not touched since before.
func (s *LinkStore) ListStalePending(_ context.Context, before time.Time, limit int) ([]links.Link, error) {
	s.mu.RLock()
	var out []links.Link
	for _, link := range s.links {
		if link.Status == links.StatusPending && link.UpdatedAt.Before(before) {
			out = append(out, clone(link))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, 0, limit), nil
}

// Ping always succeeds.
func (s *LinkStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *LinkStore) Close() error { return nil }

func page(in []links.Link, offset, limit int) []links.Link {
	if offset > 0 {
		if offset >= len(in) {
			return []links.Link{}
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func clone(link links.Link) links.Link {
	cp := link
	cp.ProjectID = cloneString(link.ProjectID)
	cp.Name = cloneString(link.Name)
	if link.LastChecked != nil {
		t := *link.LastChecked
		cp.LastChecked = &t
	}
	return cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
