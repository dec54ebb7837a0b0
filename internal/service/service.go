// Package service owns the link lifecycle: it stores records and publishes
// validation tasks for them. It never waits for validation to finish.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/clock/system"
	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/metrics"
)

// ErrDeleteAllDisabled is returned by RemoveAll when bulk deletion is off.
var ErrDeleteAllDisabled = errors.New("bulk delete is disabled")

// Input carries the caller-supplied fields of a link.
type Input struct {
	URL       string
	ProjectID *string
	Name      *string
}

// Config toggles optional operations.
type Config struct {
	AllowDeleteAll bool
}

// Service implements the task publisher.
type Service struct {
	store   links.Store
	channel links.Channel
	ids     links.IDGenerator
	clock   links.Clock
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New wires a Service. clock may be nil.
func New(
	store links.Store,
	channel links.Channel,
	ids links.IDGenerator,
	clock links.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Service{
		store:   store,
		channel: channel,
		ids:     ids,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/JakeFAU/link-validator/internal/service"),
	}
}

// Submit stores a PENDING link and publishes a validation task for it.
// A failed publish is logged and counted; the stored link is still returned.
func (s *Service) Submit(ctx context.Context, in Input) (links.Link, error) {
	ctx, span := s.tracer.Start(ctx, "link.submit")
	defer span.End()

	if err := links.ValidateURL(in.URL); err != nil {
		return links.Link{}, err
	}
	if err := links.ValidateMetadata(in.ProjectID, in.Name); err != nil {
		return links.Link{}, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return links.Link{}, fmt.Errorf("new link id: %w", err)
	}
	now := s.clock.Now()
	link := links.Link{
		ID:        id,
		URL:       in.URL,
		ProjectID: in.ProjectID,
		Name:      in.Name,
		Status:    links.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, link); err != nil {
		return links.Link{}, fmt.Errorf("create link: %w", err)
	}
	span.SetAttributes(attribute.String("link.id", id))

	s.publish(ctx, link.Task(), "submit")
	return link, nil
}

// Amend overwrites the link's metadata. A changed URL resets the status to
// PENDING and publishes a new task; an unchanged URL leaves status alone.
func (s *Service) Amend(ctx context.Context, id string, in Input) (links.Link, error) {
	ctx, span := s.tracer.Start(ctx, "link.amend", trace.WithAttributes(attribute.String("link.id", id)))
	defer span.End()

	if err := links.ValidateMetadata(in.ProjectID, in.Name); err != nil {
		return links.Link{}, err
	}
	link, err := s.store.Get(ctx, id)
	if err != nil {
		return links.Link{}, fmt.Errorf("load link %s: %w", id, err)
	}

	link.ProjectID = in.ProjectID
	link.Name = in.Name
	link.UpdatedAt = s.clock.Now()

	changed := link.URL != in.URL
	if changed {
		if err := links.ValidateURL(in.URL); err != nil {
			return links.Link{}, err
		}
		link.URL = in.URL
		link.Status = links.StatusPending
	}

	if !changed {
		// The status read above may be stale by now; only the metadata is ours to write.
		if err := s.store.UpdateMetadata(ctx, link); err != nil {
			return links.Link{}, fmt.Errorf("update link %s: %w", id, err)
		}
		return link, nil
	}
	if err := s.store.Update(ctx, link); err != nil {
		return links.Link{}, fmt.Errorf("update link %s: %w", id, err)
	}
	s.publish(ctx, link.Task(), "amend")
	return link, nil
}

// Remove deletes the link. A task already in flight finds nothing to update.
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete link %s: %w", id, err)
	}
	s.logger.Debug("link removed", zap.String("link_id", id))
	return nil
}

// RemoveAll deletes every link when enabled.
func (s *Service) RemoveAll(ctx context.Context) (int64, error) {
	if !s.cfg.AllowDeleteAll {
		return 0, ErrDeleteAllDisabled
	}
	n, err := s.store.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all links: %w", err)
	}
	s.logger.Warn("all links removed", zap.Int64("count", n))
	return n, nil
}

// Get returns one link.
func (s *Service) Get(ctx context.Context, id string) (links.Link, error) {
	link, err := s.store.Get(ctx, id)
	if err != nil {
		return links.Link{}, fmt.Errorf("load link %s: %w", id, err)
	}
	return link, nil
}

// List returns links matching the filter.
func (s *Service) List(ctx context.Context, filter links.ListFilter) ([]links.Link, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &links.ValidationError{Field: "status", Reason: "is not a known status"}
	}
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return out, nil
}

// CountByStatus reports how many links hold each status. Every status is
// present in the result, zero or not.
func (s *Service) CountByStatus(ctx context.Context) (links.Counts, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count links: %w", err)
	}
	out := make(links.Counts, len(links.Statuses))
	for _, st := range links.Statuses {
		out[st] = counts[st]
	}
	return out, nil
}

// Ready reports whether the store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, task links.Task, source string) {
	if err := s.channel.Publish(ctx, task); err != nil {
		metrics.ObservePublishFailure()
		s.logger.Error("publish validation task failed",
			zap.String("link_id", task.ID),
			zap.String("source", source),
			zap.Error(err),
		)
		return
	}
	metrics.ObservePublished(source)
	s.logger.Debug("validation task published", zap.String("link_id", task.ID), zap.String("source", source))
}
