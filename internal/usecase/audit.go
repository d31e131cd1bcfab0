package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/opencurate/releasehub/internal/domain"
)

var auditTracer = otel.Tracer("audit")

// minDurationForRecording is the threshold under which an event's duration
// is not persisted.
const minDurationForRecording = 10 * time.Second

// AuditService owns the audit event lifecycle: start with placeholder
// failure outcome, complete in place, and the higher-order wrapper that
// finalizes the record on every exit path. It also fans completed events out
// to live subscribers.
type AuditService struct {
	repo  AuditRepository
	lease AuditLease
	now   func() time.Time

	mu   sync.RWMutex
	subs map[string]map[chan domain.AuditEvent]struct{}
}

func NewAuditService(repo AuditRepository, lease AuditLease) *AuditService {
	return &AuditService{
		repo:  repo,
		lease: lease,
		now:   time.Now,
		subs:  map[string]map[chan domain.AuditEvent]struct{}{},
	}
}

// Start opens an audit event for a release-scoped operation. The event is
// written immediately with a serious-failure outcome so that a crash before
// completion still leaves evidence.
func (s *AuditService) Start(ctx context.Context, user domain.AuthenticatedUser, releaseKey string, category domain.AuditCategory, description string) (int64, time.Time, error) {
	start := s.now().UTC()
	id, err := s.repo.Start(ctx, domain.AuditEvent{
		WhoSubjectID:   user.SubjectID,
		WhoDisplayName: user.DisplayName,
		OccurredAt:     start,
		Category:       category,
		Description:    description,
		Outcome:        domain.AuditSeriousFailure,
		Details:        `{"errorMessage":"audit entry not completed"}`,
		ReleaseKey:     releaseKey,
	})
	return id, start, err
}

// Complete updates the event in place with the real outcome. The duration is
// only recorded above a minimum threshold.
func (s *AuditService) Complete(ctx context.Context, id int64, user domain.AuthenticatedUser, releaseKey string, category domain.AuditCategory, description string, start time.Time, outcome domain.AuditOutcome, details any) error {
	var detailsJSON string
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			detailsJSON = fmt.Sprintf(`{"errorMessage":%q}`, err.Error())
		} else {
			detailsJSON = string(b)
		}
	}

	elapsed := s.now().UTC().Sub(start)
	var duration *time.Duration
	if elapsed > minDurationForRecording {
		duration = &elapsed
	}

	if err := s.repo.Complete(ctx, id, outcome, detailsJSON, duration); err != nil {
		return err
	}

	s.broadcast(releaseKey, domain.AuditEvent{
		ID:             id,
		WhoSubjectID:   user.SubjectID,
		WhoDisplayName: user.DisplayName,
		OccurredAt:     start,
		Duration:       duration,
		Category:       category,
		Description:    description,
		Outcome:        outcome,
		Details:        detailsJSON,
		ReleaseKey:     releaseKey,
	})
	return nil
}

// GetEntries returns a page of the audit log of a release. Any participant
// may read it.
func (s *AuditService) GetEntries(ctx context.Context, releaseKey string, limit, offset int) (PagedResult[domain.AuditEvent], error) {
	events, total, err := s.repo.ListForRelease(ctx, releaseKey, limit, offset)
	if err != nil {
		return PagedResult[domain.AuditEvent]{}, err
	}
	return PagedResult[domain.AuditEvent]{Data: events, Total: total}, nil
}

// Subscribe registers a live listener for completed audit events on a
// release. The returned cancel function must be called when done.
func (s *AuditService) Subscribe(releaseKey string) (<-chan domain.AuditEvent, func()) {
	ch := make(chan domain.AuditEvent, 16)

	s.mu.Lock()
	if s.subs[releaseKey] == nil {
		s.subs[releaseKey] = map[chan domain.AuditEvent]struct{}{}
	}
	s.subs[releaseKey][ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.subs[releaseKey], ch)
		s.mu.Unlock()
	}
}

func (s *AuditService) broadcast(releaseKey string, ev domain.AuditEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs[releaseKey] {
		select {
		case ch <- ev:
		default:
			// slow subscriber, drop rather than block the mutation path
		}
	}
}

// AuditPattern runs fn bracketed by a start/complete audit pair. The record
// is finalized on every exit path: success, returned error, and panic (the
// panic is completed with a major-failure outcome and re-raised).
func AuditPattern[T any](ctx context.Context, s *AuditService, user domain.AuthenticatedUser, releaseKey string, category domain.AuditCategory, description string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := auditTracer.Start(ctx, "Audit.Pattern")
	defer span.End()

	var zero T

	id, start, err := s.Start(ctx, user, releaseKey, category, description)
	if err != nil {
		return zero, err
	}

	finalized := false
	finalize := func(outcome domain.AuditOutcome, details any) {
		finalized = true
		if cerr := s.Complete(ctx, id, user, releaseKey, category, description, start, outcome, details); cerr != nil {
			slog.ErrorContext(
				ctx, "Failed to complete audit event",
				slog.Int64("auditEventId", id),
				slog.String("error", cerr.Error()),
				slog.String("module", "audit"),
			)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			if !finalized {
				finalize(domain.AuditMajorFailure, map[string]any{"panic": fmt.Sprint(r)})
			}
			panic(r)
		}
	}()

	result, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		finalize(domain.AuditSeriousFailure, map[string]any{"errorMessage": err.Error()})
		return zero, err
	}

	finalize(domain.AuditSuccess, result)
	return result, nil
}

// StartTimed opens an audit event only if no other timed event is in flight
// for the same key. The lease expires with ttl, after which the next caller
// may open a new event. Returns ok=false when deduplicated.
func (s *AuditService) StartTimed(ctx context.Context, key string, ttl time.Duration, user domain.AuthenticatedUser, releaseKey string, category domain.AuditCategory, description string) (int64, time.Time, bool, error) {
	acquired, err := s.lease.Acquire(ctx, "audit-timed:"+key, ttl)
	if err != nil {
		return 0, time.Time{}, false, err
	}
	if !acquired {
		return 0, time.Time{}, false, nil
	}
	id, start, err := s.Start(ctx, user, releaseKey, category, description)
	if err != nil {
		return 0, time.Time{}, false, err
	}
	return id, start, true, nil
}
