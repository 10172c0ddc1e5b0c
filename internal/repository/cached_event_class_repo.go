package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mansoorceksport/sportcrm/internal/domain"
)

const (
	eventClassKeyPrefix = "event_class:"
	calendarKeyPrefix   = "calendar:"
)

// CachedEventClassRepository wraps an EventClassRepository with Redis
// caching and also serves as the domain.CalendarCache for generated
// occurrences. Any write to a class drops its cached calendars.
type CachedEventClassRepository struct {
	repo  domain.EventClassRepository
	cache *RedisCacheRepository
	ttl   time.Duration
}

func NewCachedEventClassRepository(repo domain.EventClassRepository, cache *RedisCacheRepository, ttl time.Duration) *CachedEventClassRepository {
	return &CachedEventClassRepository{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

func eventClassKey(tenantID, id string) string {
	return eventClassKeyPrefix + tenantID + ":" + id
}

func calendarKey(tenantID, eventClassID string, from, to time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s:%s", calendarKeyPrefix, tenantID, eventClassID,
		from.Format(time.DateOnly), to.Format(time.DateOnly))
}

// GetByID retrieves an event class with caching
func (r *CachedEventClassRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.EventClass, error) {
	key := eventClassKey(tenantID, id)

	var ec domain.EventClass
	if err := r.cache.Get(ctx, key, &ec); err == nil {
		return &ec, nil
	}

	result, err := r.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	// Cache errors are not fatal
	_ = r.cache.Set(ctx, key, result, r.ttl)
	return result, nil
}

func (r *CachedEventClassRepository) Update(ctx context.Context, ec *domain.EventClass) error {
	if err := r.repo.Update(ctx, ec); err != nil {
		return err
	}
	_ = r.InvalidateEventClass(ctx, ec.TenantID, ec.ID)
	return nil
}

// === Pass-through methods (no caching) ===

func (r *CachedEventClassRepository) Create(ctx context.Context, ec *domain.EventClass) error {
	return r.repo.Create(ctx, ec)
}

func (r *CachedEventClassRepository) GetByIDs(ctx context.Context, tenantID string, ids []string) ([]*domain.EventClass, error) {
	return r.repo.GetByIDs(ctx, tenantID, ids)
}

func (r *CachedEventClassRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.EventClass, error) {
	return r.repo.ListByTenant(ctx, tenantID)
}

// === domain.CalendarCache ===

// GetOccurrences returns ErrCacheMiss when the window was never stored.
func (r *CachedEventClassRepository) GetOccurrences(ctx context.Context, tenantID, eventClassID string, from, to time.Time) ([]time.Time, error) {
	var dates []time.Time
	if err := r.cache.Get(ctx, calendarKey(tenantID, eventClassID, from, to), &dates); err != nil {
		return nil, err
	}
	return dates, nil
}

func (r *CachedEventClassRepository) SetOccurrences(ctx context.Context, tenantID, eventClassID string, from, to time.Time, dates []time.Time) error {
	if dates == nil {
		dates = []time.Time{}
	}
	return r.cache.Set(ctx, calendarKey(tenantID, eventClassID, from, to), dates, r.ttl)
}

func (r *CachedEventClassRepository) InvalidateEventClass(ctx context.Context, tenantID, eventClassID string) error {
	if err := r.cache.Delete(ctx, eventClassKey(tenantID, eventClassID)); err != nil {
		return err
	}
	return r.cache.DeleteByPattern(ctx, fmt.Sprintf("%s%s:%s:*", calendarKeyPrefix, tenantID, eventClassID))
}
