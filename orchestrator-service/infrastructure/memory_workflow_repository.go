package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
)

var _ domain.WorkflowRepository = (*MemoryWorkflowRepository)(nil)

type memorySignal struct {
	signal   *domain.Signal
	consumed bool
}

// MemoryWorkflowRepository keeps workflows in process. State does not survive
// a restart, so it backs tests and local runs only.
type MemoryWorkflowRepository struct {
	mu        sync.RWMutex
	instances map[models.ID]*domain.WorkflowInstance
	history   map[models.ID][]*events.Event
	signals   map[models.ID][]*memorySignal
	dedup     map[string]bool
	clock     models.Clock
}

func NewMemoryWorkflowRepository(clock models.Clock) *MemoryWorkflowRepository {
	if clock == nil {
		clock = models.SystemClock
	}
	return &MemoryWorkflowRepository{
		instances: map[models.ID]*domain.WorkflowInstance{},
		history:   map[models.ID][]*events.Event{},
		signals:   map[models.ID][]*memorySignal{},
		dedup:     map[string]bool{},
		clock:     clock,
	}
}

func (r *MemoryWorkflowRepository) Create(_ context.Context, instance *domain.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[instance.CorrelationID]; ok {
		return errors.Wrapf(domain.ErrInstanceExists, "correlation id %s", instance.CorrelationID)
	}

	r.history[instance.ID] = append(r.history[instance.ID], instance.Events()...)
	instance.HistoryVersion = len(r.history[instance.ID])
	r.instances[instance.CorrelationID] = cloneInstance(instance)
	return nil
}

func (r *MemoryWorkflowRepository) Save(_ context.Context, instance *domain.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.instances[instance.CorrelationID]
	if !ok {
		return errors.Wrapf(domain.ErrInstanceNotFound, "correlation id %s", instance.CorrelationID)
	}
	if stored.Version.Value != instance.Version.Value {
		return errors.Wrapf(domain.ErrConcurrentModification, "stored version %d, got %d", stored.Version.Value, instance.Version.Value)
	}

	consumed := map[models.ID]bool{}
	for _, id := range instance.ConsumedSignals() {
		consumed[id] = true
	}
	for _, s := range r.signals[instance.CorrelationID] {
		if consumed[s.signal.ID] {
			s.consumed = true
		}
	}

	r.history[instance.ID] = append(r.history[instance.ID], instance.Events()...)
	instance.HistoryVersion = len(r.history[instance.ID])
	instance.Version = instance.Version.Update()
	r.instances[instance.CorrelationID] = cloneInstance(instance)
	return nil
}

func (r *MemoryWorkflowRepository) FindByCorrelationID(_ context.Context, correlationID models.ID) (*domain.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.instances[correlationID]
	if !ok {
		return nil, nil
	}
	return cloneInstance(stored), nil
}

func (r *MemoryWorkflowRepository) FindRunnable(_ context.Context, now time.Time, limit int) ([]models.ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*domain.WorkflowInstance
	for id, instance := range r.instances {
		if instance.Due(now) || (!instance.Step.IsTerminal() && r.hasPendingLocked(id)) {
			candidates = append(candidates, instance)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Timestamps.UpdatedAt.Before(candidates[j].Timestamps.UpdatedAt)
	})

	ids := make([]models.ID, 0, len(candidates))
	for _, instance := range candidates {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, instance.CorrelationID)
	}
	return ids, nil
}

func (r *MemoryWorkflowRepository) hasPendingLocked(correlationID models.ID) bool {
	for _, s := range r.signals[correlationID] {
		if !s.consumed {
			return true
		}
	}
	return false
}

func (r *MemoryWorkflowRepository) EnqueueSignal(_ context.Context, signal *domain.Signal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dedup[signal.DedupKey] {
		return false, nil
	}

	copied := *signal
	r.dedup[signal.DedupKey] = true
	r.signals[signal.CorrelationID] = append(r.signals[signal.CorrelationID], &memorySignal{signal: &copied})
	return true, nil
}

func (r *MemoryWorkflowRepository) PendingSignals(_ context.Context, correlationID models.ID) ([]*domain.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []*domain.Signal
	for _, s := range r.signals[correlationID] {
		if !s.consumed {
			copied := *s.signal
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (r *MemoryWorkflowRepository) History(_ context.Context, instanceID models.ID) ([]*events.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]*events.Event(nil), r.history[instanceID]...), nil
}

func cloneInstance(w *domain.WorkflowInstance) *domain.WorkflowInstance {
	c := *w
	c.ClearEvents()

	c.Request.Items = append([]domain.BasketItem(nil), w.Request.Items...)
	c.StockItems = append([]domain.StockItemResult(nil), w.StockItems...)

	c.Attempts = make(map[domain.Step]int, len(w.Attempts))
	for step, n := range w.Attempts {
		c.Attempts[step] = n
	}

	if w.WakeAt != nil {
		wakeAt := *w.WakeAt
		c.WakeAt = &wakeAt
	}

	return &c
}
