package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a structured notification about something declabill did.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Kind is the billing entity kind, if applicable.
	Kind string `json:"kind,omitempty"`

	// EntityID is the remote id of the entity, if applicable.
	EntityID string `json:"entity_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted           = "run.started"
	EventTypeRunCompleted         = "run.completed"
	EventTypeRunFailed            = "run.failed"
	EventTypeEntityApplied        = "entity.applied"
	EventTypeEntityFailed         = "entity.failed"
	EventTypeCollectionReconciled = "collection.reconciled"
	EventTypeInvoiceTransitioned  = "invoice.transitioned"
	EventTypePolicyViolation      = "policy.violation"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, synchronously or from a
// buffered background goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates an event publisher.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers. In async mode a full
// buffer drops the event and returns an error.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, command string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "cli",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started: %s", runID, command),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"command": command,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "cli",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "cli",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishEntityApplied publishes the decision taken for one entity.
func (ep *EventPublisher) PublishEntityApplied(kind, entityID, action string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeEntityApplied,
		Source:   "engine",
		Kind:     kind,
		EntityID: entityID,
		Message:  fmt.Sprintf("%s %s: %s", kind, entityID, action),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"action":   action,
			"duration": duration.Seconds(),
		},
	})
}

// PublishEntityFailed publishes a failed engine operation.
func (ep *EventPublisher) PublishEntityFailed(kind, key, action, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeEntityFailed,
		Source:  "engine",
		Kind:    kind,
		Message: fmt.Sprintf("%s %s failed (%s): %s", kind, key, action, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"key":    key,
			"action": action,
			"reason": reason,
		},
	})
}

// PublishCollectionReconciled publishes the outcome of a collection reconcile.
func (ep *EventPublisher) PublishCollectionReconciled(kind, parentID string, deleted, upserted int) error {
	return ep.Publish(Event{
		Type:     EventTypeCollectionReconciled,
		Source:   "engine",
		Kind:     kind,
		EntityID: parentID,
		Message:  fmt.Sprintf("%s collection of %s reconciled (%d deleted, %d upserted)", kind, parentID, deleted, upserted),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"deleted":  deleted,
			"upserted": upserted,
		},
	})
}

// PublishInvoiceTransitioned publishes the outcome of a lifecycle verb.
func (ep *EventPublisher) PublishInvoiceTransitioned(invoiceID, verb, from, to string) error {
	return ep.Publish(Event{
		Type:     EventTypeInvoiceTransitioned,
		Source:   "billing",
		Kind:     "invoice",
		EntityID: invoiceID,
		Message:  fmt.Sprintf("Invoice %s: %s (%s -> %s)", invoiceID, verb, from, to),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"verb": verb,
			"from": from,
			"to":   to,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(kind, key, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy_engine",
		Kind:    kind,
		Message: fmt.Sprintf("Policy violation on %s %s: %s - %s", kind, key, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"key":    key,
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a subscriber with an optional filter.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// Drain what is already queued before delivering.
			for len(batch) < ep.config.MaxBatchSize && len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			ep.flushBatch(batch)
			batch = batch[:0]

		case <-ep.ctx.Done():
			for len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent calls subscribers in registration order on the caller's
// goroutine.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel allows events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}
