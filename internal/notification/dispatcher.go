package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opensur/platform/internal/case/domain"
	"github.com/opensur/platform/internal/shared/config"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/events"
	"github.com/opensur/platform/internal/shared/metrics"
)

const consumerName = "notification-dispatcher"

// Sender delivers a rendered message. Delivery itself lives outside this
// service.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates a sender that logs each message
func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "notification_sender").Logger()}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info().
		Str("type", string(msg.Type)).
		Str("to", msg.To).
		Str("case_id", msg.CaseID.String()).
		Str("template_id", msg.TemplateID.String()).
		Str("title", msg.Title).
		Msg("Notification dispatched")
	return nil
}

// Dispatcher turns committed transitions into messages. Rendering happens on
// the bus consumer; sending happens on a worker pool.
type Dispatcher struct {
	store  Store
	sender Sender
	log    zerolog.Logger

	msgCh   chan Message
	workers int

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher
func NewDispatcher(store Store, sender Sender, cfg config.NotificationConfig, log zerolog.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	buffer := cfg.BufferSize
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		log:     log.With().Str("component", "notification_dispatcher").Logger(),
		msgCh:   make(chan Message, buffer),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
}

// Start subscribes to forwarded-state events and starts the workers.
func (d *Dispatcher) Start(ctx context.Context, bus events.EventBus) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	if err := bus.Subscribe(ctx, domain.EventStateForwarded, consumerName, d.Handle); err != nil {
		return fmt.Errorf("failed to subscribe dispatcher: %w", err)
	}
	d.log.Info().Int("workers", d.workers).Msg("Notification dispatcher started")
	return nil
}

// Stop stops the workers. Queued messages that were not picked up are
// dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
}

// Handle renders the messages for one forwarded-state event and queues
// them. Authorities without a destination for a template are skipped.
func (d *Dispatcher) Handle(ctx context.Context, event events.Event) error {
	var trigger domain.TransitionTrigger
	if err := event.Decode(&trigger); err != nil {
		return fmt.Errorf("failed to decode transition trigger: %w", err)
	}
	msgs, err := d.Render(ctx, trigger)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		select {
		case d.msgCh <- m:
		default:
			metrics.RecordNotification(string(m.Type), false)
			d.log.Warn().
				Str("case_id", m.CaseID.String()).
				Str("template_id", m.TemplateID.String()).
				Msg("Notification buffer full, message dropped")
		}
	}
	return nil
}

// Render builds every message a trigger produces.
func (d *Dispatcher) Render(ctx context.Context, trigger domain.TransitionTrigger) ([]Message, error) {
	transitionID := trigger.TransitionID
	templates, err := d.store.ListTemplates(ctx, TemplateFilter{StateTransitionID: &transitionID})
	if err != nil {
		return nil, err
	}

	var out []Message
	for _, t := range templates {
		if !t.AppliesTo(trigger.ReportTypeID) {
			continue
		}
		for _, authorityID := range trigger.Authorities {
			n, err := d.store.GetAuthorityNotification(ctx, authorityID, t.ID)
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			msg, err := t.Render(n.To, RenderData{
				CaseID:       trigger.CaseID,
				TransitionID: trigger.TransitionID,
				FromStepID:   trigger.FromStepID,
				ToStepID:     trigger.ToStepID,
				ReportTypeID: trigger.ReportTypeID,
				AuthorityID:  authorityID,
				FormData:     trigger.FormData,
				IsFinished:   trigger.IsFinished,
				OccurredAt:   trigger.OccurredAt,
			})
			if err != nil {
				metrics.RecordNotification(string(t.Type), false)
				d.log.Error().Err(err).Str("template_id", t.ID.String()).Msg("Failed to render notification")
				continue
			}
			out = append(out, msg)
		}
	}
	return out, nil
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case msg := <-d.msgCh:
			err := d.sender.Send(ctx, msg)
			metrics.RecordNotification(string(msg.Type), err == nil)
			if err != nil {
				d.log.Error().Err(err).
					Str("case_id", msg.CaseID.String()).
					Str("to", msg.To).
					Msg("Failed to send notification")
			}
		}
	}
}
