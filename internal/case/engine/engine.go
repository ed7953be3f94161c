// Package engine promotes reports into cases and moves cases through their
// state machines.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/opensur/platform/internal/authority"
	"github.com/opensur/platform/internal/case/domain"
	"github.com/opensur/platform/internal/permission"
	"github.com/opensur/platform/internal/shared/auth"
	"github.com/opensur/platform/internal/shared/config"
	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/events"
	"github.com/opensur/platform/internal/shared/metrics"
	"github.com/opensur/platform/internal/shared/problem"
	"github.com/opensur/platform/internal/shared/types"
	"github.com/opensur/platform/internal/workflow"
)

const eventSource = "case-engine"

// Definitions resolves case definitions and their state machines.
type Definitions interface {
	ActiveCaseDefinitions(ctx context.Context, reportTypeID types.ID) ([]workflow.CaseDefinition, error)
	GraphFor(ctx context.Context, cd workflow.CaseDefinition) (*workflow.Graph, error)
	LoadGraph(ctx context.Context, stateDefinitionID types.ID) (*workflow.Graph, error)
}

// Closures serves the current authority hierarchy.
type Closures interface {
	Get(ctx context.Context) (*authority.Hierarchy, error)
}

var promoteGate = permission.Or(permission.IsSuperuser, permission.IsStaff)

// Engine is the case engine
type Engine struct {
	cases          domain.Repository
	defs           Definitions
	closures       Closures
	bus            events.EventBus
	ambiguity      string
	publishTimeout time.Duration
	log            zerolog.Logger
	now            func() time.Time
}

// New creates a case engine
func New(cases domain.Repository, defs Definitions, closures Closures, bus events.EventBus, cfg config.WorkflowConfig, log zerolog.Logger) *Engine {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ambiguity := cfg.PromoteAmbiguity
	if ambiguity == "" {
		ambiguity = config.PromoteFirst
	}
	return &Engine{
		cases:          cases,
		defs:           defs,
		closures:       closures,
		bus:            bus,
		ambiguity:      ambiguity,
		publishTimeout: timeout,
		log:            log.With().Str("component", "case_engine").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// fail folds recoverable errors into a problem result.
func fail[T any](err error) (problem.Result[T], error) {
	p, hard := problem.FromError(err)
	if hard != nil {
		return problem.Result[T]{}, hard
	}
	return problem.Fail[T](p), nil
}

// --- Promotion ---

// PromoteAs promotes a report on behalf of actor.
func (e *Engine) PromoteAs(ctx context.Context, actor auth.Principal, reportID types.ID) (problem.Result[*domain.Case], error) {
	if err := permission.Gate(actor, promoteGate); err != nil {
		return problem.Result[*domain.Case]{}, err
	}
	return e.Promote(ctx, reportID)
}

// Promote turns a report into a case. Active case definitions for the
// report's type are tried in (created_at, id) order; with several matches
// the ambiguity policy picks the first or rejects the report.
func (e *Engine) Promote(ctx context.Context, reportID types.ID) (problem.Result[*domain.Case], error) {
	log := e.log.With().Str("report_id", reportID.String()).Logger()

	report, err := e.cases.GetReport(ctx, reportID)
	if err != nil {
		return fail[*domain.Case](err)
	}
	if report.Promoted() {
		metrics.RecordPromotion("already_promoted")
		p := problem.WithMessage("report already has a case").Add("report_id", "report has already been promoted")
		return problem.Fail[*domain.Case](p), nil
	}

	matches, err := e.match(ctx, log, report)
	if err != nil {
		return problem.Result[*domain.Case]{}, err
	}
	switch {
	case len(matches) == 0:
		metrics.RecordPromotion("no_match")
		return fail[*domain.Case](errors.NoMatchingDefinition(reportID.String()))
	case len(matches) > 1 && e.ambiguity == config.PromoteReject:
		metrics.RecordPromotion("ambiguous")
		p := problem.WithMessage("report matches more than one case definition")
		for _, cd := range matches {
			p.Add("case_definition_id", cd.ID.String())
		}
		return problem.Fail[*domain.Case](p), nil
	case len(matches) > 1:
		ids := make([]string, len(matches))
		for i, cd := range matches {
			ids[i] = cd.ID.String()
		}
		log.Warn().Strs("case_definition_ids", ids).Msg("Report matches several case definitions, using the first")
	}

	cd := matches[0]
	g, err := e.defs.GraphFor(ctx, cd)
	if err != nil {
		return fail[*domain.Case](err)
	}
	c, initial, err := domain.NewCase(*report, cd, g, e.now())
	if err != nil {
		return fail[*domain.Case](err)
	}
	if err := e.cases.CreateFromReport(ctx, c, initial); err != nil {
		return fail[*domain.Case](err)
	}

	metrics.RecordPromotion("promoted")
	log.Info().
		Str("case_id", c.ID.String()).
		Str("case_definition_id", cd.ID.String()).
		Msg("Report promoted to case")
	e.publish(ctx, domain.EventPromoted, c.ID, "", c)
	return problem.Success(c), nil
}

// match evaluates every active definition for the report's type. A
// condition that fails to compile or evaluate counts as no match.
func (e *Engine) match(ctx context.Context, log zerolog.Logger, report *domain.Report) ([]workflow.CaseDefinition, error) {
	defs, err := e.defs.ActiveCaseDefinitions(ctx, report.ReportTypeID)
	if err != nil {
		return nil, err
	}
	var matches []workflow.CaseDefinition
	for _, cd := range defs {
		cond, err := workflow.CompileCondition(cd.Condition)
		if err != nil {
			log.Error().Err(err).Str("case_definition_id", cd.ID.String()).Msg("Case definition condition does not compile")
			continue
		}
		ok, err := cond.Match(report.ReportTypeID, report.Data)
		if err != nil {
			log.Warn().Err(err).Str("case_definition_id", cd.ID.String()).Msg("Case definition condition failed")
			continue
		}
		if ok {
			matches = append(matches, cd)
		}
	}
	return matches, nil
}

// --- Transitions ---

// Forwarded is the outcome of a committed transition.
type Forwarded struct {
	Case  *domain.Case     `json:"case"`
	State domain.CaseState `json:"state"`
}

// ForwardState moves a case along a transition on behalf of actor. The
// commit is guarded by the case version; the trigger event is published
// only after it.
func (e *Engine) ForwardState(ctx context.Context, actor auth.Principal, caseID, transitionID types.ID, formData map[string]any) (problem.Result[*Forwarded], error) {
	c, err := e.authorizedCase(ctx, actor, caseID, "forward")
	if err != nil {
		return fail[*Forwarded](err)
	}
	g, err := e.defs.LoadGraph(ctx, c.StateDefinitionID)
	if err != nil {
		return problem.Result[*Forwarded]{}, err
	}
	adv, err := c.ApplyTransition(g, transitionID, formData, actor.ID, e.now())
	if err != nil {
		return fail[*Forwarded](err)
	}

	if err := e.cases.SaveAdvance(ctx, c, adv); err != nil {
		if errors.Is(err, errors.ErrConcurrentModification) {
			metrics.RecordTransitionConflict()
			e.log.Info().Str("case_id", caseID.String()).Msg("Transition lost a concurrent update")
		}
		return problem.Result[*Forwarded]{}, err
	}

	metrics.RecordTransition(c.IsFinished)
	e.log.Info().
		Str("case_id", c.ID.String()).
		Str("transition_id", transitionID.String()).
		Str("actor_id", actor.ID.String()).
		Bool("finished", c.IsFinished).
		Msg("Case state forwarded")
	e.publish(ctx, domain.EventStateForwarded, c.ID, actor.ID, adv.Trigger)
	return problem.Success(&Forwarded{Case: c, State: adv.State}), nil
}

// GetCase returns a case the actor may act on.
func (e *Engine) GetCase(ctx context.Context, actor auth.Principal, caseID types.ID) (*domain.Case, error) {
	return e.authorizedCase(ctx, actor, caseID, "read")
}

// ListCases returns the cases the actor may act on, narrowed by filter.
// Requested authorities outside the actor's hierarchy are dropped.
func (e *Engine) ListCases(ctx context.Context, actor auth.Principal, filter domain.ListFilter) ([]domain.Case, int, error) {
	h, err := e.closures.Get(ctx)
	if err != nil {
		return nil, 0, err
	}
	visible := permission.VisibleCaseAuthorities(h.DescendantIDs, actor)
	if visible != nil {
		if filter.AuthorityIDs == nil {
			filter.AuthorityIDs = visible
		} else {
			allowed := types.NewIDSet(visible...)
			narrowed := []types.ID{}
			for _, id := range filter.AuthorityIDs {
				if allowed.Has(id) {
					narrowed = append(narrowed, id)
				}
			}
			filter.AuthorityIDs = narrowed
		}
	}
	return e.cases.List(ctx, filter)
}

// LegalTransitions lists the transitions leaving the case's current step.
// A finished case has none.
func (e *Engine) LegalTransitions(ctx context.Context, actor auth.Principal, caseID types.ID) ([]workflow.StateTransition, error) {
	c, err := e.authorizedCase(ctx, actor, caseID, "read")
	if err != nil {
		return nil, err
	}
	if c.IsFinished {
		return []workflow.StateTransition{}, nil
	}
	g, err := e.defs.LoadGraph(ctx, c.StateDefinitionID)
	if err != nil {
		return nil, err
	}
	out := g.LegalTransitionsFrom(c.CurrentStep())
	if out == nil {
		out = []workflow.StateTransition{}
	}
	return out, nil
}

// History returns the case's states in order.
func (e *Engine) History(ctx context.Context, actor auth.Principal, caseID types.ID) ([]domain.HistoryEntry, error) {
	if _, err := e.authorizedCase(ctx, actor, caseID, "read"); err != nil {
		return nil, err
	}
	return e.cases.History(ctx, caseID)
}

func (e *Engine) authorizedCase(ctx context.Context, actor auth.Principal, caseID types.ID, action string) (*domain.Case, error) {
	c, err := e.cases.FindByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	h, err := e.closures.Get(ctx)
	if err != nil {
		return nil, err
	}
	if d := permission.CanActOnCase(h, actor, c.Authorities); !d.Allowed {
		e.log.Debug().
			Str("case_id", caseID.String()).
			Str("actor_id", actor.ID.String()).
			Str("action", action).
			Str("reason", d.Reason).
			Msg("Case access denied")
		return nil, d.Err()
	}
	return c, nil
}

// publish emits an event after commit. Failures are logged and counted,
// never returned.
func (e *Engine) publish(ctx context.Context, eventType string, aggregateID, actorID types.ID, payload any) {
	if e.bus == nil {
		return
	}
	event, err := events.NewEvent(eventType, eventSource, aggregateID, payload)
	if err != nil {
		metrics.RecordPublishFailure(eventType)
		e.log.Error().Err(err).Str("event_type", eventType).Msg("Failed to build event")
		return
	}
	if !actorID.IsZero() {
		event = event.WithActor(actorID)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.publishTimeout)
	defer cancel()
	if err := e.bus.Publish(pubCtx, event); err != nil {
		metrics.RecordPublishFailure(eventType)
		e.log.Error().Err(err).
			Str("event_type", eventType).
			Str("aggregate_id", aggregateID.String()).
			Msg("Failed to publish event")
	}
}
