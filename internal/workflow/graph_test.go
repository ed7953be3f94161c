package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensur/platform/internal/shared/errors"
	"github.com/opensur/platform/internal/shared/types"
)

type graphBuilder struct {
	def   StateDefinition
	steps []StateStep
	trans []StateTransition
	clock time.Time
}

func newGraphBuilder() *graphBuilder {
	return &graphBuilder{
		def:   StateDefinition{ID: types.NewID(), Name: "outbreak"},
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (b *graphBuilder) step(name string, start, stop bool) types.ID {
	s := StateStep{ID: types.NewID(), StateDefinitionID: b.def.ID, Name: name, IsStartState: start, IsStopState: stop}
	b.steps = append(b.steps, s)
	return s.ID
}

func (b *graphBuilder) edge(from, to types.ID) types.ID {
	b.clock = b.clock.Add(time.Minute)
	t := StateTransition{ID: types.NewID(), FromStepID: from, ToStepID: to, CreatedAt: b.clock}
	b.trans = append(b.trans, t)
	return t.ID
}

func (b *graphBuilder) build() *Graph {
	return NewGraph(b.def, b.steps, b.trans)
}

func structuralDetails(t *testing.T, err error) map[string]string {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStructural))
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	return appErr.Details
}

func TestValidate_LinearGraph(t *testing.T) {
	b := newGraphBuilder()
	a := b.step("reported", true, false)
	c := b.step("investigating", false, false)
	d := b.step("closed", false, true)
	b.edge(a, c)
	b.edge(c, d)

	warnings, err := Validate(b.build(), Strict)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidate_CollectsEveryViolation(t *testing.T) {
	b := newGraphBuilder()
	b.step("limbo", false, false)
	b.step("both", true, true)

	details := structuralDetails(t, firstErr(Validate(b.build(), Strict)))
	assert.Len(t, details, 2)
	assert.Contains(t, details, "step:"+b.steps[1].ID.String())
	assert.Contains(t, details, "dead_end:"+b.steps[0].ID.String())
}

func TestValidate_MissingStartAndStop(t *testing.T) {
	b := newGraphBuilder()
	x := b.step("a", false, false)
	y := b.step("b", false, false)
	b.edge(x, y)
	b.edge(y, x)

	details := structuralDetails(t, firstErr(Validate(b.build(), Strict)))
	assert.Contains(t, details, "start")
	assert.Contains(t, details, "stop")
	assert.Contains(t, details, "entry")
}

func TestValidate_DeadEndModes(t *testing.T) {
	b := newGraphBuilder()
	a := b.step("reported", true, false)
	b.step("stuck", false, false)
	d := b.step("closed", false, true)
	b.edge(a, d)
	g := b.build()

	_, err := Validate(g, Strict)
	details := structuralDetails(t, err)
	assert.Len(t, details, 1)

	warnings, err := Validate(g, Lenient)
	require.NoError(t, err)
	assert.Equal(t, []string{`step "stuck" has no outgoing transitions`}, warnings)
}

func TestValidate_StopStepWithOutgoing(t *testing.T) {
	b := newGraphBuilder()
	a := b.step("reported", true, false)
	review := b.step("review", false, true)
	d := b.step("closed", false, true)
	b.edge(a, review)
	b.edge(review, d)

	details := structuralDetails(t, firstErr(Validate(b.build(), Lenient)))
	assert.Len(t, details, 1)
	assert.Contains(t, details, "stop:"+review.String())
}

func TestValidate_TransitionOutsideDefinition(t *testing.T) {
	b := newGraphBuilder()
	a := b.step("reported", true, false)
	d := b.step("closed", false, true)
	b.edge(a, d)
	foreign := b.edge(a, types.NewID())

	details := structuralDetails(t, firstErr(Validate(b.build(), Strict)))
	assert.Contains(t, details, "transition:"+foreign.String())
}

func TestEntryStep(t *testing.T) {
	t.Run("single start step", func(t *testing.T) {
		b := newGraphBuilder()
		a := b.step("reported", true, false)
		b.step("closed", false, true)
		entry, err := b.build().EntryStep()
		require.NoError(t, err)
		assert.Equal(t, a, entry.ID)
	})

	t.Run("default flag wins over start steps", func(t *testing.T) {
		b := newGraphBuilder()
		b.step("a", true, false)
		b.step("b", true, false)
		b.steps[1].IsDefault = true
		entry, err := b.build().EntryStep()
		require.NoError(t, err)
		assert.Equal(t, "b", entry.Name)
	})

	t.Run("two start steps without default", func(t *testing.T) {
		b := newGraphBuilder()
		b.step("a", true, false)
		b.step("b", true, false)
		_, err := b.build().EntryStep()
		assert.Contains(t, structuralDetails(t, err), "entry")
	})

	t.Run("two defaults", func(t *testing.T) {
		b := newGraphBuilder()
		b.step("a", true, false)
		b.step("b", false, false)
		b.steps[0].IsDefault = true
		b.steps[1].IsDefault = true
		_, err := b.build().EntryStep()
		assert.Contains(t, structuralDetails(t, err), "entry")
	})
}

func TestLegalTransitionsFrom_Ordering(t *testing.T) {
	b := newGraphBuilder()
	a := b.step("reported", true, false)
	x := b.step("x", false, true)
	y := b.step("y", false, true)
	first := b.edge(a, y)
	second := b.edge(a, x)

	// Reverse insertion order; NewGraph sorts by creation time.
	b.trans[0], b.trans[1] = b.trans[1], b.trans[0]
	g := b.build()

	legal := g.LegalTransitionsFrom(a)
	require.Len(t, legal, 2)
	assert.Equal(t, first, legal[0].ID)
	assert.Equal(t, second, legal[1].ID)
	assert.Empty(t, g.LegalTransitionsFrom(x))

	_, ok := g.Transition(first)
	assert.True(t, ok)
	_, ok = g.Transition(types.NewID())
	assert.False(t, ok)
}

func firstErr(_ []string, err error) error {
	return err
}
