package workflow

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/opensur/platform/internal/shared/types"
)

// Condition is a compiled case definition condition. Expressions see the
// report payload as data, the report type as report_type_id, and the whole
// report as report.
//
//	data.severity >= 3 && data.animal == "chicken"
type Condition struct {
	source  string
	program *vm.Program
}

func conditionEnv(reportTypeID types.ID, data map[string]any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"data":           data,
		"report_type_id": reportTypeID.String(),
		"report": map[string]any{
			"report_type_id": reportTypeID.String(),
			"data":           data,
		},
	}
}

// CompileCondition compiles src into a boolean program.
func CompileCondition(src string) (*Condition, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("condition is required")
	}
	program, err := expr.Compile(src, expr.Env(conditionEnv("", nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("condition does not compile: %w", err)
	}
	return &Condition{source: src, program: program}, nil
}

// Match evaluates the condition against a report.
func (c *Condition) Match(reportTypeID types.ID, data map[string]any) (bool, error) {
	out, err := expr.Run(c.program, conditionEnv(reportTypeID, data))
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", c.source, err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not yield a boolean", c.source)
	}
	return matched, nil
}

// String returns the source expression.
func (c *Condition) String() string {
	return c.source
}
