package runner

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"seabench/benchmark-engine/pkg/types"

	"github.com/ohler55/ojg/jp"
)

// assertingRunner checks the operation's declared assertions against the
// delegate's result. Assertion specs travel in the reserved "assertions"
// parameter, the operation name in "name"; the worker injects both.
type assertingRunner struct {
	delegate Runner
	registry *Registry
}

func (a *assertingRunner) Name() string { return a.delegate.Name() }

func (a *assertingRunner) Invoke(ctx context.Context, client Transport, params map[string]any) (*Result, error) {
	result, err := a.delegate.Invoke(ctx, client, params)
	if err != nil || result == nil {
		return result, err
	}
	if !a.registry.AssertionsEnabled() {
		return result, nil
	}
	assertions, ok := params["assertions"].([]*types.Assertion)
	if !ok || len(assertions) == 0 {
		return result, nil
	}

	opName := stringParam(params, "name", "")
	doc := resultDocument(result)
	for _, assertion := range assertions {
		if err := checkAssertion(opName, assertion, doc); err != nil {
			return result, err
		}
	}
	return result, nil
}

// resultDocument flattens a result into the properties assertions can
// address: the standard weight/unit/success triple plus the meta fields.
func resultDocument(result *Result) map[string]any {
	doc := map[string]any{
		"weight":  result.Weight,
		"unit":    result.Unit,
		"success": result.Success,
	}
	for k, v := range result.Meta {
		doc[k] = v
	}
	return doc
}

func checkAssertion(opName string, assertion *types.Assertion, doc map[string]any) error {
	path, err := jp.ParseString(assertion.Path)
	if err != nil {
		return types.NewDataError("invalid assertion path %q: %v", assertion.Path, err)
	}

	actual := path.First(doc)
	if actual == nil {
		return assertionError(opName, assertion, "the property did not exist")
	}

	ok, err := compare(assertion.Condition, assertion.Expected, actual)
	if err != nil {
		return types.NewDataError("assertion on [%s] cannot be evaluated: %v", assertion.Path, err)
	}
	if !ok {
		return assertionError(opName, assertion, fmt.Sprintf("was [%v]", actual))
	}
	return nil
}

func assertionError(opName string, assertion *types.Assertion, outcome string) error {
	if opName != "" {
		return types.NewDataError("Expected [%s] in [%s] to be %s [%v] but %s.",
			assertion.Path, opName, assertion.Condition, assertion.Expected, outcome)
	}
	return types.NewDataError("Expected [%s] to be %s [%v] but %s.",
		assertion.Path, assertion.Condition, assertion.Expected, outcome)
}

// compare applies the assertion's condition. Numbers compare numerically
// across integer and float representations, strings lexicographically;
// other types support equality only.
func compare(condition string, expected, actual any) (bool, error) {
	if actualNum, ok := asFloat(actual); ok {
		if expectedNum, ok := asFloat(expected); ok {
			return compareOrdered(condition, actualNum, expectedNum)
		}
	}
	if actualStr, ok := asString(actual); ok {
		if expectedStr, ok := asString(expected); ok {
			return compareOrdered(condition, strings.Compare(actualStr, expectedStr), 0)
		}
	}

	switch condition {
	case "==":
		return reflect.DeepEqual(normalize(actual), normalize(expected)), nil
	case "!=":
		return !reflect.DeepEqual(normalize(actual), normalize(expected)), nil
	default:
		return false, types.NewDataError("condition %q needs comparable values, got %T and %T", condition, actual, expected)
	}
}

func compareOrdered[T int | float64](condition string, actual, expected T) (bool, error) {
	switch condition {
	case "==":
		return actual == expected, nil
	case "!=":
		return actual != expected, nil
	case ">":
		return actual > expected, nil
	case ">=":
		return actual >= expected, nil
	case "<":
		return actual < expected, nil
	case "<=":
		return actual <= expected, nil
	default:
		return false, types.NewDataError("unknown condition %q", condition)
	}
}

// normalize widens numeric values so DeepEqual treats 1 and 1.0 alike.
func normalize(v any) any {
	if f, ok := asFloat(v); ok {
		return f
	}
	return v
}
