package process

import (
	"fmt"
	"strings"

	goeval "github.com/edisonguo/govaluate"
	"github.com/nci/geoserve/wps"
)

// expression is a parsed govaluate expression with its variable names.
type expression struct {
	expr *goeval.EvaluableExpression
	vars []string
}

// parseExpression compiles src. When allowed is not nil every variable must
// be one of its keys.
func parseExpression(id, src string, allowed map[string]bool) (*expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, wps.MissingParam(id)
	}
	expr, err := goeval.NewEvaluableExpression(src)
	if err != nil {
		return nil, wps.InvalidParam(id, "invalid expression '%s': %v", src, err)
	}
	e := &expression{expr: expr}
	seen := map[string]bool{}
	for _, token := range expr.Tokens() {
		if token.Kind != goeval.VARIABLE {
			continue
		}
		name, ok := token.Value.(string)
		if !ok {
			return nil, wps.InvalidParam(id, "variable token '%v' failed to cast string", token.Value)
		}
		if allowed != nil && !allowed[name] {
			return nil, wps.InvalidParam(id, "variable %s is not supported", name)
		}
		if !seen[name] {
			seen[name] = true
			e.vars = append(e.vars, name)
		}
	}
	return e, nil
}

// eval evaluates the expression. Variables missing from params are nil.
func (e *expression) eval(params map[string]interface{}) (interface{}, error) {
	for _, v := range e.vars {
		if _, ok := params[v]; !ok {
			params[v] = nil
		}
	}
	return e.expr.Evaluate(params)
}

func (e *expression) bool(params map[string]interface{}) (bool, error) {
	result, err := e.eval(params)
	if err != nil {
		return false, err
	}
	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("result '%v' is not boolean", result)
	}
	return val, nil
}

func (e *expression) float(params map[string]interface{}) (float64, error) {
	result, err := e.eval(params)
	if err != nil {
		return 0, err
	}
	val, ok := toFloat(result)
	if !ok {
		return 0, fmt.Errorf("result '%v' is not a number", result)
	}
	return val, nil
}
