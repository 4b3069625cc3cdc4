// Package hookrt executes user-supplied hook code against a run's
// execution context.
//
// Hook code is a line-oriented script. Blank lines and lines starting
// with '#' are ignored. Each remaining line is one statement:
//
//	set <path> = <expr>   write a context field through the accessor surface
//	log <expr>            append to the context log
//	emit <expr>           write to the hook's captured output
//	fail <expr>           abort the hook with a message
//
// Expressions are govaluate expressions evaluated against a read-only
// parameter set exposing the context: run_id, seed, task_type,
// detected_task, target_column, current_block, and the flattened
// metrics.*, metadata.*, and feature_importance.* entries (reference
// dotted names in brackets, e.g. [metrics.accuracy]).
//
// Writable paths are detected_task, task_type, target_column,
// metrics.<key>, metadata.<key>, and feature_importance.<key>. Context
// mutations made before a failing statement are not rolled back.
package hookrt

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

type statementKind int

const (
	stmtSet statementKind = iota
	stmtLog
	stmtEmit
	stmtFail
)

type statement struct {
	line   int
	kind   statementKind
	target string
	expr   *govaluate.EvaluableExpression
	raw    string
}

// Execute runs a hook against the context and captures its outcome. On
// success it returns the captured output (logged on the context when
// non-empty). On any failure it returns a formatted error naming the
// failing line, logged on the context before returning.
func Execute(hook domain.Hook, ec *domain.ExecutionContext, blockType string) (bool, string) {
	ec.Log(fmt.Sprintf("Executing %s hook for %s", hook.Role, blockType))

	program, err := parseProgram(hook.Code)
	if err != nil {
		msg := fmt.Sprintf("Hook execution failed: %v", err)
		ec.Log("ERROR: " + msg)
		return false, msg
	}

	var captured strings.Builder
	for _, stmt := range program {
		if err := runStatement(stmt, ec, &captured); err != nil {
			msg := fmt.Sprintf("Hook execution failed: %v\n  at line %d: %s", err, stmt.line, stmt.raw)
			ec.Log("ERROR: " + msg)
			return false, msg
		}
	}

	output := captured.String()
	if output != "" {
		ec.Log("Hook output: " + output)
	}
	return true, output
}

func runStatement(stmt statement, ec *domain.ExecutionContext, captured *strings.Builder) error {
	value, err := stmt.expr.Evaluate(contextParameters(ec))
	if err != nil {
		return err
	}
	switch stmt.kind {
	case stmtSet:
		return assign(ec, stmt.target, value)
	case stmtLog:
		ec.Log(formatValue(value))
		return nil
	case stmtEmit:
		captured.WriteString(formatValue(value))
		captured.WriteString("\n")
		return nil
	case stmtFail:
		return fmt.Errorf("hook failed: %s", formatValue(value))
	default:
		return fmt.Errorf("unknown statement kind %d", stmt.kind)
	}
}

// contextParameters flattens the context's readable surface into the
// expression namespace. Rebuilt per statement so earlier writes are
// visible to later reads within the same hook.
func contextParameters(ec *domain.ExecutionContext) map[string]any {
	params := map[string]any{
		"run_id":        ec.RunID,
		"seed":          float64(ec.Seed),
		"task_type":     string(ec.TaskType),
		"detected_task": ec.DetectedTask,
		"target_column": ec.TargetColumn,
		"current_block": ec.CurrentBlock(),
		"feature_count": float64(len(ec.FeatureNames)),
	}
	for k, v := range ec.Metrics {
		params["metrics."+k] = normalizeNumber(v)
	}
	for k, v := range ec.Metadata {
		params["metadata."+k] = normalizeNumber(v)
	}
	for k, v := range ec.FeatureImportance {
		params["feature_importance."+k] = v
	}
	return params
}

// govaluate arithmetic operates on float64; surface stored integers as
// floats so mixed expressions evaluate.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

func assign(ec *domain.ExecutionContext, target string, value any) error {
	switch {
	case target == "detected_task":
		ec.DetectedTask = formatValue(value)
	case target == "task_type":
		ec.TaskType = domain.TaskType(formatValue(value))
	case target == "target_column":
		ec.TargetColumn = formatValue(value)
	case strings.HasPrefix(target, "metrics."):
		ec.Metrics[strings.TrimPrefix(target, "metrics.")] = value
	case strings.HasPrefix(target, "metadata."):
		ec.Metadata[strings.TrimPrefix(target, "metadata.")] = value
	case strings.HasPrefix(target, "feature_importance."):
		num, ok := value.(float64)
		if !ok {
			return fmt.Errorf("feature importance value must be numeric, got %T", value)
		}
		ec.FeatureImportance[strings.TrimPrefix(target, "feature_importance.")] = num
	default:
		return fmt.Errorf("unknown assignment target %q", target)
	}
	return nil
}

func formatValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func parseProgram(code string) ([]statement, error) {
	lines := strings.Split(code, "\n")
	program := make([]statement, 0, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		stmt, err := parseStatement(i+1, trimmed)
		if err != nil {
			return nil, err
		}
		program = append(program, stmt)
	}
	return program, nil
}

func parseStatement(line int, raw string) (statement, error) {
	directive := raw
	rest := ""
	if idx := strings.IndexAny(raw, " \t"); idx >= 0 {
		directive = raw[:idx]
		rest = strings.TrimSpace(raw[idx+1:])
	}

	switch directive {
	case "set":
		target, exprText, found := strings.Cut(rest, "=")
		if !found {
			return statement{}, fmt.Errorf("line %d: set requires '<path> = <expr>'", line)
		}
		target = strings.TrimSpace(target)
		if target == "" {
			return statement{}, fmt.Errorf("line %d: set requires a target path", line)
		}
		expr, err := compileExpression(line, exprText)
		if err != nil {
			return statement{}, err
		}
		return statement{line: line, kind: stmtSet, target: target, expr: expr, raw: raw}, nil
	case "log", "emit", "fail":
		expr, err := compileExpression(line, rest)
		if err != nil {
			return statement{}, err
		}
		kind := stmtLog
		switch directive {
		case "emit":
			kind = stmtEmit
		case "fail":
			kind = stmtFail
		}
		return statement{line: line, kind: kind, expr: expr, raw: raw}, nil
	default:
		return statement{}, fmt.Errorf("line %d: unknown directive %q", line, directive)
	}
}

func compileExpression(line int, text string) (*govaluate.EvaluableExpression, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("line %d: expression is required", line)
	}
	expr, err := govaluate.NewEvaluableExpression(text)
	if err != nil {
		return nil, fmt.Errorf("line %d: %v", line, err)
	}
	return expr, nil
}
