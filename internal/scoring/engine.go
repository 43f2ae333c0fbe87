package scoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// DefaultExpression is the built-in scoring blend used when no expression
// is configured. Weights sum to 1; debt_to_income overshoot is clamped by
// the engine.
const DefaultExpression = `0.22 * (1.0 - document_quality)` +
	` + 0.18 * financial_risk` +
	` + 0.14 * (1.0 - digital_consistency)` +
	` + 0.14 * (1.0 - identity_match)` +
	` + 0.12 * identity_mismatch` +
	` + 0.10 * (1.0 - (double(credit_score) - 300.0) / 550.0)` +
	` + 0.10 * debt_to_income`

// Engine is the CEL-backed Scorer. The expression is compiled once and
// hot-swappable at runtime.
type Engine struct {
	mu      sync.RWMutex
	env     *cel.Env
	program cel.Program
	current *domain.ScoringConfig
}

// NewEngine creates a scoring engine with the given expression.
// An empty expression selects DefaultExpression.
func NewEngine(cfg *domain.ScoringConfig) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("document_quality", cel.DoubleType),
		cel.Variable("document_consistency", cel.DoubleType),
		cel.Variable("biometric_verification", cel.DoubleType),
		cel.Variable("identity_match", cel.DoubleType),
		cel.Variable("financial_risk", cel.DoubleType),
		cel.Variable("digital_consistency", cel.DoubleType),
		cel.Variable("digital_footprint", cel.DoubleType),
		cel.Variable("income_alignment", cel.DoubleType),
		cel.Variable("digital_reputation", cel.DoubleType),
		cel.Variable("identity_mismatch", cel.DoubleType),
		cel.Variable("credit_score", cel.IntType),
		cel.Variable("banking_history_months", cel.IntType),
		cel.Variable("debt_to_income", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}

	if cfg == nil {
		cfg = &domain.ScoringConfig{
			ID:         "default",
			Name:       "Default blend",
			Expression: DefaultExpression,
			Enabled:    true,
		}
	}
	if cfg.Expression == "" {
		cfg.Expression = DefaultExpression
	}

	if err := e.Reload(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate compiles an expression without swapping the active program.
func (e *Engine) Validate(expression string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(expression)
	return err
}

// Reload compiles cfg's expression and makes it the active scorer.
// On compile failure the previous program stays in place.
func (e *Engine) Reload(cfg *domain.ScoringConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	program, err := e.compile(cfg.Expression)
	if err != nil {
		return err
	}

	e.program = program
	e.current = cfg
	return nil
}

// Current returns the active scoring configuration.
func (e *Engine) Current() *domain.ScoringConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Score implements Scorer. The result is clamped to [0,1].
func (e *Engine) Score(ctx context.Context, r *domain.CustomerRecord) (float64, error) {
	e.mu.RLock()
	program := e.program
	e.mu.RUnlock()

	out, _, err := program.Eval(activation(r))
	if err != nil {
		return 0, fmt.Errorf("expression evaluation: %w", err)
	}

	return clamp01(toScore(out)), nil
}

func activation(r *domain.CustomerRecord) map[string]any {
	return map[string]any{
		"record": map[string]any{
			"customer_id": r.CustomerID,
			"city":        r.City,
			"pincode":     r.Pincode,
		},
		"document_quality":       r.DocumentQualityScore,
		"document_consistency":   r.DocumentConsistencyScore,
		"biometric_verification": r.BiometricVerificationScore,
		"identity_match":         r.IdentityMatchScore,
		"financial_risk":         r.FinancialRiskScore,
		"digital_consistency":    r.DigitalConsistencyScore,
		"digital_footprint":      r.DigitalFootprintScore,
		"income_alignment":       r.IncomeAlignmentScore,
		"digital_reputation":     r.DigitalReputationScore,
		"identity_mismatch":      r.IdentityMismatchScore,
		"credit_score":           int64(r.CreditScore),
		"banking_history_months": int64(r.BankingHistoryMonths),
		"debt_to_income":         r.DebtToIncomeRatio,
	}
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

func (e *Engine) compile(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression is required")
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("expression must return bool, int, or double, got %s", outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}
