// Package patterns evaluates the fraud pattern library with CEL.
//
// A pattern is a set of boolean indicator expressions. Its match strength is
// the fraction of indicators that hold for a transaction.
package patterns

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Pattern is one entry of the library.
type Pattern struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Indicators  []string `json:"indicators"`
	RiskWeight  float64  `json:"riskWeight"`
	Enabled     bool     `json:"enabled"`
}

// Input is the view of a transaction the indicators can reference.
// Claims30d, DaysSinceLast, TenureMonths, Hour and Weekday are -1 when
// unknown.
type Input struct {
	Amount        float64
	AverageAmount float64
	Total30d      float64
	Claims30d     int
	DaysSinceLast int
	TenureMonths  int
	ProviderRisk  float64
	Documents     int
	Hour          int
	Weekday       int
	TxType        string
}

// Unknown marks an Input counter the caller could not supply.
const Unknown = -1

func (in Input) activation() map[string]any {
	return map[string]any{
		"amount":          in.Amount,
		"avg_amount":      in.AverageAmount,
		"total_30d":       in.Total30d,
		"claims_30d":      int64(in.Claims30d),
		"days_since_last": int64(in.DaysSinceLast),
		"tenure_months":   int64(in.TenureMonths),
		"provider_risk":   in.ProviderRisk,
		"documents":       int64(in.Documents),
		"hour":            int64(in.Hour),
		"weekday":         int64(in.Weekday),
		"tx_type":         in.TxType,
	}
}

// Match is the evaluation of one pattern.
type Match struct {
	PatternID   string
	Name        string
	Description string
	RiskWeight  float64
	Matched     int
	Total       int
	Strength    float64
	Indicators  []string // expressions that held
	Errors      []string
}

type compiledPattern struct {
	pattern  Pattern
	programs []cel.Program
}

// Engine holds the compiled library. Reload swaps it under a write lock;
// evaluations in flight keep the library they started with.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   []*compiledPattern
	maxWorkers int
}

// NewEngine creates an engine with an empty library.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("avg_amount", cel.DoubleType),
		cel.Variable("total_30d", cel.DoubleType),
		cel.Variable("claims_30d", cel.IntType),
		cel.Variable("days_since_last", cel.IntType),
		cel.Variable("tenure_months", cel.IntType),
		cel.Variable("provider_risk", cel.DoubleType),
		cel.Variable("documents", cel.IntType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("tx_type", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env, maxWorkers: maxWorkers}, nil
}

// Validate compiles p without loading it.
func (e *Engine) Validate(p Pattern) error {
	_, err := e.compile(p)
	return err
}

// Load replaces the library. Disabled patterns are skipped. On error the
// current library stays in place.
func (e *Engine) Load(library []Pattern) error {
	next := make([]*compiledPattern, 0, len(library))
	seen := make(map[string]bool, len(library))
	for _, p := range library {
		if !p.Enabled {
			continue
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate pattern id %s", p.ID)
		}
		seen[p.ID] = true

		c, err := e.compile(p)
		if err != nil {
			return err
		}
		next = append(next, c)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].pattern.ID < next[j].pattern.ID })

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()
	return nil
}

// Patterns returns the loaded library.
func (e *Engine) Patterns() []Pattern {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Pattern, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.pattern)
	}
	return out
}

// Count returns the number of loaded patterns.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Evaluate matches every loaded pattern against in. Results follow pattern id
// order. It stops early with ctx's error when ctx is done.
func (e *Engine) Evaluate(ctx context.Context, in Input) ([]Match, error) {
	e.mu.RLock()
	library := e.compiled
	e.mu.RUnlock()

	if len(library) == 0 {
		return nil, nil
	}

	activation := in.activation()
	results := make([]Match, len(library))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, c := range library {
		wg.Add(1)
		go func(idx int, c *compiledPattern) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			results[idx] = evaluate(c, activation)
		}(i, c)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func evaluate(c *compiledPattern, activation map[string]any) Match {
	m := Match{
		PatternID:   c.pattern.ID,
		Name:        c.pattern.Name,
		Description: c.pattern.Description,
		RiskWeight:  c.pattern.RiskWeight,
		Total:       len(c.programs),
	}

	for i, prg := range c.programs {
		out, _, err := prg.Eval(activation)
		if err != nil {
			m.Errors = append(m.Errors, fmt.Sprintf("indicator %d: %v", i, err))
			continue
		}
		if out == types.True {
			m.Matched++
			m.Indicators = append(m.Indicators, c.pattern.Indicators[i])
		}
	}

	if m.Total > 0 {
		m.Strength = float64(m.Matched) / float64(m.Total)
	}
	return m
}

func (e *Engine) compile(p Pattern) (*compiledPattern, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("pattern id is required")
	}
	if len(p.Indicators) == 0 {
		return nil, fmt.Errorf("pattern %s: at least one indicator is required", p.ID)
	}
	if p.RiskWeight < 0 || p.RiskWeight > 1 {
		return nil, fmt.Errorf("pattern %s: risk weight must be in [0,1], got %v", p.ID, p.RiskWeight)
	}

	c := &compiledPattern{pattern: p}
	for i, expr := range p.Indicators {
		ast, issues := e.env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile pattern %s indicator %d: %w", p.ID, i, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("pattern %s indicator %d: expression must return bool, got %s", p.ID, i, ast.OutputType())
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for pattern %s: %w", p.ID, err)
		}
		c.programs = append(c.programs, prg)
	}
	return c, nil
}
