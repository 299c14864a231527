// Package validation runs the standard GraphQL validation rules followed by
// custom rules that bound the cost of a document.
package validation

import (
	"context"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	events "github.com/hanpama/graphcore/internal/events"
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	language "github.com/hanpama/graphcore/internal/language"
	schema "github.com/hanpama/graphcore/internal/schema"
)

// Rule inspects a document against a schema. It reports every violation it
// finds; an empty list means the document passed.
type Rule interface {
	Name() string
	Validate(s *schema.Schema, doc *language.QueryDocument) gqlerrors.List
}

// RuleFunc adapts a function into a Rule.
type RuleFunc func(s *schema.Schema, doc *language.QueryDocument) gqlerrors.List

// Named gives fn a rule name.
func Named(name string, fn RuleFunc) Rule { return namedRule{name: name, fn: fn} }

type namedRule struct {
	name string
	fn   RuleFunc
}

func (r namedRule) Name() string { return r.name }

func (r namedRule) Validate(s *schema.Schema, doc *language.QueryDocument) gqlerrors.List {
	return r.fn(s, doc)
}

// StandardRuleName labels violations of the built-in GraphQL rules.
const StandardRuleName = "standard"

// Engine runs validation rules. Violations of all rules are collected; a
// failing rule never stops the ones after it.
type Engine struct {
	Rules    []Rule
	logger   *zap.Logger
	standard bool
}

type Option func(*Engine)

// WithRules appends custom rules.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) { e.Rules = append(e.Rules, rules...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithoutStandardRules disables the built-in GraphQL rules.
func WithoutStandardRules() Option {
	return func(e *Engine) { e.standard = false }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: zap.NewNop(), standard: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate runs the standard rules, then the engine's rules, then extra.
func (e *Engine) Validate(ctx context.Context, s *schema.Schema, doc *language.QueryDocument, extra ...Rule) gqlerrors.List {
	var out gqlerrors.List
	if e.standard && s != nil {
		ast, err := s.AST()
		if err != nil {
			e.logger.Warn("standard validation skipped", zap.Error(err))
		} else if errs := language.Validate(ast, doc); len(errs) > 0 {
			out = append(out, e.label(ctx, StandardRuleName, standardErrors(errs))...)
		}
	}
	rules := e.Rules
	if len(extra) > 0 {
		rules = append(append([]Rule(nil), e.Rules...), extra...)
	}
	for _, r := range rules {
		if errs := r.Validate(s, doc); len(errs) > 0 {
			out = append(out, e.label(ctx, r.Name(), errs)...)
		}
	}
	return out
}

func (e *Engine) label(ctx context.Context, rule string, errs gqlerrors.List) gqlerrors.List {
	for _, err := range errs {
		if _, ok := err.Extensions["category"]; !ok {
			err.SetExtension("category", gqlerrors.CategoryGraphQL)
		}
		if _, ok := err.Extensions["rule"]; !ok {
			err.SetExtension("rule", rule)
		}
	}
	e.logger.Warn("document rejected",
		zap.String("rule", rule),
		zap.Int("violations", len(errs)),
		zap.String("first", errs[0].Message),
	)
	eventbus.Publish(ctx, events.ValidationRejected{Rule: rule, Violations: len(errs)})
	return errs
}

// standardErrors relabels gqlparser violations as StandardRuleName. The
// gqlparser rule that fired moves to extensions.gqlRule.
func standardErrors(errs language.ErrorList) gqlerrors.List {
	out := gqlerrors.FromParserList(errs)
	for _, err := range out {
		if name, ok := err.Extensions["rule"]; ok {
			err.SetExtension("gqlRule", name)
		}
		err.SetExtension("rule", StandardRuleName)
	}
	return out
}

func violation(rule string, pos *language.Position, format string, args ...any) *gqlerrors.Error {
	err := gqlerrors.New(format, args...)
	err.Locations = language.LocationOf(pos)
	err.SetExtension("category", gqlerrors.CategoryGraphQL)
	err.SetExtension("rule", rule)
	return err
}
