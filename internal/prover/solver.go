package prover

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
)

// Verdict is the outcome of checking a statement against the record. Valid
// is three-valued; OriginalResult and NegatedResult report the satisfiability
// of the statement and its negation ("sat", "unsat", or "unknown").
type Verdict struct {
	Valid          string
	OriginalResult string
	NegatedResult  string
}

// Checker evaluates first-order statements against a patient record under
// closed-world semantics: measurements are NaN at unrecorded times, and
// diagnoses persist from each recorded date to the next.
type Checker struct {
	record *PatientRecord
	logger *slog.Logger
}

// NewChecker builds a checker over record.
func NewChecker(record *PatientRecord, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{record: record, logger: logger}
}

// CheckValidity parses and evaluates an s-expression statement. A statement
// that cannot be parsed or evaluated comes back as unknown alongside the
// error, so callers can degrade gracefully.
func (c *Checker) CheckValidity(statement string) (Verdict, error) {
	unknown := Verdict{Valid: "unknown", OriginalResult: "unknown", NegatedResult: "unknown"}

	expr, err := ParseSExpr(statement)
	if err != nil {
		return unknown, fmt.Errorf("failed to parse statement: %w", err)
	}
	truth, err := c.evalFormula(expr, nil)
	if err != nil {
		return unknown, fmt.Errorf("failed to evaluate statement: %w", err)
	}
	c.logger.Info("checked statement validity", "statement", statement, "truth", truth.String())

	switch truth {
	case TFUTrue:
		return Verdict{Valid: "true", OriginalResult: "sat", NegatedResult: "unsat"}, nil
	case TFUFalse:
		return Verdict{Valid: "false", OriginalResult: "unsat", NegatedResult: "sat"}, nil
	default:
		return unknown, nil
	}
}

type bindings map[string]Value

func (b bindings) with(name string, v Value) bindings {
	next := make(bindings, len(b)+1)
	for k, val := range b {
		next[k] = val
	}
	next[name] = v
	return next
}

func (c *Checker) evalFormula(e SExpr, env bindings) (TFU, error) {
	if e.IsAtom() {
		switch e.Atom {
		case "true":
			return TFUTrue, nil
		case "false":
			return TFUFalse, nil
		}
		return TFUUnknown, fmt.Errorf("expected a formula, got atom %q", e.Atom)
	}
	if len(e.List) == 0 {
		return TFUUnknown, fmt.Errorf("empty formula")
	}

	op := e.List[0].Atom
	args := e.List[1:]
	switch op {
	case "not":
		if len(args) != 1 {
			return TFUUnknown, fmt.Errorf("not takes one argument")
		}
		inner, err := c.evalFormula(args[0], env)
		if err != nil {
			return TFUUnknown, err
		}
		return tfuNot(inner), nil

	case "and", "or":
		results := make([]TFU, len(args))
		for i, arg := range args {
			truth, err := c.evalFormula(arg, env)
			if err != nil {
				return TFUUnknown, err
			}
			results[i] = truth
		}
		if op == "and" {
			return tfuAll(results), nil
		}
		return tfuAny(results), nil

	case "=>", "implies", "->":
		if len(args) != 2 {
			return TFUUnknown, fmt.Errorf("%s takes two arguments", op)
		}
		antecedent, err := c.evalFormula(args[0], env)
		if err != nil {
			return TFUUnknown, err
		}
		consequent, err := c.evalFormula(args[1], env)
		if err != nil {
			return TFUUnknown, err
		}
		return tfuAny([]TFU{tfuNot(antecedent), consequent}), nil

	case "forall", "exists":
		return c.evalQuantifier(op, args, env)

	case "=", "fp=":
		if len(args) != 2 {
			return TFUUnknown, fmt.Errorf("%s takes two arguments", op)
		}
		// Equality between formulas is iff.
		if isFormula(args[0]) || isFormula(args[1]) {
			left, err := c.evalFormula(args[0], env)
			if err != nil {
				return TFUUnknown, err
			}
			right, err := c.evalFormula(args[1], env)
			if err != nil {
				return TFUUnknown, err
			}
			if left == TFUUnknown || right == TFUUnknown {
				return TFUUnknown, nil
			}
			return tfuFromBool(left == right), nil
		}
		left, err := c.evalTerm(args[0], env)
		if err != nil {
			return TFUUnknown, err
		}
		right, err := c.evalTerm(args[1], env)
		if err != nil {
			return TFUUnknown, err
		}
		return valuesEqual(left, right, op == "fp=")

	case "<", "<=", ">", ">=", "fp<", "fp<=", "fp>", "fp>=":
		if len(args) != 2 {
			return TFUUnknown, fmt.Errorf("%s takes two arguments", op)
		}
		left, err := c.evalNumber(args[0], env)
		if err != nil {
			return TFUUnknown, err
		}
		right, err := c.evalNumber(args[1], env)
		if err != nil {
			return TFUUnknown, err
		}
		// Comparisons involving an undefined measurement are false, as in
		// IEEE floating point.
		if math.IsNaN(left) || math.IsNaN(right) {
			return TFUFalse, nil
		}
		switch op {
		case "<", "fp<":
			return tfuFromBool(left < right), nil
		case "<=", "fp<=":
			return tfuFromBool(left <= right), nil
		case ">", "fp>":
			return tfuFromBool(left > right), nil
		default:
			return tfuFromBool(left >= right), nil
		}
	}
	return TFUUnknown, fmt.Errorf("unsupported operator %q", op)
}

var formulaOps = map[string]bool{
	"not": true, "and": true, "or": true, "=>": true, "implies": true,
	"->": true, "forall": true, "exists": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"fp<": true, "fp<=": true, "fp>": true, "fp>=": true,
}

func isFormula(e SExpr) bool {
	return !e.IsAtom() && len(e.List) > 0 && formulaOps[e.List[0].Atom]
}

func (c *Checker) evalQuantifier(op string, args []SExpr, env bindings) (TFU, error) {
	if len(args) != 2 {
		return TFUUnknown, fmt.Errorf("%s takes a variable list and a body", op)
	}
	varList := args[0]
	if varList.IsAtom() {
		return TFUUnknown, fmt.Errorf("%s variable list must be a list", op)
	}

	// Evaluate over the representative domain: every recorded point plus
	// witnesses before, between, and after them. The closed-world axioms make
	// each function constant across those gaps, so the witnesses stand in
	// for the whole interval.
	type boundVar struct {
		name   string
		domain []Value
	}
	vars := make([]boundVar, 0, len(varList.List))
	for _, decl := range varList.List {
		if decl.IsAtom() || len(decl.List) != 2 {
			return TFUUnknown, fmt.Errorf("malformed variable declaration %s", decl)
		}
		name, sortName := decl.List[0].Atom, decl.List[1].Atom
		var domain []Value
		switch sortName {
		case "Int":
			for _, day := range c.candidateDays() {
				domain = append(domain, IntValue(day))
			}
		case "FP", "Real":
			for _, n := range c.candidateNumbers() {
				domain = append(domain, NumberValue(n))
			}
		case "String":
			for _, s := range c.candidateStrings() {
				domain = append(domain, StringValue(s))
			}
		default:
			return TFUUnknown, fmt.Errorf("unsupported sort %q for variable %q", sortName, name)
		}
		vars = append(vars, boundVar{name: name, domain: domain})
	}

	body := args[1]
	var results []TFU
	var walk func(depth int, env bindings) error
	walk = func(depth int, env bindings) error {
		if depth == len(vars) {
			truth, err := c.evalFormula(body, env)
			if err != nil {
				return err
			}
			results = append(results, truth)
			return nil
		}
		for _, v := range vars[depth].domain {
			if err := walk(depth+1, env.with(vars[depth].name, v)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0, env); err != nil {
		return TFUUnknown, err
	}

	if op == "forall" {
		return tfuAll(results), nil
	}
	return tfuAny(results), nil
}

func (c *Checker) evalTerm(e SExpr, env bindings) (Value, error) {
	if e.IsAtom() {
		return c.evalAtom(e, env)
	}
	if len(e.List) == 0 {
		return Value{}, fmt.Errorf("empty term")
	}
	head := e.List[0].Atom

	if _, ok := c.record.function(head); ok {
		args := make([]Value, 0, len(e.List)-1)
		for _, arg := range e.List[1:] {
			v, err := c.evalTerm(arg, env)
			if err != nil {
				return Value{}, err
			}
			args = append(args, v)
		}
		return c.apply(head, args)
	}

	switch head {
	case "+", "-", "/", "*", "fp+", "fp-", "fp/":
		if len(e.List) != 3 {
			return Value{}, fmt.Errorf("%s takes two arguments", head)
		}
		left, err := c.evalNumber(e.List[1], env)
		if err != nil {
			return Value{}, err
		}
		right, err := c.evalNumber(e.List[2], env)
		if err != nil {
			return Value{}, err
		}
		switch head {
		case "+", "fp+":
			return NumberValue(left + right), nil
		case "-", "fp-":
			return NumberValue(left - right), nil
		case "*":
			return NumberValue(left * right), nil
		default:
			return NumberValue(left / right), nil
		}
	}
	return Value{}, fmt.Errorf("unknown function %q", head)
}

func (c *Checker) evalAtom(e SExpr, env bindings) (Value, error) {
	if e.Quoted {
		return StringValue(e.Atom), nil
	}
	switch e.Atom {
	case "tfu_true":
		return TFUValue(TFUTrue), nil
	case "tfu_false":
		return TFUValue(TFUFalse), nil
	case "tfu_true_or_false", "tfu_unknown":
		return TFUValue(TFUUnknown), nil
	case "NaN", "nan":
		return NaNValue(), nil
	}
	if v, ok := env[e.Atom]; ok {
		return v, nil
	}
	if def, ok := c.record.function(e.Atom); ok && len(def.Args) == 0 {
		return c.apply(e.Atom, nil)
	}
	if i, err := strconv.Atoi(e.Atom); err == nil {
		return IntValue(i), nil
	}
	if f, err := strconv.ParseFloat(e.Atom, 64); err == nil {
		return NumberValue(f), nil
	}
	return Value{}, fmt.Errorf("unknown symbol %q", e.Atom)
}

func (c *Checker) evalNumber(e SExpr, env bindings) (float64, error) {
	v, err := c.evalTerm(e, env)
	if err != nil {
		return 0, err
	}
	return toNumber(v)
}

// apply resolves a function application against the record.
func (c *Checker) apply(name string, args []Value) (Value, error) {
	def, ok := c.record.function(name)
	if !ok {
		return Value{}, fmt.Errorf("unknown function %q", name)
	}
	if len(args) != len(def.Args) {
		return Value{}, fmt.Errorf("%s takes %d arguments, got %d", name, len(def.Args), len(args))
	}
	facts := c.record.factsFor(name)

	if def.Interpolated {
		return c.applyInterpolated(def, facts, args)
	}

	for _, fact := range facts {
		if argsMatch(fact.Args, args) {
			return fact.Result, nil
		}
	}
	if def.Sort == SortNumber {
		// Closed world: nothing was measured at this point.
		return NaNValue(), nil
	}
	return Value{}, fmt.Errorf("%s is not defined at %v", name, args)
}

// applyInterpolated resolves a persisting relation: the value at a time is
// the most recently recorded value at or before it. Before the first record,
// and for keys never recorded, the value is undetermined.
func (c *Checker) applyInterpolated(def FunctionDef, facts []Fact, args []Value) (Value, error) {
	key := args[0]
	day, err := toInt(args[len(args)-1])
	if err != nil {
		return Value{}, fmt.Errorf("%s time argument: %w", def.Name, err)
	}

	var relevant []Fact
	for _, fact := range facts {
		match, err := valuesEqual(fact.Args[0], key, false)
		if err != nil {
			return Value{}, err
		}
		if match == TFUTrue {
			relevant = append(relevant, fact)
		}
	}
	if len(relevant) == 0 {
		return TFUValue(TFUUnknown), nil
	}
	sort.Slice(relevant, func(i, j int) bool {
		return relevant[i].Args[1].i < relevant[j].Args[1].i
	})
	if day < relevant[0].Args[1].i {
		return TFUValue(TFUUnknown), nil
	}
	result := relevant[0].Result
	for _, fact := range relevant[1:] {
		if fact.Args[1].i > day {
			break
		}
		result = fact.Result
	}
	return result, nil
}

// candidateDays returns the representative time domain: all recorded days,
// one day before the earliest, one after the latest, and the midpoint of
// every gap.
func (c *Checker) candidateDays() []int {
	seen := make(map[int]bool)
	for _, fact := range c.record.facts {
		for _, arg := range fact.Args {
			if arg.kind == kindInt {
				seen[arg.i] = true
			}
		}
		if fact.Result.kind == kindInt {
			seen[fact.Result.i] = true
		}
	}
	if len(seen) == 0 {
		return []int{0}
	}
	days := make([]int, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Ints(days)

	out := []int{days[0] - 1}
	for i, day := range days {
		out = append(out, day)
		if i+1 < len(days) && days[i+1] > day+1 {
			out = append(out, day+(days[i+1]-day)/2)
		}
	}
	return append(out, days[len(days)-1]+1)
}

func (c *Checker) candidateNumbers() []float64 {
	out := []float64{math.NaN()}
	seen := make(map[float64]bool)
	for _, fact := range c.record.facts {
		if fact.Result.kind == kindNumber && !math.IsNaN(fact.Result.num) && !seen[fact.Result.num] {
			seen[fact.Result.num] = true
			out = append(out, fact.Result.num)
		}
	}
	return out
}

func (c *Checker) candidateStrings() []string {
	out := []string{"%%unobserved%%"}
	seen := make(map[string]bool)
	for _, fact := range c.record.facts {
		for _, v := range append([]Value{fact.Result}, fact.Args...) {
			if v.kind == kindString && !seen[v.str] {
				seen[v.str] = true
				out = append(out, v.str)
			}
		}
	}
	return out
}

// argsMatch reports whether two argument lists are structurally equal,
// using the same non-IEEE equality applyInterpolated uses for keys.
func argsMatch(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		match, err := valuesEqual(a[i], b[i], false)
		if err != nil || match != TFUTrue {
			return false
		}
	}
	return true
}

// valuesEqual compares two values. With ieee set, NaN is unequal to
// everything including itself; otherwise equality is structural and NaN
// equals NaN.
func valuesEqual(a, b Value, ieee bool) (TFU, error) {
	if a.kind == kindInt && b.kind == kindNumber || a.kind == kindNumber && b.kind == kindInt {
		an, _ := toNumber(a)
		bn, _ := toNumber(b)
		a, b = NumberValue(an), NumberValue(bn)
	}
	if a.kind != b.kind {
		return TFUUnknown, fmt.Errorf("cannot compare %s with %s", a, b)
	}
	switch a.kind {
	case kindNumber:
		if math.IsNaN(a.num) || math.IsNaN(b.num) {
			return tfuFromBool(!ieee && math.IsNaN(a.num) && math.IsNaN(b.num)), nil
		}
		return tfuFromBool(a.num == b.num), nil
	case kindInt:
		return tfuFromBool(a.i == b.i), nil
	case kindString:
		return tfuFromBool(a.str == b.str), nil
	default:
		return tfuFromBool(a.tfu == b.tfu), nil
	}
}

func toNumber(v Value) (float64, error) {
	switch v.kind {
	case kindNumber:
		return v.num, nil
	case kindInt:
		return float64(v.i), nil
	default:
		return 0, fmt.Errorf("%s is not numeric", v)
	}
}

func toInt(v Value) (int, error) {
	switch v.kind {
	case kindInt:
		return v.i, nil
	case kindNumber:
		if v.num == math.Trunc(v.num) && !math.IsNaN(v.num) {
			return int(v.num), nil
		}
	}
	return 0, fmt.Errorf("%s is not an integer", v)
}

func tfuFromBool(b bool) TFU {
	if b {
		return TFUTrue
	}
	return TFUFalse
}

func tfuNot(t TFU) TFU {
	switch t {
	case TFUTrue:
		return TFUFalse
	case TFUFalse:
		return TFUTrue
	default:
		return TFUUnknown
	}
}

func tfuAll(results []TFU) TFU {
	out := TFUTrue
	for _, r := range results {
		switch r {
		case TFUFalse:
			return TFUFalse
		case TFUUnknown:
			out = TFUUnknown
		}
	}
	return out
}

func tfuAny(results []TFU) TFU {
	out := TFUFalse
	for _, r := range results {
		switch r {
		case TFUTrue:
			return TFUTrue
		case TFUUnknown:
			out = TFUUnknown
		}
	}
	return out
}
