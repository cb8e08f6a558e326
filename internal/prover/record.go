package prover

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// TFU is the three-valued truth sort used for diagnoses: a diagnosis can be
// recorded as present, absent, or genuinely undetermined.
type TFU int

const (
	TFUTrue TFU = iota
	TFUFalse
	TFUUnknown
)

func (t TFU) String() string {
	switch t {
	case TFUTrue:
		return "tfu_true"
	case TFUFalse:
		return "tfu_false"
	default:
		return "tfu_true_or_false"
	}
}

// Sort is the type of a function's return value.
type Sort int

const (
	SortString Sort = iota
	SortInt
	SortNumber
	SortTFU
)

type valueKind int

const (
	kindNumber valueKind = iota
	kindInt
	kindString
	kindTFU
)

// Value is a typed constant: a measurement, a date, a name, or a TFU verdict.
type Value struct {
	kind valueKind
	num  float64
	i    int
	str  string
	tfu  TFU
}

func NumberValue(v float64) Value { return Value{kind: kindNumber, num: v} }
func NaNValue() Value             { return Value{kind: kindNumber, num: math.NaN()} }
func IntValue(v int) Value        { return Value{kind: kindInt, i: v} }
func StringValue(v string) Value  { return Value{kind: kindString, str: v} }
func TFUValue(v TFU) Value        { return Value{kind: kindTFU, tfu: v} }

// IsNaN reports whether the value is the undefined measurement marker.
func (v Value) IsNaN() bool {
	return v.kind == kindNumber && math.IsNaN(v.num)
}

func (v Value) String() string {
	switch v.kind {
	case kindNumber:
		return formatNumber(v.num)
	case kindInt:
		return strconv.Itoa(v.i)
	case kindString:
		return v.str
	default:
		return v.tfu.String()
	}
}

// formatNumber renders measurements the way they appear in the record:
// whole values keep one decimal place so 55 reads as the measurement 55.0.
func formatNumber(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Unit is the singular/plural unit pair attached to a measurement.
type Unit struct {
	Singular string
	Plural   string
}

func (u Unit) pick(v float64) string {
	if v == 1 {
		return u.Singular
	}
	return u.Plural
}

// FunctionDef describes one relation in the knowledge base. Arguments are
// named; an argument named "time" is an epochal day and drives the temporal
// phrasing of facts.
type FunctionDef struct {
	Name string
	Args []string
	Sort Sort
	Unit *Unit
	// Interpolated marks relations whose value persists from one recorded
	// time to the next instead of being undefined between records.
	Interpolated bool
	// EpochalResult marks constants whose value is itself an epochal day and
	// should read as a calendar date.
	EpochalResult bool
}

// Fact records one value of one function.
type Fact struct {
	Function string
	Args     []Value
	Result   Value
}

// PatientRecord is the closed-world knowledge base for a single patient: a
// set of function definitions plus the recorded facts.
type PatientRecord struct {
	funcs []FunctionDef
	facts []Fact
}

// NewPatientRecord builds a record from definitions and facts. Every fact
// must reference a defined function.
func NewPatientRecord(funcs []FunctionDef, facts []Fact) (*PatientRecord, error) {
	byName := make(map[string]FunctionDef, len(funcs))
	for _, f := range funcs {
		byName[f.Name] = f
	}
	for _, fact := range facts {
		def, ok := byName[fact.Function]
		if !ok {
			return nil, fmt.Errorf("fact references undefined function %q", fact.Function)
		}
		if len(fact.Args) != len(def.Args) {
			return nil, fmt.Errorf("fact for %q has %d args, want %d",
				fact.Function, len(fact.Args), len(def.Args))
		}
	}
	return &PatientRecord{funcs: funcs, facts: facts}, nil
}

// diagnosisFunction is the diagnosis relation name: (D ICD time) -> TFU.
const diagnosisFunction = "D"

// DemoPatient returns the demo knowledge base: Joe Bloggs, born 1950, with a
// pair of heart-rate and weight measurements and an on-again-off-again E11
// (type 2 diabetes) diagnosis.
func DemoPatient() *PatientRecord {
	birthDate := mustEpochal("1950-1-1")
	ageYears := float64(Today()-birthDate) / 365

	funcs := []FunctionDef{
		{Name: "name", Sort: SortString},
		{
			Name: "birth-date", Sort: SortInt, EpochalResult: true,
			Unit: &Unit{"Unix epochal day", "Unix epochal days"},
		},
		{Name: "age", Sort: SortNumber, Unit: &Unit{"year", "years"}},
		{
			Name: "heart-rate", Sort: SortNumber, Args: []string{"time"},
			Unit: &Unit{"beat/sec", "beats/sec"},
		},
		{
			Name: "weight", Sort: SortNumber, Args: []string{"time"},
			Unit: &Unit{"pound", "pounds"},
		},
		{
			Name: diagnosisFunction, Sort: SortTFU,
			Args: []string{"ICD", "time"}, Interpolated: true,
		},
	}
	facts := []Fact{
		{Function: "name", Result: StringValue("Joe Bloggs")},
		{Function: "birth-date", Result: IntValue(birthDate)},
		{Function: "age", Result: NumberValue(ageYears)},
		{Function: "heart-rate", Args: []Value{IntValue(mustEpochal("2005-02-01"))}, Result: NumberValue(55.0)},
		{Function: "heart-rate", Args: []Value{IntValue(mustEpochal("2006-02-01"))}, Result: NumberValue(60.0)},
		{Function: "weight", Args: []Value{IntValue(mustEpochal("2005-02-01"))}, Result: NumberValue(150.0)},
		{Function: "weight", Args: []Value{IntValue(mustEpochal("2006-02-01"))}, Result: NumberValue(155.0)},
		{Function: diagnosisFunction, Args: []Value{StringValue("E11"), IntValue(mustEpochal("2006-02-01"))}, Result: TFUValue(TFUTrue)},
		{Function: diagnosisFunction, Args: []Value{StringValue("E11"), IntValue(mustEpochal("2006-03-01"))}, Result: TFUValue(TFUFalse)},
		{Function: diagnosisFunction, Args: []Value{StringValue("E11"), IntValue(mustEpochal("2006-04-01"))}, Result: TFUValue(TFUTrue)},
	}
	record, err := NewPatientRecord(funcs, facts)
	if err != nil {
		panic(err)
	}
	return record
}

func (r *PatientRecord) function(name string) (FunctionDef, bool) {
	for _, f := range r.funcs {
		if f.Name == name {
			return f, true
		}
	}
	return FunctionDef{}, false
}

func (r *PatientRecord) factsFor(name string) []Fact {
	var out []Fact
	for _, f := range r.facts {
		if f.Function == name {
			out = append(out, f)
		}
	}
	return out
}

// ConstantValue returns the recorded value of a zero-arity function.
func (r *PatientRecord) ConstantValue(name string) (Value, bool) {
	def, ok := r.function(name)
	if !ok || len(def.Args) != 0 {
		return Value{}, false
	}
	facts := r.factsFor(name)
	if len(facts) == 0 {
		return Value{}, false
	}
	return facts[0].Result, true
}

// LatestMeasurement returns the most recent recorded value of a timed
// function and the epochal day it was recorded on.
func (r *PatientRecord) LatestMeasurement(name string) (Value, int, bool) {
	def, ok := r.function(name)
	if !ok || len(def.Args) != 1 || def.Args[0] != "time" {
		return Value{}, 0, false
	}
	var best Fact
	found := false
	for _, fact := range r.factsFor(name) {
		if !found || fact.Args[0].i > best.Args[0].i {
			best = fact
			found = true
		}
	}
	if !found {
		return Value{}, 0, false
	}
	return best.Result, best.Args[0].i, true
}

// LatestDiagnosis returns the most recent recorded verdict for an ICD code
// and the day it was recorded on.
func (r *PatientRecord) LatestDiagnosis(icd string) (TFU, int, bool) {
	var best Fact
	found := false
	for _, fact := range r.factsFor(diagnosisFunction) {
		if fact.Args[0].str != icd {
			continue
		}
		if !found || fact.Args[1].i > best.Args[1].i {
			best = fact
			found = true
		}
	}
	if !found {
		return TFUUnknown, 0, false
	}
	return best.Result.tfu, best.Args[1].i, true
}

// Facts renders the knowledge base as English sentences, one per fact.
func (r *PatientRecord) Facts() []string {
	out := make([]string, 0, len(r.facts))
	for _, fact := range r.facts {
		def, _ := r.function(fact.Function)
		out = append(out, r.factSentence(def, fact))
	}
	return out
}

func (r *PatientRecord) factSentence(def FunctionDef, fact Fact) string {
	prettyName := strings.NewReplacer("_", " ", "-", " ").Replace(def.Name)

	if def.Name == diagnosisFunction {
		icd, day := fact.Args[0], fact.Args[1]
		maybeNot := ""
		if fact.Result.kind == kindTFU && fact.Result.tfu == TFUFalse {
			maybeNot = "not "
		}
		return fmt.Sprintf("The patient was diagnosed as %shaving %s on %s",
			maybeNot, icd, EpochalToDate(day.i))
	}

	if len(def.Args) > 0 {
		var described []string
		onStr := ""
		for i, argName := range def.Args {
			if argName == "time" {
				onStr = " on " + EpochalToDate(fact.Args[i].i)
				continue
			}
			described = append(described, argName+" "+fact.Args[i].String())
		}
		argsStr := ""
		if len(described) > 0 {
			argsStr = " at " + joinFancy(described...)
		}
		return fmt.Sprintf("The patient's %s%s was %s%s",
			prettyName, argsStr, withUnits(fact.Result, def.Unit), onStr)
	}

	result := withUnits(fact.Result, def.Unit)
	if def.EpochalResult {
		result = EpochalToDate(fact.Result.i)
	}
	return fmt.Sprintf("The patient's %s is %s", prettyName, result)
}

func withUnits(v Value, unit *Unit) string {
	if unit == nil {
		return v.String()
	}
	switch v.kind {
	case kindNumber:
		return v.String() + " " + unit.pick(v.num)
	case kindInt:
		return v.String() + " " + unit.pick(float64(v.i))
	default:
		return v.String() + " " + unit.Singular
	}
}

// joinFancy joins words as English prose: "a", "a and b", "a, b, and c".
func joinFancy(items ...string) string {
	switch len(items) {
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}

// Axioms renders the knowledge base as first-order formulas: one ground
// axiom per recorded fact, plus closed-world axioms pinning every function
// down at the times nothing was recorded.
func (r *PatientRecord) Axioms() []string {
	var out []string
	for _, def := range r.funcs {
		out = append(out, r.coreAxioms(def)...)
		out = append(out, r.closedWorldAxioms(def)...)
	}
	return out
}

func (r *PatientRecord) coreAxioms(def FunctionDef) []string {
	if def.Name == diagnosisFunction {
		// Ground diagnosis facts are subsumed by the interpolation axioms.
		return nil
	}
	var out []string
	for _, fact := range r.factsFor(def.Name) {
		lhs := def.Name
		if len(fact.Args) > 0 {
			args := make([]string, len(fact.Args))
			for i, a := range fact.Args {
				args[i] = axiomValue(a)
			}
			lhs = "(" + def.Name + " " + strings.Join(args, " ") + ")"
		}
		out = append(out, fmt.Sprintf("(= %s %s)", lhs, axiomValue(fact.Result)))
	}
	return out
}

func (r *PatientRecord) closedWorldAxioms(def FunctionDef) []string {
	if def.Interpolated {
		return r.interpolationAxioms(def)
	}
	if len(def.Args) == 0 {
		return nil
	}
	facts := r.factsFor(def.Name)
	notDefined := "false"
	if len(facts) > 0 {
		var conjuncts []string
		for _, fact := range facts {
			conjuncts = append(conjuncts,
				fmt.Sprintf("(not (= time %s))", axiomValue(fact.Args[0])))
		}
		notDefined = conjoin(conjuncts)
	}
	return []string{fmt.Sprintf(
		"(forall ((time Int)) (= %s (= (%s time) NaN)))", notDefined, def.Name)}
}

// interpolationAxioms encode the persistence of diagnoses: a recorded value
// holds from its date until the next recorded date, the most recent value
// holds indefinitely, and before the first record the value is undetermined.
func (r *PatientRecord) interpolationAxioms(def FunctionDef) []string {
	facts := r.factsFor(def.Name)
	byICD := make(map[string][]Fact)
	var icds []string
	for _, fact := range facts {
		icd := fact.Args[0].str
		if _, seen := byICD[icd]; !seen {
			icds = append(icds, icd)
		}
		byICD[icd] = append(byICD[icd], fact)
	}
	sort.Strings(icds)

	var out []string
	for _, icd := range icds {
		these := byICD[icd]
		sort.Slice(these, func(i, j int) bool { return these[i].Args[1].i < these[j].Args[1].i })

		var trueRanges, falseRanges []string
		for i := 0; i < len(these); i++ {
			var rangeTerm string
			if i+1 < len(these) {
				rangeTerm = fmt.Sprintf("(and (>= time %d) (< time %d))",
					these[i].Args[1].i, these[i+1].Args[1].i)
			} else {
				rangeTerm = fmt.Sprintf("(>= time %d)", these[i].Args[1].i)
			}
			if these[i].Result.tfu == TFUTrue {
				trueRanges = append(trueRanges, rangeTerm)
			} else {
				falseRanges = append(falseRanges, rangeTerm)
			}
		}

		minTime := these[0].Args[1].i
		out = append(out,
			fmt.Sprintf("(forall ((ICD String) (time Int)) (= (< time %d) (= (%s ICD time) tfu_true_or_false)))",
				minTime, def.Name),
			fmt.Sprintf("(forall ((ICD String) (time Int)) (= %s (= (%s ICD time) tfu_true)))",
				disjoin(trueRanges), def.Name),
			fmt.Sprintf("(forall ((ICD String) (time Int)) (= %s (= (%s ICD time) tfu_false)))",
				disjoin(falseRanges), def.Name),
		)
	}
	return out
}

func conjoin(terms []string) string {
	switch len(terms) {
	case 0:
		return "true"
	case 1:
		return terms[0]
	default:
		return "(and " + strings.Join(terms, " ") + ")"
	}
}

func disjoin(terms []string) string {
	switch len(terms) {
	case 0:
		return "false"
	case 1:
		return terms[0]
	default:
		return "(or " + strings.Join(terms, " ") + ")"
	}
}

func axiomValue(v Value) string {
	if v.kind == kindString {
		return `"` + v.str + `"`
	}
	return v.String()
}
