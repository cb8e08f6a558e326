package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/prover"
)

// ScriptedResponder answers from the patient record directly, without model
// calls. It backs local development and tests, and serves as the fallback
// when no API key is configured.
type ScriptedResponder struct {
	record *prover.PatientRecord
}

// NewScriptedResponder builds a scripted responder over record.
func NewScriptedResponder(record *prover.PatientRecord) *ScriptedResponder {
	return &ScriptedResponder{record: record}
}

// Respond answers recognizable questions from the record, and falls back to
// a generic line otherwise.
func (s *ScriptedResponder) Respond(_ context.Context, question string) (string, error) {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "name") || strings.Contains(q, "who is the patient"):
		if v, ok := s.record.ConstantValue("name"); ok {
			return fmt.Sprintf("The patient's name is %s.", v), nil
		}
	case strings.Contains(q, "heart rate") || strings.Contains(q, "heart-rate"):
		if v, day, ok := s.record.LatestMeasurement("heart-rate"); ok {
			return fmt.Sprintf("The patient's most recent heart rate measurement was %s beats/sec on %s.",
				v, prover.EpochalToDate(day)), nil
		}
	case strings.Contains(q, "weight") || strings.Contains(q, "weigh"):
		if v, day, ok := s.record.LatestMeasurement("weight"); ok {
			return fmt.Sprintf("The patient's most recent weight measurement was %s pounds on %s.",
				v, prover.EpochalToDate(day)), nil
		}
	case strings.Contains(q, "age") || strings.Contains(q, "how old"):
		if v, ok := s.record.ConstantValue("age"); ok {
			return fmt.Sprintf("The patient is %s years old.", v), nil
		}
	case strings.Contains(q, "born") || strings.Contains(q, "birth"):
		if v, ok := s.record.ConstantValue("birth-date"); ok {
			day, err := strconv.Atoi(v.String())
			if err == nil {
				return fmt.Sprintf("The patient was born on %s.", prover.EpochalToDate(day)), nil
			}
		}
	case strings.Contains(q, "diabetes") || strings.Contains(q, "e11") || strings.Contains(q, "diagnos"):
		if verdict, day, ok := s.record.LatestDiagnosis("E11"); ok {
			maybeNot := ""
			if verdict == prover.TFUFalse {
				maybeNot = "not "
			}
			return fmt.Sprintf("The patient was most recently recorded as %shaving E11 on %s.",
				maybeNot, prover.EpochalToDate(day)), nil
		}
	case strings.Contains(q, "hello") || strings.Contains(q, "hi ") || q == "hi":
		return "Hello! Ask me anything about the patient's record.", nil
	case strings.Contains(q, "thank"):
		return "You're welcome. Anything else about the patient?", nil
	}
	return "I can answer questions about the patient's name, age, heart rate, weight, and diagnoses.", nil
}

var firstNumber = regexp.MustCompile(`-?\d+(\.\d+)?`)

// Corrupt bumps the first number in the sentence by one, which reliably
// changes its meaning. Sentences without a number come back negated.
func (s *ScriptedResponder) Corrupt(_ context.Context, sentence string) (string, error) {
	loc := firstNumber.FindStringIndex(sentence)
	if loc == nil {
		return "It is not the case that " + lowerFirst(sentence), nil
	}
	token := sentence[loc[0]:loc[1]]
	n, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return "", fmt.Errorf("failed to parse number %q: %w", token, err)
	}
	bumped := token
	if strings.Contains(token, ".") {
		decimals := len(token) - strings.Index(token, ".") - 1
		bumped = strconv.FormatFloat(n+1, 'f', decimals, 64)
	} else {
		bumped = strconv.Itoa(int(n) + 1)
	}
	return sentence[:loc[0]] + bumped + sentence[loc[1]:], nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

var (
	heartRatePattern = regexp.MustCompile(`heart rate.*?was (-?\d+(?:\.\d+)?)\D*on (\d{4}-\d{2}-\d{2})`)
	weightPattern    = regexp.MustCompile(`weight.*?was (-?\d+(?:\.\d+)?)\D*on (\d{4}-\d{2}-\d{2})`)
	namePattern      = regexp.MustCompile(`name is ([A-Za-z][A-Za-z .'-]*?)\.?$`)
	agePattern       = regexp.MustCompile(`is (-?\d+(?:\.\d+)?) years old`)
	diagnosisPattern = regexp.MustCompile(`(not )?having ([A-Z]\d+(?:\.\d+)?) on (\d{4}-\d{2}-\d{2})`)
)

// ExtractLogic recognizes the sentence shapes Respond and Corrupt produce
// and rebuilds their first-order form.
func (s *ScriptedResponder) ExtractLogic(_ context.Context, sentence string) (string, error) {
	if m := heartRatePattern.FindStringSubmatch(sentence); m != nil {
		return measurementStatement("heart-rate", m[1], m[2])
	}
	if m := weightPattern.FindStringSubmatch(sentence); m != nil {
		return measurementStatement("weight", m[1], m[2])
	}
	if m := namePattern.FindStringSubmatch(sentence); m != nil {
		return fmt.Sprintf("(= name %q)", m[1]), nil
	}
	if m := agePattern.FindStringSubmatch(sentence); m != nil {
		return fmt.Sprintf("(= age %s)", m[1]), nil
	}
	if m := diagnosisPattern.FindStringSubmatch(sentence); m != nil {
		day, err := prover.EpochalFromDate(m[3])
		if err != nil {
			return "", err
		}
		verdict := "tfu_true"
		if m[1] != "" {
			verdict = "tfu_false"
		}
		return fmt.Sprintf("(= (D %q %d) %s)", m[2], day, verdict), nil
	}
	return "", ErrUnableToExtract
}

func measurementStatement(function, value, date string) (string, error) {
	day, err := prover.EpochalFromDate(date)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(= (%s %d) %s)", function, day, value), nil
}
