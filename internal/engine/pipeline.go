package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/domain"
	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/prover"
)

// DefaultExtraDelay is how long, in seconds, consumers are asked to keep the
// pipeline progress on screen after the final event, so the verification
// steps stay readable.
const DefaultExtraDelay = 5.0

// Pipeline runs one chat exchange end to end and streams its progress.
type Pipeline struct {
	responder  Responder
	checker    *prover.Checker
	logger     *slog.Logger
	extraDelay float64

	// coin decides whether a corruptible exchange actually gets corrupted.
	coin func() bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithExtraDelay overrides the drain hint attached to final events, in
// seconds.
func WithExtraDelay(seconds float64) PipelineOption {
	return func(p *Pipeline) { p.extraDelay = seconds }
}

// WithCorruptionCoin replaces the corruption coin flip.
func WithCorruptionCoin(coin func() bool) PipelineOption {
	return func(p *Pipeline) { p.coin = coin }
}

// NewPipeline builds a pipeline from a responder and a checker.
func NewPipeline(responder Responder, checker *prover.Checker, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		responder:  responder,
		checker:    checker,
		logger:     logger,
		extraDelay: DefaultExtraDelay,
		coin:       func() bool { return rand.IntN(2) == 0 },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the pipeline for message and yields progress events followed
// by exactly one final event. When doCorrupt is set, roughly half of the
// exchanges get a deliberately corrupted response so the prover has
// something to catch.
func (p *Pipeline) Run(ctx context.Context, message string, doCorrupt bool) iter.Seq[domain.StreamEvent] {
	return func(yield func(domain.StreamEvent) bool) {
		var (
			assistantResponse string
			corruptedResponse string
			extractedStmt     string
			valid             string
			originalResult    string
			negatedResult     string
			errorMessages     []string
			durations         = make(map[string]float64)
		)

		progress := func(format string, args ...any) bool {
			return yield(domain.StreamEvent{
				Type:      domain.EventTypeProgress,
				Timestamp: timestamp(),
				Message:   fmt.Sprintf(format, args...),
			})
		}
		timed := func(name string, step func() error) error {
			start := time.Now()
			err := step()
			durations[name] = time.Since(start).Seconds()
			return err
		}

		finish := func() {
			yield(domain.StreamEvent{
				Type:                 domain.EventTypeFinal,
				Timestamp:            timestamp(),
				IsFinal:              true,
				AssistantResponse:    assistantResponse,
				CorruptedResponse:    corruptedResponse,
				ExtractedLogicalStmt: extractedStmt,
				Durations:            durations,
				Valid:                valid,
				OriginalResult:       originalResult,
				NegatedResult:        negatedResult,
				ErrorMessages:        errorMessages,
				ExtraDelay:           p.extraDelay,
			})
		}

		if !progress("Computing initial response...") {
			return
		}
		err := timed("agent", func() error {
			var err error
			assistantResponse, err = p.responder.Respond(ctx, message)
			return err
		})
		if err != nil {
			p.logger.Error("response generation failed", "error", err)
			errorMessages = append(errorMessages, err.Error())
			finish()
			return
		}
		if !progress("Initial response: %s", assistantResponse) {
			return
		}

		if doCorrupt && p.coin() {
			if !progress("Corrupting response...") {
				return
			}
			err := timed("corruption", func() error {
				var err error
				corruptedResponse, err = p.responder.Corrupt(ctx, assistantResponse)
				return err
			})
			if err != nil {
				p.logger.Warn("corruption failed, keeping original response", "error", err)
				errorMessages = append(errorMessages, err.Error())
				corruptedResponse = ""
			} else if !progress("Corrupted response: %s", corruptedResponse) {
				return
			}
		}

		toExtract := assistantResponse
		if corruptedResponse != "" {
			toExtract = corruptedResponse
		}
		err = timed("extraction", func() error {
			var err error
			extractedStmt, err = p.responder.ExtractLogic(ctx, toExtract)
			return err
		})
		if err != nil {
			if !errors.Is(err, ErrUnableToExtract) {
				p.logger.Warn("extraction failed", "error", err)
				errorMessages = append(errorMessages, err.Error())
			}
			extractedStmt = ""
		}
		if !progress("Extracted: <tt>%s</tt>", extractedStmt) {
			return
		}

		if extractedStmt != "" {
			var verdict prover.Verdict
			err := timed("theorem prover", func() error {
				var err error
				verdict, err = p.checker.CheckValidity(extractedStmt)
				return err
			})
			if err != nil {
				p.logger.Warn("validity check failed", "error", err)
				errorMessages = append(errorMessages, err.Error())
			}
			valid = verdict.Valid
			originalResult = verdict.OriginalResult
			negatedResult = verdict.NegatedResult
			if !progress("Validity: %s original %s negated %s", valid, originalResult, negatedResult) {
				return
			}
		}

		finish()
	}
}

// RunToCompletion drains Run and returns the final event. Used by the
// non-streaming chat endpoint.
func (p *Pipeline) RunToCompletion(ctx context.Context, message string, doCorrupt bool) domain.StreamEvent {
	var last domain.StreamEvent
	for event := range p.Run(ctx, message, doCorrupt) {
		last = event
	}
	return last
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
