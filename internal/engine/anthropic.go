package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/prover"
)

// Default model assignments. Extraction is the hard step, so it gets the
// stronger model.
const (
	DefaultChatModel       = "claude-3-5-haiku-latest"
	DefaultExtractionModel = "claude-sonnet-4-20250514"
	DefaultCorruptionModel = "claude-3-5-haiku-latest"
)

// AnthropicResponder implements Responder with Anthropic model calls, with
// the patient record baked into the prompts.
type AnthropicResponder struct {
	client          anthropic.Client
	record          *prover.PatientRecord
	logger          *slog.Logger
	chatModel       string
	extractionModel string
	corruptionModel string

	systemPrompt     string
	extractionPrompt string
}

// AnthropicOption configures an AnthropicResponder.
type AnthropicOption func(*AnthropicResponder)

// WithModels overrides the default model assignments. Empty strings keep the
// defaults.
func WithModels(chat, extraction, corruption string) AnthropicOption {
	return func(r *AnthropicResponder) {
		if chat != "" {
			r.chatModel = chat
		}
		if extraction != "" {
			r.extractionModel = extraction
		}
		if corruption != "" {
			r.corruptionModel = corruption
		}
	}
}

// WithResponderLogger sets the responder logger.
func WithResponderLogger(logger *slog.Logger) AnthropicOption {
	return func(r *AnthropicResponder) { r.logger = logger }
}

// NewAnthropicResponder builds a responder over record using apiKey.
func NewAnthropicResponder(apiKey string, record *prover.PatientRecord, opts ...AnthropicOption) *AnthropicResponder {
	r := &AnthropicResponder{
		// Set both header styles so the key works against gateways that
		// expect either X-Api-Key or a bearer token.
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithAuthToken(apiKey),
		),
		record:          record,
		logger:          slog.Default(),
		chatModel:       DefaultChatModel,
		extractionModel: DefaultExtractionModel,
		corruptionModel: DefaultCorruptionModel,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.systemPrompt = buildChatSystemPrompt(record)
	r.extractionPrompt = buildExtractionPrompt()
	return r
}

func buildChatSystemPrompt(record *prover.PatientRecord) string {
	return fmt.Sprintf(`You are an expert at first-order logic and healthcare.
You will be asked questions about a patient and we
know this about them:

%s

The current date is %s

When you answer a question, just give the answer as a complete sentence,
don't explain how you derived the answer.
`, strings.Join(record.Facts(), "\n"), prover.EpochalToDate(prover.Today()))
}

func buildExtractionPrompt() string {
	return fmt.Sprintf(`Your task is to convert a natural language statement into a first-order logical well-formed formula.
You have available the following functions:
* (heart-rate time) -> real. This represents a measurement of the patient's heart rate at a
  particular `+"`time`"+`. The `+"`time`"+` is Unix-style epochal time. The value of (heart-rate a_time) is a
  real number indicating the value that was measured at `+"`a_time`"+`.
* (weight time) -> real. This represents a measurement of the patient's weight at a
  particular `+"`time`"+`. The `+"`time`"+` is Unix-style epochal time. The value of (weight a_time) is a
  real number indicating the value that was measured at `+"`a_time`"+`.
* name -> string. This is a zero-arity function (a constant) whose value is the name of the patient.
* birth-date -> real. This is a zero-arity function (a constant) whose value is the
  birth date of the patient (represented as Unix-style epochal).
* age -> real. This is a zero-arity function (a constant) whose value is the
  age of the patient in years.
* (D ICD-code time) -> tfu_true/tfu_false/tfu_unknown. This represents whether the
  patient was diagnosed as having ICD code `+"`ICD-code`"+` on or before `+"`time`"+`.

Unix-style epochal dates are days (ints), so always 123, never 123.45.
So a `+"`time`"+` for the `+"`heart-rate`"+`, `+"`weight`"+`, and `+"`D`"+` relations is always an integer.

An epochal day is the number of whole days from 1970-01-01 to the date,
measured at noon UTC. Reference conversions you can interpolate from:
2005-02-01 is 12815, 2006-02-01 is 13180, 2006-03-01 is 13208,
2006-04-01 is 13239, 2017-01-01 is 17167, and %s is %d.

You can use first-order logic. For example:
* `+"```(= X Y)```"+` asserts that X and Y are equal.
* `+"```(not X)```"+` asserts that X is false.
* `+"```(and X Y)```"+` asserts that both X and Y are true.
* `+"```(=> X Y)```"+` is logically equivalent to `+"```(or (not X) Y)```"+`.
* `+"```(forall ((time Int)) (> (heart-rate time) 50))```"+` asserts that for all times, the patient's heart rate is more than 50.
* `+"```(exists ((time Int)) (> (heart-rate time) 50))```"+` asserts that there is at least one time at which the patient's heart rate is more than 50.

For example, given the statement

    `+"```The patient's heart rate 2017-01-01 was 45.6```"+`

you should convert this into

    `+"```(= (heart-rate 17167) 45.6)```"+`

You should return your result in xml tags: <result>....</result>.

If you're not able to extract a logical statement then you must return "unable to extract".

Here is the statement I want you to analyze:

`, prover.EpochalToDate(prover.Today()), prover.Today())
}

// Respond answers the user's question with the patient facts in context.
func (r *AnthropicResponder) Respond(ctx context.Context, question string) (string, error) {
	reply, err := r.complete(ctx, r.chatModel, r.systemPrompt, question)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// Corrupt asks the model to change the sentence's meaning slightly.
func (r *AnthropicResponder) Corrupt(ctx context.Context, sentence string) (string, error) {
	prompt := fmt.Sprintf(`Your task is to change a sentence slightly so that the meaning is different.
For example, if you were given the sentence "The patient is 10 years old"
you could respond with "The patient is 11 years old".

Here is the sentence that I want you to modify:

`+"```\n%s\n```"+`

You must enclose your response in XML tags: <result>...</result>
`, sentence)

	reply, err := r.complete(ctx, r.corruptionModel, "", prompt)
	if err != nil {
		return "", fmt.Errorf("corruption failed: %w", err)
	}
	result := extractResult(reply)
	if result == "" {
		return "", fmt.Errorf("corruption reply carried no result tag")
	}
	r.logger.Debug("corrupted sentence", "from", sentence, "to", result)
	return strings.TrimSpace(result), nil
}

// ExtractLogic converts a sentence into its first-order form.
func (r *AnthropicResponder) ExtractLogic(ctx context.Context, sentence string) (string, error) {
	prompt := r.extractionPrompt + "```" + sentence + "```\n"
	reply, err := r.complete(ctx, r.extractionModel,
		"You are an expert at first-order logic.\n", prompt)
	if err != nil {
		return "", fmt.Errorf("extraction failed: %w", err)
	}
	result := extractResult(reply)
	if result == "" || strings.Contains(result, "unable to extract") {
		return "", ErrUnableToExtract
	}
	return strings.TrimSpace(result), nil
}

func (r *AnthropicResponder) complete(ctx context.Context, model, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: system,
			Type: constant.Text("text"),
		}}
	}

	message, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range message.Content {
		sb.WriteString(block.Text)
	}
	return sb.String(), nil
}
