package chatclient

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/domain"
)

// SessionState is the lifecycle phase of a StreamSession.
type SessionState string

const (
	// StateIdle means no stream is active.
	StateIdle SessionState = "idle"
	// StateStreaming means events are being consumed from the backend.
	StateStreaming SessionState = "streaming"
	// StateDraining means the final event arrived and progress bubbles are
	// being held on screen before the session resolves.
	StateDraining SessionState = "draining"
	// StateCompleted is the terminal success state.
	StateCompleted SessionState = "completed"
	// StateFailed is the terminal failure state.
	StateFailed SessionState = "failed"
)

// BubbleKind distinguishes how a progress bubble should be rendered.
type BubbleKind string

const (
	// BubbleProgress is a transient pipeline status line.
	BubbleProgress BubbleKind = "progress"
	// BubbleDetail is an intermediate result worth keeping on screen, such
	// as the extracted logical statement or the validity verdict.
	BubbleDetail BubbleKind = "detail"
)

// Bubble is one progress line shown while the backend pipeline runs.
type Bubble struct {
	ID        string
	Content   string
	Kind      BubbleKind
	Animating bool
}

// FinalMetadata carries the verification results attached to a resolved
// response.
type FinalMetadata struct {
	AssistantResponse    string
	CorruptedResponse    string
	ExtractedLogicalStmt string
	Durations            map[string]float64
	Valid                string
	OriginalResult       string
	NegatedResult        string
	ErrorMessages        []string
}

// SessionTiming controls how long the drain phase holds progress bubbles
// after the final event.
type SessionTiming struct {
	// DrainDelay is the base hold before the bubbles clear. The final
	// event's extra_delay is added on top.
	DrainDelay time.Duration
	// CompleteBuffer is the pause between the bubbles settling and the
	// terminal callback firing.
	CompleteBuffer time.Duration
}

// DefaultSessionTiming returns the timing used when none is configured.
func DefaultSessionTiming() SessionTiming {
	return SessionTiming{
		DrainDelay:     time.Second,
		CompleteBuffer: 100 * time.Millisecond,
	}
}

// SessionCallbacks are the observer hooks of a StreamSession. All hooks are
// optional and are invoked outside the session lock, sequentially per
// session. After Cancel returns, no hook fires again.
type SessionCallbacks struct {
	// OnBubbles receives a snapshot of the progress bubbles each time they
	// change.
	OnBubbles func([]Bubble)
	// OnComplete receives the resolved response text and its verification
	// metadata. Fires at most once, mutually exclusive with OnError.
	OnComplete func(text string, meta *FinalMetadata)
	// OnError receives the terminal failure. Fires at most once, mutually
	// exclusive with OnComplete.
	OnError func(*ServiceError)
}

// StreamSession drives one streaming chat exchange: it opens the stream,
// accumulates progress bubbles, and resolves to exactly one terminal outcome.
//
//	idle -> streaming -> draining -> completed
//	                  \-> failed
//
// A session is reusable: after reaching a terminal state, Start begins a new
// exchange.
type StreamSession struct {
	client    *Client
	logger    *slog.Logger
	timing    SessionTiming
	callbacks SessionCallbacks

	mu            sync.Mutex
	state         SessionState
	message       string
	bubbles       []Bubble
	final         *domain.StreamEvent
	terminalFired bool
	cancelStream  context.CancelFunc
	decoder       *StreamDecoder
	drainTimer    *time.Timer
	completeTimer *time.Timer

	// gen identifies the current exchange. Start and Cancel bump it, so a
	// goroutine or timer belonging to an abandoned exchange finds its gen
	// stale and exits without touching state or firing callbacks.
	gen uint64
}

// NewStreamSession creates a session over client with the given hooks.
func NewStreamSession(client *Client, timing SessionTiming, callbacks SessionCallbacks, logger *slog.Logger) *StreamSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamSession{
		client:    client,
		logger:    logger,
		timing:    timing,
		callbacks: callbacks,
		state:     StateIdle,
	}
}

// State returns the current lifecycle phase.
func (s *StreamSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bubbles returns a snapshot of the current progress bubbles.
func (s *StreamSession) Bubbles() []Bubble {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Bubble(nil), s.bubbles...)
}

// Start begins streaming message. Starting the same message while a stream
// is already active is a no-op, so accidental double-submission cannot open
// a second stream. Starting a different message cancels the active stream
// first.
func (s *StreamSession) Start(ctx context.Context, message string) {
	s.mu.Lock()
	if s.active() && s.message == message {
		s.mu.Unlock()
		s.logger.Debug("ignoring duplicate start", "state", s.state)
		return
	}
	if s.active() {
		s.teardownLocked()
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s.gen++
	gen := s.gen
	s.state = StateStreaming
	s.message = message
	s.bubbles = nil
	s.final = nil
	s.terminalFired = false
	s.cancelStream = cancel
	s.mu.Unlock()

	go s.run(streamCtx, gen, message)
}

func (s *StreamSession) active() bool {
	return s.state == StateStreaming || s.state == StateDraining
}

// Cancel abandons the active stream without firing any callback. Idempotent;
// safe to call in any state.
func (s *StreamSession) Cancel() {
	s.mu.Lock()
	s.gen++
	s.teardownLocked()
	s.state = StateIdle
	s.message = ""
	s.mu.Unlock()
}

// teardownLocked stops timers, the stream goroutine, and the decoder. Caller
// holds the lock.
func (s *StreamSession) teardownLocked() {
	if s.cancelStream != nil {
		s.cancelStream()
		s.cancelStream = nil
	}
	if s.decoder != nil {
		s.decoder.Close()
		s.decoder = nil
	}
	if s.drainTimer != nil {
		s.drainTimer.Stop()
		s.drainTimer = nil
	}
	if s.completeTimer != nil {
		s.completeTimer.Stop()
		s.completeTimer = nil
	}
}

// run consumes the stream. It is the only writer of s.final.
func (s *StreamSession) run(ctx context.Context, gen uint64, message string) {
	body, serr := s.client.OpenStream(ctx, message)
	if serr != nil {
		s.fail(gen, serr)
		return
	}

	decoder := NewStreamDecoder(body, s.logger)
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		decoder.Close()
		return
	}
	s.decoder = decoder
	s.mu.Unlock()

	sawFinal := false
	for event, serr := range decoder.Events() {
		if serr != nil {
			s.fail(gen, serr)
			return
		}
		if event.IsFinal {
			sawFinal = true
			s.drain(gen, event)
			return
		}
		if event.IsProgress() && event.Message != "" {
			s.addBubble(gen, event.Message)
		}
	}
	if !sawFinal {
		s.fail(gen, newServiceError(KindNetworkError, "stream ended before a final event"))
	}
}

// addBubble appends a progress bubble, moving the animation marker to it.
func (s *StreamSession) addBubble(gen uint64, content string) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	for i := range s.bubbles {
		s.bubbles[i].Animating = false
	}
	s.bubbles = append(s.bubbles, Bubble{
		ID:        uuid.NewString(),
		Content:   content,
		Kind:      bubbleKind(content),
		Animating: true,
	})
	snapshot := append([]Bubble(nil), s.bubbles...)
	hook := s.callbacks.OnBubbles
	s.mu.Unlock()

	if hook != nil {
		hook(snapshot)
	}
}

// bubbleKind keeps intermediate results visually distinct from status lines.
func bubbleKind(content string) BubbleKind {
	if strings.HasPrefix(content, "Extracted:") ||
		strings.HasPrefix(content, "Validity:") ||
		strings.HasPrefix(content, "Initial response:") {
		return BubbleDetail
	}
	return BubbleProgress
}

// drain enters the hold phase: bubbles stay on screen for DrainDelay plus
// the server-requested extra delay, then clear, then the terminal callback
// fires after CompleteBuffer.
func (s *StreamSession) drain(gen uint64, final domain.StreamEvent) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	s.state = StateDraining
	s.final = &final

	hold := s.timing.DrainDelay + time.Duration(final.ExtraDelay*float64(time.Second))
	s.drainTimer = time.AfterFunc(hold, func() { s.settle(gen) })
	s.mu.Unlock()
}

// settle clears all bubbles at once and schedules resolution.
func (s *StreamSession) settle(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateDraining {
		s.mu.Unlock()
		return
	}
	s.bubbles = nil
	hook := s.callbacks.OnBubbles
	s.completeTimer = time.AfterFunc(s.timing.CompleteBuffer, func() { s.resolve(gen) })
	s.mu.Unlock()

	if hook != nil {
		hook([]Bubble{})
	}
}

// resolve fires the single terminal callback from the recorded final event.
func (s *StreamSession) resolve(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.terminalFired || s.final == nil {
		s.mu.Unlock()
		return
	}
	final := *s.final

	text, ok := resolveText(final)
	if !ok {
		s.terminalFired = true
		s.state = StateFailed
		s.teardownLocked()
		hook := s.callbacks.OnError
		s.mu.Unlock()
		serr := newServiceError(KindNetworkError, "no response received")
		s.logger.Error("stream resolved without a response")
		if hook != nil {
			hook(serr)
		}
		return
	}

	s.terminalFired = true
	s.state = StateCompleted
	s.teardownLocked()
	hook := s.callbacks.OnComplete
	s.mu.Unlock()

	if hook != nil {
		hook(text, &FinalMetadata{
			AssistantResponse:    final.AssistantResponse,
			CorruptedResponse:    final.CorruptedResponse,
			ExtractedLogicalStmt: final.ExtractedLogicalStmt,
			Durations:            final.Durations,
			Valid:                final.Valid,
			OriginalResult:       final.OriginalResult,
			NegatedResult:        final.NegatedResult,
			ErrorMessages:        final.ErrorMessages,
		})
	}
}

// fail transitions to the failed state and fires OnError at most once.
func (s *StreamSession) fail(gen uint64, serr *ServiceError) {
	s.mu.Lock()
	if s.gen != gen || s.terminalFired {
		s.mu.Unlock()
		return
	}
	s.terminalFired = true
	s.state = StateFailed
	s.teardownLocked()
	hook := s.callbacks.OnError
	s.mu.Unlock()

	s.logger.Error("stream session failed", "kind", serr.Kind, "error", serr.Message)
	if hook != nil {
		hook(serr)
	}
}

// resolveText picks the sentence to display: the corrupted response when one
// was produced and actually differs, otherwise the assistant response.
func resolveText(final domain.StreamEvent) (string, bool) {
	if final.CorruptedResponse != "" && final.CorruptedResponse != final.AssistantResponse {
		return final.CorruptedResponse, true
	}
	if final.AssistantResponse != "" {
		return final.AssistantResponse, true
	}
	return "", false
}
