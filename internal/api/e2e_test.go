package api

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/chatclient"
)

// These tests run the real client against the real handler, end to end.

func TestClientSendAgainstServer(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t))
	t.Cleanup(server.Close)

	client := chatclient.NewClient(server.URL)

	got, err := client.Send(context.Background(), "What is the patient's name?")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got != "The patient's name is Joe Bloggs." {
		t.Errorf("Unexpected response: %q", got)
	}

	_, err = client.Send(context.Background(), "   ")
	serr := chatclient.AsServiceError(err)
	if serr == nil || serr.Kind != chatclient.KindEmptyMessage {
		t.Errorf("Expected empty message error, got %v", err)
	}
}

func TestClientStreamAgainstServer(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t))
	t.Cleanup(server.Close)

	client := chatclient.NewClient(server.URL)

	reader, serr := client.OpenStream(context.Background(), "What is the patient's most recent heart rate measurement?")
	if serr != nil {
		t.Fatalf("OpenStream failed: %v", serr)
	}
	decoder := chatclient.NewStreamDecoder(reader, nil)

	var messages []string
	sawFinal := false
	for event, err := range decoder.Events() {
		if err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
		if event.IsFinal {
			sawFinal = true
			if event.AssistantResponse != "The patient's most recent heart rate measurement was 60.0 beats/sec on 2006-02-01." {
				t.Errorf("Unexpected assistant response: %q", event.AssistantResponse)
			}
			if event.Valid != "true" {
				t.Errorf("Expected validity true, got %q", event.Valid)
			}
			continue
		}
		messages = append(messages, event.Message)
	}
	if !sawFinal {
		t.Fatal("Stream ended without a final event")
	}
	if len(messages) == 0 || messages[0] != "Computing initial response..." {
		t.Errorf("Unexpected progress messages: %v", messages)
	}
}

func TestSessionAgainstServer(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t))
	t.Cleanup(server.Close)

	client := chatclient.NewClient(server.URL)

	completed := make(chan string, 1)
	failed := make(chan error, 1)
	session := chatclient.NewStreamSession(client,
		chatclient.SessionTiming{DrainDelay: 10 * time.Millisecond, CompleteBuffer: 5 * time.Millisecond},
		chatclient.SessionCallbacks{
			OnComplete: func(text string, _ *chatclient.FinalMetadata) { completed <- text },
			OnError:    func(serr *chatclient.ServiceError) { failed <- serr },
		}, nil)

	session.Start(context.Background(), "What is the patient's name?")

	select {
	case text := <-completed:
		if text != "The patient's name is Joe Bloggs." {
			t.Errorf("Unexpected completion text: %q", text)
		}
	case err := <-failed:
		t.Fatalf("Session failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the session to complete")
	}
	if state := session.State(); state != chatclient.StateCompleted {
		t.Errorf("Expected completed state, got %v", state)
	}
}

func TestClientMapsServerValidation(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t))
	t.Cleanup(server.Close)

	// The client enforces the same message rules as the server, so exercise
	// the status mapping with an unknown route instead.
	client := chatclient.NewClient(server.URL + "/missing")

	_, err := client.Send(context.Background(), "hello")
	serr := chatclient.AsServiceError(err)
	if serr == nil {
		t.Fatalf("Expected a service error, got %v", err)
	}
	if serr.Kind != chatclient.KindValidationError {
		t.Errorf("Expected validation kind for 404, got %v", serr.Kind)
	}
	if serr.Retryable {
		t.Error("404 should not be retryable")
	}
}
