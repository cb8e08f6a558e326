// Terminal client for the clinical chatbot.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/chatclient"
)

var (
	promptColor   = color.New(color.FgCyan, color.Bold)
	answerColor   = color.New(color.FgGreen)
	progressColor = color.New(color.FgHiBlack)
	detailColor   = color.New(color.FgHiBlack, color.Italic)
	errorColor    = color.New(color.FgRed)
	validColor    = color.New(color.FgGreen, color.Bold)
	invalidColor  = color.New(color.FgRed, color.Bold)
	unknownColor  = color.New(color.FgYellow, color.Bold)
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "chat server base URL")
	corrupt := flag.Bool("corrupt", true, "let the server corrupt responses so the prover has something to catch")
	message := flag.String("message", "", "send a single message and exit")
	simple := flag.Bool("simple", false, "use the plain request endpoint instead of streaming")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	client := chatclient.NewClient(*serverURL,
		chatclient.WithLogger(logger),
		chatclient.WithCorruption(*corrupt),
	)

	if *message != "" {
		if err := runOnce(client, *message, *simple, logger); err != nil {
			errorColor.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("Clinical chatbot. Ask about the patient's record; ctrl-d to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		promptColor.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runOnce(client, line, *simple, logger); err != nil {
			errorColor.Fprintln(os.Stderr, err)
		}
	}
}

func runOnce(client *chatclient.Client, message string, simple bool, logger *slog.Logger) error {
	if simple {
		return sendSimple(client, message)
	}
	return sendStreaming(client, message, logger)
}

func sendSimple(client *chatclient.Client, message string) error {
	spin := newSpinner()
	spin.Start()
	answer, err := client.Send(context.Background(), message)
	spin.Stop()
	if err != nil {
		return err
	}
	answerColor.Println(answer)
	return nil
}

func sendStreaming(client *chatclient.Client, message string, logger *slog.Logger) error {
	spin := newSpinner()
	spin.Start()

	seen := 0
	done := make(chan error, 1)
	session := chatclient.NewStreamSession(client, chatclient.DefaultSessionTiming(),
		chatclient.SessionCallbacks{
			OnBubbles: func(bubbles []chatclient.Bubble) {
				// Bubbles accumulate until the drain clears them; print only
				// the new ones. Already-printed lines stay in the terminal.
				spin.Stop()
				if seen > len(bubbles) {
					seen = len(bubbles)
				}
				for _, bubble := range bubbles[seen:] {
					printBubble(bubble)
				}
				seen = len(bubbles)
				spin.Start()
			},
			OnComplete: func(text string, meta *chatclient.FinalMetadata) {
				spin.Stop()
				answerColor.Println(text)
				printVerdict(meta)
				done <- nil
			},
			OnError: func(serr *chatclient.ServiceError) {
				spin.Stop()
				done <- serr
			},
		}, logger)

	session.Start(context.Background(), message)
	return <-done
}

func newSpinner() *spinner.Spinner {
	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	spin.Suffix = " thinking..."
	return spin
}

func printBubble(bubble chatclient.Bubble) {
	c := progressColor
	if bubble.Kind == chatclient.BubbleDetail {
		c = detailColor
	}
	content := strings.ReplaceAll(bubble.Content, "<tt>", "")
	content = strings.ReplaceAll(content, "</tt>", "")
	c.Printf("  %s\n", content)
}

func printVerdict(meta *chatclient.FinalMetadata) {
	if meta == nil || meta.Valid == "" {
		return
	}
	c := unknownColor
	switch meta.Valid {
	case "true":
		c = validColor
	case "false":
		c = invalidColor
	}
	c.Printf("  [verified: %s]\n", meta.Valid)
	for _, msg := range meta.ErrorMessages {
		errorColor.Printf("  %s\n", msg)
	}
}
