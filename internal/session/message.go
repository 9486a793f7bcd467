package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexiqai/interview-agent/internal/media"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderAI        Sender = "AI"
	SenderCandidate Sender = "Candidate"
)

// Kind tells the host how to render a message.
type Kind string

const (
	KindNormal       Kind = "normal"
	KindInterruption Kind = "interruption"
	KindLoading      Kind = "loading"
	KindError        Kind = "error"
)

// Message is one immutable transcript entry.
type Message struct {
	ID     string    `json:"id"`
	Sender Sender    `json:"sender"`
	Text   string    `json:"text"`
	Kind   Kind      `json:"kind"`
	At     time.Time `json:"at"`
}

func newMessage(sender Sender, text string, kind Kind) Message {
	return Message{
		ID:     uuid.NewString(),
		Sender: sender,
		Text:   text,
		Kind:   kind,
		At:     time.Now(),
	}
}

// Warning is a dismissable capture warning.
type Warning struct {
	Resource  media.Resource `json:"resource"`
	Count     int            `json:"count"`
	Remaining int            `json:"remaining"`
	Text      string         `json:"text"`
}

// EndReason is why the candidate ended the interview.
type EndReason string

const (
	EndComplete EndReason = "complete"
	EndLeave    EndReason = "leave"
)

// Valid reports whether r is a known reason.
func (r EndReason) Valid() bool {
	return r == EndComplete || r == EndLeave
}

// Transcript text.
const (
	greetingText = "Hello! I'm your AI interviewer today. I've reviewed your CV and I'm ready to begin the interview. Are you ready to start?"

	endCompleteText = "Thank you for completing the interview. I'm now analyzing your responses to generate a comprehensive summary..."
	endLeaveText    = "Interview ended early. I'll still analyze the responses you provided..."

	summaryDoneText  = "Summary generation complete! Redirecting you to your performance review..."
	summaryErrorText = "I apologize, but I encountered an error while generating your summary. Please try again or contact support if the issue persists."
)

var narrationTexts = []string{
	"Analyzing your communication style...",
	"Evaluating response quality and relevance...",
	"Assessing technical knowledge demonstration...",
	"Compiling feedback and recommendations...",
}

func resourceTitle(r media.Resource) string {
	switch r {
	case media.ResourceCamera:
		return "Camera"
	case media.ResourceMicrophone:
		return "Microphone"
	default:
		return string(r)
	}
}

func warningText(r media.Resource, remaining int) string {
	noun := "attempts"
	if remaining == 1 {
		noun = "attempt"
	}
	return fmt.Sprintf("Warning: %s is required. %d %s remaining before interview termination.", resourceTitle(r), remaining, noun)
}

func terminationText(r media.Resource) string {
	return fmt.Sprintf("%s was disabled too many times. Interview terminated.", resourceTitle(r))
}

// normalizeUtterance folds case and whitespace for duplicate detection.
func normalizeUtterance(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
