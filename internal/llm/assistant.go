package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// Name is the module name interpreters register under.
const Name = "llm"

// maxHistory caps the turns replayed to the API on each call.
const maxHistory = 20

// Interpretation is the structured reading of a free-text music request.
// Zero TimeSignature means the request did not say.
type Interpretation struct {
	Genre          string   `json:"genre"`
	Tempo          int      `json:"tempo"`
	Mood           string   `json:"mood"`
	Instruments    []string `json:"instruments"`
	ProductionTips []string `json:"production_tips"`
	TimeSignature  [2]int   `json:"time_signature"`
	Key            string   `json:"key,omitempty"`
}

// Validate checks the fields a pipeline depends on.
func (in Interpretation) Validate() error {
	if strings.TrimSpace(in.Genre) == "" {
		return fmt.Errorf("interpretation has no genre: %w", errs.ErrExternalFailure)
	}
	if in.Tempo <= 0 || in.Tempo > 400 {
		return fmt.Errorf("interpretation tempo %d out of range: %w", in.Tempo, errs.ErrExternalFailure)
	}
	return nil
}

// MusicParameters is a detailed production brief.
type MusicParameters struct {
	Tempo         int      `json:"tempo"`
	Key           string   `json:"key"`
	TimeSignature string   `json:"time_signature"`
	Instruments   []string `json:"instruments"`
	Effects       []string `json:"effects"`
	Duration      float64  `json:"duration"` // seconds
}

// Interpreter maps free text to an Interpretation.
type Interpreter interface {
	Name() string
	Interpret(ctx context.Context, prompt string, project map[string]any) (Interpretation, error)
}

const interpretSystemPrompt = `You are a music production AI assistant.
When given a music production request, respond with ONLY a JSON object containing:
- genre: music genre (string)
- tempo: suggested BPM (integer)
- mood: emotional tone (string)
- instruments: list of suggested instruments
- production_tips: list of production advice
- time_signature: optional [numerator, denominator]
- key: optional key such as "A minor"

No explanations, no markdown.`

const suggestionSystemPrompt = `You are a creative music producer sitting in on a studio session.
Given the session state as JSON, reply with ONE concrete next step in a single sentence.
No preamble, no lists.`

const parametersSystemPrompt = `You are a music production AI assistant.
Given a description, respond with ONLY a JSON object containing:
tempo (integer BPM), key (string), time_signature (string like "4/4"),
instruments (list), effects (list of reverb, delay, compression, normalize), duration (seconds).`

// Assistant is the chat-backed collaborator. It keeps the conversation so
// follow-up requests see earlier answers.
type Assistant struct {
	client *Client

	mu      sync.Mutex
	history []Message
}

// NewAssistant creates an assistant backed by client.
func NewAssistant(client *Client) *Assistant {
	return &Assistant{client: client}
}

func (a *Assistant) Name() string { return Name }

// genreTempo is the profile tempo for genre, or the default brief's tempo
// for genres without a profile.
func genreTempo(genre string) int {
	if p, ok := Profiles[strings.ToLower(strings.TrimSpace(genre))]; ok {
		return p.Tempo
	}
	return DefaultParameters().Tempo
}

// Interpret asks the model for a structured reading of prompt. project, when
// given, is sent along as JSON.
func (a *Assistant) Interpret(ctx context.Context, prompt string, project map[string]any) (Interpretation, error) {
	if strings.TrimSpace(prompt) == "" {
		return Interpretation{}, fmt.Errorf("empty prompt: %w", errs.ErrInvalidArgument)
	}
	user := prompt
	if len(project) > 0 {
		b, err := json.Marshal(project)
		if err != nil {
			return Interpretation{}, fmt.Errorf("marshal context: %v: %w", err, errs.ErrInvalidArgument)
		}
		user += "\nProject context: " + string(b)
	}

	raw, err := a.ask(ctx, interpretSystemPrompt, user)
	if err != nil {
		log.Printf("LLM interpretation failed: %v", err)
		return Interpretation{}, err
	}

	var in Interpretation
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &in); err != nil {
		log.Printf("LLM returned unusable interpretation: %q", raw)
		return Interpretation{}, fmt.Errorf("decode interpretation: %v: %w", err, errs.ErrExternalFailure)
	}
	if in.Tempo == 0 {
		in.Tempo = genreTempo(in.Genre)
	}
	if err := in.Validate(); err != nil {
		return Interpretation{}, err
	}
	log.Printf("LLM interpretation: %s at %d BPM, %s", in.Genre, in.Tempo, in.Mood)
	return in, nil
}

// CreativeSuggestion asks for one next step given the current session state.
func (a *Assistant) CreativeSuggestion(ctx context.Context, state any) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %v: %w", err, errs.ErrInvalidArgument)
	}
	raw, err := a.ask(ctx, suggestionSystemPrompt, "Given this music state: "+string(b)+", what's your next creative suggestion?")
	if err != nil {
		return "", err
	}
	s := cleanText(raw)
	if s == "" {
		return "", fmt.Errorf("empty suggestion: %w", errs.ErrExternalFailure)
	}
	return s, nil
}

// MusicParameters turns a description into a production brief.
func (a *Assistant) MusicParameters(ctx context.Context, description string) (MusicParameters, error) {
	if strings.TrimSpace(description) == "" {
		return MusicParameters{}, fmt.Errorf("empty description: %w", errs.ErrInvalidArgument)
	}
	raw, err := a.ask(ctx, parametersSystemPrompt, "Music description: "+description)
	if err != nil {
		return MusicParameters{}, err
	}
	p := DefaultParameters()
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &p); err != nil {
		return MusicParameters{}, fmt.Errorf("decode parameters: %v: %w", err, errs.ErrExternalFailure)
	}
	return p, nil
}

// Collaborate answers orchestrator collaboration tasks.
func (a *Assistant) Collaborate(ctx context.Context, task string, params map[string]any) (any, error) {
	switch task {
	case "compose":
		desc, _ := params["description"].(string)
		if desc == "" {
			desc = "a short original piece"
		}
		return a.MusicParameters(ctx, desc)
	case "suggest":
		return a.CreativeSuggestion(ctx, params["state"])
	}
	return nil, fmt.Errorf("task %q: %w", task, errs.ErrNotFound)
}

// ResetConversation forgets the conversation so far.
func (a *Assistant) ResetConversation() {
	a.mu.Lock()
	a.history = nil
	a.mu.Unlock()
}

// History returns a copy of the conversation.
func (a *Assistant) History() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.history...)
}

// ask sends system + recent history + user and records the exchange on
// success only.
func (a *Assistant) ask(ctx context.Context, system, user string) (string, error) {
	a.mu.Lock()
	hist := a.history
	if len(hist) > maxHistory {
		hist = hist[len(hist)-maxHistory:]
	}
	msgs := make([]Message, 0, len(hist)+2)
	msgs = append(msgs, Message{Role: "system", Content: system})
	msgs = append(msgs, hist...)
	msgs = append(msgs, Message{Role: "user", Content: user})
	a.mu.Unlock()

	reply, err := a.client.Chat(ctx, msgs)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.history = append(a.history,
		Message{Role: "user", Content: user},
		Message{Role: "assistant", Content: reply},
	)
	a.mu.Unlock()
	return reply, nil
}

// DefaultParameters is the brief used when a description says nothing.
func DefaultParameters() MusicParameters {
	return MusicParameters{
		Tempo:         120,
		Key:           "C minor",
		TimeSignature: "4/4",
		Instruments:   []string{"drums", "bass", "synth"},
		Effects:       []string{"reverb", "delay"},
		Duration:      120,
	}
}
