package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// Heuristic interprets prompts with keyword rules and the genre profiles.
// It needs no network and is what the studio uses when no API key is set.
type Heuristic struct{}

var (
	genreTerms []genreTerm

	bpmRe      = regexp.MustCompile(`(?i)\b(\d{2,3})\s*bpm\b`)
	meterRe    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)
	keyRe      = regexp.MustCompile(`(?i)\b([a-g])(#|b)?\s+(major|minor)\b`)
	durationRe = regexp.MustCompile(`(?i)\b(\d+)\s*(seconds?|secs?|minutes?|mins?)\b`)
)

type genreTerm struct {
	genre string
	re    *regexp.Regexp
	size  int
}

func init() {
	for _, name := range GenreNames() {
		terms := append([]string{name}, Profiles[name].Aliases...)
		for _, t := range terms {
			genreTerms = append(genreTerms, genreTerm{
				genre: name,
				re:    regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`),
				size:  len(t),
			})
		}
	}
}

var (
	fasterWords = []string{"fast", "upbeat", "uptempo", "energetic", "driving", "frantic"}
	slowerWords = []string{"slow", "calm", "relaxing", "chill", "mellow", "laid back", "sleepy"}
	moodWords   = []string{
		"happy", "sad", "dark", "calm", "energetic", "melancholic", "dreamy", "epic",
		"peaceful", "uplifting", "aggressive", "romantic", "mysterious", "nostalgic",
	}
)

func (Heuristic) Name() string { return Name }

// Interpret reads genre, tempo, mood, meter and key from prompt. Genre falls
// back to DefaultGenre, the rest to the genre's profile.
func (Heuristic) Interpret(_ context.Context, prompt string, _ map[string]any) (Interpretation, error) {
	if strings.TrimSpace(prompt) == "" {
		return Interpretation{}, fmt.Errorf("empty prompt: %w", errs.ErrInvalidArgument)
	}
	lower := strings.ToLower(prompt)
	p := Profiles[detectGenre(prompt)]

	in := Interpretation{
		Genre:          p.Name,
		Tempo:          p.Tempo,
		Mood:           p.Mood,
		Key:            p.Key,
		Instruments:    append([]string(nil), p.Instruments...),
		ProductionTips: append([]string(nil), p.Tips...),
	}

	if m := bpmRe.FindStringSubmatch(prompt); m != nil {
		in.Tempo, _ = strconv.Atoi(m[1])
	} else {
		if containsWord(lower, fasterWords) {
			in.Tempo += 15
		}
		if containsWord(lower, slowerWords) {
			in.Tempo -= 15
		}
	}
	in.Tempo = max(40, min(220, in.Tempo))

	for _, w := range moodWords {
		if containsWord(lower, []string{w}) {
			in.Mood = w
			break
		}
	}

	if m := meterRe.FindStringSubmatch(prompt); m != nil {
		num, _ := strconv.Atoi(m[1])
		den, _ := strconv.Atoi(m[2])
		if num > 0 && den > 0 && den&(den-1) == 0 {
			in.TimeSignature = [2]int{num, den}
		}
	} else if containsWord(lower, []string{"waltz"}) {
		in.TimeSignature = [2]int{3, 4}
	}

	if m := keyRe.FindStringSubmatch(prompt); m != nil {
		in.Key = strings.ToUpper(m[1]) + strings.ToLower(m[2]) + " " + strings.ToLower(m[3])
	}
	return in, nil
}

// CreativeSuggestion proposes a next step from the studio state. state is
// anything that marshals like studio.State.
func (Heuristic) CreativeSuggestion(_ context.Context, state any) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %v: %w", err, errs.ErrInvalidArgument)
	}
	var st struct {
		Tracks []struct {
			Name    string            `json:"name"`
			Samples int               `json:"samples"`
			Muted   bool              `json:"muted"`
			Pan     float64           `json:"pan"`
			Effects []json.RawMessage `json:"effects"`
		} `json:"tracks"`
	}
	if err := json.Unmarshal(b, &st); err != nil || len(st.Tracks) == 0 {
		return "Try adding a reverb effect for more depth and space", nil
	}

	var active, empty []string
	for _, t := range st.Tracks {
		if t.Samples == 0 {
			empty = append(empty, t.Name)
			continue
		}
		active = append(active, t.Name)
	}
	if len(active) == 0 {
		return fmt.Sprintf("Generate a melody on %s to get started", st.Tracks[0].Name), nil
	}
	for _, t := range st.Tracks {
		if t.Samples > 0 && len(t.Effects) == 0 {
			return fmt.Sprintf("Try adding reverb to %s for more depth and space", t.Name), nil
		}
	}
	if len(active) == 1 && len(empty) > 0 {
		return fmt.Sprintf("Add a bass line on %s an octave below %s", empty[0], active[0]), nil
	}
	if len(active) >= 2 {
		return fmt.Sprintf("Pan %s and %s apart to widen the mix", active[0], active[1]), nil
	}
	return "Compress the loudest track to even out the dynamics", nil
}

// MusicParameters derives a production brief from description.
func (h Heuristic) MusicParameters(ctx context.Context, description string) (MusicParameters, error) {
	in, err := h.Interpret(ctx, description, nil)
	if err != nil {
		return MusicParameters{}, err
	}
	p := DefaultParameters()
	p.Tempo = in.Tempo
	p.Key = in.Key
	p.Instruments = in.Instruments
	if in.TimeSignature[0] > 0 {
		p.TimeSignature = fmt.Sprintf("%d/%d", in.TimeSignature[0], in.TimeSignature[1])
	}
	switch in.Mood {
	case "intense", "powerful", "aggressive", "energetic":
		p.Effects = append(p.Effects, "compression")
	}
	if m := durationRe.FindStringSubmatch(description); m != nil {
		n, _ := strconv.Atoi(m[1])
		if strings.HasPrefix(strings.ToLower(m[2]), "m") {
			n *= 60
		}
		if n > 0 {
			p.Duration = float64(n)
		}
	}
	return p, nil
}

// Collaborate answers orchestrator collaboration tasks.
func (h Heuristic) Collaborate(ctx context.Context, task string, params map[string]any) (any, error) {
	switch task {
	case "compose":
		desc, _ := params["description"].(string)
		if desc == "" {
			desc = "a short original piece"
		}
		return h.MusicParameters(ctx, desc)
	case "suggest":
		return h.CreativeSuggestion(ctx, params["state"])
	}
	return nil, fmt.Errorf("task %q: %w", task, errs.ErrNotFound)
}

// detectGenre returns the genre whose longest name or alias occurs in prompt.
func detectGenre(prompt string) string {
	best, size := DefaultGenre, 0
	for _, t := range genreTerms {
		if t.size > size && t.re.MatchString(prompt) {
			best, size = t.genre, t.size
		}
	}
	return best
}

func containsWord(lower string, words []string) bool {
	for _, w := range words {
		i := strings.Index(lower, w)
		for i >= 0 {
			end := i + len(w)
			if (i == 0 || !isLetter(lower[i-1])) && (end == len(lower) || !isLetter(lower[end])) {
				return true
			}
			next := strings.Index(lower[i+1:], w)
			if next < 0 {
				break
			}
			i += 1 + next
		}
	}
	return false
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z'
}
