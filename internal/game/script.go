// Package game loads the riddle script the bot walks a licensed chat through.
package game

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type MatchMode string

const (
	MatchExact MatchMode = "exact"
	MatchFold  MatchMode = "fold"
)

var (
	ErrInvalidScript = errors.New("invalid game script")
	ErrUnknownStep   = errors.New("unknown game step")
)

// Message is one outgoing bot message. Exactly one of Text, Photo, Audio,
// Video or Album is set; media paths are relative to the asset dir.
type Message struct {
	Text      string   `yaml:"text"`
	Photo     string   `yaml:"photo"`
	Audio     string   `yaml:"audio"`
	Video     string   `yaml:"video"`
	Album     []string `yaml:"album"`
	Caption   string   `yaml:"caption"`
	ParseMode string   `yaml:"parse_mode"`
	// Missing replaces the default warning when the media file is absent.
	Missing string `yaml:"missing"`
}

// Media returns the file paths the message refers to.
func (m Message) Media() []string {
	switch {
	case m.Photo != "":
		return []string{m.Photo}
	case m.Audio != "":
		return []string{m.Audio}
	case m.Video != "":
		return []string{m.Video}
	}
	return m.Album
}

func (m Message) kinds() int {
	n := 0
	for _, set := range []bool{m.Text != "", m.Photo != "", m.Audio != "", m.Video != "", len(m.Album) > 0} {
		if set {
			n++
		}
	}
	return n
}

type Step struct {
	ID          string    `yaml:"id"`
	Intro       []Message `yaml:"intro"`
	Answers     []string  `yaml:"answers"`
	Match       MatchMode `yaml:"match"`
	Success     []Message `yaml:"success"`
	Failure     string    `yaml:"failure"`
	Hints       []string  `yaml:"hints"`
	NoMoreHints string    `yaml:"no_more_hints"`
	// Next overrides the default of moving to the following step.
	Next  string `yaml:"next"`
	Final bool   `yaml:"final"`
}

// Accepts reports whether text solves the step.
func (st *Step) Accepts(text string) bool {
	text = strings.TrimSpace(text)
	for _, answer := range st.Answers {
		switch st.Match {
		case MatchFold:
			if strings.EqualFold(text, strings.TrimSpace(answer)) {
				return true
			}
		default:
			if text == answer {
				return true
			}
		}
	}
	return false
}

// Hint returns the n-th hint (1-based). Past the last hint it returns
// NoMoreHints.
func (st *Step) Hint(n int) string {
	if n >= 1 && n <= len(st.Hints) {
		return st.Hints[n-1]
	}
	return st.NoMoreHints
}

type Script struct {
	Steps  []Step    `yaml:"steps"`
	Finale []Message `yaml:"finale"`

	index map[string]int
}

// Outcome is the result of evaluating an answer.
type Outcome struct {
	Correct  bool
	Step     *Step
	Next     *Step
	Finished bool
}

func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read game script: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Script) validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScript)
	}

	s.index = make(map[string]int, len(s.Steps))
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.ID == "" {
			return fmt.Errorf("%w: step %d has no id", ErrInvalidScript, i+1)
		}
		if _, dup := s.index[st.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidScript, st.ID)
		}
		s.index[st.ID] = i

		if len(st.Answers) == 0 {
			return fmt.Errorf("%w: step %q has no answers", ErrInvalidScript, st.ID)
		}
		switch st.Match {
		case "":
			st.Match = MatchExact
		case MatchExact, MatchFold:
		default:
			return fmt.Errorf("%w: step %q has unknown match mode %q", ErrInvalidScript, st.ID, st.Match)
		}
		if st.Final && st.Next != "" {
			return fmt.Errorf("%w: final step %q has a next step", ErrInvalidScript, st.ID)
		}
		if err := validateMessages(st.ID, st.Intro); err != nil {
			return err
		}
		if err := validateMessages(st.ID, st.Success); err != nil {
			return err
		}
	}

	for _, st := range s.Steps {
		if st.Next == "" {
			continue
		}
		if _, ok := s.index[st.Next]; !ok {
			return fmt.Errorf("%w: step %q points to unknown step %q", ErrInvalidScript, st.ID, st.Next)
		}
	}
	return validateMessages("finale", s.Finale)
}

func validateMessages(owner string, msgs []Message) error {
	for i, m := range msgs {
		if m.kinds() != 1 {
			return fmt.Errorf("%w: %s message %d must set exactly one of text, photo, audio, video, album", ErrInvalidScript, owner, i+1)
		}
		if m.Text != "" && m.Caption != "" {
			return fmt.Errorf("%w: %s message %d: text messages take no caption", ErrInvalidScript, owner, i+1)
		}
	}
	return nil
}

func (s *Script) First() *Step {
	return &s.Steps[0]
}

func (s *Script) Step(id string) (*Step, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return &s.Steps[i], true
}

// next returns the step after st, or nil when st ends the game.
func (s *Script) next(st *Step) *Step {
	if st.Final {
		return nil
	}
	if st.Next != "" {
		n, _ := s.Step(st.Next)
		return n
	}
	i := s.index[st.ID]
	if i+1 >= len(s.Steps) {
		return nil
	}
	return &s.Steps[i+1]
}

// Evaluate checks text against the step stepID.
func (s *Script) Evaluate(stepID, text string) (Outcome, error) {
	st, ok := s.Step(stepID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownStep, stepID)
	}
	if !st.Accepts(text) {
		return Outcome{Step: st}, nil
	}

	next := s.next(st)
	return Outcome{
		Correct:  true,
		Step:     st,
		Next:     next,
		Finished: next == nil,
	}, nil
}
