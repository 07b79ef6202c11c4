// Package animation detects phrases in agent responses that should make the
// landing page avatar play an animation.
package animation

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Name is an avatar animation known to the front end.
type Name string

const (
	Salute   Name = "salute"
	ThumbsUp Name = "thumbsup"
)

// Valid reports whether n is a known animation.
func (n Name) Valid() bool {
	return n == Salute || n == ThumbsUp
}

// When selects how the front end repeats an animation.
type When string

const (
	Once When = "once"
	Loop When = "loop"
)

// Lifecycle tells the front end how long to play an animation.
// Nil fields are sent as JSON null.
type Lifecycle struct {
	Times        *int  `yaml:"times" json:"times"`
	When         *When `yaml:"when" json:"when"`
	DurationInMs *int  `yaml:"duration_in_ms" json:"duration_in_ms"`
}

// Trigger maps language-specific regex patterns to an animation.
type Trigger struct {
	Name      string              `yaml:"name"`
	Animation Name                `yaml:"animation"`
	Patterns  map[string][]string `yaml:"patterns"`
	Lifecycle *Lifecycle          `yaml:"lifecycle"`
}

func intPtr(v int) *int { return &v }

func whenPtr(w When) *When { return &w }

// DefaultTriggers are used when no triggers file is configured.
var DefaultTriggers = []Trigger{
	{
		Name:      "greeting",
		Animation: Salute,
		Patterns: map[string][]string{
			"en": {"hello", "hi there", "welcome", "greetings", "goodbye", "bye"},
			"es": {"hola", "bienvenid[oa]s?", "saludos", "adi[oó]s", "hasta luego"},
		},
		Lifecycle: &Lifecycle{Times: intPtr(1), When: whenPtr(Once)},
	},
	{
		Name:      "approval",
		Animation: ThumbsUp,
		Patterns: map[string][]string{
			"en": {"great", "perfect", "excellent", "awesome", "well done"},
			"es": {"genial", "perfecto", "excelente", "estupendo", "muy bien"},
		},
		Lifecycle: &Lifecycle{When: whenPtr(Loop), DurationInMs: intPtr(2000)},
	},
}

// LoadFile reads triggers from a YAML or JSON file.
func LoadFile(path string) ([]Trigger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading animation triggers: %w", err)
	}
	var triggers []Trigger
	if err := yaml.Unmarshal(data, &triggers); err != nil {
		return nil, fmt.Errorf("parsing animation triggers %s: %w", path, err)
	}
	return triggers, nil
}

// Match is a detected trigger.
type Match struct {
	Trigger   string
	Animation Name
	Lifecycle Lifecycle
}

// Parameters renders the trigger_animation tool call parameters.
func (m Match) Parameters() map[string]any {
	lifecycle := map[string]any{"times": nil, "when": nil, "duration_in_ms": nil}
	if m.Lifecycle.Times != nil {
		lifecycle["times"] = *m.Lifecycle.Times
	}
	if m.Lifecycle.When != nil {
		lifecycle["when"] = string(*m.Lifecycle.When)
	}
	if m.Lifecycle.DurationInMs != nil {
		lifecycle["duration_in_ms"] = *m.Lifecycle.DurationInMs
	}
	return map[string]any{
		"name":      string(m.Animation),
		"lifecycle": lifecycle,
	}
}

type compiled struct {
	trigger Trigger
	re      *regexp.Regexp
}

// Detector matches agent responses against triggers in order.
type Detector struct {
	triggers []compiled
}

// NewDetector compiles triggers. Patterns of all languages of a trigger are
// joined into one case-insensitive whole-word alternation.
func NewDetector(triggers []Trigger) (*Detector, error) {
	d := &Detector{}
	for i, t := range triggers {
		if !t.Animation.Valid() {
			return nil, fmt.Errorf("trigger %d (%s): unknown animation %q", i, t.Name, t.Animation)
		}
		if t.Lifecycle != nil && t.Lifecycle.When != nil && *t.Lifecycle.When != Once && *t.Lifecycle.When != Loop {
			return nil, fmt.Errorf("trigger %d (%s): unknown lifecycle %q", i, t.Name, *t.Lifecycle.When)
		}

		langs := make([]string, 0, len(t.Patterns))
		for lang := range t.Patterns {
			langs = append(langs, lang)
		}
		slices.Sort(langs)

		var patterns []string
		for _, lang := range langs {
			patterns = append(patterns, t.Patterns[lang]...)
		}
		if len(patterns) == 0 {
			return nil, fmt.Errorf("trigger %d (%s): no patterns", i, t.Name)
		}

		// RE2 \b is ASCII only, so word edges are spelled out for accented text.
		re, err := regexp.Compile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(patterns, "|") + `)(?:$|[^\p{L}\p{N}_])`)
		if err != nil {
			return nil, fmt.Errorf("trigger %d (%s): %w", i, t.Name, err)
		}
		d.triggers = append(d.triggers, compiled{trigger: t, re: re})
	}
	return d, nil
}

// Detect returns the first trigger matching text.
func (d *Detector) Detect(text string) (Match, bool) {
	if text == "" {
		return Match{}, false
	}
	for _, c := range d.triggers {
		if !c.re.MatchString(text) {
			continue
		}
		m := Match{Trigger: c.trigger.Name, Animation: c.trigger.Animation}
		if c.trigger.Lifecycle != nil {
			m.Lifecycle = *c.trigger.Lifecycle
		}
		return m, true
	}
	return Match{}, false
}
