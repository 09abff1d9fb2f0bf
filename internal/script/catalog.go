// Package script holds the fixed sales conversation script.
package script

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"sales-agent/internal/domain"
)

// Category groups script steps by their purpose in the sales conversation.
type Category string

const (
	CategoryPermission Category = "permission"
	CategoryDiscovery  Category = "discovery"
	CategoryPain       Category = "pain"
	CategoryCommitment Category = "commitment"
	CategoryClose      Category = "close"
)

// AnswerKind describes the reply shape a question expects.
type AnswerKind string

const (
	AnswerYesNo   AnswerKind = "yes_no"
	AnswerNumeric AnswerKind = "numeric"
	AnswerOpen    AnswerKind = "open"
)

// StepCount is the number of steps in a complete script.
const StepCount = domain.FinalStep + 1

//go:embed script.yaml
var defaultScript []byte

// Question is one immutable step of the script.
type Question struct {
	Step     int        `yaml:"step"`
	Label    string     `yaml:"label"`
	Category Category   `yaml:"category"`
	Required bool       `yaml:"required"`
	Answer   AnswerKind `yaml:"answer"`
	Text     string     `yaml:"text"`
}

// Catalog is the ordered, read-only list of script questions.
type Catalog struct {
	questions []Question
}

type scriptFile struct {
	Questions []Question `yaml:"questions"`
}

// Load decodes the embedded script definition.
func Load() (*Catalog, error) {
	return Parse(defaultScript)
}

// Parse decodes and validates a YAML script definition.
func Parse(raw []byte) (*Catalog, error) {
	var f scriptFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("script: decode: %w", err)
	}
	if len(f.Questions) != StepCount {
		return nil, fmt.Errorf("script: expected %d questions, got %d", StepCount, len(f.Questions))
	}
	for i, q := range f.Questions {
		if q.Step != i {
			return nil, fmt.Errorf("script: question %d has step %d", i, q.Step)
		}
		switch q.Category {
		case CategoryPermission, CategoryDiscovery, CategoryPain, CategoryCommitment, CategoryClose:
		default:
			return nil, fmt.Errorf("script: step %d: unknown category %q", i, q.Category)
		}
		switch q.Answer {
		case AnswerYesNo, AnswerNumeric, AnswerOpen:
		case "":
			f.Questions[i].Answer = AnswerOpen
		default:
			return nil, fmt.Errorf("script: step %d: unknown answer kind %q", i, q.Answer)
		}
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("script: step %d has empty text", i)
		}
	}
	return &Catalog{questions: f.Questions}, nil
}

// Len returns the number of steps.
func (c *Catalog) Len() int {
	return len(c.questions)
}

// Question returns the question for step. An out of range step is a programming error.
func (c *Catalog) Question(step int) Question {
	if step < 0 || step >= len(c.questions) {
		panic(fmt.Sprintf("script: step %d out of range [0,%d)", step, len(c.questions)))
	}
	return c.questions[step]
}

// Questions returns a copy of every question in step order.
func (c *Catalog) Questions() []Question {
	out := make([]Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// Render returns the interpolated text of step for the given calculator state.
func (c *Catalog) Render(step int, calc *domain.CalculatorSnapshot) string {
	return Interpolate(c.Question(step).Text, calc.Values())
}

// Outline renders the whole script as numbered lines, one per step.
func (c *Catalog) Outline() string {
	var b strings.Builder
	for _, q := range c.questions {
		fmt.Fprintf(&b, "%d. [%s] %s\n", q.Step, q.Category, q.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
