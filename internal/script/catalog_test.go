package script

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sales-agent/internal/domain"
)

func mustLoad(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load()
	require.NoError(t, err)
	return c
}

func TestLoad_DefaultScript(t *testing.T) {
	c := mustLoad(t)
	require.Equal(t, StepCount, c.Len())
	for i, q := range c.Questions() {
		require.Equal(t, i, q.Step)
		require.NotEmpty(t, q.Text)
		require.NotEmpty(t, q.Label)
	}
	require.Equal(t, CategoryPermission, c.Question(0).Category)
	require.Equal(t, CategoryClose, c.Question(domain.FinalStep).Category)
	require.Equal(t, AnswerYesNo, c.Question(14).Answer)
}

func TestQuestion_OutOfRangePanics(t *testing.T) {
	c := mustLoad(t)
	require.Panics(t, func() { c.Question(-1) })
	require.Panics(t, func() { c.Question(StepCount) })
}

func TestQuestions_ReturnsCopy(t *testing.T) {
	c := mustLoad(t)
	qs := c.Questions()
	qs[0].Text = "changed"
	require.NotEqual(t, "changed", c.Question(0).Text)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"not yaml":    "questions: [",
		"too few":     "questions:\n  - step: 0\n    category: permission\n    text: hi\n",
		"bad ordering": buildScript(func(i int) string {
			if i == 3 {
				return "  - step: 4\n    category: discovery\n    text: q\n"
			}
			return ""
		}),
		"bad category": buildScript(func(i int) string {
			if i == 2 {
				return "  - step: 2\n    category: smalltalk\n    text: q\n"
			}
			return ""
		}),
		"empty text": buildScript(func(i int) string {
			if i == 5 {
				return "  - step: 5\n    category: pain\n    text: \"  \"\n"
			}
			return ""
		}),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestParse_DefaultsAnswerKind(t *testing.T) {
	c, err := Parse([]byte(buildScript(func(int) string { return "" })))
	require.NoError(t, err)
	require.Equal(t, AnswerOpen, c.Question(7).Answer)
}

func buildScript(override func(i int) string) string {
	var b strings.Builder
	b.WriteString("questions:\n")
	for i := 0; i < StepCount; i++ {
		if o := override(i); o != "" {
			b.WriteString(o)
			continue
		}
		b.WriteString("  - step: " + strconv.Itoa(i) + "\n    category: discovery\n    text: question " + strconv.Itoa(i) + "\n")
	}
	return b.String()
}


func TestRender_InterpolatesCalculator(t *testing.T) {
	c := mustLoad(t)
	calc := &domain.CalculatorSnapshot{ShootsPerWeek: 3, HoursPerShoot: 4, BillableRate: 150}

	require.Contains(t, c.Render(2, calc), "132 a year")
	require.Contains(t, c.Render(4, calc), "528 hours")
	require.Contains(t, c.Render(6, calc), "$150 an hour")
	require.Contains(t, c.Render(6, calc), "$79,200 a year")
}

func TestRender_NilCalculatorLeavesPlaceholders(t *testing.T) {
	c := mustLoad(t)
	require.Contains(t, c.Render(2, nil), "[shootsPerWeek × 44]")
}

func TestOutline_ListsEveryStep(t *testing.T) {
	out := mustLoad(t).Outline()
	require.Len(t, strings.Split(out, "\n"), StepCount)
	require.True(t, strings.HasPrefix(out, "0. [permission]"))
}
