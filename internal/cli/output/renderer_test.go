package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMode(t *testing.T) {
	tests := []struct {
		in   string
		want OutputMode
	}{
		{"", ModeAuto},
		{"auto", ModeAuto},
		{"TEXT", ModeText},
		{"md", ModeMarkdown},
		{"markdown", ModeMarkdown},
		{"json", ModeJSON},
		{"yaml", ModeAuto},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Mode(tt.in))
		})
	}
}

func TestEffectiveMode(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, ModeText, NewRendererWithTTY(&buf, &buf, true, ModeAuto).EffectiveMode())
	assert.Equal(t, ModeMarkdown, NewRendererWithTTY(&buf, &buf, false, ModeAuto).EffectiveMode())
	assert.Equal(t, ModeJSON, NewRendererWithTTY(&buf, &buf, true, ModeJSON).EffectiveMode())

	// A buffer is never a terminal.
	assert.False(t, NewRenderer(&buf, &buf, ModeAuto).IsTTY())
}

func TestRenderer_TableMarkdown(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &out, false, ModeMarkdown)

	r.Table([]string{"Rule", "State"}, [][]string{{"shift_dates", "DONE"}})

	assert.Contains(t, out.String(), "| Rule | State |")
	assert.Contains(t, out.String(), "| shift_dates | DONE |")
}

func TestRenderer_TableText(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &out, false, ModeText)

	r.Table([]string{"Rule"}, [][]string{{"shift_dates"}})

	assert.Contains(t, out.String(), "┌")
	assert.Contains(t, out.String(), "shift_dates")
}

func TestRenderer_NoANSIWithoutTTY(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRendererWithTTY(&out, &errOut, false, ModeText)

	r.Header(1, "Run")
	r.Success("done")
	r.Error("boom")

	assert.NotContains(t, out.String(), "\x1b[")
	assert.NotContains(t, errOut.String(), "\x1b[")
	assert.Contains(t, out.String(), SymbolSuccess+" done")
	assert.Contains(t, errOut.String(), SymbolFailure+" boom")
}

func TestRenderer_HeaderMarkdown(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &out, false, ModeAuto)
	r.Header(2, "Plan")
	assert.Equal(t, "## Plan\n\n", out.String())
}

func TestRenderer_JSON(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &out, false, ModeJSON)

	require.NoError(t, r.JSON(PlanOutput{Levels: [][]string{{"a"}}}))

	var got PlanOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, [][]string{{"a"}}, got.Levels)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "# Title", FormatHeader(0, "Title"))
	assert.Equal(t, "### Title", FormatHeader(3, "Title"))
	assert.Equal(t, "- **Run:** abc", FormatKeyValue("Run", "abc"))
	assert.Equal(t, "```sql\nSELECT 1\n```", FormatCodeBlock("sql", "SELECT 1\n"))
}
