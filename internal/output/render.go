package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/term"
)

// Palette colors (ANSI 256).
const (
	colorPrimary = "39"
	colorMuted   = "245"
	colorError   = "203"
	colorText    = "252"
)

// Renderer handles styled terminal output.
type Renderer struct {
	width  int
	styled bool

	Summary lipgloss.Style
	Muted   lipgloss.Style
	Data    lipgloss.Style
	Error   lipgloss.Style
	Hint    lipgloss.Style
	Key     lipgloss.Style
	Header  lipgloss.Style
}

// NewRenderer creates a renderer. Styling is enabled when writing to a TTY,
// or when forceStyled is true, unless NO_COLOR is set.
func NewRenderer(w io.Writer, forceStyled bool) *Renderer {
	width, isTTY := terminalInfo(w)
	styled := (isTTY || forceStyled) && os.Getenv("NO_COLOR") == ""

	r := &Renderer{width: width, styled: styled}
	if !styled {
		plain := lipgloss.NewStyle()
		r.Summary, r.Muted, r.Data, r.Error, r.Hint, r.Key, r.Header = plain, plain, plain, plain, plain, plain, plain
		return r
	}

	r.Summary = lipgloss.NewStyle().Foreground(lipgloss.Color(colorPrimary)).Bold(true)
	r.Muted = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
	r.Data = lipgloss.NewStyle().Foreground(lipgloss.Color(colorText))
	r.Error = lipgloss.NewStyle().Foreground(lipgloss.Color(colorError)).Bold(true)
	r.Hint = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted)).Italic(true)
	r.Key = lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))
	r.Header = lipgloss.NewStyle().Foreground(lipgloss.Color(colorText)).Bold(true)
	return r
}

// terminalInfo returns the terminal width and whether the writer is a TTY.
func terminalInfo(w io.Writer) (width int, isTTY bool) {
	width = 80

	if f, ok := w.(*os.File); ok {
		if w, _, err := term.GetSize(f.Fd()); err == nil && w >= 40 {
			width = w
		}
		isTTY = term.IsTerminal(f.Fd())
	}

	return width, isTTY
}

// RenderResponse renders a success response to the writer.
func (r *Renderer) RenderResponse(w io.Writer, resp *Response) error {
	var b strings.Builder

	if resp.Summary != "" {
		b.WriteString(r.Summary.Render(resp.Summary))
		b.WriteString("\n\n")
	}

	r.renderData(&b, NormalizeData(resp.Data))

	if stats, ok := resp.Meta["stats"]; ok {
		b.WriteString("\n")
		b.WriteString(r.Muted.Render(fmt.Sprintf("Stats: %v", stats)))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderError renders an error response to the writer.
func (r *Renderer) RenderError(w io.Writer, resp *ErrorResponse) error {
	var b strings.Builder

	b.WriteString(r.Error.Render("Error: " + resp.Error))
	b.WriteString("\n")

	if resp.Hint != "" {
		b.WriteString(r.Hint.Render("Hint: " + resp.Hint))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Renderer) renderData(b *strings.Builder, data any) {
	switch d := data.(type) {
	case map[string]any:
		r.renderObject(b, d)
	case []any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		if rows := toMapSlice(d); rows != nil {
			r.renderTable(b, rows)
			return
		}
		for _, item := range d {
			b.WriteString(r.Data.Render("- " + formatCell(item)))
			b.WriteString("\n")
		}
	case string:
		b.WriteString(r.Data.Render(d))
		b.WriteString("\n")
	case nil:
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")
	default:
		b.WriteString(r.Data.Render(fmt.Sprintf("%v", data)))
		b.WriteString("\n")
	}
}

func (r *Renderer) renderObject(b *strings.Builder, obj map[string]any) {
	keys := sortedKeys(obj)
	pad := 0
	for _, k := range keys {
		if len(k) > pad {
			pad = len(k)
		}
	}
	for _, k := range keys {
		b.WriteString(r.Key.Render(fmt.Sprintf("%-*s", pad, k)))
		b.WriteString("  ")
		b.WriteString(r.Data.Render(formatCell(obj[k])))
		b.WriteString("\n")
	}
}

func (r *Renderer) renderTable(b *strings.Builder, rows []map[string]any) {
	var headers []string
	for _, k := range sortedKeys(rows[0]) {
		switch rows[0][k].(type) {
		case map[string]any, []any:
			continue
		}
		headers = append(headers, k)
	}
	if len(headers) == 0 {
		return
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Width(r.width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.Header
			}
			return r.Data
		})
	t.Headers(headers...)
	for _, item := range rows {
		row := make([]string, len(headers))
		for i, h := range headers {
			row[i] = formatCell(item[h])
		}
		t.Row(row...)
	}

	b.WriteString(t.String())
	b.WriteString("\n")
}

func toMapSlice(slice []any) []map[string]any {
	result := make([]map[string]any, 0, len(slice))
	for _, item := range slice {
		m, ok := item.(map[string]any)
		if !ok {
			return nil
		}
		result = append(result, m)
	}
	return result
}

// sortedKeys orders id first, then alphabetically.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == "id" || keys[j] == "id" {
			return keys[i] == "id"
		}
		return keys[i] < keys[j]
	})
	return keys
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
