// Package ui renders CLI output: problems with suggestions, tables and sections.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Problem describes a failure shown to the user
type Problem struct {
	Context      string
	Message      string
	Details      []string
	Suggestions  []string
	HelpCommands []string
}

// Printer writes colored output unless colors are disabled
type Printer struct {
	w       io.Writer
	noColor bool
}

// NewPrinter creates a printer on w
func NewPrinter(w io.Writer, noColor bool) *Printer {
	return &Printer{w: w, noColor: noColor}
}

func (p *Printer) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.noColor {
		c.DisableColor()
	}
	return c
}

// Problem writes a problem block:
//
//	✗ SCHEMA INVALID: Album.Artist references unknown entity Artit
//	   Did you mean: Artist?
//	   → persist validate --help
func (p *Printer) Problem(pr Problem) {
	header := p.color(color.FgRed, color.Bold)
	if pr.Context != "" {
		header.Fprintf(p.w, "✗ %s: %s\n", strings.ToUpper(pr.Context), pr.Message)
	} else {
		header.Fprintf(p.w, "✗ %s\n", pr.Message)
	}

	body := p.color(color.FgRed)
	for _, d := range pr.Details {
		body.Fprintf(p.w, "   %s\n", d)
	}
	if len(pr.Suggestions) > 0 {
		p.color(color.FgYellow).Fprintf(p.w, "   Did you mean: %s?\n", strings.Join(pr.Suggestions, ", "))
	}
	cyan := p.color(color.FgCyan)
	for _, cmd := range pr.HelpCommands {
		cyan.Fprintf(p.w, "   → %s\n", cmd)
	}
}

// Success writes a check-marked line
func (p *Printer) Success(format string, args ...interface{}) {
	p.color(color.FgGreen, color.Bold).Fprintf(p.w, "✓ "+format+"\n", args...)
}

// Header writes a bold title underlined to its width
func (p *Printer) Header(title string) {
	p.color(color.Bold, color.FgCyan).Fprintln(p.w, title)
	p.color(color.FgHiBlack).Fprintln(p.w, strings.Repeat("─", len(title)))
}

// Section writes a title followed by indented lines and a blank line
func (p *Printer) Section(title string, lines ...string) {
	p.color(color.Bold, color.FgCyan).Fprintln(p.w, title)
	for _, line := range lines {
		fmt.Fprintf(p.w, "  %s\n", line)
	}
	fmt.Fprintln(p.w)
}

// Table writes aligned columns under a header row
func (p *Printer) Table(headers []string, rows [][]string) {
	if len(headers) == 0 {
		return
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	bold := p.color(color.Bold, color.FgCyan)
	for i, h := range headers {
		bold.Fprint(p.w, pad(h, widths[i], i == len(headers)-1))
	}
	fmt.Fprintln(p.w)

	gray := p.color(color.FgHiBlack)
	for i, width := range widths {
		gray.Fprint(p.w, pad(strings.Repeat("─", width), 0, i == len(widths)-1))
	}
	fmt.Fprintln(p.w)

	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			fmt.Fprint(p.w, pad(cell, widths[i], i == len(row)-1))
		}
		fmt.Fprintln(p.w)
	}
}

// KeyValues writes "key: value" lines with aligned values
func (p *Printer) KeyValues(pairs ...[2]string) {
	width := 0
	for _, kv := range pairs {
		if len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	cyan := p.color(color.FgCyan)
	for _, kv := range pairs {
		cyan.Fprint(p.w, pad(kv[0]+":", width+1, false))
		fmt.Fprintf(p.w, "%s\n", kv[1])
	}
}

// pad right-pads s to width plus the column gap; the last column is left as is
func pad(s string, width int, last bool) string {
	if last {
		return s
	}
	if n := len(s); n < width {
		s += strings.Repeat(" ", width-n)
	}
	return s + "  "
}
