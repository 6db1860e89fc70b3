package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"ppm/src/composer"
	"ppm/src/ports"
	"ppm/src/token"
)

var sectionColors = map[string]color.Attribute{
	"black":   color.FgHiBlack,
	"red":     color.FgRed,
	"green":   color.FgGreen,
	"yellow":  color.FgYellow,
	"blue":    color.FgBlue,
	"magenta": color.FgMagenta,
	"cyan":    color.FgCyan,
	"white":   color.FgWhite,
}

// colorFor maps a granularity color hint onto a terminal color. Unknown
// hints, including "base", render in the default color.
func colorFor(hint string) *color.Color {
	if attr, ok := sectionColors[strings.ToLower(hint)]; ok {
		return color.New(attr)
	}
	return color.New(color.Reset)
}

func printTokens(w io.Writer, tokens []token.Token, levels []token.GranularityLevel) {
	if len(tokens) == 0 {
		fmt.Fprintln(w, "No tokens")
		return
	}

	names := token.LevelIndex(levels)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tPOLARITY\tORDER\tTOKEN")
	for _, t := range token.SortForDisplay(tokens, levels) {
		category := t.GranularityID
		if l, ok := names[t.GranularityID]; ok {
			category = l.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", t.ID, category, t.Polarity, t.DisplayOrder, t.FormatForPrompt(true))
	}
	tw.Flush()
}

func printBreakdown(w io.Writer, prompt composer.ComposedPrompt) {
	for _, section := range prompt.Breakdown {
		c := colorFor(section.Color)
		c.Fprintf(w, "%s\n", section.Name)
		if len(section.PositiveTokens) > 0 {
			fmt.Fprintf(w, "  + %s\n", strings.Join(section.PositiveTokens, ", "))
		}
		if len(section.NegativeTokens) > 0 {
			fmt.Fprintf(w, "  - %s\n", strings.Join(section.NegativeTokens, ", "))
		}
	}
}

func printPrompt(w io.Writer, label, text string, count ports.TokenCount) {
	usage := count.Display()
	if count.Known && count.ExceedsLimit {
		usage = color.RedString(usage)
	}
	bold := color.New(color.Bold)
	bold.Fprintf(w, "%s ", label)
	fmt.Fprintf(w, "[%s]\n%s\n", usage, text)
}
