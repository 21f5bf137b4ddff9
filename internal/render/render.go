// Package render turns collected items into the text blocks consumed by the
// packer: a dated header, one section per source, and a footer with counts.
package render

import (
	"fmt"
	"strings"
	"time"

	"digestbot/internal/feed"
)

// Group is one digest section: a source heading plus its new items, already
// in delivery order.
type Group struct {
	Title string
	Items []feed.Item
}

// Header renders the digest title line for the given day.
func Header(now time.Time) string {
	return "**📰 Tech News Digest — " + now.Format("2006-01-02") + "**"
}

// Footer renders the closing line with item and source counts.
func Footer(itemCount, sourceCount int) string {
	return fmt.Sprintf("_%d new %s across %d %s_",
		itemCount, plural(itemCount, "item", "items"),
		sourceCount, plural(sourceCount, "source", "sources"))
}

// Sections renders one text block per non-empty group, keeping group order.
// Item blocks inside a section are separated by blank lines so the packer
// can split an oversized section at paragraph boundaries.
func Sections(groups []Group) []string {
	var sections []string
	for _, g := range groups {
		if len(g.Items) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString("__")
		b.WriteString(g.Title)
		b.WriteString("__")
		for _, it := range g.Items {
			b.WriteString("\n\n")
			b.WriteString(itemBlock(it))
		}
		sections = append(sections, b.String())
	}
	return sections
}

func itemBlock(it feed.Item) string {
	var b strings.Builder
	b.WriteString("• ")
	b.WriteString(it.Title)
	if it.Author != "" {
		b.WriteString(" — ")
		b.WriteString(it.Author)
	}
	if it.Summary != "" {
		b.WriteString("\n  ")
		b.WriteString(it.Summary)
	}
	b.WriteString("\n  <")
	b.WriteString(it.URL)
	b.WriteString(">")
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
