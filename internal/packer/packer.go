// Package packer assembles pre-rendered text blocks into transport-ready
// chunks that never exceed a configured byte ceiling.
//
// Blocks are opaque: the packer only looks at lengths and newline boundaries.
// Every chunk is self-contained: it starts with the digest header so a
// reader seeing one message out of several still has context.
package packer

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// sep is the blank line between the header, sections, and footer.
const sep = "\n\n"

// Split-point thresholds for oversized sections. The percentages apply to
// the budget left after the header and separator, not to the whole chunk
// limit: measured against the full limit, a cut could land past what the
// chunk can still hold once the header is in place. Paragraph breaks are
// preferred, then line breaks, then a raw cut.
const (
	paraCutPct = 70
	lineCutPct = 80
	hardCutPct = 90
)

var ErrLimitTooSmall = errors.New("packer: chunk limit too small for header")

// Packer packs one digest. Limit is the maximum chunk length in bytes.
type Packer struct {
	Limit int
}

func New(limit int) Packer { return Packer{Limit: limit} }

// Pack produces ordered chunks from a header, section blocks, and a footer.
//
// Sections are appended in order, opening a fresh header-prefixed chunk
// whenever the next section would push the current chunk over the limit.
// A section too large for an empty chunk is hard-split (see splitSection).
// The footer joins the last chunk when it fits, otherwise it is emitted as
// its own header-prefixed chunk. With no sections at all, the sole output is
// a single header+footer chunk.
func (p Packer) Pack(header string, sections []string, footer string) ([]string, error) {
	if err := p.validate(header, footer); err != nil {
		return nil, err
	}

	var chunks []string
	cur := header
	curLoaded := false
	placedAny := false

	pending := append([]string(nil), sections...)
	for i := 0; i < len(pending); i++ {
		sec := pending[i]
		if sec == "" {
			continue
		}

		if p.fits(cur, sec) {
			cur = join(cur, sec)
			curLoaded = true
			placedAny = true
			continue
		}

		if curLoaded {
			chunks = append(chunks, cur)
			cur = header
			curLoaded = false
		}

		if p.fits(cur, sec) {
			cur = join(cur, sec)
			curLoaded = true
			placedAny = true
			continue
		}

		// Section exceeds the limit even alone after a fresh header.
		// Emit the largest clean prefix and requeue the remainder as the
		// pending section for the next iteration.
		head, rest := p.splitSection(cur, sec)
		chunks = append(chunks, join(cur, head))
		cur = header
		curLoaded = false
		placedAny = true
		pending[i] = rest
		i--
	}

	if !placedAny {
		return []string{join(header, footer)}, nil
	}

	switch {
	case footer == "":
		if curLoaded {
			chunks = append(chunks, cur)
		}
	case p.fits(cur, footer):
		chunks = append(chunks, join(cur, footer))
	default:
		chunks = append(chunks, cur, join(header, footer))
	}
	return chunks, nil
}

func (p Packer) validate(header, footer string) error {
	// The smallest useful chunk is header + separator + one byte of content.
	if joinLen(header, "x") > p.Limit {
		return ErrLimitTooSmall
	}
	if footer != "" && joinLen(header, footer) > p.Limit {
		return errors.New("packer: header and footer exceed chunk limit together")
	}
	return nil
}

func (p Packer) fits(cur, block string) bool {
	return joinLen(cur, block) <= p.Limit
}

// splitSection cuts sec so that join(cur, head) fills the chunk as far as a
// clean boundary allows. Cut-point priority within the fitting prefix:
// the last paragraph break past 70% of it, else the last line break past
// 80%, else a raw cut at 90% (moved back to a rune boundary).
func (p Packer) splitSection(cur, sec string) (head, rest string) {
	budget := p.Limit - len(cur)
	if cur != "" {
		budget -= len(sep)
	}
	prefix := sec[:budget]

	if idx := strings.LastIndex(prefix, sep); idx >= budget*paraCutPct/100 {
		return sec[:idx], sec[idx+len(sep):]
	}
	if idx := strings.LastIndexByte(prefix, '\n'); idx >= budget*lineCutPct/100 {
		return sec[:idx], sec[idx+1:]
	}

	cut := budget * hardCutPct / 100
	if cut < 1 {
		cut = 1
	}
	for cut > 1 && !utf8.RuneStart(sec[cut]) {
		cut--
	}
	return sec[:cut], sec[cut:]
}

func join(cur, block string) string {
	switch {
	case block == "":
		return cur
	case cur == "":
		return block
	}
	return cur + sep + block
}

func joinLen(cur, block string) int {
	if block == "" {
		return len(cur)
	}
	if cur == "" {
		return len(block)
	}
	return len(cur) + len(sep) + len(block)
}
