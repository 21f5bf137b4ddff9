package feed

import (
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// normalizeFunc turns one raw feed entry into an Item for the given source key.
type normalizeFunc func(sourceKey string, raw *gofeed.Item) Item

// normalizerFor maps a source kind to its normalization.
// Unknown kinds fall back to the generic normalization.
func normalizerFor(kind Kind) normalizeFunc {
	switch kind {
	case KindHackerNews:
		return normalizeHackerNews
	case KindQiita:
		return normalizeQiita
	case KindZenn:
		return normalizeZenn
	default:
		return normalizeGeneric
	}
}

// hnrss.org descriptions wrap the real link in boilerplate:
// "Article URL: <a ...>...</a> Comments URL: ... Points: N # Comments: M".
var hnArticleURLRe = regexp.MustCompile(`Article URL:\s*<a href="([^"]+)"`)

func normalizeHackerNews(sourceKey string, raw *gofeed.Item) Item {
	it := normalizeGeneric(sourceKey, raw)

	// Prefer the submitted article URL over the news.ycombinator.com link
	// when the feed carries it in the description.
	if m := hnArticleURLRe.FindStringSubmatch(raw.Description); len(m) == 2 {
		it.URL = m[1]
	}
	// The description is feed boilerplate, not a summary.
	it.Summary = ""
	return it
}

func normalizeQiita(sourceKey string, raw *gofeed.Item) Item {
	it := normalizeGeneric(sourceKey, raw)
	// Qiita descriptions are rendered article HTML; keep a plain-text lead-in.
	it.Summary = firstLine(stripTags(raw.Description))
	return it
}

func normalizeZenn(sourceKey string, raw *gofeed.Item) Item {
	it := normalizeGeneric(sourceKey, raw)
	it.Summary = firstLine(stripTags(raw.Description))
	// Zenn feeds put the publication name in the author field for
	// publication articles; drop it when it duplicates the source.
	if strings.EqualFold(it.Author, sourceKey) {
		it.Author = ""
	}
	return it
}

func normalizeGeneric(sourceKey string, raw *gofeed.Item) Item {
	it := Item{
		Source:  sourceKey,
		Title:   strings.TrimSpace(raw.Title),
		URL:     strings.TrimSpace(raw.Link),
		Summary: firstLine(stripTags(raw.Description)),
	}
	if raw.PublishedParsed != nil {
		it.Published = raw.PublishedParsed.UTC()
	} else if raw.UpdatedParsed != nil {
		it.Published = raw.UpdatedParsed.UTC()
	} else {
		it.Published = time.Time{}
	}
	if len(raw.Authors) > 0 && raw.Authors[0] != nil {
		it.Author = strings.TrimSpace(raw.Authors[0].Name)
	}
	return it
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return strings.TrimSpace(tagRe.ReplaceAllString(s, ""))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
