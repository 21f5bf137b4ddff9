package feed

import "time"

// Item is one normalized entry pulled from a content feed.
// URL is the canonical article link, not the feed-internal GUID.
type Item struct {
	Source    string
	Title     string
	URL       string
	Author    string
	Summary   string
	Published time.Time
}

// Kind selects the per-source normalization applied to raw feed entries.
// The set is closed: an unrecognized kind behaves as KindGeneric.
type Kind string

const (
	KindHackerNews Kind = "hackernews"
	KindQiita      Kind = "qiita"
	KindZenn       Kind = "zenn"
	KindGeneric    Kind = "generic"
)

// SourceConfig describes one content source. A source may aggregate several
// feed URLs (e.g. multiple Zenn topics) under one key.
type SourceConfig struct {
	Key   string
	Title string
	Kind  Kind
	Feeds []string
	Limit int
}

// DisplayTitle returns the section heading for the source.
func (s SourceConfig) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return s.Key
}
