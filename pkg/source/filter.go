package source

import "strings"

// Filter drops videos whose title matches an excluded keyword or whose
// channel is excluded.
type Filter struct {
	keywords []string
	channels map[string]bool
}

// NewFilter creates a filter. Keyword matching is case-insensitive.
func NewFilter(excludeKeywords, excludeChannels []string) *Filter {
	keywords := make([]string, 0, len(excludeKeywords))
	for _, kw := range excludeKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	channels := make(map[string]bool, len(excludeChannels))
	for _, ch := range excludeChannels {
		channels[strings.TrimSpace(ch)] = true
	}

	return &Filter{keywords: keywords, channels: channels}
}

// Empty reports whether the filter excludes nothing.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.keywords) == 0 && len(f.channels) == 0)
}

// Excludes returns true if v should be dropped.
func (f *Filter) Excludes(v Video) bool {
	if f.Empty() {
		return false
	}
	if f.channels[v.ChannelID] {
		return true
	}
	lower := strings.ToLower(v.Title)
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Apply removes excluded videos and re-assigns ranks densely in chart order.
func (f *Filter) Apply(videos []Video) []Video {
	if f.Empty() {
		return videos
	}
	kept := make([]Video, 0, len(videos))
	for _, v := range videos {
		if f.Excludes(v) {
			continue
		}
		v.Rank = len(kept) + 1
		kept = append(kept, v)
	}
	return kept
}
