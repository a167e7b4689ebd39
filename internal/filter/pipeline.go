// Package filter classifies stream events and matches them against a
// channel's active keyword set. Everything here is pure.
package filter

import (
	"strings"

	"traderbird-core/pkg/twitter"
)

// Kind is the single class assigned to an event.
type Kind string

const (
	KindTweet   Kind = "TWEET"
	KindReply   Kind = "REPLY"
	KindRetweet Kind = "RETWEET"
)

// Classify assigns exactly one class. Reply wins over retweet when an event
// carries both flags.
func Classify(ev *twitter.Event) Kind {
	switch {
	case ev.IsReply():
		return KindReply
	case ev.IsRetweet():
		return KindRetweet
	default:
		return KindTweet
	}
}

// Annotate finds each keyword's first occurrence in the text,
// case-insensitively, and wraps the original-case substring in emphasis
// markers. Keywords are applied in the order given, each against the text as
// mutated by prior wraps. Returns the annotated text and the matched
// keywords.
func Annotate(text string, keywords []string) (string, []string) {
	var matched []string
	for _, kw := range keywords {
		kw = strings.ToUpper(kw)
		if kw == "" {
			continue
		}
		i := strings.Index(strings.ToUpper(text), kw)
		if i < 0 {
			continue
		}
		text = text[:i] + "<b>" + text[i:i+len(kw)] + "</b>" + text[i+len(kw):]
		matched = append(matched, kw)
	}
	return text, matched
}

// ShouldCapture reports whether an event is persisted and broadcast: at least
// one keyword matched, or the channel has no filters configured (an empty set
// matches everything).
func ShouldCapture(matched, keywords []string) bool {
	return len(matched) > 0 || len(keywords) == 0
}
