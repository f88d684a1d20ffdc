// Package conversation turns chat threads into model prompts and model output
// back into chat messages.
//
// BuildWindow selects the most recent slice of a thread that fits a character
// budget. Split cuts one generated block into per-speaker fragments using the
// known "<label>: " prefixes.
package conversation

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Message is one thread message. SenderID is empty for messages without an
// attributable sender (bot posts, system messages).
type Message struct {
	SenderID  string
	Text      string
	Timestamp string
}

// SelfMention returns the literal mention token for a member ID.
func SelfMention(id string) string { return "<@" + id + ">" }

// render formats m as a window fragment.
func (m Message) render() string {
	if m.SenderID != "" {
		return m.SenderID + ": " + m.Text
	}
	return m.Text
}

// BuildWindow returns the newest messages whose rendered length fits budget,
// in chronological order, one per line. messages must be ordered oldest to
// newest.
//
// The budget check runs after a fragment is added, so the window always holds
// at least one message and overshoots by at most its oldest fragment. Every
// occurrence of the bot's own mention token is removed. Lengths count runes.
func BuildWindow(messages []Message, selfID string, budget int) string {
	if len(messages) == 0 {
		return ""
	}
	mention := ""
	if selfID != "" {
		mention = SelfMention(selfID)
	}

	picked := make([]string, 0, 8)
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		frag := messages[i].render()
		if mention != "" {
			frag = strings.ReplaceAll(frag, mention, "")
		}
		picked = append(picked, frag)
		total += utf8.RuneCountInString(frag)
		if total > budget {
			break
		}
	}

	for l, r := 0, len(picked)-1; l < r; l, r = l+1, r-1 {
		picked[l], picked[r] = picked[r], picked[l]
	}
	return strings.Join(picked, "\n")
}

// SortChronological orders messages by timestamp, oldest first. Timestamps
// look like "1690000000.000100"; they are compared numerically so that values
// of different widths still sort correctly. Unparseable timestamps fall back to
// string comparison. The sort is stable.
func SortChronological(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return tsLess(messages[i].Timestamp, messages[j].Timestamp)
	})
}

func tsLess(a, b string) bool {
	as, af, aok := splitTS(a)
	bs, bf, bok := splitTS(b)
	if !aok || !bok {
		return a < b
	}
	if as != bs {
		return as < bs
	}
	return af < bf
}

// splitTS parses "<secs>.<fraction>" into integer seconds and the fraction
// scaled to microseconds.
func splitTS(ts string) (secs, micros int64, ok bool) {
	whole, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if frac == "" {
		return s, 0, true
	}
	if len(frac) > 6 {
		frac = frac[:6]
	}
	frac += strings.Repeat("0", 6-len(frac))
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return s, f, true
}
