package conversation

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SpeakerPrefixes builds the deduplicated set of "<label>: " prefixes for the
// given labels. Empty labels are skipped. The result is sorted longest first,
// which is the order Split tries them in.
func SpeakerPrefixes(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == "" {
			continue
		}
		p := l + ": "
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sortLongestFirst(out)
	return out
}

func sortLongestFirst(ps []string) {
	sort.SliceStable(ps, func(i, j int) bool {
		if len(ps[i]) != len(ps[j]) {
			return len(ps[i]) > len(ps[j])
		}
		return ps[i] < ps[j]
	})
}

// Split cuts generated at every occurrence of a known speaker prefix and
// returns the trimmed, non-empty pieces in order. Which prefix introduced a
// piece is not reported.
//
// The scan walks the text once. At each byte offset the longest prefix that
// matches there wins; the text since the previous cut becomes a fragment and
// scanning resumes after the prefix. Text without any prefix comes back as a
// single trimmed fragment (or none when blank).
//
// Input and prefixes are NFC-normalized first so that composed and decomposed
// spellings of a name match.
func Split(generated string, prefixes []string) []string {
	text := norm.NFC.String(generated)

	ps := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p != "" {
			ps = append(ps, norm.NFC.String(p))
		}
	}
	sortLongestFirst(ps)

	var out []string
	emit := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	start := 0
	for i := 0; i < len(text); {
		n := matchAt(text, i, ps)
		if n == 0 {
			i++
			continue
		}
		emit(text[start:i])
		i += n
		start = i
	}
	emit(text[start:])
	return out
}

// matchAt returns the length of the first (longest) prefix found at text[i:],
// or 0. A prefix always begins on a rune boundary, so byte-wise probing never
// matches inside a multi-byte rune.
func matchAt(text string, i int, ps []string) int {
	rest := text[i:]
	for _, p := range ps {
		if strings.HasPrefix(rest, p) {
			return len(p)
		}
	}
	return 0
}
