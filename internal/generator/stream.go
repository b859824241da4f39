package generator

import "strings"

// tokenFilter forwards streamed text up to the sources separator. Text that
// could be the start of the separator is held back until it is disambiguated.
// Output opening with the error separator is never forwarded.
type tokenFilter struct {
	raw     strings.Builder
	sent    int
	done    bool
	started bool
}

// push records a token and returns the text that is now safe to emit.
func (f *tokenFilter) push(token string) string {
	f.raw.WriteString(token)
	if f.done {
		return ""
	}

	full := f.raw.String()
	if !f.started {
		lead := strings.TrimLeft(full, " \n\t")
		switch {
		case strings.HasPrefix(lead, ErrorSeparator):
			f.done = true
			return ""
		case strings.HasPrefix(ErrorSeparator, lead):
			return ""
		}
		f.started = true
	}

	if idx := strings.Index(full[f.sent:], SourcesSeparator); idx >= 0 {
		f.done = true
		return f.take(full, f.sent+idx)
	}
	return f.take(full, len(full)-partialSeparator(full))
}

// flush returns the held back text once the stream has ended.
func (f *tokenFilter) flush() string {
	if f.done {
		return ""
	}
	f.done = true
	full := f.raw.String()
	if strings.HasPrefix(strings.TrimLeft(full, " \n\t"), ErrorSeparator) {
		return ""
	}
	return f.take(full, len(full))
}

func (f *tokenFilter) take(full string, end int) string {
	if end <= f.sent {
		return ""
	}
	out := full[f.sent:end]
	f.sent = end
	return out
}

// partialSeparator is the length of the longest suffix of s that is a proper
// prefix of the separator.
func partialSeparator(s string) int {
	for n := min(len(SourcesSeparator)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, SourcesSeparator[:n]) {
			return n
		}
	}
	return 0
}
