package format

import "strings"

// MaxMessageLength is the largest chunk handed to the sender. Telegram's
// hard limit is 4096; 4000 leaves headroom for markup expansion.
const MaxMessageLength = 4000

// Truncate shortens text to maxLen runes, appending an ellipsis when it cut.
func Truncate(text string, maxLen int) string {
	rs := []rune(text)
	if len(rs) <= maxLen {
		return text
	}
	if maxLen < 4 {
		return string(rs[:maxLen])
	}
	return string(rs[:maxLen-3]) + "..."
}

// Chunks splits long text into sendable pieces, preferring newline
// boundaries so formatting survives. Chunks are never empty and never
// exceed MaxMessageLength runes.
func Chunks(text string) []string {
	return chunksWithLimit(text, MaxMessageLength)
}

func chunksWithLimit(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window,
		// but avoid producing extremely small chunks.
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					if i-start >= limit/3 {
						cut = i + 1
					}
					break
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	if len(out) == 0 {
		out = append(out, "")
	}
	return out
}
