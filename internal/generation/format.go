package generation

// DisplayLimit is the default number of characters shown for a response.
const DisplayLimit = 10_000

// TruncateForDisplay shortens text to at most limit runes, appending a marker
// when something was cut. A non-positive limit disables truncation.
func TruncateForDisplay(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i] + "\n...(truncated)"
		}
		n++
	}
	return text
}
