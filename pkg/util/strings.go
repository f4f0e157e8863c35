package util

// MaxLogValueSize is the default cap for values written to logs.
const MaxLogValueSize = 256

// Truncate cuts s to maxSize bytes, appending "...(truncated)" when it does.
// If maxSize <= 0, MaxLogValueSize is used.
func Truncate(s string, maxSize int) string {
	if maxSize <= 0 {
		maxSize = MaxLogValueSize
	}
	if len(s) > maxSize {
		return s[:maxSize] + "...(truncated)"
	}
	return s
}

// TruncateAll applies Truncate to every element, returning a new slice.
func TruncateAll(values []string, maxSize int) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = Truncate(v, maxSize)
	}
	return out
}
