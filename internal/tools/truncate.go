package tools

import "fmt"

// noteReserve is runes reserved for the truncation note (approximate; actual
// note length varies with digit count).
const noteReserve = 80

// Truncate caps s at maxRunes runes. If maxRunes <= 0, returns s unchanged.
// Truncation preserves the start of the string and appends a note stating how
// much was dropped, so the model knows the payload is partial. Truncated JSON
// may be invalid; the model can retry with a narrower query.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	keep := maxRunes - noteReserve
	if keep <= 0 {
		keep = 1
	}
	note := fmt.Sprintf("\n...[output truncated: showing %d of %d runes]", keep, len(r))
	return string(r[:keep]) + note
}
