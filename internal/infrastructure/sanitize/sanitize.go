// Package sanitize strips terminal control sequences from command output.
//
// Two sequence classes are recognised with a byte scanner, no regular
// expressions:
//
//   - OSC: ESC ] <digits> [;] <payload> terminated by BEL or ESC \
//   - CSI: ESC [ <params 0x30-0x3F>* <intermediates 0x20-0x2F>* <final 0x40-0x7E>
//
// Anything else, including a lone ESC or an unterminated sequence, is left
// as is. All matched bytes are ASCII, so UTF-8 text around a sequence is
// never split.
package sanitize

import "strings"

const (
	esc = 0x1b
	bel = 0x07
)

// Sanitize removes OSC and CSI sequences. It never fails and is idempotent:
// when a removal joins a kept ESC with bytes that now form a sequence, the
// shorter result is scanned again.
func Sanitize(text string) string {
	if strings.IndexByte(text, esc) < 0 {
		return text
	}
	out := scan(text)
	for len(out) < len(text) && strings.IndexByte(out, esc) >= 0 {
		text = out
		out = scan(text)
	}
	return out
}

// Scanner exposes Sanitize through a value.
type Scanner struct{}

// Sanitize calls the package-level Sanitize.
func (Scanner) Sanitize(text string) string {
	return Sanitize(text)
}

func scan(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	// Once an OSC payload runs to the end of input without a terminator,
	// every later OSC would too.
	oscUnterminated := false

	i := 0
	for i < len(s) {
		j := strings.IndexByte(s[i:], esc)
		if j < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+j])
		i += j

		if !oscUnterminated {
			n, terminated := matchOSC(s, i)
			if n > 0 {
				i += n
				continue
			}
			if !terminated {
				oscUnterminated = true
			}
		}
		if n := matchCSI(s, i); n > 0 {
			i += n
			continue
		}
		b.WriteByte(esc)
		i++
	}
	return b.String()
}

// matchOSC returns the length of the OSC sequence at s[i]. The second result
// is false only when an OSC introducer was found but no terminator follows.
func matchOSC(s string, i int) (int, bool) {
	if i+1 >= len(s) || s[i+1] != ']' {
		return 0, true
	}
	k := i + 2
	for k < len(s) && isDigit(s[k]) {
		k++
	}
	if k == i+2 {
		return 0, true
	}
	if k < len(s) && s[k] == ';' {
		k++
	}
	for ; k < len(s); k++ {
		switch {
		case s[k] == bel:
			return k + 1 - i, true
		case s[k] == esc && k+1 < len(s) && s[k+1] == '\\':
			return k + 2 - i, true
		}
	}
	return 0, false
}

// matchCSI returns the length of the CSI sequence at s[i], or 0.
func matchCSI(s string, i int) int {
	if i+1 >= len(s) || s[i+1] != '[' {
		return 0
	}
	k := i + 2
	for k < len(s) && s[k] >= 0x30 && s[k] <= 0x3f {
		k++
	}
	for k < len(s) && s[k] >= 0x20 && s[k] <= 0x2f {
		k++
	}
	if k < len(s) && s[k] >= 0x40 && s[k] <= 0x7e {
		return k + 1 - i
	}
	return 0
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
