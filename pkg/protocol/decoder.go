package protocol

import (
	"strings"
	"unicode/utf8"
)

// Replacement is substituted for every invalid UTF-8 sequence.
const Replacement = "�"

// Decoder turns raw inbound chunks into displayable text.
//
// A multi-byte rune split across two reads is held back until the rest of
// it arrives; anything else that is not valid UTF-8 is replaced.
type Decoder struct {
	carry []byte
}

// Decode returns the text for p, prefixed by any bytes held back from the
// previous call.
func (d *Decoder) Decode(p []byte) string {
	buf := p
	if len(d.carry) > 0 {
		buf = append(d.carry, p...)
		d.carry = nil
	}

	cut := incompleteTail(buf)
	if cut < len(buf) {
		d.carry = append([]byte(nil), buf[cut:]...)
		buf = buf[:cut]
	}

	return strings.ToValidUTF8(string(buf), Replacement)
}

// Flush returns whatever is still held back, replaced as invalid.
func (d *Decoder) Flush() string {
	if len(d.carry) == 0 {
		return ""
	}
	s := strings.ToValidUTF8(string(d.carry), Replacement)
	d.carry = nil
	return s
}

// Pending reports how many bytes are held back.
func (d *Decoder) Pending() int {
	return len(d.carry)
}

// incompleteTail returns the index where a truncated trailing rune starts,
// or len(p) when the tail is complete or plainly invalid.
func incompleteTail(p []byte) int {
	// A rune is at most utf8.UTFMax bytes, so only the last three can start
	// an unfinished sequence.
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		start := len(p) - i
		c := p[start]
		if c < utf8.RuneSelf {
			return len(p)
		}
		if utf8.RuneStart(c) {
			if !utf8.FullRune(p[start:]) {
				return start
			}
			return len(p)
		}
	}
	return len(p)
}
