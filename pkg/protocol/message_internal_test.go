package protocol

import "testing"

func TestFormatText(t *testing.T) {
	got := formatText("alice", "hello")
	if got != "[alice]: hello\n" {
		t.Errorf("formatText() = %q, want %q", got, "[alice]: hello\n")
	}
}

func TestIncompleteTail(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want int
	}{
		{"empty", nil, 0},
		{"ascii", []byte("abc"), 3},
		{"complete two byte rune", []byte("é"), 2},
		{"first byte of three", []byte{'a', 0xe2}, 1},
		{"two bytes of three", []byte{'a', 0xe2, 0x82}, 1},
		{"three bytes of four", []byte{0xf0, 0x9f, 0x98}, 0},
		{"lone continuation byte", []byte{'a', 0x82}, 2},
		{"invalid start byte", []byte{'a', 0xff}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := incompleteTail(tt.in); got != tt.want {
				t.Errorf("incompleteTail(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
