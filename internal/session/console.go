package session

import (
	"fmt"
	"io"
)

// Console renders chat traffic and local diagnostics for the user.
type Console struct {
	w io.Writer
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Incoming renders text received from the peer as-is.
func (c *Console) Incoming(text string) {
	if text == "" {
		return
	}
	fmt.Fprint(c.w, text)
}

// Notice prints a status line.
func (c *Console) Notice(format string, args ...any) {
	fmt.Fprintf(c.w, format+"\n", args...)
}
