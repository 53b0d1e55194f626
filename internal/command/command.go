// Package command parses the interactive commands typed by the local user.
package command

import (
	"errors"
	"strings"
)

// ErrInvalidCommand is returned for any line that is not a known command.
var ErrInvalidCommand = errors.New("invalid command")

// Usage is shown to the user after an invalid command.
const Usage = "Use 'send <MSG>' or 'leave'"

const sendPrefix = "send "

// Kind identifies a local command.
type Kind int

const (
	KindSend Kind = iota
	KindLeave
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// Command is a parsed local command.
type Command struct {
	Kind Kind
	// Text is the message body of a send command.
	Text string
}

// Parse parses one line of local input. Surrounding whitespace is ignored
// and keywords are case-sensitive.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)

	switch {
	case line == "leave":
		return Command{Kind: KindLeave}, nil
	case strings.HasPrefix(line, sendPrefix):
		return Command{Kind: KindSend, Text: line[len(sendPrefix):]}, nil
	default:
		return Command{}, ErrInvalidCommand
	}
}
