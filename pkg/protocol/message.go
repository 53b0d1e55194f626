// Package protocol implements the line-oriented chat wire format.
//
// The first write on a connection is the raw username (no delimiter, no
// length prefix). Every later write is a single newline-terminated frame
// of the form "[<username>]: <text>\n". Inbound traffic carries no framing
// and is decoded as UTF-8 for display.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptySender is returned when a message has no sender.
	ErrEmptySender = errors.New("message sender is empty")
	// ErrMultiline is returned when a field would break newline framing.
	ErrMultiline = errors.New("message contains a line break")
)

// MessageType represents the type of outbound message
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeIdentify
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeText:
		return "TEXT"
	case MessageTypeIdentify:
		return "IDENTIFY"
	default:
		return "UNKNOWN"
	}
}

// Message represents an outbound chat message
type Message struct {
	Type    MessageType
	Sender  string
	Content string
}

// Encode encodes the message into its wire bytes.
func (m *Message) Encode() ([]byte, error) {
	if m.Sender == "" {
		return nil, fmt.Errorf("failed to encode message: %w", ErrEmptySender)
	}
	if strings.ContainsAny(m.Sender, "\r\n") {
		return nil, fmt.Errorf("failed to encode sender: %w", ErrMultiline)
	}

	switch m.Type {
	case MessageTypeIdentify:
		return []byte(m.Sender), nil
	default:
		if strings.ContainsAny(m.Content, "\r\n") {
			return nil, fmt.Errorf("failed to encode content: %w", ErrMultiline)
		}
		return []byte(formatText(m.Sender, m.Content)), nil
	}
}

// Identify returns the handshake message for username.
func Identify(username string) Message {
	return Message{Type: MessageTypeIdentify, Sender: username}
}

// Text returns a chat message from username.
func Text(username, content string) Message {
	return Message{Type: MessageTypeText, Sender: username, Content: content}
}

func formatText(sender, content string) string {
	var b strings.Builder
	b.Grow(len(sender) + len(content) + 5)
	b.WriteByte('[')
	b.WriteString(sender)
	b.WriteString("]: ")
	b.WriteString(content)
	b.WriteByte('\n')
	return b.String()
}
