package command_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-chat-client/internal/command"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    command.Command
		wantErr bool
	}{
		{
			name: "send with text",
			line: "send hello",
			want: command.Command{Kind: command.KindSend, Text: "hello"},
		},
		{
			name: "send keeps inner spacing",
			line: "send  two  spaces",
			want: command.Command{Kind: command.KindSend, Text: " two  spaces"},
		},
		{
			name: "surrounding whitespace and newline trimmed",
			line: "  send hi there \n",
			want: command.Command{Kind: command.KindSend, Text: "hi there"},
		},
		{
			name: "leave",
			line: "leave\n",
			want: command.Command{Kind: command.KindLeave},
		},
		{
			name: "leave with padding",
			line: "\tleave  ",
			want: command.Command{Kind: command.KindLeave},
		},
		{name: "bare send", line: "send", wantErr: true},
		{name: "send with only spaces", line: "send    \n", wantErr: true},
		{name: "keywords are case sensitive", line: "SEND hello", wantErr: true},
		{name: "leave with argument", line: "leave now", wantErr: true},
		{name: "empty line", line: "\n", wantErr: true},
		{name: "unknown word", line: "quit", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := command.Parse(tt.line)
			if tt.wantErr {
				require.ErrorIs(t, err, command.ErrInvalidCommand)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "send", command.KindSend.String())
	assert.Equal(t, "leave", command.KindLeave.String())
	assert.Equal(t, "unknown", command.Kind(9).String())
}
