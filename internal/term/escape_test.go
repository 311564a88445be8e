package term

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	return string(b), err
}

func TestEscapeReaderPassthrough(t *testing.T) {
	got, err := readAll(NewEscapeReader(strings.NewReader("ls -la\n")))
	require.NoError(t, err)
	assert.Equal(t, "ls -la\n", got)
}

func TestEscapeReaderActions(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		action Action
	}{
		{"detach", "echo\x1fdignored", "echo", ActionDetach},
		{"stop", "\x1fk", "", ActionStop},
		{"doubled prefix", "a\x1f\x1fb", "a\x1fb", ActionNone},
		{"unknown key", "a\x1fxb", "a\x1fxb", ActionNone},
		{"trailing prefix", "a\x1f", "a\x1f", ActionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, split := range []bool{false, true} {
				var r io.Reader = strings.NewReader(tt.input)
				if split {
					r = iotest.OneByteReader(r)
				}
				got, err := readAll(NewEscapeReader(r))
				assert.Equal(t, tt.want, got)
				assert.Equal(t, tt.action, ActionOf(err))
				if tt.action == ActionNone {
					assert.NoError(t, err)
				}
			}
		})
	}
}

func TestEscapeReaderSmallBuffer(t *testing.T) {
	r := NewEscapeReader(strings.NewReader("abc\x1fd"))
	p := make([]byte, 2)

	n, err := r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(p[:n]))

	n, err = r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "c", string(p[:n]))

	_, err = r.Read(p)
	assert.Equal(t, ActionDetach, ActionOf(err))
	_, err = r.Read(p)
	assert.Equal(t, ActionDetach, ActionOf(err))
}

func TestActionOf(t *testing.T) {
	assert.Equal(t, ActionNone, ActionOf(nil))
	assert.Equal(t, ActionNone, ActionOf(io.EOF))
	wrapped := errors.Join(io.ErrUnexpectedEOF, EscapeError{Action: ActionStop})
	assert.Equal(t, ActionStop, ActionOf(wrapped))
	assert.Equal(t, "escape: stop", EscapeError{Action: ActionStop}.Error())
}
