package term

import (
	"errors"
	"io"
)

// Action is what the user asked for with an escape sequence.
type Action int

const (
	ActionNone Action = iota
	// ActionDetach closes the shell session.
	ActionDetach
	// ActionStop closes the session and stops the agent.
	ActionStop
)

// Prefix starts an escape sequence (Ctrl-/).
const Prefix byte = 0x1f

// EscapeError is returned by EscapeReader once an escape sequence is read.
type EscapeError struct {
	Action Action
}

func (e EscapeError) Error() string {
	switch e.Action {
	case ActionDetach:
		return "escape: detach"
	case ActionStop:
		return "escape: stop"
	}
	return "escape: unknown"
}

// ActionOf returns the action carried by err, or ActionNone.
func ActionOf(err error) Action {
	var esc EscapeError
	if errors.As(err, &esc) {
		return esc.Action
	}
	return ActionNone
}

// HelpText describes the escape sequences.
func HelpText() string {
	return "Escape sequences: Ctrl-/ d (detach), Ctrl-/ k (stop agent)"
}

// EscapeReader passes bytes through from an input stream and intercepts
// escape sequences. Prefix followed by 'd' or 'k' ends the stream with an
// EscapeError; a doubled Prefix sends one literal Prefix; any other byte
// after Prefix is passed through with it. Bytes read before an escape are
// delivered first.
type EscapeReader struct {
	r       io.Reader
	scratch [1024]byte
	pending []byte
	armed   bool
	err     error
}

// NewEscapeReader wraps r.
func NewEscapeReader(r io.Reader) *EscapeReader {
	return &EscapeReader{r: r}
}

func (e *EscapeReader) Read(p []byte) (int, error) {
	for len(e.pending) == 0 {
		if e.err != nil {
			return 0, e.err
		}
		n, err := e.r.Read(e.scratch[:])
		e.scan(e.scratch[:n])
		if err != nil && e.err == nil {
			if e.armed {
				e.pending = append(e.pending, Prefix)
				e.armed = false
			}
			e.err = err
		}
	}
	n := copy(p, e.pending)
	e.pending = e.pending[n:]
	return n, nil
}

func (e *EscapeReader) scan(b []byte) {
	for _, c := range b {
		if e.err != nil {
			return
		}
		if !e.armed {
			if c == Prefix {
				e.armed = true
			} else {
				e.pending = append(e.pending, c)
			}
			continue
		}
		e.armed = false
		switch c {
		case 'd':
			e.err = EscapeError{Action: ActionDetach}
		case 'k':
			e.err = EscapeError{Action: ActionStop}
		case Prefix:
			e.pending = append(e.pending, Prefix)
		default:
			e.pending = append(e.pending, Prefix, c)
		}
	}
}
