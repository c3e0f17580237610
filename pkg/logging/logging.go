package logging

import (
	"io"

	"github.com/charmbracelet/log"
)

// Prefix is attached to every line emitted by the resolver components.
const Prefix = "Remote Theme"

var discard = log.New(io.Discard)

// New returns a logger writing to w at the given level.
func New(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix: Prefix,
		Level:  level,
	})
}

// OrDiscard returns l, or a logger that drops everything when l is nil.
// Components accept a nil logger so tests and library callers don't need
// to wire one.
func OrDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return discard
	}
	return l
}
