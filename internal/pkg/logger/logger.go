package logger

import (
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/doeshing/shai-remote/internal/ports"
)

// CharmLogger adapts charmbracelet/log to the ports.Logger field-map API.
type CharmLogger struct {
	l *log.Logger
}

// New creates a logger writing to w; verbose lowers the threshold to debug.
func New(w io.Writer, verbose bool) *CharmLogger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		Prefix:          "shai-remote",
		ReportTimestamp: verbose,
	})
	if verbose {
		l.SetLevel(log.DebugLevel)
	} else {
		l.SetLevel(log.WarnLevel)
	}
	return &CharmLogger{l: l}
}

// NewStd creates a stderr logger.
func NewStd(verbose bool) *CharmLogger {
	return New(os.Stderr, verbose)
}

// Nop discards everything; used in tests.
func Nop() *CharmLogger {
	return New(io.Discard, false)
}

func (c *CharmLogger) Debug(msg string, fields map[string]interface{}) {
	c.l.Debug(msg, keyvals(fields)...)
}

func (c *CharmLogger) Info(msg string, fields map[string]interface{}) {
	c.l.Info(msg, keyvals(fields)...)
}

func (c *CharmLogger) Warn(msg string, fields map[string]interface{}) {
	c.l.Warn(msg, keyvals(fields)...)
}

func (c *CharmLogger) Error(msg string, err error, fields map[string]interface{}) {
	kv := keyvals(fields)
	if err != nil {
		kv = append([]interface{}{"err", err}, kv...)
	}
	c.l.Error(msg, kv...)
}

// keyvals flattens fields in key order so output is stable.
func keyvals(fields map[string]interface{}) []interface{} {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return kv
}

var _ ports.Logger = (*CharmLogger)(nil)
