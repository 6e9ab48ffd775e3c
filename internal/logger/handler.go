package logger

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/apex/log"
)

var levelNames = [...]string{
	log.DebugLevel: "DEBUG",
	log.InfoLevel:  "INFO",
	log.WarnLevel:  "WARN",
	log.ErrorLevel: "ERROR",
	log.FatalLevel: "FATAL",
}

// TextHandler writes records as "[timestamp] [LEVEL] message key=value ...".
// Fields are sorted by name so output is stable.
type TextHandler struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextHandler returns a TextHandler writing to w.
func NewTextHandler(w io.Writer) *TextHandler {
	return &TextHandler{w: w}
}

// HandleLog implements log.Handler.
func (h *TextHandler) HandleLog(e *log.Entry) error {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	level := "UNKNOWN"
	if int(e.Level) >= 0 && int(e.Level) < len(levelNames) {
		level = levelNames[e.Level]
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "[%s] [%s] %s", e.Timestamp.Format("2006-01-02 15:04:05"), level, e.Message)
	for _, name := range names {
		fmt.Fprintf(&b, " %s=%v", name, e.Fields[name])
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(b.Bytes())
	return err
}
