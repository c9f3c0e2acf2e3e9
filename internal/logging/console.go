package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"golang.org/x/term"
)

// ConsoleWriter turns zerolog JSON events into colored lines.
type ConsoleWriter struct {
	out    io.Writer
	color  colorstring.Colorize
	buffer strings.Builder
	lock   sync.Mutex
}

// NewConsoleWriter writes to out. Colors are only emitted to terminals.
func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	color := colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: !isTerminal(out),
		Reset:   true,
	}
	return &ConsoleWriter{out: out, color: color}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	if err := d.Decode(&evt); err != nil {
		return 0, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal", "error":
		w.buffer.WriteString(w.color.Color("[red]"))
	case "warn":
		w.buffer.WriteString(w.color.Color("[yellow]"))
	case "debug", "trace":
		w.buffer.WriteString(w.color.Color("[blue]"))
	default:
		w.buffer.WriteString(w.color.Color("[green]"))
	}

	if step, ok := evt["step"].(string); ok {
		w.buffer.WriteString(step + ": ")
	}
	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}
	if cmd, _ := evt["command"].(bool); cmd {
		w.buffer.WriteString("$ ")
	}
	// The message is written as is: command lines may contain brackets.
	msg, _ := evt["message"].(string)
	w.buffer.WriteString(msg)

	if details, ok := evt["error"].(string); ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(details)
	}

	if Debug() {
		keys := make([]string, 0, len(evt))
		for k := range evt {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.buffer.WriteString("\n")
		for _, k := range keys {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", k, evt[k]))
		}
	}

	w.buffer.WriteString(w.color.Color("[reset]"))
	w.buffer.WriteString("\n")
	if _, err := io.WriteString(w.out, w.buffer.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}
