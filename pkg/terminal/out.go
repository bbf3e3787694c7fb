package terminal

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/picdbg/picdbg/pkg/terminal/colorize"
)

// getColorableWriter returns a stdout writer that understands ANSI color
// escapes on every platform.
func getColorableWriter() io.Writer {
	return colorable.NewColorableStdout()
}

// transcriptWriter is the terminal's stdout. Everything written to it goes
// to pw and, while a transcript is open, to the transcript file. With
// fileOnly set only the transcript receives it.
type transcriptWriter struct {
	pw *pagingWriter

	file     *bufio.Writer
	fh       io.Closer
	fileOnly bool

	colorEscapes map[colorize.Style]string
	altTabString string
}

func (w *transcriptWriter) Write(p []byte) (int, error) {
	if !w.fileOnly {
		if n, err := w.pw.Write(p); err != nil {
			return n, err
		}
	}
	if w.file != nil {
		return w.file.Write(p)
	}
	return len(p), nil
}

// ColorizePrint prints lines [startLine, endLine) of a source file. The
// transcript gets the same listing without color escapes.
func (w *transcriptWriter) ColorizePrint(path string, lines []string, startLine, endLine, arrowLine int) error {
	if !w.fileOnly {
		if err := colorize.Print(w.pw.w, path, lines, startLine, endLine, arrowLine, w.colorEscapes, w.altTabString); err != nil {
			return err
		}
	}
	if w.file != nil {
		return colorize.Print(w.file, path, lines, startLine, endLine, arrowLine, nil, w.altTabString)
	}
	return nil
}

// Echo writes str to the transcript only. Used for the prompt and the
// command line, which the terminal itself already shows.
func (w *transcriptWriter) Echo(str string) {
	if w.file != nil {
		w.file.WriteString(str)
	}
}

func (w *transcriptWriter) Flush() {
	if w.file != nil {
		w.file.Flush()
	}
}

// TranscribeTo opens a new transcript on fh, closing the previous one.
func (w *transcriptWriter) TranscribeTo(fh io.WriteCloser, fileOnly bool) {
	w.CloseTranscript()
	w.fh = fh
	w.file = bufio.NewWriter(fh)
	w.fileOnly = fileOnly
}

// CloseTranscript flushes and closes the transcript, if one is open.
func (w *transcriptWriter) CloseTranscript() error {
	if w.file == nil {
		return nil
	}
	w.file.Flush()
	err := w.fh.Close()
	w.file, w.fh, w.fileOnly = nil, nil, false
	return err
}

type pagingWriterMode uint8

const (
	pagingWriterNormal pagingWriterMode = iota
	pagingWriterMaybe                   // buffering, will page if the output grows past one screen
	pagingWriterPaging                  // piping into the pager
)

// pagingWriter writes to w until PageMaybe is called. After that, output
// longer than the terminal window is sent to a pager instead.
type pagingWriter struct {
	w    io.Writer
	mode pagingWriterMode

	lines, columns int
	buf            []byte
	lastnl         bool

	pager  string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel func()
}

func (w *pagingWriter) Write(p []byte) (int, error) {
	switch w.mode {
	case pagingWriterMaybe:
		w.buf = append(w.buf, p...)
		if w.largeOutput() && w.startPager() {
			return len(p), nil
		}
		if len(p) > 0 {
			w.lastnl = p[len(p)-1] == '\n'
		}
	case pagingWriterPaging:
		n, err := w.stdin.Write(p)
		if err != nil && w.cancel != nil {
			w.cancel()
			w.cancel = nil
		}
		return n, err
	}
	return w.w.Write(p)
}

// startPager moves the buffered output into a new pager process.
func (w *pagingWriter) startPager() bool {
	cmd := exec.Command(w.pager)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		w.mode = pagingWriterNormal
		w.buf = nil
		return false
	}
	if !w.lastnl {
		io.WriteString(w.w, "\n")
	}
	io.WriteString(w.w, "Sending output to pager...\n")
	stdin.Write(w.buf)
	w.cmd, w.stdin, w.buf = cmd, stdin, nil
	w.mode = pagingWriterPaging
	return true
}

// PageMaybe starts buffering output so that it can be sent to a pager if
// it turns out to be longer than the terminal window. Output is never
// paged when stdout is not a terminal, unless PICDBG_PAGER is set. cancel
// is called the first time writing to the pager fails.
func (w *pagingWriter) PageMaybe(cancel func()) {
	if w.mode != pagingWriterNormal {
		return
	}
	w.pager = os.Getenv("PICDBG_PAGER")
	if w.pager == "" {
		if !isatty.IsTerminal(os.Stdout.Fd()) || strings.ToLower(os.Getenv("TERM")) == "dumb" {
			return
		}
		if w.pager = os.Getenv("PAGER"); w.pager == "" {
			w.pager = "more"
		}
	}
	w.mode = pagingWriterMaybe
	w.lastnl = true
	w.cancel = cancel
	w.getWindowSize()
}

// Reset waits for the pager, if one was started, and returns to
// writing directly to w.
func (w *pagingWriter) Reset() {
	if w.cmd != nil {
		w.stdin.Close()
		w.cmd.Wait()
	}
	w.mode = pagingWriterNormal
	w.buf, w.cmd, w.stdin, w.cancel = nil, nil, nil, nil
}

// largeOutput reports whether buf, wrapped at the terminal width, takes
// more rows than the terminal has.
func (w *pagingWriter) largeOutput() bool {
	rows := 0
	for _, line := range bytes.SplitAfter(w.buf, []byte{'\n'}) {
		n := len(bytes.TrimSuffix(line, []byte{'\n'}))
		if len(line) == 0 {
			continue
		}
		rows++
		if w.columns > 0 && n > 0 {
			rows += (n - 1) / w.columns
		}
		if rows > w.lines {
			return true
		}
	}
	return false
}
