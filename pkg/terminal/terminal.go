package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	lru "github.com/hashicorp/golang-lru"

	"github.com/picdbg/picdbg/pkg/config"
	"github.com/picdbg/picdbg/pkg/logflags"
	"github.com/picdbg/picdbg/pkg/terminal/colorize"
	"github.com/picdbg/picdbg/pkg/terminal/starbind"
	"github.com/picdbg/picdbg/service"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack     = 30
	ansiRed       = 31
	ansiGreen     = 32
	ansiYellow    = 33
	ansiBlue      = 34
	ansiMagenta   = 35
	ansiCyan      = 36
	ansiWhite     = 37
	ansiBrBlack   = 90
	ansiBrRed     = 91
	ansiBrGreen   = 92
	ansiBrYellow  = 93
	ansiBrBlue    = 94
	ansiBrMagenta = 95
	ansiBrCyan    = 96
	ansiBrWhite   = 97
)

// Term represents the terminal running picdbg.
type Term struct {
	client       service.Client
	conf         *config.Config
	prompt       string
	line         *liner.State
	cmds         *Commands
	dumb         bool
	stdout       *transcriptWriter
	InitFile     string
	colorEscapes map[colorize.Style]string

	starlarkEnv *starbind.Env

	// sources caches the lines of the source files shown by list.
	sources *lru.Cache

	quittingMutex sync.Mutex
	quitting      bool

	log logflags.Logger
}

// New returns a new Term.
func New(client service.Client, conf *config.Config) *Term {
	cmds := DebugCommands(client)
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	if (conf.SourceListLineColor > ansiWhite &&
		conf.SourceListLineColor < ansiBrBlack) ||
		conf.SourceListLineColor < ansiBlack ||
		conf.SourceListLineColor > ansiBrWhite {
		conf.SourceListLineColor = ansiBlue
	}

	// lru.New only fails for a non-positive size.
	sources, _ := lru.New(conf.GetSourceListCacheSize())

	t := &Term{
		client:  client,
		conf:    conf,
		prompt:  "(picdbg) ",
		line:    liner.NewLiner(),
		cmds:    cmds,
		dumb:    dumb,
		stdout:  &transcriptWriter{pw: &pagingWriter{w: w}},
		sources: sources,
		log:     logflags.TerminalLogger(),
	}

	if !dumb {
		t.colorEscapes = map[colorize.Style]string{
			colorize.NormalStyle:  terminalResetEscapeCode,
			colorize.KeywordStyle: fmt.Sprintf(terminalHighlightEscapeCode, ansiYellow),
			colorize.StringStyle:  fmt.Sprintf(terminalHighlightEscapeCode, ansiGreen),
			colorize.NumberStyle:  fmt.Sprintf(terminalHighlightEscapeCode, ansiBrCyan),
			colorize.CommentStyle: fmt.Sprintf(terminalHighlightEscapeCode, ansiBrMagenta),
			colorize.ArrowStyle:   fmt.Sprintf(terminalHighlightEscapeCode, ansiYellow),
			colorize.LineNoStyle:  fmt.Sprintf(terminalHighlightEscapeCode, conf.SourceListLineColor),
		}
		t.stdout.colorEscapes = t.colorEscapes
	}

	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(t.stdout, "received SIGINT, stopping processor\n")
		if _, err := t.client.Halt(); err != nil {
			fmt.Fprintf(os.Stderr, "%v", err)
		}
	}
}

// completer returns the command names starting with the first word of
// line.
func (t *Term) completer() func(line string) []string {
	names := trie.New()
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			names.Add(alias, nil)
		}
	}
	return func(line string) []string {
		if strings.Contains(line, " ") {
			return nil
		}
		return names.PrefixSearch(strings.ToLower(line))
	}
}

// Run begins running picdbg in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	// Send the debugger a halt command on SIGINT
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.completer())

	t.loadHistory()
	info := t.client.ProgramInfo()
	fmt.Fprintf(t.stdout, "Loaded %s: %s, %d words\n", info.Path, info.Processor, info.Words)
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.quittingMutex.Lock()
			quitting := t.quitting
			t.quittingMutex.Unlock()
			if quitting {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}

		t.stdout.Flush()
		t.stdout.pw.Reset()
	}
}

func (t *Term) loadHistory() {
	fullHistoryFile, err := t.conf.GetHistoryFile()
	if err != nil {
		fmt.Fprintf(t.stdout, "Unable to load history file: %v.\n", err)
		return
	}
	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Fprintf(t.stdout, "Unable to open history file: %v. History will not be saved for this session.\n", err)
			return
		}
	}
	if _, err := t.line.ReadHistory(bufio.NewReader(f)); err != nil {
		t.log.Debugf("could not read history: %v", err)
	}
	f.Close()
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, t.conf.SourceListLineColor)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

// substitutePath applies the substitute-path rules of the configuration
// to a source file path reported by the debugger.
func (t *Term) substitutePath(path string) string {
	if t.conf == nil {
		return path
	}
	return t.conf.SubstitutePath.Substitute(path)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := t.conf.GetHistoryFile()
	if err != nil {
		fmt.Fprintln(t.stdout, "Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Fprintln(t.stdout, "readline history error:", err)
			}
			f.Close()
		}
	}

	t.stdout.CloseTranscript()

	t.quittingMutex.Lock()
	quitting := t.quitting
	t.quittingMutex.Unlock()
	if quitting {
		return 0, nil
	}

	if err := t.client.Detach(); err != nil {
		return 1, err
	}
	return 0, nil
}

// sourceLines returns the lines of path, read through the source cache.
func (t *Term) sourceLines(path string) ([]string, error) {
	if v, ok := t.sources.Get(path); ok {
		return v.([]string), nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	var lines []string
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	t.sources.Add(path, lines)
	return lines, nil
}
