package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var debugLine = false
var procLog = false
var loader = false
var debugger = false
var dap = false
var terminal = false

var logOut io.WriteCloser

var textFormatterInstance = &logrus.TextFormatter{
	DisableColors:    true,
	FullTimestamp:    true,
	TimestampFormat:  "2006-01-02T15:04:05Z07:00",
	QuoteEmptyFields: true,
}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

// makeFlaggableLogger returns a logger that logs everything down to debug
// level when flag is set and only errors otherwise.
func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// DebugLineLogger returns a logger for the debugline package.
func DebugLineLogger() Logger {
	return makeFlaggableLogger(debugLine, Fields{"layer": "debugline"})
}

// ProcLogger returns a logger for the proc package.
func ProcLogger() Logger {
	return makeFlaggableLogger(procLog, Fields{"layer": "proc"})
}

// LoaderLogger returns a logger for the symfile package.
func LoaderLogger() Logger {
	return makeFlaggableLogger(loader, Fields{"layer": "loader"})
}

// DebuggerLogger returns a logger for the debugger service.
func DebuggerLogger() Logger {
	return makeFlaggableLogger(debugger, Fields{"layer": "debugger"})
}

// DAP returns true if the DAP server should log the messages it exchanges.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for the DAP server.
func DAPLogger() Logger {
	return makeFlaggableLogger(dap, Fields{"layer": "dap"})
}

// TerminalLogger returns a logger for the terminal client.
func TerminalLogger() Logger {
	return makeFlaggableLogger(terminal, Fields{"layer": "terminal"})
}

// WriteDAPListeningMessage writes the "DAP server listening" message for
// clients that wait for it on stdout.
func WriteDAPListeningMessage(addr string) {
	fmt.Fprintf(os.Stdout, "DAP server listening at: %s\n", addr)
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "picdbg-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "debugger"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(logcmd) {
		case "debugline":
			debugLine = true
		case "proc":
			procLog = true
		case "loader":
			loader = true
		case "debugger":
			debugger = true
		case "dap":
			dap = true
		case "terminal":
			terminal = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}
