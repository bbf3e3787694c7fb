package cmds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/picdbg/picdbg/cmd/picdbg/cmds/helphelpers"
	"github.com/picdbg/picdbg/pkg/config"
	"github.com/picdbg/picdbg/pkg/logflags"
	"github.com/picdbg/picdbg/pkg/symfile"
	"github.com/picdbg/picdbg/pkg/terminal"
	"github.com/picdbg/picdbg/pkg/version"
	"github.com/picdbg/picdbg/service"
	"github.com/picdbg/picdbg/service/dap"
	"github.com/picdbg/picdbg/service/debugger"
	"github.com/picdbg/picdbg/service/local"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// addr is the DAP server listen address.
	addr string
	// initFile is the path to initialization file.
	initFile string
	// debugMode is the debug mode the session starts in.
	debugMode string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const picdbgCommandLongDesc = `picdbg is a source level debugger for programs running on a simulated PIC
microcontroller.

picdbg loads a symbol file produced by the assembler, simulates the program
it describes and lets you step through it one assembly line or one line of
the high level source the assembly was generated from at a time, set
breakpoints, and inspect the working register and the register file.

The simulated processor can be driven from the built-in terminal
('picdbg debug') or from an editor speaking the Debug Adapter Protocol
('picdbg dap').`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main picdbg root command.
	rootCommand = &cobra.Command{
		Use:   "picdbg",
		Short: "picdbg is a source level debugger for simulated PIC programs.",
		Long:  picdbgCommandLongDesc,
	}

	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "DAP server listen address.")

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'picdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'picdbg help log').")

	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().StringVar(&debugMode, "mode", "", `Debug mode the session starts in, "asm" or "hll". Defaults to the debug-mode configuration parameter.`)

	// 'debug' subcommand.
	debugCommand := &cobra.Command{
		Use:   "debug <symbol file>",
		Short: "Load a program and begin debugging it.",
		Long: `Loads the program described by a symbol file and begins a debug session.

The processor is halted at the reset vector; use the terminal commands to set
breakpoints and run it. Type 'help' at the prompt for a list of commands.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a symbol file")
			}
			if symfile.CheckValidity(args[0]) == symfile.IncorrectType {
				return fmt.Errorf("%s is not a symbol file, expected a regular file ending in %s", args[0], strings.Join(symfile.Extensions, ", "))
			}
			return nil
		},
		Run: debugCmd,
	}
	rootCommand.AddCommand(debugCommand)

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap [symbol file]",
		Short: "Starts a TCP server communicating via Debug Adaptor Protocol (DAP).",
		Long: `Starts a TCP server communicating via Debug Adaptor Protocol (DAP).

The server loads the program named by the "program" attribute of the launch
request, or the symbol file given on the command line if the request has
none. The "mode" attribute of the launch request selects the debug mode,
"asm" or "hll", and defaults to --mode.

The server does not accept multiple client connections and exits when the
client disconnects.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return errors.New("too many arguments")
			}
			return nil
		},
		Run: dapCmd,
	}
	rootCommand.AddCommand(dapCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("picdbg Debugger\n%s\n", version.PicdbgVersion)
			if log {
				fmt.Print(version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log debugger commands
	proc		Log run loop and step state changes
	loader		Log symbol file loading
	debugline	Log line table construction
	dap		Log all DAP messages
	terminal	Log terminal errors

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "DAP server listening at" message in dap
mode.

`,
	})

	defaultHelpFn := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if !docCall {
			helphelpers.Prepare(cmd)
		}
		defaultHelpFn(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func sessionDebugMode() string {
	if debugMode != "" {
		return debugMode
	}
	return conf.DebugMode
}

func dapCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if initFile != "" {
			fmt.Fprint(os.Stderr, "Warning: init file ignored with dap\n")
		}

		var symbolFile string
		if len(args) > 0 {
			symbolFile = args[0]
		}

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			fmt.Printf("couldn't start listener: %s\n", err)
			return 1
		}
		disconnectChan := make(chan struct{})
		server := dap.NewServer(&service.Config{
			Listener:          listener,
			SymbolFile:        symbolFile,
			DebugMode:         sessionDebugMode(),
			MaxCyclesPerBatch: conf.GetMaxCyclesPerBatch(),
			DisconnectChan:    disconnectChan,
		})
		defer server.Stop()

		server.Run()
		waitForDisconnectSignal(disconnectChan)
		return 0
	}()
	os.Exit(status)
}

func debugCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(args[0], conf))
}

// waitForDisconnectSignal returns when the DAP client disconnects or
// picdbg receives SIGINT.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	select {
	case <-ch:
	case <-disconnectChan:
	}
}

func execute(symbolFile string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	d, err := debugger.New(&debugger.Config{
		SymbolFile:        symbolFile,
		DebugMode:         sessionDebugMode(),
		MaxCyclesPerBatch: conf.GetMaxCyclesPerBatch(),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if symfile.Status(err) == symfile.UnrecognizedProcessor {
			fmt.Fprintf(os.Stderr, "Supported processors: %s\n", strings.Join(symfile.Processors(), ", "))
		}
		return 1
	}

	term := terminal.New(local.NewClient(d), conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
