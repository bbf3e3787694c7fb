// Package dap implements VSCode's Debug Adaptor Protocol (DAP).
// This allows picdbg to communicate with frontends using DAP
// without a separate adaptor. The frontend will run the debugger
// (which now doubles as an adaptor) in server mode listening on
// a port and communicating over TCP. This is work in progress,
// so for now it is recommended to use the terminal client for
// anything that goes beyond stepping and inspecting registers.
//
// The DAP specification can be found here:
// https://microsoft.github.io/debug-adapter-protocol/specification
package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/go-dap"
	"github.com/picdbg/picdbg/pkg/config"
	"github.com/picdbg/picdbg/pkg/logflags"
	"github.com/picdbg/picdbg/pkg/proc"
	"github.com/picdbg/picdbg/pkg/version"
	"github.com/picdbg/picdbg/service"
	"github.com/picdbg/picdbg/service/api"
	"github.com/picdbg/picdbg/service/debugger"
)

var _ service.Server = (*Server)(nil)

// Server implements a DAP server that can accept a single client for
// a single debug session. It does not support restarting.
// The server operates via two goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts a client connection,
// reads, decodes and processes each request, issuing commands to the
// underlying debugger and sending back events and responses.
// Continue, next and stepOut run the processor on a third goroutine so
// that pause requests are served while it runs.
type Server struct {
	// config is all the information necessary to start the debugger and server.
	config *service.Config
	// listener is used to accept the client connection.
	listener net.Listener
	// stopChan is closed when the server is Stop()-ed. This can be used to signal
	// to goroutines run by the server that it's time to quit.
	stopChan chan struct{}
	// conn is the accepted client connection.
	conn net.Conn
	// reader is used to read requests from the connection.
	reader *bufio.Reader
	// debugger is the session debugger, created by the launch request.
	debugger *debugger.Debugger
	// log is used for structured logging.
	log logflags.Logger
	// stackFrameHandles maps frames to unique ids, valid until the next stop.
	stackFrameHandles *handlesMap
	// variableHandles maps scopes to unique references.
	variableHandles *variablesHandlesMap
	// args tracks special settings for handling debug session requests.
	args launchAttachArgs

	// sendingMu synchronizes writes to conn between the run goroutine and
	// the goroutine running the processor.
	sendingMu sync.Mutex

	// runCtx is canceled by Stop to abort a run in progress.
	runCtx    context.Context
	runCancel context.CancelFunc
	runWg     sync.WaitGroup
	// runningMu protects running, which is true from the moment a run is
	// requested until its stopped event is about to be sent.
	runningMu sync.Mutex
	running   bool
}

// launchAttachArgs captures arguments from the launch request that
// impact handling of subsequent requests.
type launchAttachArgs struct {
	// stopOnEntry is set to automatically stop the program after launch.
	stopOnEntry bool
	// toClient rewrites debugger paths into client paths.
	toClient config.SubstitutePathRules
	// toServer rewrites client paths into debugger paths.
	toServer config.SubstitutePathRules
}

// defaultArgs borrows the defaults for the arguments from the original vscode-go adapter.
var defaultArgs = launchAttachArgs{
	stopOnEntry: false,
}

// The processor has no threads; every thread id the client sends refers
// to the core.
const coreThreadID = 1

// NewServer creates a new DAP Server. It takes an opened Listener
// via config and assumes its ownership. config.DisconnectChan has to be set;
// it will be closed by the server when the client disconnects or requests
// shutdown. Once DisconnectChan is closed, Server.Stop() must be called.
func NewServer(config *service.Config) *Server {
	logger := logflags.DAPLogger()
	logflags.WriteDAPListeningMessage(config.Listener.Addr().String())
	logger.Debug("DAP server pid = ", os.Getpid())
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:            config,
		listener:          config.Listener,
		stopChan:          make(chan struct{}),
		log:               logger,
		stackFrameHandles: newHandlesMap(),
		variableHandles:   newVariablesHandlesMap(),
		args:              defaultArgs,
		runCtx:            ctx,
		runCancel:         cancel,
	}
}

// Stop stops the DAP debugger service, closes the listener and the client
// connection. It halts a run in progress. This method mustn't be called
// more than once.
func (s *Server) Stop() {
	s.listener.Close()
	close(s.stopChan)
	s.runCancel()
	if s.conn != nil {
		// Unless Stop() was called after serveDAPCodec()
		// returned, this will result in closed connection error
		// on next read, breaking out of the read loop and
		// allowing the run goroutine to exit.
		s.conn.Close()
	}
	s.runWg.Wait()
	if s.debugger != nil {
		if err := s.debugger.Detach(); err != nil {
			s.log.Error(err)
		}
	}
}

// signalDisconnect closes config.DisconnectChan if not nil, which
// signals that the client disconnected or there was a client
// connection failure. Since the server currently services only one
// client, this can be used as a signal to the entire server via
// Stop(). The function safeguards agaist closing the channel more
// than once and can be called multiple times. It is not thread-safe
// and is only called from the run goroutine.
func (s *Server) signalDisconnect() {
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

// Run launches a new goroutine where it accepts a client connection
// and starts processing requests from it. Use Stop() to close connection.
// The server does not support multiple clients, serially or in parallel.
// The server should be restarted for every new debug session.
// The debugger won't be started until a launch request is received.
func (s *Server) Run() {
	go func() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Errorf("Error accepting client connection: %s\n", err)
			}
			s.signalDisconnect()
			return
		}
		s.conn = conn
		s.serveDAPCodec()
	}()
}

// serveDAPCodec reads and decodes requests from the client
// until it encounters an error or EOF, when it sends
// the disconnect signal and returns.
func (s *Server) serveDAPCodec() {
	defer s.signalDisconnect()
	s.reader = bufio.NewReader(s.conn)
	for {
		request, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			stopRequested := false
			select {
			case <-s.stopChan:
				stopRequested = true
			default:
			}
			if err != io.EOF && !stopRequested {
				s.log.Error("DAP error: ", err)
			}
			return
		}
		s.handleRequest(request)
	}
}

func (s *Server) handleRequest(request dap.Message) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error response
		// back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	if logflags.DAP() {
		jsonmsg, _ := json.Marshal(request)
		s.log.Debug("[<- from client]", string(jsonmsg))
	}

	switch request := request.(type) {
	case *dap.InitializeRequest:
		// Required
		s.onInitializeRequest(request)
	case *dap.LaunchRequest:
		// Required
		s.onLaunchRequest(request)
	case *dap.AttachRequest:
		// Required
		// There is no process to attach to.
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.DisconnectRequest:
		// Required
		s.onDisconnectRequest(request)
	case *dap.TerminateRequest:
		// Optional (capability ‘supportsTerminateRequest‘)
		s.onTerminateRequest(request)
	case *dap.SetBreakpointsRequest:
		// Required
		s.onSetBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		// Optional (capability ‘exceptionBreakpointFilters’)
		s.onSetExceptionBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		// Optional (capability ‘supportsConfigurationDoneRequest’)
		s.onConfigurationDoneRequest(request)
	case *dap.ContinueRequest:
		// Required
		s.onContinueRequest(request)
	case *dap.NextRequest:
		// Required
		s.onNextRequest(request)
	case *dap.StepInRequest:
		// Required
		s.onStepInRequest(request)
	case *dap.StepOutRequest:
		// Required
		s.onStepOutRequest(request)
	case *dap.PauseRequest:
		// Required
		s.onPauseRequest(request)
	case *dap.ThreadsRequest:
		// Required
		s.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		// Required
		s.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		// Required
		s.onScopesRequest(request)
	case *dap.VariablesRequest:
		// Required
		s.onVariablesRequest(request)
	case *dap.LoadedSourcesRequest:
		// Optional (capability ‘supportsLoadedSourcesRequest’)
		s.onLoadedSourcesRequest(request)
	case *dap.DisassembleRequest:
		// Optional (capability ‘supportsDisassembleRequest’)
		s.onDisassembleRequest(request)
	case *dap.EvaluateRequest:
		// Required
		s.sendNotYetImplementedErrorResponse(request.Request)
	case *dap.SetVariableRequest:
		// Optional (capability ‘supportsSetVariable’)
		s.sendNotYetImplementedErrorResponse(request.Request)
	case *dap.RestartRequest:
		// Optional (capability ‘supportsRestartRequest’)
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetFunctionBreakpointsRequest:
		// Optional (capability ‘supportsFunctionBreakpoints’)
		// There are no function symbols.
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StepBackRequest:
		// Optional (capability ‘supportsStepBack’)
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ReverseContinueRequest:
		// Optional (capability ‘supportsStepBack’)
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ReadMemoryRequest:
		// Optional (capability ‘supportsReadMemoryRequest‘)
		s.sendNotYetImplementedErrorResponse(request.Request)
	case *dap.SourceRequest:
		// Required
		// Every source is a file on disk, clients read them directly.
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.CancelRequest:
		// Optional (capability ‘supportsCancelRequest’)
		s.sendUnsupportedErrorResponse(request.Request)
	default:
		// This is a DAP message that go-dap has a struct for, so
		// decoding succeeded, but this function does not know how
		// to handle.
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process %#v\n", request))
	}
}

func (s *Server) send(message dap.Message) {
	if logflags.DAP() {
		jsonmsg, _ := json.Marshal(message)
		s.log.Debug("[-> to client]", string(jsonmsg))
	}
	s.sendingMu.Lock()
	defer s.sendingMu.Unlock()
	if err := dap.WriteProtocolMessage(s.conn, message); err != nil {
		s.log.Debug(err)
	}
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsLoadedSourcesRequest = true
	response.Body.SupportsDisassembleRequest = true
	response.Body.SupportsTerminateRequest = true
	response.Body.SupportsSetVariable = false
	response.Body.SupportsRestartRequest = false
	response.Body.SupportsStepBack = false
	response.Body.SupportsFunctionBreakpoints = false
	response.Body.SupportsReadMemoryRequest = false
	s.send(response)
}

func (s *Server) onLaunchRequest(request *dap.LaunchRequest) {
	if s.debugger != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch",
			"debugger already started - use remote launch to restart")
		return
	}

	var args LaunchConfig
	if err := unmarshalLaunchArgs(request.Arguments, &args); err != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch",
			fmt.Sprintf("invalid debug configuration - %v", err))
		return
	}
	if args.Program == "" {
		args.Program = s.config.SymbolFile
	}
	if args.Program == "" {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch",
			"The program attribute is missing in debug configuration.")
		return
	}
	if args.Mode == "" {
		args.Mode = s.config.DebugMode
	}
	if args.Mode != "" {
		if _, err := proc.ParseDebugMode(args.Mode); err != nil {
			s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch",
				fmt.Sprintf("invalid debug configuration - unsupported 'mode' attribute %q", args.Mode))
			return
		}
	}

	s.args.stopOnEntry = args.StopOnEntry
	s.args.toClient = args.toClientRules()
	s.args.toServer = args.toServerRules()

	var err error
	s.debugger, err = debugger.New(&debugger.Config{
		SymbolFile:        s.toServerPath(args.Program),
		DebugMode:         args.Mode,
		MaxCyclesPerBatch: s.config.MaxCyclesPerBatch,
	})
	if err != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch", err.Error())
		return
	}

	// Notify the client that the debugger is ready to start accepting
	// configuration requests for setting breakpoints, etc. The client
	// will end the configuration sequence with 'configurationDone'.
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.LaunchResponse{Response: *newResponse(request.Request)})

	info := s.debugger.ProgramInfo()
	s.sendOutput("console", fmt.Sprintf("picdbg %s loaded %s: %s, %d words\n", version.PicdbgVersion.Short(), s.toClientPath(info.Path), info.Processor, info.Words))
}

// onDisconnectRequest handles the DisconnectRequest. The processor is
// halted and the server is signaled to stop.
func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	s.halt()
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
	s.signalDisconnect()
}

// onTerminateRequest halts the processor and reports the session as
// terminated. The client is expected to disconnect next.
func (s *Server) onTerminateRequest(request *dap.TerminateRequest) {
	s.halt()
	s.send(&dap.TerminateResponse{Response: *newResponse(request.Request)})
	s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
}

func (s *Server) halt() {
	if s.debugger == nil {
		return
	}
	if s.isRunning() {
		if _, err := s.debugger.Command(context.Background(), &api.DebuggerCommand{Name: api.Halt}); err != nil {
			s.log.Error(err)
		}
	}
	s.runWg.Wait()
}

func (s *Server) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	if request.Arguments.Source.Path == "" {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set or clear breakpoints", "empty file path")
		return
	}
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set or clear breakpoints", "no program launched")
		return
	}

	lines := make([]int, len(request.Arguments.Breakpoints))
	for i, b := range request.Arguments.Breakpoints {
		lines[i] = b.Line
	}
	bps, err := s.debugger.SetBreakpoints("", s.toServerPath(request.Arguments.Source.Path), lines)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set or clear breakpoints", err.Error())
		return
	}

	response := &dap.SetBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(bps))
	for i, bp := range bps {
		response.Body.Breakpoints[i].Id = bp.ID
		response.Body.Breakpoints[i].Line = bp.Line
		response.Body.Breakpoints[i].Verified = bp.Verified
		response.Body.Breakpoints[i].Source = &dap.Source{
			Name: filepath.Base(request.Arguments.Source.Path),
			Path: request.Arguments.Source.Path,
		}
		if !bp.Verified {
			response.Body.Breakpoints[i].Message = fmt.Sprintf("no code at %s:%d in %s mode", filepath.Base(bp.File), bp.Line, bp.Mode)
		}
	}
	s.send(response)
}

func (s *Server) onSetExceptionBreakpointsRequest(request *dap.SetExceptionBreakpointsRequest) {
	// Unlike what DAP documentation claims, this request is always sent
	// even though we specified no filters at initialization. Handle as no-op.
	s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch", "no program launched")
		return
	}
	if s.args.stopOnEntry {
		e := &dap.StoppedEvent{
			Event: *newEvent("stopped"),
			Body:  dap.StoppedEventBody{Reason: "entry", ThreadId: coreThreadID, AllThreadsStopped: true},
		}
		s.send(e)
	}
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
	if !s.args.stopOnEntry {
		s.runUntilStop(api.Continue)
	}
}

func (s *Server) onContinueRequest(request *dap.ContinueRequest) {
	if !s.checkHalted(request.Request, FailedToContinue, "Unable to continue") {
		return
	}
	s.send(&dap.ContinueResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ContinueResponseBody{AllThreadsContinued: true}})
	s.runUntilStop(api.Continue)
}

func (s *Server) onNextRequest(request *dap.NextRequest) {
	if !s.checkHalted(request.Request, FailedToNext, "Unable to step over") {
		return
	}
	s.send(&dap.NextResponse{Response: *newResponse(request.Request)})
	s.runUntilStop(api.Next)
}

// onStepInRequest executes a single instruction and reports the line
// reached.
func (s *Server) onStepInRequest(request *dap.StepInRequest) {
	if !s.checkHalted(request.Request, FailedToStep, "Unable to step in") {
		return
	}
	s.send(&dap.StepInResponse{Response: *newResponse(request.Request)})
	state, err := s.debugger.Command(s.runCtx, &api.DebuggerCommand{Name: api.Step})
	if err != nil {
		s.handleStopOnError(err)
		return
	}
	s.handleStop(state)
}

func (s *Server) onStepOutRequest(request *dap.StepOutRequest) {
	if !s.checkHalted(request.Request, FailedToStep, "Unable to step out") {
		return
	}
	s.send(&dap.StepOutResponse{Response: *newResponse(request.Request)})
	s.runUntilStop(api.StepOut)
}

// onPauseRequest halts the processor. The stopped event is sent by the
// goroutine running it. A pause that reaches the debugger before that
// goroutine started the processor stops the run before its first cycle.
func (s *Server) onPauseRequest(request *dap.PauseRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, FailedToPause, "Unable to halt execution", "no program launched")
		return
	}
	if !s.isRunning() {
		s.send(&dap.PauseResponse{Response: *newResponse(request.Request)})
		return
	}
	if _, err := s.debugger.Command(context.Background(), &api.DebuggerCommand{Name: api.Halt}); err != nil {
		s.sendErrorResponse(request.Request, FailedToPause, "Unable to halt execution", err.Error())
		return
	}
	s.send(&dap.PauseResponse{Response: *newResponse(request.Request)})
}

// checkHalted sends an error response and returns false unless a program
// is launched and halted.
func (s *Server) checkHalted(request dap.Request, id int, summary string) bool {
	switch {
	case s.debugger == nil:
		s.sendErrorResponse(request, id, summary, "no program launched")
		return false
	case s.isRunning():
		s.sendErrorResponse(request, id, summary, api.ErrProcessorRunning.Error())
		return false
	}
	return true
}

func (s *Server) isRunning() bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.running
}

func (s *Server) setRunning(running bool) {
	s.runningMu.Lock()
	s.running = running
	s.runningMu.Unlock()
}

// runUntilStop runs command on a new goroutine and sends a stopped event
// once the processor halts.
func (s *Server) runUntilStop(command string) {
	s.setRunning(true)
	s.runWg.Add(1)
	go func() {
		defer s.runWg.Done()
		state, err := s.debugger.Command(s.runCtx, &api.DebuggerCommand{Name: command})
		s.setRunning(false)
		if s.runCtx.Err() != nil {
			// The server is stopping.
			return
		}
		if err != nil {
			s.handleStopOnError(err)
			return
		}
		s.handleStop(state)
	}()
}

func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	name := "core"
	if s.debugger != nil {
		name = s.debugger.ProgramInfo().Processor
	}
	s.send(&dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: coreThreadID, Name: name}}},
	})
}

// onStackTraceRequest returns a single frame at the current line. The
// hardware stack only holds return addresses, which have no frames of
// their own.
func (s *Server) onStackTraceRequest(request *dap.StackTraceRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace", "no program launched")
		return
	}
	if request.Arguments.ThreadId != coreThreadID {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace",
			fmt.Sprintf("unknown thread %d", request.Arguments.ThreadId))
		return
	}
	state, err := s.debugger.State(true)
	if err != nil || state.Running {
		if err == nil {
			err = api.ErrProcessorRunning
		}
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace", err.Error())
		return
	}

	frame := dap.StackFrame{
		Id:                          s.stackFrameHandles.create(state.PC),
		Name:                        fmt.Sprintf("%s@%s", state.Mode, memoryReference(state.PC)),
		InstructionPointerReference: memoryReference(state.PC),
	}
	if loc := state.CurrentLine; loc != nil {
		clientPath := s.toClientPath(loc.File)
		frame.Source = &dap.Source{Name: filepath.Base(clientPath), Path: clientPath}
		frame.Line = loc.Line
	}
	stackFrames := []dap.StackFrame{frame}
	// Default to 0 lines and 0 columns. The client will adjust.
	stackFrames = stackFrames[min(request.Arguments.StartFrame, len(stackFrames)):]
	if request.Arguments.Levels > 0 {
		stackFrames = stackFrames[:min(request.Arguments.Levels, len(stackFrames))]
	}
	response := &dap.StackTraceResponse{
		Response: *newResponse(request.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: stackFrames, TotalFrames: 1},
	}
	s.send(response)
}

// onScopesRequest handles 'scopes' requests.
// This is a mandatory request to support.
func (s *Server) onScopesRequest(request *dap.ScopesRequest) {
	if _, ok := s.stackFrameHandles.get(request.Arguments.FrameId); !ok {
		s.sendErrorResponse(request.Request, UnableToListLocals, "Unable to list locals",
			fmt.Sprintf("unknown frame id %d", request.Arguments.FrameId))
		return
	}
	scopes := []dap.Scope{
		{Name: "Processor", VariablesReference: s.variableHandles.create(processorScope)},
		{Name: "Registers", VariablesReference: s.variableHandles.create(registersScope), Expensive: true},
		{Name: "Watched", VariablesReference: s.variableHandles.create(watchedScope)},
	}
	response := &dap.ScopesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ScopesResponseBody{Scopes: scopes},
	}
	s.send(response)
}

// onVariablesRequest handles 'variables' requests.
// This is a mandatory request to support.
func (s *Server) onVariablesRequest(request *dap.VariablesRequest) {
	scope, ok := s.variableHandles.get(request.Arguments.VariablesReference)
	if !ok {
		s.sendErrorResponse(request.Request, UnableToLookupVariable, "Unable to lookup variable",
			fmt.Sprintf("unknown reference %d", request.Arguments.VariablesReference))
		return
	}
	state, err := s.debugger.State(true)
	if err == nil && state.Running {
		err = api.ErrProcessorRunning
	}
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToLookupVariable, "Unable to lookup variable", err.Error())
		return
	}

	var children []dap.Variable
	switch scope {
	case processorScope:
		children = []dap.Variable{
			{Name: "W", Value: fmt.Sprintf("%#02x", state.W), Type: "uint8"},
			{Name: "PC", Value: memoryReference(state.PC), Type: "int", MemoryReference: memoryReference(state.PC)},
			{Name: "stack depth", Value: fmt.Sprint(state.StackDepth), Type: "int"},
			{Name: "cycles", Value: fmt.Sprint(state.Cycles), Type: "uint64"},
			{Name: "mode", Value: state.Mode, Type: "string"},
		}
		if state.CurrentLine != nil {
			children = append(children, dap.Variable{
				Name:  "line",
				Value: fmt.Sprintf("%s:%d", s.toClientPath(state.CurrentLine.File), state.CurrentLine.Line),
				Type:  "string",
			})
		}
	case registersScope:
		children = convertRegisters(s.debugger.Registers())
	case watchedScope:
		children = convertRegisters(state.Watched)
	}
	if children == nil {
		children = []dap.Variable{}
	}
	response := &dap.VariablesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.VariablesResponseBody{Variables: children},
	}
	s.send(response)
}

func convertRegisters(in []api.Register) []dap.Variable {
	out := make([]dap.Variable, 0, len(in))
	for _, r := range in {
		v := dap.Variable{Name: r.Name, Value: fmt.Sprintf("%#02x", r.Value), Type: r.Type}
		if r.Address >= 0 {
			v.EvaluateName = fmt.Sprintf("%#02x", r.Address)
		}
		out = append(out, v)
	}
	return out
}

func (s *Server) onLoadedSourcesRequest(request *dap.LoadedSourcesRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToListSources, "Unable to list sources", "no program launched")
		return
	}
	files, err := s.debugger.Sources("")
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToListSources, "Unable to list sources", err.Error())
		return
	}
	sources := make([]dap.Source, len(files))
	for i, f := range files {
		clientPath := s.toClientPath(f)
		sources[i] = dap.Source{Name: filepath.Base(clientPath), Path: clientPath}
	}
	s.send(&dap.LoadedSourcesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.LoadedSourcesResponseBody{Sources: sources},
	})
}

// onDisassembleRequest returns exactly InstructionCount instructions
// starting InstructionOffset instructions away from the memory reference.
// Addresses outside of program memory are returned as invalid
// instructions.
func (s *Server) onDisassembleRequest(request *dap.DisassembleRequest) {
	if s.debugger == nil {
		s.sendErrorResponse(request.Request, UnableToDisassemble, "Unable to disassemble", "no program launched")
		return
	}
	ref, err := parseMemoryReference(request.Arguments.MemoryReference)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToDisassemble, "Unable to disassemble", err.Error())
		return
	}
	start := ref + request.Arguments.Offset + request.Arguments.InstructionOffset
	end := start + request.Arguments.InstructionCount

	instructions := make([]dap.DisassembledInstruction, 0, max(request.Arguments.InstructionCount, 0))
	code, err := s.debugger.Disassemble(start, end)
	if err != nil && !errors.Is(err, debugger.ErrAddressRange) {
		s.sendErrorResponse(request.Request, UnableToDisassemble, "Unable to disassemble", err.Error())
		return
	}
	byAddr := make(map[int]api.AsmInstruction, len(code))
	for _, inst := range code {
		byAddr[inst.Loc.PC] = inst
	}
	var lastFile string
	for addr := start; addr < end; addr++ {
		inst, ok := byAddr[addr]
		if !ok {
			instructions = append(instructions, dap.DisassembledInstruction{
				Address:     memoryReference(addr),
				Instruction: "invalid instruction",
			})
			continue
		}
		di := dap.DisassembledInstruction{
			Address:          memoryReference(addr),
			InstructionBytes: fmt.Sprintf("%04x", inst.Word),
			Instruction:      inst.Text,
			Line:             inst.Loc.Line,
		}
		if inst.Loc.File != "" && inst.Loc.File != lastFile {
			clientPath := s.toClientPath(inst.Loc.File)
			di.Location = &dap.Source{Name: filepath.Base(clientPath), Path: clientPath}
			lastFile = inst.Loc.File
		}
		instructions = append(instructions, di)
	}
	s.send(&dap.DisassembleResponse{
		Response: *newResponse(request.Request),
		Body:     dap.DisassembleResponseBody{Instructions: instructions},
	})
}

func (s *Server) toClientPath(path string) string {
	return s.args.toClient.Substitute(path)
}

func (s *Server) toServerPath(path string) string {
	return s.args.toServer.Substitute(path)
}

// sendErrorResponse sends an error response with the given id and message
// to the client.
func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{
		Id:     id,
		Format: fmt.Sprintf("%s: %s", summary, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

// sendInternalErrorResponse sends an "internal error" response back to the client.
// We only take a seq here because we don't want to make assumptions about the
// kind of message received by the server that this error is a reply to.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error"
	er.Body.Error = &dap.ErrorMessage{
		Id:     InternalError,
		Format: fmt.Sprintf("%s: %s", er.Message, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func (s *Server) sendNotYetImplementedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, NotYetImplemented, "Not yet implemented",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func (s *Server) sendOutput(category, output string) {
	s.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body:  dap.OutputEventBody{Category: category, Output: output},
	})
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

// handleStopOnError reports a command that failed while the processor
// ran. The processor is halted by then.
func (s *Server) handleStopOnError(err error) {
	s.stackFrameHandles.reset()
	s.variableHandles.reset()
	stopped := &dap.StoppedEvent{Event: *newEvent("stopped")}
	stopped.Body.ThreadId = coreThreadID
	stopped.Body.AllThreadsStopped = true
	stopped.Body.Reason = "exception"
	stopped.Body.Description = "command failed"
	stopped.Body.Text = err.Error()
	s.send(stopped)

	// The stopped event text is not shown by every client.
	s.sendOutput("stderr", fmt.Sprintf("ERROR: %s\n", err.Error()))
}

// handleStop sends a stopped event describing why the processor halted.
func (s *Server) handleStop(state *api.DebuggerState) {
	s.stackFrameHandles.reset()
	s.variableHandles.reset()
	stopped := &dap.StoppedEvent{Event: *newEvent("stopped")}
	stopped.Body.ThreadId = coreThreadID
	stopped.Body.AllThreadsStopped = true
	switch {
	case state.StopReason == proc.StopBreakpoint.String():
		stopped.Body.Reason = "breakpoint"
		if state.Breakpoint != nil {
			stopped.Body.HitBreakpointIds = []int{state.Breakpoint.ID}
		}
	case state.StopReason == proc.StopStepFinished.String():
		stopped.Body.Reason = "step"
	case state.Sleeping:
		stopped.Body.Reason = "pause"
		stopped.Body.Description = "sleeping"
		stopped.Body.Text = "processor is sleeping"
		s.sendOutput("console", fmt.Sprintf("Processor is sleeping at %s\n", memoryReference(state.PC)))
	default:
		stopped.Body.Reason = "pause"
	}
	s.send(stopped)
}
