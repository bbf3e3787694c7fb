package dap

import (
	"flag"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/picdbg/picdbg/pkg/logflags"
	protest "github.com/picdbg/picdbg/pkg/proc/test"
	"github.com/picdbg/picdbg/pkg/version"
	"github.com/picdbg/picdbg/service"
	"github.com/picdbg/picdbg/service/dap/daptest"
)

const stopOnEntry bool = true

func TestMain(m *testing.M) {
	var logOutput string
	flag.StringVar(&logOutput, "log-output", "", "configures log output")
	flag.Parse()
	logflags.Setup(logOutput != "", logOutput, "")
	os.Exit(m.Run())
}

// name is the name of a protest fixture.
func runTest(t *testing.T, name string, test func(c *daptest.Client, f protest.Fixture)) {
	fixture := protest.BuildFixture(t, name)

	// Start the DAP server.
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	disconnectChan := make(chan struct{})
	server := NewServer(&service.Config{
		Listener:          listener,
		DisconnectChan:    disconnectChan,
		MaxCyclesPerBatch: 100,
	})
	server.Run()
	// Give server time to start listening for clients
	time.Sleep(100 * time.Millisecond)

	var stopOnce sync.Once
	// Run a goroutine that stops the server when disconnectChan is signaled.
	// This helps us test that certain events cause the server to stop as
	// expected.
	go func() {
		<-disconnectChan
		stopOnce.Do(func() { server.Stop() })
	}()

	client := daptest.NewClient(listener.Addr().String())
	defer client.Close()

	defer func() {
		stopOnce.Do(func() { server.Stop() })
	}()

	test(client, fixture)
}

// launch runs the initialize/launch exchange and leaves the client ready
// for configuration requests.
func launch(t *testing.T, client *daptest.Client, mode string, fixture protest.Fixture, stop bool) {
	t.Helper()
	client.InitializeRequest()
	client.ExpectInitializeResponse(t)
	client.LaunchRequest(mode, fixture.Path, stop)
	client.ExpectInitializedEvent(t)
	client.ExpectLaunchResponse(t)
	client.ExpectOutputEvent(t)
}

func expectStackTrace(t *testing.T, client *daptest.Client, file string, line int) dap.StackFrame {
	t.Helper()
	client.StackTraceRequest(1, 0, 20)
	st := client.ExpectStackTraceResponse(t)
	if len(st.Body.StackFrames) != 1 || st.Body.TotalFrames != 1 {
		t.Fatalf("\ngot %#v\nwant one stack frame", st)
	}
	frame := st.Body.StackFrames[0]
	if frame.Source == nil || frame.Source.Path != file || frame.Line != line {
		t.Fatalf("\ngot %#v\nwant %s:%d", frame, file, line)
	}
	return frame
}

func expectStop(t *testing.T, client *daptest.Client, reason string) *dap.StoppedEvent {
	t.Helper()
	se := client.ExpectStoppedEvent(t)
	if se.Body.Reason != reason || se.Body.ThreadId != 1 || !se.Body.AllThreadsStopped {
		t.Fatalf("\ngot %#v\nwant Reason=%q ThreadId=1 AllThreadsStopped=true", se, reason)
	}
	return se
}

// TestLaunchStopOnEntry emulates the message exchange that can be observed with
// VS Code for the most basic launch debug session with "stopOnEntry" enabled:
// - User selects "Start Debugging":  1 >> initialize
//                                 :  1 << initialize
//                                 :  2 >> launch
//                                 :    << initialized event
//                                 :  2 << launch
//                                 :    << output event (program loaded)
//                                 :  3 >> setBreakpoints (empty)
//                                 :  3 << setBreakpoints
//                                 :  4 >> setExceptionBreakpoints (empty)
//                                 :  4 << setExceptionBreakpoints
//                                 :  5 >> configurationDone
// - Program stops upon launching  :    << stopped event
//                                 :  5 << configurationDone
//                                 :  6 >> threads
//                                 :  6 << threads
//                                 :  7 >> stackTrace
//                                 :  7 << stackTrace
//                                 :  8 >> scopes
//                                 :  8 << scopes
//                                 :  9 >> variables
//                                 :  9 << variables
// - User selects "Continue"       : 10 >> continue
//                                 : 10 << continue
// - Core goes to sleep            :    << output event
//                                 :    << stopped event (pause)
//                                 : 11 >> disconnect
//                                 : 11 << disconnect
// This test exhaustively tests Seq and RequestSeq on all messages from the
// server. Other tests do not necessarily need to repeat all these checks.
func TestLaunchStopOnEntry(t *testing.T) {
	runTest(t, "countdown", func(client *daptest.Client, fixture protest.Fixture) {
		// 1 >> initialize, << initialize
		client.InitializeRequest()
		initResp := client.ExpectInitializeResponse(t)
		if initResp.Seq != 0 || initResp.RequestSeq != 1 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=1", initResp)
		}
		if !initResp.Body.SupportsDisassembleRequest || !initResp.Body.SupportsLoadedSourcesRequest {
			t.Errorf("\ngot %#v\nwant disassemble and loadedSources support", initResp.Body)
		}

		// 2 >> launch, << initialized, << launch, << output
		client.LaunchRequest("asm", fixture.Path, stopOnEntry)
		initEvent := client.ExpectInitializedEvent(t)
		if initEvent.Seq != 0 {
			t.Errorf("\ngot %#v\nwant Seq=0", initEvent)
		}
		launchResp := client.ExpectLaunchResponse(t)
		if launchResp.Seq != 0 || launchResp.RequestSeq != 2 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=2", launchResp)
		}
		oe := client.ExpectOutputEvent(t)
		if oe.Body.Category != "console" || !strings.Contains(oe.Body.Output, "pic16f84") || !strings.Contains(oe.Body.Output, "picdbg "+version.PicdbgVersion.Short()) {
			t.Errorf("\ngot %#v\nwant console output naming the processor and the picdbg version", oe)
		}

		// 3 >> setBreakpoints, << setBreakpoints
		client.SetBreakpointsRequest(fixture.Asm, nil)
		sbpResp := client.ExpectSetBreakpointsResponse(t)
		if sbpResp.Seq != 0 || sbpResp.RequestSeq != 3 || len(sbpResp.Body.Breakpoints) != 0 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=3, len(Breakpoints)=0", sbpResp)
		}

		// 4 >> setExceptionBreakpoints, << setExceptionBreakpoints
		client.SetExceptionBreakpointsRequest()
		sebpResp := client.ExpectSetExceptionBreakpointsResponse(t)
		if sebpResp.Seq != 0 || sebpResp.RequestSeq != 4 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=4", sebpResp)
		}

		// 5 >> configurationDone, << stopped, << configurationDone
		client.ConfigurationDoneRequest()
		stopEvent := expectStop(t, client, "entry")
		if stopEvent.Seq != 0 {
			t.Errorf("\ngot %#v\nwant Seq=0", stopEvent)
		}
		cdResp := client.ExpectConfigurationDoneResponse(t)
		if cdResp.Seq != 0 || cdResp.RequestSeq != 5 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=5", cdResp)
		}

		// 6 >> threads, << threads
		client.ThreadsRequest()
		tResp := client.ExpectThreadsResponse(t)
		if tResp.Seq != 0 || tResp.RequestSeq != 6 || len(tResp.Body.Threads) != 1 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=6 len(Threads)=1", tResp)
		}
		if tResp.Body.Threads[0].Id != 1 || tResp.Body.Threads[0].Name != "pic16f84" {
			t.Errorf("\ngot %#v\nwant Id=1, Name=\"pic16f84\"", tResp)
		}

		// 7 >> stackTrace, << stackTrace
		frame := expectStackTrace(t, client, fixture.Asm, 3)
		if frame.InstructionPointerReference != "0x00" {
			t.Errorf("\ngot %#v\nwant InstructionPointerReference=\"0x00\"", frame)
		}

		// 8 >> scopes, << scopes
		client.ScopesRequest(frame.Id)
		scopes := client.ExpectScopesResponse(t)
		if scopes.RequestSeq != 8 || len(scopes.Body.Scopes) != 3 || scopes.Body.Scopes[0].Name != "Processor" {
			t.Fatalf("\ngot %#v\nwant Processor, Registers and Watched scopes", scopes)
		}

		// 9 >> variables, << variables
		client.VariablesRequest(scopes.Body.Scopes[0].VariablesReference)
		vars := client.ExpectVariablesResponse(t)
		if vars.RequestSeq != 9 || len(vars.Body.Variables) < 5 {
			t.Fatalf("\ngot %#v\nwant processor variables", vars)
		}
		if v := vars.Body.Variables[0]; v.Name != "W" || v.Value != "0x00" {
			t.Errorf("\ngot %#v\nwant W=0x00", v)
		}
		if v := vars.Body.Variables[1]; v.Name != "PC" || v.Value != "0x00" {
			t.Errorf("\ngot %#v\nwant PC=0x00", v)
		}

		// 10 >> continue, << continue, << output, << stopped
		client.ContinueRequest(1)
		contResp := client.ExpectContinueResponse(t)
		if contResp.Seq != 0 || contResp.RequestSeq != 10 || !contResp.Body.AllThreadsContinued {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=10", contResp)
		}
		client.ExpectOutputEvent(t)
		se := expectStop(t, client, "pause")
		if se.Body.Text != "processor is sleeping" {
			t.Errorf("\ngot %#v\nwant Text=\"processor is sleeping\"", se)
		}

		// 11 >> disconnect, << disconnect
		client.DisconnectRequest()
		dResp := client.ExpectDisconnectResponse(t)
		if dResp.Seq != 0 || dResp.RequestSeq != 11 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=11", dResp)
		}
	})
}

// TestSetBreakpoint runs to a breakpoint, then steps out of the subroutine
// and over the next line.
func TestSetBreakpoint(t *testing.T) {
	runTest(t, "countdown", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, "asm", fixture, stopOnEntry)

		// Line 9 is a comment.
		client.SetBreakpointsRequest(fixture.Asm, []int{13, 9})
		sResp := client.ExpectSetBreakpointsResponse(t)
		if len(sResp.Body.Breakpoints) != 2 {
			t.Fatalf("\ngot %#v\nwant len(Breakpoints)=2", sResp)
		}
		bp := sResp.Body.Breakpoints[0]
		if !bp.Verified || bp.Line != 13 || bp.Id != 1 || bp.Source == nil || bp.Source.Path != fixture.Asm {
			t.Errorf("\ngot %#v\nwant Verified=true, Line=13, Id=1, Path=%q", bp, fixture.Asm)
		}
		if bp := sResp.Body.Breakpoints[1]; bp.Verified || bp.Message == "" {
			t.Errorf("\ngot %#v\nwant Verified=false with a message", bp)
		}

		client.SetExceptionBreakpointsRequest()
		client.ExpectSetExceptionBreakpointsResponse(t)

		client.ConfigurationDoneRequest()
		expectStop(t, client, "entry")
		client.ExpectConfigurationDoneResponse(t)

		client.ContinueRequest(1)
		client.ExpectContinueResponse(t)
		se := expectStop(t, client, "breakpoint")
		if len(se.Body.HitBreakpointIds) != 1 || se.Body.HitBreakpointIds[0] != 1 {
			t.Errorf("\ngot %#v\nwant HitBreakpointIds=[1]", se)
		}
		expectStackTrace(t, client, fixture.Asm, 13)

		client.StepOutRequest(1)
		client.ExpectStepOutResponse(t)
		expectStop(t, client, "step")
		expectStackTrace(t, client, fixture.Asm, 7)

		client.NextRequest(1)
		client.ExpectNextResponse(t)
		expectStop(t, client, "step")
		expectStackTrace(t, client, fixture.Asm, 8)

		client.StepInRequest(1)
		client.ExpectStepInResponse(t)
		expectStop(t, client, "step")
		expectStackTrace(t, client, fixture.Asm, 6)

		// Clearing the breakpoint lets the program run until it sleeps.
		client.SetBreakpointsRequest(fixture.Asm, nil)
		client.ExpectSetBreakpointsResponse(t)
		client.ContinueRequest(1)
		client.ExpectContinueResponse(t)
		client.ExpectOutputEvent(t)
		expectStop(t, client, "pause")

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

// TestHLLMode steps through the compiler source lines.
func TestHLLMode(t *testing.T) {
	runTest(t, "countdown", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, "hll", fixture, stopOnEntry)

		client.SetBreakpointsRequest(fixture.Source, []int{8})
		sResp := client.ExpectSetBreakpointsResponse(t)
		if len(sResp.Body.Breakpoints) != 1 || !sResp.Body.Breakpoints[0].Verified {
			t.Fatalf("\ngot %#v\nwant a verified breakpoint", sResp)
		}
		client.ConfigurationDoneRequest()
		expectStop(t, client, "entry")
		client.ExpectConfigurationDoneResponse(t)
		expectStackTrace(t, client, fixture.Source, 3)

		client.ContinueRequest(1)
		client.ExpectContinueResponse(t)
		expectStop(t, client, "breakpoint")
		expectStackTrace(t, client, fixture.Source, 8)

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestLoadedSourcesAndDisassemble(t *testing.T) {
	runTest(t, "countdown", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, "asm", fixture, stopOnEntry)
		client.ConfigurationDoneRequest()
		expectStop(t, client, "entry")
		client.ExpectConfigurationDoneResponse(t)

		client.LoadedSourcesRequest()
		ls := client.ExpectLoadedSourcesResponse(t)
		found := false
		for _, src := range ls.Body.Sources {
			if src.Path == fixture.Asm && src.Name == filepath.Base(fixture.Asm) {
				found = true
			}
		}
		if !found {
			t.Errorf("\ngot %#v\nwant %s among the sources", ls.Body.Sources, fixture.Asm)
		}

		// One instruction before the start of program memory.
		client.DisassembleRequest("0x00", -1, 3)
		dr := client.ExpectDisassembleResponse(t)
		insts := dr.Body.Instructions
		if len(insts) != 3 {
			t.Fatalf("\ngot %#v\nwant 3 instructions", dr)
		}
		if insts[0].Instruction != "invalid instruction" {
			t.Errorf("\ngot %#v\nwant an invalid instruction before address 0", insts[0])
		}
		if insts[1].Address != "0x00" || insts[1].Line != 3 || insts[1].Location == nil || insts[1].Location.Path != fixture.Asm {
			t.Errorf("\ngot %#v\nwant 0x00 at main.asm:3", insts[1])
		}
		if insts[2].Instruction != "MOVWF 0x20" || insts[2].Location != nil {
			t.Errorf("\ngot %#v\nwant MOVWF 0x20 without a repeated location", insts[2])
		}

		client.DisassembleRequest("pc", 0, 1)
		er := client.ExpectErrorResponse(t)
		if er.Body.Error.Id != UnableToDisassemble {
			t.Errorf("\ngot %#v\nwant Id=%d", er, UnableToDisassemble)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestPauseWhileHalted(t *testing.T) {
	runTest(t, "countdown", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, "asm", fixture, stopOnEntry)
		client.ConfigurationDoneRequest()
		expectStop(t, client, "entry")
		client.ExpectConfigurationDoneResponse(t)

		client.PauseRequest(1)
		client.ExpectPauseResponse(t)
		expectStackTrace(t, client, fixture.Asm, 3)

		client.TerminateRequest()
		client.ExpectTerminateResponse(t)
		client.ExpectTerminatedEvent(t)
		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

// TestPauseAfterContinue pauses a program that never stops on its own
// right after continuing it, before the processor may have started.
func TestPauseAfterContinue(t *testing.T) {
	runTest(t, "spin", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, "asm", fixture, stopOnEntry)
		client.ConfigurationDoneRequest()
		expectStop(t, client, "entry")
		client.ExpectConfigurationDoneResponse(t)

		for i := 0; i < 3; i++ {
			client.ContinueRequest(1)
			client.ExpectContinueResponse(t)
			client.PauseRequest(1)

			// The stopped event and the pause response can come in any order.
			var paused, stopped bool
			for !paused || !stopped {
				m, err := client.ReadMessage()
				if err != nil {
					t.Fatal(err)
				}
				switch m := m.(type) {
				case *dap.PauseResponse:
					paused = true
				case *dap.StoppedEvent:
					if m.Body.Reason != "pause" || m.Body.Text != "" {
						t.Fatalf("\ngot %#v\nwant Reason=\"pause\"", m)
					}
					stopped = true
				default:
					t.Fatalf("got %#v, want pause response and stopped event", m)
				}
			}
			client.StackTraceRequest(1, 0, 20)
			st := client.ExpectStackTraceResponse(t)
			if len(st.Body.StackFrames) != 1 {
				t.Fatalf("\ngot %#v\nwant one stack frame", st)
			}
			if line := st.Body.StackFrames[0].Line; line != 3 && line != 4 {
				t.Fatalf("got line %d, want a line of the loop", line)
			}
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestBadLaunchRequests(t *testing.T) {
	runTest(t, "countdown", func(client *daptest.Client, fixture protest.Fixture) {
		expectFailedToLaunch := func(response *dap.ErrorResponse, details string) {
			t.Helper()
			if response.Command != "launch" {
				t.Errorf("Command got %q, want \"launch\"", response.Command)
			}
			if response.Message != "Failed to launch" {
				t.Errorf("Message got %q, want \"Failed to launch\"", response.Message)
			}
			if response.Body.Error.Id != FailedToLaunch {
				t.Errorf("Id got %d, want %d", response.Body.Error.Id, FailedToLaunch)
			}
			if !strings.Contains(response.Body.Error.Format, details) {
				t.Errorf("Format got %q, want it to contain %q", response.Body.Error.Format, details)
			}
		}

		client.LaunchRequestWithArgs(map[string]interface{}{"request": "launch"})
		expectFailedToLaunch(client.ExpectErrorResponse(t), "The program attribute is missing")

		client.LaunchRequestWithArgs(map[string]interface{}{"program": 12})
		expectFailedToLaunch(client.ExpectErrorResponse(t), "cannot unmarshal number into \"program\" of type string")

		client.LaunchRequest("c++", fixture.Path, stopOnEntry)
		expectFailedToLaunch(client.ExpectErrorResponse(t), "unsupported 'mode' attribute \"c++\"")

		client.LaunchRequest("asm", filepath.Join(fixture.Dir, "nothere.sym"), stopOnEntry)
		expectFailedToLaunch(client.ExpectErrorResponse(t), "nothere.sym")

		client.LaunchRequestWithArgs(map[string]interface{}{
			"program":        fixture.Path,
			"substitutePath": []map[string]string{{"from": "/src"}},
		})
		expectFailedToLaunch(client.ExpectErrorResponse(t), "'substitutePath' requires both 'from' and 'to' entries")

		// Requests needing a program fail before a successful launch.
		client.StackTraceRequest(1, 0, 20)
		if er := client.ExpectErrorResponse(t); er.Body.Error.Id != UnableToProduceStackTrace {
			t.Errorf("\ngot %#v\nwant Id=%d", er, UnableToProduceStackTrace)
		}
		client.ContinueRequest(1)
		if er := client.ExpectErrorResponse(t); er.Body.Error.Id != FailedToContinue {
			t.Errorf("\ngot %#v\nwant Id=%d", er, FailedToContinue)
		}

		// Launching after the errors works.
		client.LaunchRequest("asm", fixture.Path, stopOnEntry)
		client.ExpectInitializedEvent(t)
		client.ExpectLaunchResponse(t)
		client.ExpectOutputEvent(t)

		client.LaunchRequest("asm", fixture.Path, stopOnEntry)
		expectFailedToLaunch(client.ExpectErrorResponse(t), "debugger already started")

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestUnsupportedRequests(t *testing.T) {
	runTest(t, "countdown", func(client *daptest.Client, fixture protest.Fixture) {
		client.AttachRequest()
		if er := client.ExpectErrorResponse(t); er.Body.Error.Id != UnsupportedCommand || er.Command != "attach" {
			t.Errorf("\ngot %#v\nwant Id=%d for attach", er, UnsupportedCommand)
		}
		client.EvaluateRequest("W", 1000, "repl")
		if er := client.ExpectErrorResponse(t); er.Body.Error.Id != NotYetImplemented {
			t.Errorf("\ngot %#v\nwant Id=%d for evaluate", er, NotYetImplemented)
		}
		client.ScopesRequest(1111)
		if er := client.ExpectErrorResponse(t); er.Body.Error.Format != "Unable to list locals: unknown frame id 1111" {
			t.Errorf("\ngot %#v\nwant unknown frame id error", er)
		}
		client.VariablesRequest(7777)
		if er := client.ExpectErrorResponse(t); er.Body.Error.Format != "Unable to lookup variable: unknown reference 7777" {
			t.Errorf("\ngot %#v\nwant unknown reference error", er)
		}
		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestSubstitutePath(t *testing.T) {
	runTest(t, "countdown", func(client *daptest.Client, fixture protest.Fixture) {
		local := "/home/user/project"
		client.InitializeRequest()
		client.ExpectInitializeResponse(t)
		client.LaunchRequestWithArgs(map[string]interface{}{
			"program":        filepath.Join(local, filepath.Base(fixture.Path)),
			"stopOnEntry":    true,
			"substitutePath": []map[string]string{{"from": local, "to": fixture.Dir}},
		})
		client.ExpectInitializedEvent(t)
		client.ExpectLaunchResponse(t)
		client.ExpectOutputEvent(t)

		localAsm := filepath.Join(local, filepath.Base(fixture.Asm))
		client.SetBreakpointsRequest(localAsm, []int{13})
		if bp := client.ExpectSetBreakpointsResponse(t).Body.Breakpoints[0]; !bp.Verified || bp.Source.Path != localAsm {
			t.Errorf("\ngot %#v\nwant a verified breakpoint in %s", bp, localAsm)
		}
		client.ConfigurationDoneRequest()
		expectStop(t, client, "entry")
		client.ExpectConfigurationDoneResponse(t)
		expectStackTrace(t, client, localAsm, 3)

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}
