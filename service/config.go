package service

import "net"

// Config provides the configuration to start a Debugger and expose it with a
// service.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// SymbolFile is the program to load at startup. It may be empty for
	// servers whose clients name the program themselves.
	SymbolFile string

	// DebugMode is the debug mode sessions start in, "asm" or "hll".
	DebugMode string

	// MaxCyclesPerBatch is the number of cycles simulated while the
	// processor lock is held. Zero selects the default.
	MaxCyclesPerBatch int

	// DisconnectChan will be closed by the server when the client disconnects
	DisconnectChan chan<- struct{}
}
