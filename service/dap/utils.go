package dap

import (
	"fmt"
	"strconv"
	"strings"
)

// min returns the lowest-valued integer
// between the two passed into it.
func min(i, j int) int {
	if i < j {
		return i
	}
	return j
}

// max returns the highest-valued integer
// between the two passed into it.
func max(i, j int) int {
	if i > j {
		return i
	}
	return j
}

// parseMemoryReference parses a program address as sent by the client in
// a memoryReference or instructionPointerReference, e.g. "0x1f".
func parseMemoryReference(ref string) (int, error) {
	addr, err := strconv.ParseInt(strings.TrimSpace(ref), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory reference %q", ref)
	}
	return int(addr), nil
}

func memoryReference(addr int) string {
	return fmt.Sprintf("%#02x", addr)
}
