package dap

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/picdbg/picdbg/pkg/config"
)

// LaunchConfig is the collection of launch request attributes recognized by
// the picdbg DAP implementation.
type LaunchConfig struct {
	// Required.
	// Path to the symbol file of the program to simulate. If it is not an
	// absolute path, it will be interpreted as a path relative to the
	// working directory of the picdbg process.
	Program string `json:"program,omitempty"`

	// Kind of lines reported while stepping, "asm" for assembly lines or
	// "hll" for compiler source lines.
	// (Default: the --mode flag, or asm)
	Mode string `json:"mode,omitempty"`

	// Automatically stop the program after launch.
	StopOnEntry bool `json:"stopOnEntry,omitempty"`

	// An array of mappings from a local path (client) to the path stored
	// in the symbol file (server).
	SubstitutePath []SubstitutePath `json:"substitutePath,omitempty"`
}

// SubstitutePath defines a mapping from a local path to the remote path.
// Both 'from' and 'to' must be specified and non-empty.
type SubstitutePath struct {
	// The local path to be replaced when passing paths to the debugger.
	From string `json:"from,omitempty"`
	// The remote path to be replaced when passing paths back to the client.
	To string `json:"to,omitempty"`
}

func (m *SubstitutePath) UnmarshalJSON(data []byte) error {
	// use custom unmarshal to check if both from/to are set.
	type tmpType SubstitutePath
	var tmp tmpType

	if err := json.Unmarshal(data, &tmp); err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return fmt.Errorf(`cannot use %s as 'substitutePath' of type {"from":string, "to":string}`, data)
		}
		return err
	}
	if tmp.From == "" || tmp.To == "" {
		return errors.New("'substitutePath' requires both 'from' and 'to' entries")
	}
	*m = SubstitutePath(tmp)
	return nil
}

// toClientRules returns rules rewriting debugger paths into client paths.
func (c *LaunchConfig) toClientRules() config.SubstitutePathRules {
	rules := make(config.SubstitutePathRules, 0, len(c.SubstitutePath))
	for _, p := range c.SubstitutePath {
		rules = append(rules, config.SubstitutePathRule{From: p.To, To: p.From})
	}
	return rules
}

// toServerRules returns rules rewriting client paths into debugger paths.
func (c *LaunchConfig) toServerRules() config.SubstitutePathRules {
	rules := make(config.SubstitutePathRules, 0, len(c.SubstitutePath))
	for _, p := range c.SubstitutePath {
		rules = append(rules, config.SubstitutePathRule{From: p.From, To: p.To})
	}
	return rules
}

func unmarshalLaunchArgs(input json.RawMessage, config *LaunchConfig) error {
	if err := json.Unmarshal(input, config); err != nil {
		if uerr, ok := err.(*json.UnmarshalTypeError); ok {
			// Format json.UnmarshalTypeError error string in our own way. E.g.,
			//   "json: cannot unmarshal number into Go struct field LaunchArgs.program of type string" (go1.16)
			//   => "cannot unmarshal number into 'program' of type string"
			return fmt.Errorf("cannot unmarshal %v into %q of type %v", uerr.Value, uerr.Field, uerr.Type.String())
		}
		return err
	}
	return nil
}
