package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".picdbg"
	configFile string = "config.yml"

	// configDirEnv overrides the configuration directory.
	configDirEnv = "PICDBG_CONFIG_DIR"

	// DefaultSourceListCacheSize is the number of source files the list
	// command keeps in memory when source-list-cache-size is not set.
	DefaultSourceListCacheSize = 16
	// DefaultMaxCyclesPerBatch is the number of cycles simulated between two
	// checks for a pause request when max-cycles-per-batch is not set.
	DefaultMaxCyclesPerBatch = 10000
)

// SubstitutePathRule describes a rule for substitution of path to source code file.
type SubstitutePathRule struct {
	// Directory path will be substituted if it matches `From`.
	From string
	// Path to which substitution is performed.
	To string
}

// SubstitutePathRules is a slice of source code path substitution rules.
type SubstitutePathRules []SubstitutePathRule

// Substitute applies the first rule whose From is a directory prefix of
// file.
func (rules SubstitutePathRules) Substitute(file string) string {
	for _, r := range rules {
		from := strings.TrimSuffix(r.From, "/")
		if from == "" {
			continue
		}
		if file == from {
			return r.To
		}
		if strings.HasPrefix(file, from+"/") {
			return path.Join(r.To, file[len(from)+1:])
		}
	}
	return file
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`
	// Source code path substitution rules.
	SubstitutePath SubstitutePathRules `yaml:"substitute-path"`

	// Source list line-number color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	SourceListLineColor int `yaml:"source-list-line-color"`

	// SourceListCacheSize is the number of source files kept in memory by
	// the list command.
	SourceListCacheSize *int `yaml:"source-list-cache-size,omitempty"`

	// DebugMode is the debug mode sessions start in, "asm" or "hll".
	DebugMode string `yaml:"debug-mode,omitempty"`

	// MaxCyclesPerBatch is the number of cycles simulated while holding the
	// processor lock when running.
	MaxCyclesPerBatch *int `yaml:"max-cycles-per-batch,omitempty"`

	// HistoryFile is the file the terminal saves its command history to,
	// relative to the configuration directory.
	HistoryFile string `yaml:"history-file,omitempty"`
}

// GetSourceListCacheSize returns SourceListCacheSize or its default.
func (c *Config) GetSourceListCacheSize() int {
	if c.SourceListCacheSize == nil || *c.SourceListCacheSize <= 0 {
		return DefaultSourceListCacheSize
	}
	return *c.SourceListCacheSize
}

// GetMaxCyclesPerBatch returns MaxCyclesPerBatch or its default.
func (c *Config) GetMaxCyclesPerBatch() int {
	if c.MaxCyclesPerBatch == nil || *c.MaxCyclesPerBatch <= 0 {
		return DefaultMaxCyclesPerBatch
	}
	return *c.MaxCyclesPerBatch
}

// GetHistoryFile returns the path of the history file.
func (c *Config) GetHistoryFile() (string, error) {
	name := c.HistoryFile
	if name == "" {
		name = ".picdbg_history"
	}
	if path.IsAbs(name) {
		return name, nil
	}
	return GetConfigFilePath(name)
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("unable to rewind config file: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the picdbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Uncomment the following line and set your preferred ANSI foreground color
# for source line numbers in the (list) command (if unset, default is 34,
# dark blue) See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# source-list-line-color: 34

# Number of source files the list command keeps in memory.
# source-list-cache-size: 16

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Define sources path substitution rules. Can be used to rewrite a source path stored
# in the symbol file, if the sources were moved to a different place after assembling.
# Note that substitution rules will not be used for paths passed to the "break" command.
substitute-path:
  # - {from: path, to: path}

# Debug mode new sessions start in: asm (assembly lines) or hll (compiler source lines).
# debug-mode: asm

# Number of cycles simulated between two checks for a pause request.
# max-cycles-per-batch: 10000

# File the terminal keeps its command history in, relative to this directory.
# history-file: .picdbg_history
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return path.Join(dir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
