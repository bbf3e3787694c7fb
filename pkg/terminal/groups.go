package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	breakCmds
	runCmds
	dataCmds
	sourceCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the program", runCmds},
	{"Manipulating breakpoints", breakCmds},
	{"Viewing registers and program memory", dataCmds},
	{"Viewing source files", sourceCmds},
	{"Other commands", otherCmds},
}
