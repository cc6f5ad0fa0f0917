package tui

import "strings"

// Command is a slash command typed in the composer, e.g. "/retry" or
// "/attach notes.pdf".
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command line without its leading '/'.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}
