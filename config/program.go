package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Program selects which example executable the multi-program server runs.
type Program int

const (
	ProgramPosts Program = iota + 1
	ProgramPG
)

var programNames = []struct {
	program Program
	name    string
}{
	{ProgramPosts, "posts"},
	{ProgramPG, "pg"},
}

var (
	ErrMissingProgram = errors.New("no example program given")
	ErrUnknownProgram = errors.New("unknown example program")
)

// ParseProgram maps a startup selector to a Program. Matching is exact.
func ParseProgram(name string) (Program, error) {
	if name == "" {
		return 0, ErrMissingProgram
	}
	for _, p := range programNames {
		if p.name == name {
			return p.program, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProgram, name)
}

func (p Program) String() string {
	for _, n := range programNames {
		if n.program == p {
			return n.name
		}
	}
	return fmt.Sprintf("Program(%d)", int(p))
}

// Path returns the executable for p inside dir.
func (p Program) Path(dir string) string {
	return filepath.Join(dir, p.String())
}

// ProgramNames lists the accepted selectors in display order.
func ProgramNames() []string {
	names := make([]string, 0, len(programNames))
	for _, p := range programNames {
		names = append(names, p.name)
	}
	return names
}

// Usage is printed when the selector is missing or invalid.
func Usage() string {
	return fmt.Sprintf("Must pass example program as first argument. Options: %s.", strings.Join(ProgramNames(), ", "))
}
