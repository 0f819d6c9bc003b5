package bf

import (
	"context"
	"io"

	"github.com/containerd/log"
)

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/bftape/bf.debug=true'"`
var debug string

// Debug reports whether debug logging was requested at link time.
func Debug() bool {
	return debug != ""
}

// Program is a tokenized source with its loops resolved. It is read-only
// and can be run any number of times.
type Program struct {
	Commands []Command
	Brackets *BracketMap
}

func Compile(source string) (*Program, error) {
	commands, err := Tokenize(source)
	if err != nil {
		return nil, err
	}
	brackets, err := ResolveBrackets(commands)
	if err != nil {
		return nil, err
	}
	return &Program{Commands: commands, Brackets: brackets}, nil
}

func (p *Program) NewInterpreter(size int, input io.Reader, output io.Writer) *Interpreter {
	return NewInterpreter(p.Commands, p.Brackets, size, input, output)
}

func RunContext(ctx context.Context, source string, size int, input io.Reader, output io.Writer) (*Result, error) {
	program, err := Compile(source)
	if err != nil {
		log.G(ctx).WithError(err).Debug("compile failed")
		return nil, err
	}
	return program.NewInterpreter(size, input, output).RunContext(ctx)
}

func Run(source string, size int, input io.Reader, output io.Writer) (*Result, error) {
	return RunContext(context.Background(), source, size, input, output)
}
