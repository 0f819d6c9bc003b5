package bf

import (
	"context"
	"io"

	"github.com/containerd/log"
)

const DefaultMemorySize = 30_000

type Status int

const (
	Running Status = iota
	Halted
	Failed
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Halted:
		return "halted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the position of the machine: which cell is active and which
// command is dispatched next.
type State struct {
	DataPtr    int
	ProgramPtr int
}

// Result is what a successful run leaves behind.
type Result struct {
	Tape    []uint8
	DataPtr int
}

// Interpreter executes one program against its own tape. It is not safe for
// concurrent use.
//
// Cells are uint8 and wrap modulo 256. Moving the data pointer off either
// end of the tape is an OutOfBounds error.
type Interpreter struct {
	Program     []Command
	brackets    *BracketMap
	program_ptr int
	mem         []uint8
	mem_ptr     int
	Input       io.Reader
	Output      io.Writer

	status Status
	err    error
	in     [1]byte
	out    [1]byte
}

// NewInterpreter prepares a run. A non-positive size selects
// DefaultMemorySize. Nil input fails on the first Input command; nil output
// discards.
func NewInterpreter(program []Command, brackets *BracketMap, size int, input io.Reader, output io.Writer) *Interpreter {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &Interpreter{
		Program:     program,
		brackets:    brackets,
		program_ptr: 0,
		mem:         make([]uint8, size),
		mem_ptr:     0,
		Input:       input,
		Output:      output,
		status:      Running,
	}
}

func (i *Interpreter) Reset() {
	i.program_ptr = 0
	i.mem_ptr = 0
	for j := range i.mem {
		i.mem[j] = 0
	}
	i.status = Running
	i.err = nil
}

func (i *Interpreter) MemoryLength() int {
	return len(i.mem)
}

func wrapIndex(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// At indexes the memory. Negative indices count from the end.
func (i *Interpreter) At(j int) uint8 {
	return i.mem[wrapIndex(j, i.MemoryLength())]
}

// Memory returns a copy of the tape.
func (i *Interpreter) Memory() []uint8 {
	mem := make([]uint8, len(i.mem))
	copy(mem, i.mem)
	return mem
}

func (i *Interpreter) State() State {
	return State{DataPtr: i.mem_ptr, ProgramPtr: i.program_ptr}
}

func (i *Interpreter) Status() Status {
	return i.status
}

// Err is the error that moved the interpreter to Failed, if any.
func (i *Interpreter) Err() error {
	return i.err
}

func (i *Interpreter) Result() *Result {
	return &Result{Tape: i.Memory(), DataPtr: i.mem_ptr}
}

// Step dispatches the command under the program pointer and then advances
// it by one. Once the interpreter has halted or failed Step does nothing
// and returns the terminal error, if any.
func (i *Interpreter) Step() error {
	switch i.status {
	case Halted:
		return nil
	case Failed:
		return i.err
	}

	if i.program_ptr >= len(i.Program) {
		i.status = Halted
		return nil
	}

	if err := i.exec(i.Program[i.program_ptr]); err != nil {
		log.L.WithError(err).Debugf("failed at command %d", i.program_ptr)
		i.status = Failed
		i.err = err
		return err
	}

	i.program_ptr++
	if i.program_ptr >= len(i.Program) {
		i.status = Halted
	}
	return nil
}

func (i *Interpreter) exec(c Command) error {
	switch c {
	case Increment:
		i.mem[i.mem_ptr]++
	case Decrement:
		i.mem[i.mem_ptr]--
	case Right:
		if i.mem_ptr+1 >= len(i.mem) {
			return newError(OutOfBounds, i.program_ptr)
		}
		i.mem_ptr++
	case Left:
		if i.mem_ptr == 0 {
			return newError(OutOfBounds, i.program_ptr)
		}
		i.mem_ptr--
	case Output:
		i.write()
	case Input:
		return i.read()
	case LoopStart:
		end, ok := i.brackets.Close(i.program_ptr)
		if !ok || end <= i.program_ptr || end >= len(i.Program) || i.Program[end] != LoopEnd {
			return newError(NotFoundCloseBracket, i.program_ptr)
		}
		if i.mem[i.mem_ptr] == 0 {
			i.program_ptr = end
		}
	case LoopEnd:
		start, ok := i.brackets.Open(i.program_ptr)
		if !ok || start >= i.program_ptr || start < 0 || i.Program[start] != LoopStart {
			return newError(NotFoundOpenBracket, i.program_ptr)
		}
		if i.mem[i.mem_ptr] != 0 {
			i.program_ptr = start
		}
	default:
		return newError(TokenizeError, noPos)
	}
	return nil
}

// read consumes exactly one byte from Input into the current cell.
func (i *Interpreter) read() error {
	if i.Input == nil {
		return newError(GetCharError, noPos)
	}
	if _, err := io.ReadFull(i.Input, i.in[:]); err != nil {
		log.L.WithError(err).Debug("reading input byte")
		return newError(GetCharError, noPos)
	}
	i.mem[i.mem_ptr] = i.in[0]
	return nil
}

// write emits the current cell as one byte. Sink errors are not part of the
// interpreter's failure modes.
func (i *Interpreter) write() {
	if i.Output == nil {
		return
	}
	i.out[0] = i.mem[i.mem_ptr]
	if _, err := i.Output.Write(i.out[:]); err != nil {
		log.L.WithError(err).Debug("writing output byte")
	}
}

// Run the program in a loop until it finishes or an error occurs. The
// context is checked between commands; a blocked read is not interrupted.
func (i *Interpreter) RunContext(ctx context.Context) (*Result, error) {
	log.G(ctx).Debugf("running %d commands on %d cells", len(i.Program), len(i.mem))
	for i.status == Running {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := i.Step(); err != nil {
			return nil, err
		}
	}
	if i.status == Failed {
		return nil, i.err
	}
	return i.Result(), nil
}

func (i *Interpreter) Run() (*Result, error) {
	return i.RunContext(context.Background())
}
