package bf

import "strings"

type Command rune

const (
	Increment Command = '+'
	Decrement Command = '-'
	Left      Command = '<'
	Right     Command = '>'
	Output    Command = '.'
	Input     Command = ','
	LoopStart Command = '['
	LoopEnd   Command = ']'
)

const symbols = "+-<>.,[]"

func parse(c rune) (Command, bool) {
	switch c {
	case '+':
		return Increment, true
	case '-':
		return Decrement, true
	case '>':
		return Right, true
	case '<':
		return Left, true
	case '.':
		return Output, true
	case ',':
		return Input, true
	case '[':
		return LoopStart, true
	case ']':
		return LoopEnd, true
	default:
		return 0, false
	}
}

func (c Command) String() string {
	if _, ok := parse(rune(c)); !ok {
		return "?"
	}
	return string(rune(c))
}

// Strip drops everything that is not one of the eight commands. Tokenize
// itself is strict, so sources with comments or whitespace have to go
// through here first.
func Strip(input string) string {
	var sb strings.Builder
	sb.Grow(len(input))
	for _, c := range input {
		if strings.ContainsRune(symbols, c) {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

type Lexer struct {
	chars string
}

func NewLexer(input string) *Lexer {
	return &Lexer{
		chars: input,
	}
}

// Lex converts the source into commands. The first character outside the
// command set aborts lexing with a TokenizeError.
func (l *Lexer) Lex() ([]Command, error) {
	commands := make([]Command, 0, len(l.chars))
	for _, c := range l.chars {
		cmd, ok := parse(c)
		if !ok {
			return nil, newError(TokenizeError, noPos)
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

func Tokenize(input string) ([]Command, error) {
	return NewLexer(input).Lex()
}
