package bf_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MarcinKonowalczyk/bftape/bf"
	"github.com/MarcinKonowalczyk/bftape/utils"
)

func TestCompile(t *testing.T) {
	program, err := bf.Compile("+[>,.<-]")
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(program.Commands), 8)
	utils.AssertEqualMaps(t, program.Brackets.Pairs(), map[int]int{1: 7})
}

func TestCompile_TokenizeFailsFirst(t *testing.T) {
	// both lexically and structurally broken: lexing wins
	_, err := bf.Compile("]x")
	utils.AssertErrorIs(t, err, bf.TokenizeError)
	utils.Assert(t, !errors.Is(err, bf.InvalidBracketPair), "unexpected bracket error")
}

func TestCompile_BracketError(t *testing.T) {
	_, err := bf.Compile("+[")
	utils.AssertErrorIs(t, err, bf.InvalidBracketPair)
	utils.AssertErrorIs(t, err, &bf.Error{Kind: bf.InvalidBracketPair, Pos: 1})
}

func TestProgram_Reusable(t *testing.T) {
	program, err := bf.Compile(",+.")
	utils.AssertNoError(t, err)
	for _, in := range []byte{'a', 'x'} {
		var out bytes.Buffer
		_, err := program.NewInterpreter(1, bytes.NewReader([]byte{in}), &out).Run()
		utils.AssertNoError(t, err)
		utils.AssertEqualArrays(t, out.Bytes(), []byte{in + 1})
	}
}

func TestRunContext(t *testing.T) {
	var out bytes.Buffer
	result, err := bf.RunContext(context.Background(), ",[.,]", 1, strings.NewReader("abc"), &out)
	// the loop keeps reading until the input is exhausted
	utils.AssertErrorIs(t, err, bf.GetCharError)
	utils.Assert(t, result == nil, "expected no result on failure")
	utils.AssertEqual(t, out.String(), "abc")
}

func TestError_Message(t *testing.T) {
	utils.AssertEqual(t, (&bf.Error{Kind: bf.TokenizeError, Pos: -1}).Error(), "cannot tokenize")
	utils.AssertEqual(t, (&bf.Error{Kind: bf.InvalidBracketPair, Pos: 3}).Error(), "invalid bracket pair at position 3")
	utils.AssertEqual(t, bf.OutOfBounds.String(), "OutOfBounds")
}

func TestExitCode(t *testing.T) {
	utils.AssertEqual(t, bf.ExitCode(nil), 0)
	utils.AssertEqual(t, bf.ExitCode(errors.New("boom")), 1)

	kinds := []bf.ErrorKind{
		bf.TokenizeError,
		bf.InvalidBracketPair,
		bf.GetCharError,
		bf.NotFoundCloseBracket,
		bf.NotFoundOpenBracket,
		bf.OutOfBounds,
	}
	for _, kind := range kinds {
		err := fmt.Errorf("running: %w", &bf.Error{Kind: kind, Pos: 0})
		code := bf.ExitCode(err)
		got, ok := bf.KindFromExitCode(code)
		utils.Assert(t, ok, "exit code does not map back to a kind")
		utils.AssertEqual(t, got, kind)
	}

	_, ok := bf.KindFromExitCode(1)
	utils.Assert(t, !ok, "exit code 1 should not map to a kind")
	_, ok = bf.KindFromExitCode(137)
	utils.Assert(t, !ok, "exit code 137 should not map to a kind")
}
