package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcinKonowalczyk/bftape/bf"
	"github.com/MarcinKonowalczyk/bftape/cli"
	"github.com/MarcinKonowalczyk/bftape/utils"
)

func writeProgram(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.bf")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, stdin string, args ...string) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli.Main(context.Background(), "brainfuck", args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String()
}

func TestParseFlags(t *testing.T) {
	opts, err := cli.ParseFlags("brainfuck", []string{"-file", "x.bf", "-size", "16", "-strict"}, &bytes.Buffer{})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, opts.File, "x.bf")
	utils.AssertEqual(t, opts.Size, 16)
	utils.AssertEqual(t, opts.Strict, true)
	utils.AssertEqual(t, opts.Debug, false)
}

func TestParseFlags_Defaults(t *testing.T) {
	opts, err := cli.ParseFlags("brainfuck", []string{"-file", "x.bf"}, &bytes.Buffer{})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, opts.Size, bf.DefaultMemorySize)
	utils.AssertEqual(t, opts.Strict, false)
}

func TestParseFlags_MissingFile(t *testing.T) {
	_, err := cli.ParseFlags("brainfuck", nil, &bytes.Buffer{})
	utils.AssertError(t, err)
}

func TestParseFlags_BadSize(t *testing.T) {
	_, err := cli.ParseFlags("brainfuck", []string{"-file", "x.bf", "-size", "0"}, &bytes.Buffer{})
	utils.AssertError(t, err)
}

func TestMain_HelloWorld(t *testing.T) {
	path := writeProgram(t, "hello:\n++++++++++[>+++++++>++++++++++>+++>+<<<<-]>++.>+.+++++++..+++.>++.<<+++++++++++++++.>.+++.------.--------.>+.>.\n")
	code, out := run(t, "", "-file", path)
	utils.AssertEqual(t, code, 0)
	utils.AssertEqual(t, out, "Hello World!\n")
}

func TestMain_Echo(t *testing.T) {
	path := writeProgram(t, ",[.,]")
	code, out := run(t, "echo", "-file", path)
	// reading past the end of input is a GetCharError
	utils.AssertEqual(t, code, bf.ExitCode(&bf.Error{Kind: bf.GetCharError, Pos: -1}))
	utils.AssertEqual(t, out, "echo")
}

func TestMain_StrictRejectsComments(t *testing.T) {
	path := writeProgram(t, "+ +")
	code, _ := run(t, "", "-file", path, "-strict")
	kind, ok := bf.KindFromExitCode(code)
	utils.Assert(t, ok, "expected an interpreter exit code")
	utils.AssertEqual(t, kind, bf.TokenizeError)

	code, _ = run(t, "", "-file", path)
	utils.AssertEqual(t, code, 0)
}

func TestMain_UnbalancedBrackets(t *testing.T) {
	path := writeProgram(t, "+[")
	code, _ := run(t, "", "-file", path)
	kind, ok := bf.KindFromExitCode(code)
	utils.Assert(t, ok, "expected an interpreter exit code")
	utils.AssertEqual(t, kind, bf.InvalidBracketPair)
}

func TestMain_OutOfBounds(t *testing.T) {
	path := writeProgram(t, ">>>")
	code, _ := run(t, "", "-file", path, "-size", "2")
	kind, ok := bf.KindFromExitCode(code)
	utils.Assert(t, ok, "expected an interpreter exit code")
	utils.AssertEqual(t, kind, bf.OutOfBounds)
}

func TestMain_MissingFile(t *testing.T) {
	code, _ := run(t, "", "-file", filepath.Join(t.TempDir(), "nope.bf"))
	utils.AssertEqual(t, code, 1)
}

func TestMain_Usage(t *testing.T) {
	code, _ := run(t, "")
	utils.AssertEqual(t, code, 1)
	code, _ = run(t, "", "-h")
	utils.AssertEqual(t, code, 0)
}
