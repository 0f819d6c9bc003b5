package main

import (
	"testing"

	"github.com/MarcinKonowalczyk/bftape/utils"
)

func TestBrainfuckArgs(t *testing.T) {
	args, ok := brainfuckArgs([]string{"brainfuck", "-file", "x.bf"})
	utils.Assert(t, ok, "expected the brainfuck sub-command")
	utils.AssertEqualArrays(t, args, []string{"-file", "x.bf"})

	args, ok = brainfuckArgs([]string{"-debug", "brainfuck", "-file", "x.bf"})
	utils.Assert(t, ok, "expected the brainfuck sub-command")
	utils.AssertEqualArrays(t, args, []string{"-debug", "-file", "x.bf"})
}

func TestBrainfuckArgs_ShimMode(t *testing.T) {
	in := []string{"-namespace", "default", "-id", "abc", "start"}
	args, ok := brainfuckArgs(in)
	utils.Assert(t, !ok, "unexpected brainfuck sub-command")
	utils.AssertEqualArrays(t, args, in)
}
