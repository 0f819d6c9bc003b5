package shim

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/MarcinKonowalczyk/bftape/bf"
)

const configFilename = "config.json"

// Environment variables read from the container's process config
const (
	EnvMemorySize = "BF_MEMORY_SIZE"
	EnvStrict     = "BF_STRICT"
)

var sourceExtensions = []string{".bf", ".b", ".brainfuck"}

// subset of the OCI runtime spec
type ociSpec struct {
	Root struct {
		Path string `json:"path"`
	} `json:"root"`
	Process struct {
		Args []string `json:"args"`
		Env  []string `json:"env"`
	} `json:"process"`
}

// Bundle describes the program a task runs. The program is compiled while
// loading, so a broken source never gets a process.
type Bundle struct {
	Root       string
	Entrypoint string
	Env        []string
	Path       []string
	MemorySize int
	Strict     bool
	Program    *bf.Program
}

// LoadBundle reads config.json from an OCI bundle directory.
func LoadBundle(dir string) (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(dir, configFilename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", configFilename, errdefs.ErrNotFound)
		}
		return nil, err
	}

	var spec ociSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %v: %w", configFilename, err, errdefs.ErrInvalidArgument)
	}

	root := spec.Root.Path
	if root == "" {
		return nil, fmt.Errorf("root path not found in %s: %w", configFilename, errdefs.ErrInvalidArgument)
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}

	if len(spec.Process.Args) != 1 {
		return nil, fmt.Errorf("expected exactly one arg in the CMD, got %d: %w", len(spec.Process.Args), errdefs.ErrInvalidArgument)
	}
	entrypoint := spec.Process.Args[0]
	if !slices.Contains(sourceExtensions, filepath.Ext(entrypoint)) {
		return nil, fmt.Errorf("entry point %s is not a brainfuck source: %w", entrypoint, errdefs.ErrInvalidArgument)
	}

	b := &Bundle{
		Root:       root,
		Entrypoint: entrypoint,
		Env:        spec.Process.Env,
		MemorySize: bf.DefaultMemorySize,
	}
	if err := b.applyEnv(); err != nil {
		return nil, err
	}
	if err := b.compile(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bundle) applyEnv() error {
	for _, env := range b.Env {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		switch key {
		case "PATH":
			b.Path = strings.Split(value, ":")
		case EnvMemorySize:
			size, err := strconv.Atoi(value)
			if err != nil || size <= 0 {
				return fmt.Errorf("%s must be a positive integer, got %q: %w", EnvMemorySize, value, errdefs.ErrInvalidArgument)
			}
			b.MemorySize = size
		case EnvStrict:
			strict, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("%s must be a boolean, got %q: %w", EnvStrict, value, errdefs.ErrInvalidArgument)
			}
			b.Strict = strict
		}
	}
	return nil
}

func (b *Bundle) compile() error {
	data, err := os.ReadFile(b.FullPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("script %s does not exist: %w", b.Entrypoint, errdefs.ErrNotFound)
		}
		return fmt.Errorf("reading script %s: %w", b.Entrypoint, err)
	}
	source := string(data)
	if !b.Strict {
		source = bf.Strip(source)
	}
	program, err := bf.Compile(source)
	if err != nil {
		return fmt.Errorf("compiling %s: %w: %w", b.Entrypoint, err, errdefs.ErrInvalidArgument)
	}
	b.Program = program
	return nil
}

func (b *Bundle) FullPath() string {
	return filepath.Join(b.Root, b.Entrypoint)
}

// Args is the command line that runs the bundle's program through the
// interpreter binary at self.
func (b *Bundle) Args(self string, debug bool) []string {
	args := []string{self, InterpreterCommand, "-file", b.FullPath(), "-size", strconv.Itoa(b.MemorySize)}
	if b.Strict {
		args = append(args, "-strict")
	}
	if debug {
		args = append(args, "-debug")
	}
	return args
}
