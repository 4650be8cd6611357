package main

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/suite"
)

// syncBuffer lets a test poll command output while the command still runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs commands through rootCmd. Flag values live in package
// variables and survive between executions, so every test starts from the
// flag defaults.
type CommandTestSuite struct {
	suite.Suite
}

func (s *CommandTestSuite) SetupSuite() {
	color.NoColor = true
}

func (s *CommandTestSuite) SetupTest() {
	resetFlags(rootCmd.PersistentFlags())
	for _, c := range rootCmd.Commands() {
		resetFlags(c.Flags())
		// A context from a previous execution would otherwise be reused.
		c.SetContext(nil) //nolint:staticcheck
	}
}

func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

// ExecuteCommand runs rootCmd with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	out := new(syncBuffer)
	err := s.ExecuteCommandContext(context.Background(), out, args...)
	return out.String(), err
}

// ExecuteCommandContext runs rootCmd with args under ctx, writing stdout and
// stderr to out.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, out *syncBuffer, args ...string) error {
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
