package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggingTestCmd(t *testing.T, args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		fallback logrus.Level
		expected logrus.Level
	}{
		{name: "fallback", fallback: logrus.WarnLevel, expected: logrus.WarnLevel},
		{name: "verbose", args: []string{"--verbose"}, fallback: logrus.InfoLevel, expected: logrus.DebugLevel},
		{name: "log level wins over verbose", args: []string{"--verbose", "--log-level", "error"}, fallback: logrus.InfoLevel, expected: logrus.ErrorLevel},
		{name: "trace", args: []string{"--log-level", "trace"}, fallback: logrus.InfoLevel, expected: logrus.TraceLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(newLoggingTestCmd(t, tt.args...), "verbose", tt.fallback)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}
}

func TestConfigureLogger_InvalidLevel(t *testing.T) {
	_, err := configureLogger(newLoggingTestCmd(t, "--log-level", "loud"), "verbose", logrus.InfoLevel)
	assert.ErrorContains(t, err, "invalid log level: loud")
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
}
