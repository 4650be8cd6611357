package main

import (
	"strings"
	"testing"

	"github.com/srg/vspty/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type BaudCmdTestSuite struct {
	CommandTestSuite
}

func (s *BaudCmdTestSuite) TestConvertsStandardCodes() {
	tests := []struct {
		code     string
		expected string
	}{
		{code: "0x1002", expected: "115200\n"},
		{code: "010002", expected: "115200\n"},
		{code: "15", expected: "38400\n"},
		{code: "0xd", expected: "9600\n"},
		{code: "0", expected: "0\n"},
	}
	for _, tt := range tests {
		s.Run(tt.code, func() {
			s.SetupTest()
			out, err := s.ExecuteCommand("baud", tt.code)
			s.Require().NoError(err)
			testutils.NewTextAsserter(s.T()).Assert(out, tt.expected)
		})
	}
}

func (s *BaudCmdTestSuite) TestCustomCodeReportsSentinel() {
	// BOTHER
	out, err := s.ExecuteCommand("baud", "0x1000")
	s.Require().NoError(err)
	s.Equal("250000 (custom)\n", out)
}

func (s *BaudCmdTestSuite) TestInvalidCode() {
	_, err := s.ExecuteCommand("baud", "fast")
	s.ErrorIs(err, ErrInvalidSpeedCode)
}

func (s *BaudCmdTestSuite) TestMissingCode() {
	_, err := s.ExecuteCommand("baud")
	s.ErrorIs(err, ErrMissingSpeedCode)
}

func (s *BaudCmdTestSuite) TestList() {
	out, err := s.ExecuteCommand("baud", "--list")
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	s.Len(lines, 32, "header plus 31 standard speeds")
	s.Equal("CODE       OCTAL      BAUD", lines[0])
	s.Equal("0x0        0          0", lines[1])
	s.Contains(out, "0x1002     010002     115200\n")
	s.Equal("0x100f     010017     4000000", lines[len(lines)-1])
}

func TestBaudCmdTestSuite(t *testing.T) {
	suite.Run(t, new(BaudCmdTestSuite))
}
