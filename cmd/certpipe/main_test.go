package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	code := Run([]string{"certpipe", "version"}, &out, io.Discard)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), version)
}

func TestRunUnknownCommand(t *testing.T) {
	var errOut bytes.Buffer
	code := Run([]string{"certpipe", "frobnicate"}, io.Discard, &errOut)

	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "frobnicate")
}

func TestRunDefaultsToServe(t *testing.T) {
	orig := startServer
	defer func() { startServer = orig }()

	called := false
	startServer = func(io.Writer) int {
		called = true
		return 0
	}

	code := Run([]string{"certpipe"}, io.Discard, io.Discard)
	assert.Equal(t, 0, code)
	assert.True(t, called)
}

func TestLogLevelParsing(t *testing.T) {
	assert.Equal(t, "DEBUG", logLevel("debug").String())
	assert.Equal(t, "INFO", logLevel("").String())
	assert.Equal(t, "ERROR", logLevel("error").String())
}
