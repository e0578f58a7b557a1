package server

import (
	"io"
	"log"
	"os"
)

// Package-level loggers. Debug output is discarded unless enabled.
var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lmicroseconds)
	debugLog = log.New(io.Discard, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds)
)

// EnableDebugLogging routes debug output to stderr.
func EnableDebugLogging() {
	debugLog.SetOutput(os.Stderr)
}
