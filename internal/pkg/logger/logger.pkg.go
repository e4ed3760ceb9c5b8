package logger

import (
	"io"
	"log"
	"os"
)

var (
	Info    = log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	Warning = log.New(os.Stdout, "WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
	Error   = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	Debug   = log.New(io.Discard, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
	HTTP    = log.New(os.Stdout, "HTTP: ", log.Ldate|log.Ltime)
)

// Setup (re)initializes the package loggers. DEBUG output is only enabled
// when LOG_DEBUG is set.
func Setup() {
	Info = log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	Warning = log.New(os.Stdout, "WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
	Error = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	HTTP = log.New(os.Stdout, "HTTP: ", log.Ldate|log.Ltime)

	var debugOut io.Writer = io.Discard
	if os.Getenv("LOG_DEBUG") != "" {
		debugOut = os.Stdout
	}
	Debug = log.New(debugOut, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
}

// SetOutput redirects every logger to w. Used by tests to assert on log lines.
func SetOutput(w io.Writer) {
	for _, l := range []*log.Logger{Info, Warning, Error, Debug, HTTP} {
		l.SetOutput(w)
	}
}
