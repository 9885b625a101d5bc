// Package errs defines the failure taxonomy shared by every tonelab package.
package errs

import (
	"context"
	"errors"
	"log"
	"os"
)

// DebugEnv names the environment variable that turns on Report.
const DebugEnv = "TONELAB_DEBUG"

var (
	// ErrInvalidArgument: a parameter is outside its documented domain.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound: unknown track or module identifier.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState: the operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrExternalFailure: the LLM or model collaborator failed or timed out.
	ErrExternalFailure = errors.New("external failure")
)

// UserMessage turns err into a sentence suitable for a terminal user.
// The wrapped internal detail is deliberately left out.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "The music assistant took too long to answer. Please try again."
	case errors.Is(err, ErrExternalFailure):
		return "The music assistant is unavailable right now. Check your network connection and API key."
	case errors.Is(err, ErrInvalidState):
		return "That action is not possible right now. Check the studio status and configuration."
	case errors.Is(err, ErrNotFound):
		return "The requested track or module does not exist."
	case errors.Is(err, ErrInvalidArgument):
		return "One of the values you entered is out of range or malformed."
	default:
		return "Something went wrong. Please try again."
	}
}

// Report logs the full error chain under prog when DebugEnv is set. Terminal
// users otherwise see only UserMessage.
func Report(prog string, err error) {
	if err == nil || os.Getenv(DebugEnv) == "" {
		return
	}
	log.Printf("%s: %v", prog, err)
}
