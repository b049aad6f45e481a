package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/grovetools/trail/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to stderr
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     os.Stderr,
	}
}

// Handle provides user-friendly error messages based on error type
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeDaemonUnavailable:
		fmt.Fprintf(h.Out, "Error: %v\n", err)
		fmt.Fprintf(h.Out, "Start the daemon with 'trail daemon start'.\n")

	case errors.ErrCodeTimeout:
		fmt.Fprintf(h.Out, "Error: the daemon did not answer in time\n")
		fmt.Fprintf(h.Out, "It may be busy capturing changes; try again or raise daemon.request_timeout.\n")

	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "Error: configuration not found\n")
		fmt.Fprintf(h.Out, "Run 'trail config schema' for the file format.\n")

	case errors.ErrCodeConfigInvalid, errors.ErrCodeConfigValidation:
		fmt.Fprintf(h.Out, "Error: %v\n", err)
		fmt.Fprintf(h.Out, "Check trail.yml against 'trail config schema'.\n")

	case errors.ErrCodeProtocol:
		if te, ok := err.(*errors.TrailError); ok {
			fmt.Fprintf(h.Out, "Error: %s\n", te.Message)
		} else {
			fmt.Fprintf(h.Out, "Error: %v\n", err)
		}

	default:
		fmt.Fprintf(h.Out, "Error: %v\n", err)
	}

	// If verbose mode, show full error details
	if h.Verbose {
		if te, ok := err.(*errors.TrailError); ok {
			fmt.Fprintf(h.Out, "\nError details:\n%s\n", te.ToJSON())
		}
	}
	return err
}
