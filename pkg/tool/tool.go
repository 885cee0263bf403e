package tool

import (
	"context"
	"errors"

	"github.com/emberhq/ember/pkg/mcp"
	"github.com/emberhq/ember/pkg/security"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON Schema for the tool's arguments, or nil
	// when the tool accepts anything.
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Error kinds attached to failed tool results.
const (
	KindTimeout          = "timeout"
	KindPathRestricted   = "path_restricted"
	KindInvalidArguments = "invalid_arguments"
	KindNotFound         = "not_found"
	KindMCP              = "mcp"
	KindExecution        = "execution"
)

// ErrNotFound reports a tool name with no registration.
var ErrNotFound = errors.New("tool not found")

// ClassifyErr maps an execution error to its result error kind.
func ClassifyErr(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, security.ErrPathRestricted):
		return KindPathRestricted
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		var verr *ValidationError
		if errors.As(err, &verr) {
			return KindInvalidArguments
		}
		var perr *mcp.ProtocolError
		if errors.As(err, &perr) || errors.Is(err, mcp.ErrServerUnavailable) {
			return KindMCP
		}
		return KindExecution
	}
}
