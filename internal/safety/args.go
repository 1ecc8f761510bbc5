package safety

import (
	"fmt"
	"strings"

	"aegis/internal/errutil"
)

// ParsedArgs is a closed union of the argument shapes the safety layer
// understands. Unrecognized tools decode to UnknownArgs rather than failing,
// so new tools pass through classification without code changes here.
type ParsedArgs interface {
	isParsedArgs()
}

// ShellArgs are arguments for shell-style execution tools.
type ShellArgs struct {
	Command string
}

// FileWriteArgs are arguments for tools that create or overwrite a file.
type FileWriteArgs struct {
	Path string
}

// FileEditArgs are arguments for tools that modify an existing file in place.
type FileEditArgs struct {
	Path string
}

// FileDeleteArgs are arguments for tools that remove a file.
type FileDeleteArgs struct {
	Path string
}

// UnknownArgs is the fallback for tools the safety layer has no shape for.
type UnknownArgs struct {
	Raw map[string]any
}

func (ShellArgs) isParsedArgs()      {}
func (FileWriteArgs) isParsedArgs()  {}
func (FileEditArgs) isParsedArgs()   {}
func (FileDeleteArgs) isParsedArgs() {}
func (UnknownArgs) isParsedArgs()    {}

// Tool-name groupings. Names follow the builtin registry plus common aliases
// seen from external tool servers.
var (
	shellToolNames = map[string]bool{
		"bash":            true,
		"shell":           true,
		"sh":              true,
		"execute_command": true,
		"run_command":     true,
	}
	fileWriteToolNames = map[string]bool{
		"file_write":  true,
		"write_file":  true,
		"create_file": true,
	}
	fileEditToolNames = map[string]bool{
		"file_edit":   true,
		"edit_file":   true,
		"file_update": true,
		"apply_patch": true,
	}
	fileDeleteToolNames = map[string]bool{
		"file_delete": true,
		"delete_file": true,
		"remove_file": true,
	}
)

// DecodeArgs validates a call's argument bag against the shape its tool name
// implies. Known tools with missing or mistyped required fields fail with a
// ValidationError; unknown tools never fail.
func DecodeArgs(call ToolCall) (ParsedArgs, error) {
	name := strings.ToLower(strings.TrimSpace(call.Name))

	switch {
	case shellToolNames[name]:
		command, err := requireString(call, "command")
		if err != nil {
			return nil, err
		}
		return ShellArgs{Command: command}, nil

	case fileWriteToolNames[name]:
		path, err := requireString(call, "path")
		if err != nil {
			return nil, err
		}
		return FileWriteArgs{Path: path}, nil

	case fileEditToolNames[name]:
		path, err := requireString(call, "path")
		if err != nil {
			return nil, err
		}
		return FileEditArgs{Path: path}, nil

	case fileDeleteToolNames[name]:
		path, err := requireString(call, "path")
		if err != nil {
			return nil, err
		}
		return FileDeleteArgs{Path: path}, nil

	default:
		return UnknownArgs{Raw: call.Arguments}, nil
	}
}

func requireString(call ToolCall, field string) (string, error) {
	raw, ok := call.Arguments[field]
	if !ok {
		return "", &errutil.ValidationError{
			Tool:  call.Name,
			Field: field,
			Err:   fmt.Errorf("missing required field"),
		}
	}
	value, ok := raw.(string)
	if !ok {
		return "", &errutil.ValidationError{
			Tool:  call.Name,
			Field: field,
			Err:   fmt.Errorf("expected string, got %T", raw),
		}
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", &errutil.ValidationError{
			Tool:  call.Name,
			Field: field,
			Err:   fmt.Errorf("cannot be empty"),
		}
	}
	return trimmed, nil
}

// MutatedPath returns the filesystem path a call will touch, if its argument
// shape names one. Shell commands contribute no trackable path.
func MutatedPath(call ToolCall) (string, bool) {
	parsed, err := DecodeArgs(call)
	if err != nil {
		return "", false
	}
	switch args := parsed.(type) {
	case FileWriteArgs:
		return args.Path, true
	case FileEditArgs:
		return args.Path, true
	case FileDeleteArgs:
		return args.Path, true
	default:
		return "", false
	}
}
