package gqlerrors

import (
	"errors"

	"go.uber.org/zap"
)

// InternalMessage replaces the message of every error that is not client-safe.
const InternalMessage = "Internal server error"

type stackTracer interface {
	StackTrace() string
}

type extender interface {
	Extensions() map[string]any
}

// Formatter shapes errors for clients. Internal causes are logged and never
// serialized unless Debug is set.
type Formatter struct {
	Debug  bool
	Logger *zap.Logger
}

func NewFormatter(debug bool, logger *zap.Logger) *Formatter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Formatter{Debug: debug, Logger: logger}
}

// FormatList formats every error, preserving order.
func (f *Formatter) FormatList(list List) List {
	if len(list) == 0 {
		return nil
	}
	out := make(List, len(list))
	for i, e := range list {
		out[i] = f.Format(e)
	}
	return out
}

// Format returns the client-facing form of e. The input is not modified.
// Client-safe causes keep their own message, not the text of wrappers
// added on the way up.
func (f *Formatter) Format(e *Error) *Error {
	out := &Error{Message: e.Message, Locations: e.Locations, Path: e.Path, Err: e.Err}

	if e.Err == nil {
		out.Extensions = copyExtensions(e.Extensions)
		if _, ok := out.Extensions["category"]; !ok {
			out.SetExtension("category", CategoryGraphQL)
		}
		return out
	}

	var aware ClientAware
	if errors.As(e.Err, &aware) && aware.ClientSafe() {
		out.Message = aware.Error()
		out.Extensions = copyExtensions(e.Extensions)
		var ext extender
		if errors.As(e.Err, &ext) {
			for k, v := range ext.Extensions() {
				out.SetExtension(k, v)
			}
		}
		out.SetExtension("category", aware.Category())
		var verr *ValidationError
		if errors.As(e.Err, &verr) && len(verr.Fields) > 0 {
			out.SetExtension("validation", verr.Fields)
		}
		return out
	}

	f.logger().Error("internal error during execution",
		zap.Error(e.Err),
		zap.Any("path", e.Path),
	)
	out.Message = InternalMessage
	out.SetExtension("category", CategoryInternal)
	if f.Debug {
		out.SetExtension("debugMessage", e.Err.Error())
		var st stackTracer
		if errors.As(e.Err, &st) {
			out.SetExtension("trace", st.StackTrace())
		} else if len(e.stack) > 0 {
			out.SetExtension("trace", string(e.stack))
		}
	}
	return out
}

func (f *Formatter) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

func copyExtensions(ext map[string]any) map[string]any {
	if len(ext) == 0 {
		return nil
	}
	out := make(map[string]any, len(ext))
	for k, v := range ext {
		out[k] = v
	}
	return out
}
