package log

import "go.uber.org/zap"

var (
	Any      = zap.Any
	Bool     = zap.Bool
	Duration = zap.Duration
	Float64  = zap.Float64
	Int      = zap.Int
	Int64    = zap.Int64
	Uint64   = zap.Uint64
	String   = zap.String
	Strings  = zap.Strings
	Time     = zap.Time
)

// ErrorField is zap.Error, renamed to avoid the clash with the Error log function
func ErrorField(err error) Field {
	return zap.Error(err)
}
