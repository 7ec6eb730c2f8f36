package logsetup

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level returns the zap level of the configured verbosity.
func (o *Options) Level() zapcore.Level {
	return zapcore.Level(-1 * o.Verbose)
}

// DebugEnv enables the most verbose level when set to any value.
const DebugEnv = "IMPORTER_DEBUG"

type Options struct {
	Verbose     int8
	Encoding    string
	Development bool
}

func DefaultOptions() *Options {
	o := &Options{
		Encoding: "console",
	}

	if os.Getenv(DebugEnv) != "" {
		o.Verbose = 10
	}

	return o
}

func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.Int8VarP(&o.Verbose, "verbose", "v", o.Verbose, "Log verbosity level. With `0` only info and errors are visible, every level above adds debug output.")
	fs.StringVar(&o.Encoding, "log-encoding", o.Encoding, "Log encoding format, one of `console` or `json`.")
	fs.BoolVar(&o.Development, "log-development", o.Development, "Use the zap development mode which adds stacktraces to warnings.")
}

// Build returns the logger and a function which flushes buffered entries.
// Entries are additionally written to the given cores.
func (o *Options) Build(cores ...zapcore.Core) (logr.Logger, func() error, error) {
	if o.Encoding != "console" && o.Encoding != "json" {
		return logr.Discard(), nil, fmt.Errorf("invalid log encoding given: %s", o.Encoding)
	}

	zapConfig := zap.NewProductionConfig()
	if o.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}

	zapConfig.Encoding = o.Encoding
	zapConfig.Level = zap.NewAtomicLevelAt(o.Level())
	zapConfig.Sampling = nil
	zapConfig.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	zapConfig.EncoderConfig.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if l < zapcore.InfoLevel {
			enc.AppendString(fmt.Sprintf("debug(%d)", int(l)*-1))
			return
		}

		enc.AppendString(l.String())
	}

	zapLog, err := zapConfig.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(append([]zapcore.Core{core}, cores...)...)
	}))
	if err != nil {
		return logr.Discard(), nil, err
	}

	return zapr.NewLogger(zapLog), zapLog.Sync, nil
}
