package logbridge

import (
	"context"
	"fmt"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// NewCore returns a zapcore.Core which emits every enabled entry as an OpenTelemetry log record.
// A nil logger returns a no-op core.
func NewCore(logger otellog.Logger, enabler zapcore.LevelEnabler) zapcore.Core {
	if logger == nil {
		return zapcore.NewNopCore()
	}

	return &core{
		LevelEnabler: enabler,
		logger:       logger,
		now:          time.Now,
	}
}

type core struct {
	zapcore.LevelEnabler
	logger otellog.Logger
	fields []zapcore.Field
	now    func() time.Time
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append(make([]zapcore.Field, 0, len(c.fields)+len(fields)), c.fields...), fields...)
	return &clone
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	var r otellog.Record
	r.SetTimestamp(ent.Time)
	r.SetObservedTimestamp(c.now())
	r.SetSeverity(severity(ent.Level))
	r.SetSeverityText(ent.Level.CapitalString())
	r.SetBody(otellog.StringValue(ent.Message))

	if ent.LoggerName != "" {
		r.AddAttributes(otellog.String("logger", ent.LoggerName))
	}

	if ent.Caller.Defined {
		r.AddAttributes(otellog.String("caller", ent.Caller.TrimmedPath()))
	}

	if ent.Stack != "" {
		r.AddAttributes(otellog.String("stack", ent.Stack))
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}

	for _, f := range fields {
		f.AddTo(enc)
	}

	for key, value := range enc.Fields {
		r.AddAttributes(otellog.KeyValue{Key: key, Value: convert(value)})
	}

	c.logger.Emit(context.Background(), r)
	return nil
}

func (c *core) Sync() error {
	return nil
}

// severity maps zap levels to otel severities. logr verbosity levels below debug
// are mapped to the lower debug and trace severities.
func severity(l zapcore.Level) otellog.Severity {
	switch {
	case l <= zapcore.DebugLevel-3:
		return otellog.SeverityTrace
	case l < zapcore.DebugLevel:
		return otellog.SeverityDebug2
	case l == zapcore.DebugLevel:
		return otellog.SeverityDebug
	case l == zapcore.InfoLevel:
		return otellog.SeverityInfo
	case l == zapcore.WarnLevel:
		return otellog.SeverityWarn
	case l == zapcore.ErrorLevel:
		return otellog.SeverityError
	default:
		return otellog.SeverityFatal
	}
}

func convert(value any) otellog.Value {
	switch v := value.(type) {
	case string:
		return otellog.StringValue(v)
	case bool:
		return otellog.BoolValue(v)
	case int:
		return otellog.IntValue(v)
	case int8:
		return otellog.Int64Value(int64(v))
	case int16:
		return otellog.Int64Value(int64(v))
	case int32:
		return otellog.Int64Value(int64(v))
	case int64:
		return otellog.Int64Value(v)
	case uint8:
		return otellog.Int64Value(int64(v))
	case uint16:
		return otellog.Int64Value(int64(v))
	case uint32:
		return otellog.Int64Value(int64(v))
	case float32:
		return otellog.Float64Value(float64(v))
	case float64:
		return otellog.Float64Value(v)
	case time.Duration:
		return otellog.StringValue(v.String())
	case time.Time:
		return otellog.StringValue(v.Format(time.RFC3339Nano))
	case []byte:
		return otellog.BytesValue(v)
	case []any:
		values := make([]otellog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, convert(item))
		}

		return otellog.SliceValue(values...)
	case map[string]any:
		kvs := make([]otellog.KeyValue, 0, len(v))
		for key, item := range v {
			kvs = append(kvs, otellog.KeyValue{Key: key, Value: convert(item)})
		}

		return otellog.MapValue(kvs...)
	default:
		return otellog.StringValue(fmt.Sprint(v))
	}
}
