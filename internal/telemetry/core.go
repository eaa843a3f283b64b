package telemetry

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/slices"
)

// Core returns a zapcore.Core writing entries at or above level to the
// recorder while tracking is on. Warnings and errors are prefixed so they
// stand out in the event file.
func (r *Recorder) Core(level zapcore.LevelEnabler) zapcore.Core {
	return &core{LevelEnabler: level, rec: r}
}

type core struct {
	zapcore.LevelEnabler
	rec    *Recorder
	fields []zapcore.Field
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}
	if _, ok := c.rec.Tracking(); !ok {
		return ce
	}
	return ce.AddCore(ent, c)
}

// Write never fails: an event that cannot be recorded is skipped.
func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	_ = c.rec.Record(formatEntry(ent, append(c.fields[:len(c.fields):len(c.fields)], fields...)))
	return nil
}

func (c *core) Sync() error {
	return c.rec.flush()
}

func formatEntry(ent zapcore.Entry, fields []zapcore.Field) string {
	var b strings.Builder
	switch {
	case ent.Level >= zapcore.ErrorLevel:
		b.WriteString("Error: ")
	case ent.Level == zapcore.WarnLevel:
		b.WriteString("Warning: ")
	}
	b.WriteString(ent.Message)
	if len(fields) == 0 {
		return b.String()
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, enc.Fields[k])
	}
	return b.String()
}
