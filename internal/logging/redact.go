package logging

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/patternd/internal/secrets"
)

// RedactedString creates a field that records only the length of val.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// redactingEncoder replaces values of sensitive keys and scrubs secrets out
// of string values. Snippet code that ends up in a log line goes through the
// same scrubber as pack snippets.
type redactingEncoder struct {
	zapcore.Encoder
	fields   map[string]bool
	scrubber *secrets.Scrubber
}

func newRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig, scrubber *secrets.Scrubber) zapcore.Encoder {
	if !cfg.Enabled {
		return base
	}
	fields := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields[strings.ToLower(f)] = true
	}
	return &redactingEncoder{Encoder: base, fields: fields, scrubber: scrubber}
}

func (e *redactingEncoder) sensitive(key string) bool {
	return e.fields[strings.ToLower(key)]
}

// EncodeEntry redacts per-entry fields and the message. Fields attached
// with Logger.With reach the Add* methods instead.
func (e *redactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	ent.Message = e.scrubber.Scrub(ent.Message).Text
	clean := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch {
		case e.sensitive(f.Key):
			clean[i] = zap.String(f.Key, secrets.DefaultRedaction)
		case f.Type == zapcore.StringType:
			f.String = e.scrubber.Scrub(f.String).Text
			clean[i] = f
		default:
			clean[i] = f
		}
	}
	return e.Encoder.EncodeEntry(ent, clean)
}

func (e *redactingEncoder) AddString(key, val string) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, secrets.DefaultRedaction)
		return
	}
	e.Encoder.AddString(key, e.scrubber.Scrub(val).Text)
}

func (e *redactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddByteString(key, []byte(secrets.DefaultRedaction))
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *redactingEncoder) AddBinary(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddBinary(key, []byte(secrets.DefaultRedaction))
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *redactingEncoder) AddReflected(key string, val any) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, secrets.DefaultRedaction)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, secrets.DefaultRedaction)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *redactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, secrets.DefaultRedaction)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{
		Encoder:  e.Encoder.Clone(),
		fields:   e.fields,
		scrubber: e.scrubber,
	}
}
