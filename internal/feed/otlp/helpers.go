package otlp

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"

	"dash0.com/window-drain-backend/internal/store"
)

// logRecord is the JSON shape one OTLP log record is stored as.
type logRecord struct {
	TimeUnixNano         uint64         `json:"time_unix_nano,omitempty"`
	ObservedTimeUnixNano uint64         `json:"observed_time_unix_nano,omitempty"`
	SeverityNumber       int32          `json:"severity_number,omitempty"`
	SeverityText         string         `json:"severity_text,omitempty"`
	Service              string         `json:"service,omitempty"`
	Body                 any            `json:"body,omitempty"`
	Attributes           map[string]any `json:"attributes,omitempty"`
	TraceID              string         `json:"trace_id,omitempty"`
	SpanID               string         `json:"span_id,omitempty"`
}

// RecordFromLog renders one log record as a store record. Attributes from the
// record, its scope and its resource are flattened with that precedence.
// An error means the record cannot be represented as JSON.
func RecordFromLog(rec *logspb.LogRecord, scopeAttrs, resourceAttrs []*commonpb.KeyValue) (store.Record, error) {
	out := logRecord{
		TimeUnixNano:         rec.GetTimeUnixNano(),
		ObservedTimeUnixNano: rec.GetObservedTimeUnixNano(),
		SeverityNumber:       int32(rec.GetSeverityNumber()),
		SeverityText:         rec.GetSeverityText(),
		Attributes:           MergeAttrs(rec.GetAttributes(), scopeAttrs, resourceAttrs),
	}

	if svc, ok := ExtractAttrs("service.name", rec.GetAttributes(), scopeAttrs, resourceAttrs); ok {
		out.Service = svc
	}

	if rec.GetBody() != nil {
		out.Body = anyToValue(rec.GetBody())
	}

	if id := rec.GetTraceId(); len(id) > 0 {
		out.TraceID = hex.EncodeToString(id)
	}

	if id := rec.GetSpanId(); len(id) > 0 {
		out.SpanID = hex.EncodeToString(id)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	return store.Record(b), nil
}

// MergeAttrs flattens attributes; on key collisions log beats scope beats resource.
func MergeAttrs(logAttrs, scopeAttrs, resourceAttrs []*commonpb.KeyValue) map[string]any {
	n := len(logAttrs) + len(scopeAttrs) + len(resourceAttrs)
	if n == 0 {
		return nil
	}

	out := make(map[string]any, n)

	for _, kvs := range [][]*commonpb.KeyValue{resourceAttrs, scopeAttrs, logAttrs} {
		for _, kv := range kvs {
			if kv.GetValue() == nil {
				continue
			}

			out[kv.GetKey()] = anyToValue(kv.GetValue())
		}
	}

	return out
}

// ExtractAttrs finds the attribute value by precedence: logAttrs > scopeAttrs > resourceAttrs.
// Returns the canonical string representation and true if the key was found.
func ExtractAttrs(key string, logAttrs, scopeAttrs, resourceAttrs []*commonpb.KeyValue) (string, bool) {
	if v, ok := findInKVs(key, logAttrs); ok {
		return v, true
	}

	if v, ok := findInKVs(key, scopeAttrs); ok {
		return v, true
	}

	if v, ok := findInKVs(key, resourceAttrs); ok {
		return v, true
	}

	return "", false
}

func findInKVs(key string, kvs []*commonpb.KeyValue) (string, bool) {
	for _, kv := range kvs {
		if kv.GetKey() == key {
			if kv.GetValue() == nil {
				return "", false
			}

			return anyToString(kv.GetValue()), true
		}
	}

	return "", false
}

func anyToString(v *commonpb.AnyValue) string {
	switch x := anyToValue(v).(type) {
	case string:
		return x
	case bool, int64, float64:
		return fmt.Sprint(x)
	default:
		return "<unknown>"
	}
}

// anyToValue converts an OTLP value into plain JSON-encodable Go values.
func anyToValue(v *commonpb.AnyValue) any {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_BoolValue:
		return x.BoolValue
	case *commonpb.AnyValue_IntValue:
		return x.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return x.DoubleValue
	case *commonpb.AnyValue_BytesValue:
		return base64.StdEncoding.EncodeToString(x.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		vals := x.ArrayValue.GetValues()
		out := make([]any, 0, len(vals))

		for _, e := range vals {
			out = append(out, anyToValue(e))
		}

		return out
	case *commonpb.AnyValue_KvlistValue:
		kvs := x.KvlistValue.GetValues()
		out := make(map[string]any, len(kvs))

		for _, kv := range kvs {
			out[kv.GetKey()] = anyToValue(kv.GetValue())
		}

		return out
	default:
		return nil
	}
}
