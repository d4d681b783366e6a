package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers is an AMQP header table that keeps the type of every field value
// when encoded as JSON. Each value is written as {"type": ..., "value": ...}
// so an archived record decodes to the exact table the broker delivered.
type Headers map[string]interface{}

// Field value type tags.
const (
	fieldBool    = "bool"
	fieldInt8    = "int8"
	fieldUint8   = "uint8"
	fieldInt16   = "int16"
	fieldUint16  = "uint16"
	fieldInt32   = "int32"
	fieldUint32  = "uint32"
	fieldInt64   = "int64"
	fieldInt     = "int"
	fieldFloat32 = "float32"
	fieldFloat64 = "float64"
	fieldString  = "string"
	fieldBytes   = "bytes"
	fieldTime    = "timestamp"
	fieldDecimal = "decimal"
	fieldTable   = "table"
	fieldArray   = "array"
	fieldVoid    = "void"
)

type taggedField struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// NewHeaders copies t, normalizing timestamps to UTC. Empty tables become
// nil.
func NewHeaders(t amqp.Table) Headers {
	if len(t) == 0 {
		return nil
	}
	return Headers(normalizeTable(t))
}

// Table returns the headers as an amqp.Table
func (h Headers) Table() amqp.Table {
	if h == nil {
		return nil
	}
	return amqp.Table(h)
}

// MarshalJSON implements json.Marshaler
func (h Headers) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("null"), nil
	}
	return marshalTable(h)
}

// UnmarshalJSON implements json.Unmarshaler
func (h *Headers) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*h = nil
		return nil
	}
	t, err := unmarshalTable(data)
	if err != nil {
		return err
	}
	*h = Headers(t)
	return nil
}

func normalizeTable(t map[string]interface{}) amqp.Table {
	out := make(amqp.Table, len(t))
	for k, v := range t {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case amqp.Table:
		return normalizeTable(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func marshalTable(t map[string]interface{}) ([]byte, error) {
	fields := make(map[string]taggedField, len(t))
	for k, v := range t {
		f, err := encodeField(v)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", k, err)
		}
		fields[k] = f
	}
	return json.Marshal(fields)
}

func unmarshalTable(data []byte) (amqp.Table, error) {
	var fields map[string]taggedField
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	t := make(amqp.Table, len(fields))
	for k, f := range fields {
		v, err := decodeField(f)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", k, err)
		}
		t[k] = v
	}
	return t, nil
}

func encodeField(v interface{}) (taggedField, error) {
	var tag string
	var value interface{} = v

	switch x := v.(type) {
	case nil:
		return taggedField{Type: fieldVoid}, nil
	case bool:
		tag = fieldBool
	case int8:
		tag = fieldInt8
	case uint8:
		tag = fieldUint8
	case int16:
		tag = fieldInt16
	case uint16:
		tag = fieldUint16
	case int32:
		tag = fieldInt32
	case uint32:
		tag = fieldUint32
	case int64:
		tag = fieldInt64
	case int:
		tag = fieldInt
	case float32:
		tag = fieldFloat32
	case float64:
		tag = fieldFloat64
	case string:
		tag = fieldString
	case []byte:
		tag = fieldBytes
	case time.Time:
		tag = fieldTime
		value = x.UTC()
	case amqp.Decimal:
		tag = fieldDecimal
	case amqp.Table:
		raw, err := marshalTable(x)
		if err != nil {
			return taggedField{}, err
		}
		return taggedField{Type: fieldTable, Value: raw}, nil
	case []interface{}:
		items := make([]taggedField, len(x))
		for i, e := range x {
			f, err := encodeField(e)
			if err != nil {
				return taggedField{}, err
			}
			items[i] = f
		}
		raw, err := json.Marshal(items)
		if err != nil {
			return taggedField{}, err
		}
		return taggedField{Type: fieldArray, Value: raw}, nil
	default:
		return taggedField{}, fmt.Errorf("unsupported field type %T", v)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return taggedField{}, err
	}
	return taggedField{Type: tag, Value: raw}, nil
}

func decodeField(f taggedField) (interface{}, error) {
	switch f.Type {
	case fieldVoid:
		return nil, nil
	case fieldBool:
		return decodeAs[bool](f.Value)
	case fieldInt8:
		return decodeAs[int8](f.Value)
	case fieldUint8:
		return decodeAs[uint8](f.Value)
	case fieldInt16:
		return decodeAs[int16](f.Value)
	case fieldUint16:
		return decodeAs[uint16](f.Value)
	case fieldInt32:
		return decodeAs[int32](f.Value)
	case fieldUint32:
		return decodeAs[uint32](f.Value)
	case fieldInt64:
		return decodeAs[int64](f.Value)
	case fieldInt:
		return decodeAs[int](f.Value)
	case fieldFloat32:
		return decodeAs[float32](f.Value)
	case fieldFloat64:
		return decodeAs[float64](f.Value)
	case fieldString:
		return decodeAs[string](f.Value)
	case fieldBytes:
		return decodeAs[[]byte](f.Value)
	case fieldTime:
		t, err := decodeAs[time.Time](f.Value)
		return t.UTC(), err
	case fieldDecimal:
		return decodeAs[amqp.Decimal](f.Value)
	case fieldTable:
		return unmarshalTable(f.Value)
	case fieldArray:
		var items []taggedField
		if err := json.Unmarshal(f.Value, &items); err != nil {
			return nil, err
		}
		out := make([]interface{}, len(items))
		for i, item := range items {
			v, err := decodeField(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", f.Type)
	}
}

func decodeAs[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
