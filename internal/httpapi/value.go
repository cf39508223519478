package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"strconv"
	"time"

	"rmcerp.io/internal/apperr"
)

// ValueKind enumerates the scalar shapes a body field may take.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindDate
)

const dateLayout = "2006-01-02"

// Value is one scalar body value bound to a SQL parameter.
type Value struct {
	kind ValueKind
	b    bool
	num  json.Number
	str  string
	date time.Time
}

func Null() Value { return Value{kind: KindNull} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }
func Int(n int64) Value { return Value{kind: KindNumber, num: json.Number(strconv.FormatInt(n, 10))} }
func String(s string) Value { return Value{kind: KindString, str: s} }

// Date keeps the caller's text alongside the parsed instant.
func Date(text string, t time.Time) Value { return Value{kind: KindDate, str: text, date: t} }

func (v Value) Kind() ValueKind { return v.kind }

// Time returns the parsed instant of a date value.
func (v Value) Time() (time.Time, bool) { return v.date, v.kind == KindDate }

// Blank reports null values and empty strings.
func (v Value) Blank() bool {
	return v.kind == KindNull || (v.kind == KindString && v.str == "")
}

// Arg is the value handed to the driver. Integral numbers bind as int64;
// other numbers and dates bind as their exact text.
func (v Value) Arg() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		if n, err := v.num.Int64(); err == nil {
			return n
		}
		return v.num.String()
	case KindString, KindDate:
		return v.str
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return v.num.String()
	case KindString, KindDate:
		return v.str
	}
	return "null"
}

// Field is one key/value pair of a request body.
type Field struct {
	Name  string
	Value Value
}

// Fields preserves the order keys appeared in the body.
type Fields []Field

// Get returns the value for name.
func (fs Fields) Get(name string) (Value, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Has reports whether name is present.
func (fs Fields) Has(name string) bool {
	_, ok := fs.Get(name)
	return ok
}

// set replaces name in place or appends it.
func (fs Fields) set(name string, v Value) Fields {
	for i := range fs {
		if fs[i].Name == name {
			fs[i].Value = v
			return fs
		}
	}
	return append(fs, Field{Name: name, Value: v})
}

// DecodeFields parses a JSON object body into ordered scalar fields. Keys
// listed in skip are consumed without being returned. A repeated key keeps
// its first position and its last value.
func DecodeFields(body []byte, skip ...string) (Fields, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, apperr.Validation("Request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, invalidBody(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, apperr.Validation("Request body must be a JSON object")
	}

	var (
		out     Fields
		invalid []apperr.FieldError
	)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, invalidBody(err)
		}
		key, _ := keyTok.(string)

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return nil, invalidBody(err)
		}
		if slices.Contains(skip, key) {
			continue
		}
		v, ok := scalar(raw)
		if !ok {
			invalid = append(invalid, apperr.FieldError{Field: key, Message: "must be a scalar value"})
			continue
		}
		out = out.set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, invalidBody(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, apperr.Validation("Request body must contain a single JSON object")
	}
	if len(invalid) > 0 {
		return nil, apperr.Validation("unsupported field values", invalid...)
	}
	return out, nil
}

func scalar(raw any) (Value, bool) {
	switch v := raw.(type) {
	case nil:
		return Null(), true
	case bool:
		return Bool(v), true
	case json.Number:
		return Number(v), true
	case string:
		if t, ok := parseDate(v); ok {
			return Date(v, t), true
		}
		return String(v), true
	}
	return Value{}, false
}

// parseDate recognises calendar dates and RFC 3339 timestamps.
func parseDate(s string) (time.Time, bool) {
	if len(s) == len(dateLayout) {
		if t, err := time.Parse(dateLayout, s); err == nil {
			return t, true
		}
		return time.Time{}, false
	}
	if len(s) > len(dateLayout) && s[len(dateLayout)] == 'T' {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func invalidBody(err error) error {
	return apperr.Validation("Request body must be a valid JSON object: " + err.Error())
}
