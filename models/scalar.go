package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type scalarKind uint8

const (
	kindNull scalarKind = iota
	kindString
	kindNumber
	kindBool
)

// Scalar holds one loosely-typed extracted value. Extractors (and the LLM in
// particular) hand back numbers as strings, strings as numbers, and nulls
// everywhere; Scalar keeps what was seen so the normalizer can coerce it.
type Scalar struct {
	kind scalarKind
	str  string
	num  float64
	b    bool
}

func Text(s string) Scalar {
	return Scalar{kind: kindString, str: s}
}

func Number(f float64) Scalar {
	return Scalar{kind: kindNumber, num: f}
}

func Bool(b bool) Scalar {
	return Scalar{kind: kindBool, b: b}
}

func (s Scalar) IsNull() bool   { return s.kind == kindNull }
func (s Scalar) IsNumber() bool { return s.kind == kindNumber }
func (s Scalar) IsString() bool { return s.kind == kindString }

// Empty reports whether the value is null or a blank string.
func (s Scalar) Empty() bool {
	switch s.kind {
	case kindNull:
		return true
	case kindString:
		return strings.TrimSpace(s.str) == ""
	}
	return false
}

// String renders the value as text. Null renders as "".
func (s Scalar) String() string {
	switch s.kind {
	case kindString:
		return s.str
	case kindNumber:
		return strconv.FormatFloat(s.num, 'f', -1, 64)
	case kindBool:
		return strconv.FormatBool(s.b)
	}
	return ""
}

// Float returns the numeric value when the scalar was decoded as a number.
func (s Scalar) Float() (float64, bool) {
	if s.kind == kindNumber {
		return s.num, true
	}
	return 0, false
}

var truthy = map[string]bool{
	"true": true, "yes": true, "si": true, "sí": true, "1": true, "verdadero": true, "x": true,
}

// Truthy interprets booleans, non-zero numbers and the usual yes-words.
func (s Scalar) Truthy() bool {
	switch s.kind {
	case kindBool:
		return s.b
	case kindNumber:
		return s.num != 0
	case kindString:
		return truthy[strings.ToLower(strings.TrimSpace(s.str))]
	}
	return false
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case kindString:
		return json.Marshal(s.str)
	case kindNumber:
		return json.Marshal(s.num)
	case kindBool:
		return json.Marshal(s.b)
	}
	return []byte("null"), nil
}

// UnmarshalJSON never fails on shape: objects and arrays decode to null.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*s = Scalar{}
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return nil
		}
		*s = Text(str)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil
		}
		*s = Bool(b)
	case 'n', '{', '[':
		return nil
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return nil
		}
		*s = Number(f)
	}
	return nil
}

// StringList accepts only list-shaped JSON; anything else decodes empty.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	*l = nil
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	for _, item := range items {
		var v Scalar
		_ = v.UnmarshalJSON(item)
		if str := strings.TrimSpace(v.String()); str != "" {
			*l = append(*l, str)
		}
	}
	return nil
}
