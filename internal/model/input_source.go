package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type InputSourceKind string

const (
	SourceContext InputSourceKind = "context"
	SourceStep    InputSourceKind = "step"
)

// InputSource says where a workflow step input field is read from: a field of
// the workflow context, or a field of an earlier step's output.
// A source that failed to parse keeps Kind empty and resolves to nothing.
type InputSource struct {
	Kind  InputSourceKind `json:"source"`
	Index int             `json:"index,omitempty"`
	Field string          `json:"field"`

	raw string
}

func ContextField(field string) InputSource {
	return InputSource{Kind: SourceContext, Field: field}
}

func StepField(index int, field string) InputSource {
	return InputSource{Kind: SourceStep, Index: index, Field: field}
}

func (s InputSource) Valid() bool {
	switch s.Kind {
	case SourceContext:
		return s.Field != ""
	case SourceStep:
		return s.Index >= 0 && s.Field != ""
	default:
		return false
	}
}

func (s InputSource) String() string {
	switch s.Kind {
	case SourceContext:
		return "context." + s.Field
	case SourceStep:
		return strconv.Itoa(s.Index) + "." + s.Field
	default:
		return s.raw
	}
}

// ParseInputSource decodes the "context.<field>" / "<index>.<field>" form.
func ParseInputSource(ref string) (InputSource, error) {
	source, field, ok := strings.Cut(strings.TrimSpace(ref), ".")
	if !ok || field == "" {
		return InputSource{raw: ref}, fmt.Errorf("invalid input reference %q", ref)
	}
	if source == string(SourceContext) {
		return ContextField(field), nil
	}
	index, err := strconv.Atoi(source)
	if err != nil || index < 0 {
		return InputSource{raw: ref}, fmt.Errorf("invalid step index in input reference %q", ref)
	}
	return StepField(index, field), nil
}

// UnmarshalJSON accepts both the string reference and the object form.
// Malformed references decode to an invalid source instead of failing the
// whole request.
func (s *InputSource) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var ref string
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		parsed, _ := ParseInputSource(ref)
		*s = parsed
		return nil
	}

	type plain InputSource
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = InputSource(p)
	if !s.Valid() {
		s.raw = string(data)
	}
	return nil
}
