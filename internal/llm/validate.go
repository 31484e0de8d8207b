package llm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a named JSON Schema for a structured tutor reply, such as the
// evaluation verdict or a batch of generated missions. It compiles once, on
// first use, and must be shared by pointer.
type Schema struct {
	Name       string
	Definition map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// SchemaError names the schema a reply failed and the stage it failed at.
type SchemaError struct {
	Schema string
	Stage  string // decode, compile or validate
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Schema, e.Stage, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Validate checks a raw reply against schema. Failures are returned as
// *ErrInvalidResponse wrapping a *SchemaError. A nil schema accepts anything.
func Validate(schema *Schema, raw []byte) error {
	if schema == nil {
		return nil
	}
	fail := func(stage string, err error) error {
		return &ErrInvalidResponse{
			Content: string(raw),
			Err:     &SchemaError{Schema: schema.Name, Stage: stage, Err: err},
		}
	}

	var reply any
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fail("decode", err)
	}
	compiled, err := schema.compile()
	if err != nil {
		return fail("compile", err)
	}
	if err := compiled.Validate(reply); err != nil {
		return fail("validate", err)
	}
	return nil
}

func (s *Schema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		// Round-trip so typed slices like []string become []any.
		doc, err := json.Marshal(s.Definition)
		if err != nil {
			s.err = err
			return
		}
		var def any
		if err := json.Unmarshal(doc, &def); err != nil {
			s.err = err
			return
		}
		url := "guild://schemas/" + s.Name + ".json"
		c := jsonschema.NewCompiler()
		if err := c.AddResource(url, def); err != nil {
			s.err = err
			return
		}
		s.compiled, s.err = c.Compile(url)
	})
	return s.compiled, s.err
}
