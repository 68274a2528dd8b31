package providers

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateTools checks that every tool's Function.Parameters is a
// well-formed JSON Schema document. It does not validate call arguments —
// only that the schema declared by the caller is itself valid — so a
// malformed tool definition is rejected before a request is routed, rather
// than surfacing a confusing provider-side error later.
func ValidateTools(tools []Tool) error {
	for _, t := range tools {
		if len(t.Function.Parameters) == 0 {
			continue
		}
		if err := validateSchema(t.Function.Name, t.Function.Parameters); err != nil {
			return err
		}
	}
	return nil
}

func validateSchema(name string, raw []byte) error {
	compiler := jsonschema.NewCompiler()
	resource := "tool://" + name
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return NewValidationError(fmt.Sprintf("tool %q: invalid parameters schema: %v", name, err))
	}
	if _, err := compiler.Compile(resource); err != nil {
		return NewValidationError(fmt.Sprintf("tool %q: invalid parameters schema: %v", name, err))
	}
	return nil
}
