package render

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DescriptorError reports a rendered descriptor that is not a YAML mapping.
type DescriptorError struct {
	Err error
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("rendered descriptor is not valid: %v", e.Err)
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}

// ValidateDescriptor checks that text parses as YAML with a mapping at the top
// level. It catches templates whose substituted values broke the document.
func ValidateDescriptor(text string) error {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return &DescriptorError{Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return &DescriptorError{Err: errors.New("document is empty")}
	}
	if root := doc.Content[0]; root.Kind != yaml.MappingNode {
		return &DescriptorError{Err: fmt.Errorf("line %d: top level must be a mapping", root.Line)}
	}
	return nil
}
