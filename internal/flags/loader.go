package flags

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of a flag definition file:
//
//	flags:
//	  - name: export_pdf
//	    enabled: true
//	    rollout_percent: 100
//	    allowed_cohorts: [all]
type document struct {
	Flags []FeatureFlag `yaml:"flags"`
}

// LoadFile reads flag definitions from a YAML file.
func LoadFile(path string) ([]FeatureFlag, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flag file: %w", err)
	}
	flags, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("flag file %s: %w", path, err)
	}
	return flags, nil
}

// Parse decodes and validates a flag definition document. Unknown fields are
// rejected so that typos do not silently produce default values.
func Parse(r io.Reader) ([]FeatureFlag, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidFlag, err)
	}

	seen := make(map[string]struct{}, len(doc.Flags))
	for i, f := range doc.Flags {
		if err := Validate(f); err != nil {
			return nil, fmt.Errorf("flag #%d: %w", i, err)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("%w: %q declared twice", ErrFlagExists, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return doc.Flags, nil
}
