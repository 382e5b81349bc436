// Package config loads accelerator, network and schedule descriptions from
// YAML files.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// decode parses YAML strictly: fields that the target does not declare are
// errors rather than being ignored.
func decode(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(out); err != nil {
		return errors.Wrap(err, "invalid YAML")
	}

	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s", path)
	}

	return data, nil
}
