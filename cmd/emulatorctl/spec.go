// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ava-labs/emulatorvm/machine"
)

// loadSpec reads a machine spec from [path]. Files ending in .json are read as
// JSON, anything else as YAML.
func loadSpec(path string) (machine.Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return machine.Spec{}, err
	}
	return parseSpec(raw, strings.EqualFold(filepath.Ext(path), ".json"))
}

func parseSpec(raw []byte, isJSON bool) (machine.Spec, error) {
	var spec machine.Spec
	if isJSON {
		if err := json.Unmarshal(raw, &spec); err != nil {
			return machine.Spec{}, fmt.Errorf("couldn't parse spec: %w", err)
		}
	} else if err := yaml.Unmarshal(raw, &spec); err != nil {
		return machine.Spec{}, fmt.Errorf("couldn't parse spec: %w", err)
	}
	return spec, spec.Validate()
}
