package report

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kbukum/sdtmforge/artifacts"
)

// Render serializes the report. Given equal reports the bytes are equal;
// everything inside is ordered and timestamp-free.
func Render(rep RunReport) ([]byte, error) {
	raw, err := yaml.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return raw, nil
}

// Write renders the report at path atomically.
func Write(path string, rep RunReport) error {
	raw, err := Render(rep)
	if err != nil {
		return err
	}
	return artifacts.AtomicWriteRaw(path, raw)
}
