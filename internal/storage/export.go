package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/cosmic/internal/fault"
)

// ExportJSON writes the whole output as one indented JSON document.
func ExportJSON(w io.Writer, out *Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fault.Resource("export: %w", err)
	}
	return nil
}

// ExportJSONFile is ExportJSON to a file; "-" means stdout.
func ExportJSONFile(path string, out *Output) error {
	if path == "-" {
		return ExportJSON(os.Stdout, out)
	}
	f, err := os.Create(path)
	if err != nil {
		return fault.Resource("export: %w", err)
	}
	defer f.Close()
	if err := ExportJSON(f, out); err != nil {
		return err
	}
	return f.Close()
}
