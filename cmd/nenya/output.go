package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// render writes v to w in the requested format.
func render(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return err
		}

		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// errorStrings flattens per-item errors for reports.
func errorStrings[E error](errs []E) []string {
	if len(errs) == 0 {
		return nil
	}

	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}

	return out
}
