package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	classColor  = color.New(color.FgCyan)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed, color.Bold)
)

func printError(w io.Writer, err error) {
	errColor.Fprint(w, "error: ")
	fmt.Fprintln(w, err)
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
