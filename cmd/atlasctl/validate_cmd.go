package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/govatlas/core/pkg/atlas"
)

// runValidateCmd implements `atlasctl validate`: parse a manifest file and
// run it through the registry's own load-time validation, without
// retaining it anywhere.
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		manifestPath string
		jsonOutput   bool
	)
	cmd.StringVar(&manifestPath, "manifest", "", "Path to an atlas manifest JSON file (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if manifestPath == "" {
		_, _ = fmt.Fprintln(stderr, "error: --manifest is required")
		return 2
	}

	m, err := atlas.LoadManifestFile(manifestPath)
	if err != nil {
		return reportValidation(stdout, stderr, jsonOutput, manifestPath, err)
	}

	registry := atlas.NewRegistry()
	if _, err := registry.Load(m); err != nil {
		return reportValidation(stdout, stderr, jsonOutput, manifestPath, err)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"manifest": manifestPath, "valid": true, "atlas_id": m.AtlasID, "version": m.Version,
		}, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "valid: %s (%s@%s)\n", manifestPath, m.AtlasID, m.Version)
	}
	return 0
}

func reportValidation(stdout, stderr io.Writer, jsonOutput bool, manifestPath string, err error) int {
	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"manifest": manifestPath, "valid": false, "error": err.Error(),
		}, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stderr, "invalid: %s: %v\n", manifestPath, err)
	}
	return 1
}
