// Command generate-schema writes the JSON schema of the imapfs
// configuration file, for editor completion of config.yaml.
package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/marmos91/imapfs/pkg/config"
)

func main() {
	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if err := run(outputFile); err != nil {
		fmt.Fprintf(os.Stderr, "generate-schema: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", outputFile)
}

func run(outputFile string) error {
	schemaJSON, err := generate()
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputFile, schemaJSON, 0o644); err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}
	return nil
}

// generate reflects config.Config using its yaml keys, the names users
// write in config.yaml.
func generate() ([]byte, error) {
	reflector := jsonschema.Reflector{
		FieldNameTag:              "yaml",
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "imapfs configuration"
	schema.Description = "Configuration file of the imapfs command line"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return schemaJSON, nil
}
