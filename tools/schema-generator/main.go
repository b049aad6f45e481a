package main

import (
	"log"
	"os"

	"github.com/grovetools/trail/config"
)

// Run from the config package via go generate; writes trail.schema.json
// next to the package sources.
func main() {
	schemaBytes, err := config.GenerateSchema()
	if err != nil {
		log.Fatalf("Error generating schema: %v", err)
	}

	outputPath := "trail.schema.json"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	if err := os.WriteFile(outputPath, schemaBytes, 0644); err != nil {
		log.Fatalf("Error writing schema file: %v", err)
	}

	log.Printf("Successfully generated trail schema at %s", outputPath)
}
