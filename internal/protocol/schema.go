package protocol

import (
	"bytes"
	_ "embed"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/start.schema.json
var startSchemaJSON []byte

var (
	startSchemaOnce sync.Once
	startSchemaVal  *jsonschema.Schema
)

// startSchema checks the shape of start params. The schema is embedded, so a compile
// failure is a build defect.
func startSchema() *jsonschema.Schema {
	startSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource("start.schema.json", bytes.NewReader(startSchemaJSON)); err != nil {
			panic(err)
		}
		startSchemaVal = c.MustCompile("start.schema.json")
	})
	return startSchemaVal
}
