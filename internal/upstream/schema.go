package upstream

import (
	"bytes"
	"embed"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Collaborator paths, relative to the configured base address.
const (
	PathAnalyse   = "/pii/analyse"
	PathTokenise  = "/pii/tokenise"
	PathPolicy    = "/policy/check"
	PathSearch    = "/search"
	PathSummarise = "/summarise"
	PathAuditLog  = "/audit/log"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	PathAnalyse:   "pii_analyse.json",
	PathTokenise:  "pii_tokenise.json",
	PathPolicy:    "policy_check.json",
	PathSearch:    "search.json",
	PathSummarise: "summarise.json",
	PathAuditLog:  "audit_log.json",
}

// responseSchemas holds the compiled response schema for every known path.
// Paths without an entry are decoded without validation.
var responseSchemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	out := make(map[string]*jsonschema.Schema, len(schemaFiles))
	for p, file := range schemaFiles {
		data, err := schemaFS.ReadFile(path.Join("schemas", file))
		if err != nil {
			panic(fmt.Sprintf("upstream: read schema %s: %v", file, err))
		}
		url := "https://kpg.local/schemas/" + file
		if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("upstream: add schema %s: %v", file, err))
		}
		s, err := compiler.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("upstream: compile schema %s: %v", file, err))
		}
		out[p] = s
	}
	return out
}

func schemaFor(p string) *jsonschema.Schema {
	return responseSchemas[p]
}
