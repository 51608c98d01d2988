// Package notebook reads notebook documents written in HCL. Each `cell`
// block becomes one domain.Cell, in file order:
//
//	cell {
//	  language = "sql"
//	  source   = <<-EOT
//	    select * from sashelp.class;
//	  EOT
//	}
//
// Expressions may reference the process environment through `env`, e.g.
// "${env.HOME}". A literal "${" is written as "$${".
package notebook

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"cellrun/internal/domain"
)

type fileRoot struct {
	Cells []*cellBlock `hcl:"cell,block"`
}

type cellBlock struct {
	Language string `hcl:"language,optional"`
	Source   string `hcl:"source"`
}

// Load reads and decodes the notebook at path.
func Load(path string) ([]domain.Cell, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notebook: %w", err)
	}
	return Parse(path, src)
}

// Parse decodes notebook source. filename is used in diagnostics only.
func Parse(filename string, src []byte) ([]domain.Cell, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse notebook %s: %w", filename, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, evalContext(), &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode notebook %s: %w", filename, diags)
	}

	cells := make([]domain.Cell, 0, len(root.Cells))
	for i, b := range root.Cells {
		cells = append(cells, domain.Cell{
			Index:    i,
			Source:   strings.TrimSuffix(b.Source, "\n"),
			Language: domain.ParseLanguage(b.Language),
		})
	}
	return cells, nil
}

func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}
