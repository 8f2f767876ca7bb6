package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func compiledSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Config"))
	})
	return schemaCtx, schemaDef, schemaErr
}

// ValidationError lists every schema violation of a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg *Config) error {
	ctx, def, err := compiledSchema()
	if err != nil {
		return err
	}

	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config for validation: %w", err)
	}
	v := ctx.CompileBytes(doc, cue.Filename("config.json"))
	if err := v.Err(); err != nil {
		return fmt.Errorf("build config value: %w", err)
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var problems []string
		for _, e := range cueerrors.Errors(err) {
			problems = append(problems, e.Error())
		}
		if len(problems) == 0 {
			problems = []string{err.Error()}
		}
		return &ValidationError{Problems: problems}
	}
	return nil
}
