// Package config loads knockd configuration from CUE.
//
// An operator file is unified with the embedded #Config schema, which
// carries every default, so an empty file yields a runnable configuration.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource []byte

// Config is the decoded knockd configuration.
type Config struct {
	Database     string   `json:"database"`
	FeeRecipient string   `json:"feeRecipient"`
	Identity     Identity `json:"identity"`
	HTTP         HTTP     `json:"http"`
	Redis        Redis    `json:"redis"`
	Log          Log      `json:"log"`
	Unpayable    []string `json:"unpayable"`
}

type Identity struct {
	Path     string `json:"path"`
	InMemory bool   `json:"inMemory"`
}

type HTTP struct {
	Addr string `json:"addr"`
}

type Redis struct {
	Addr   string `json:"addr"`
	Stream string `json:"stream"`
	MaxLen int64  `json:"maxLen"`
}

// Enabled reports whether a Redis sink should be started.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

type Log struct {
	Level string `json:"level"`
}

// SlogLevel maps the configured level name onto slog.
func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Error is a configuration error with its CUE source position, when known.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Default returns the schema defaults.
func Default() (Config, error) {
	return Parse(nil, "default.cue")
}

// Load reads and validates the CUE file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse unifies src with the schema and decodes the result. filename is
// used in error positions only.
func Parse(src []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile embedded schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	v := def.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	return cfg, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	e := &Error{Message: first.Error()}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		e.Pos = pos[0]
	}
	return e
}
