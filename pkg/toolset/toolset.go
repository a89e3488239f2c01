package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/knowhub/internal/tracing"
	"github.com/harun/knowhub/pkg/provider"
	"github.com/harun/knowhub/pkg/resilience"
)

// MaxOutputBytes caps tool output handed back to the model
const MaxOutputBytes = 10 * 1024

const truncationMarker = "\n... [output truncated]"

// Result is a tool outcome ready to be appended to the conversation
type Result struct {
	ToolCallID string        `json:"toolCallId"`
	Name       string        `json:"name"`
	Content    string        `json:"content"`
	IsError    bool          `json:"isError,omitempty"`
	Truncated  bool          `json:"truncated,omitempty"`
	Duration   time.Duration `json:"-"`
}

// Toolset is a fixed collection of tools exposed to one model call
type Toolset struct {
	name    string
	defs    []Definition
	byName  map[string]int
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
}

// Option configures a Toolset
type Option func(*Toolset)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Toolset) {
		t.logger = logger
	}
}

// New builds a toolset, compiling one schema per definition
func New(name string, defs []Definition, opts ...Option) (*Toolset, error) {
	t := &Toolset{
		name:    name,
		defs:    make([]Definition, 0, len(defs)),
		byName:  make(map[string]int, len(defs)),
		schemas: make(map[string]*gojsonschema.Schema, len(defs)),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, def := range defs {
		if err := def.validate(); err != nil {
			return nil, fmt.Errorf("invalid tool definition: %w", err)
		}
		if _, dup := t.byName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %s in %s", def.Name, name)
		}
		schema, err := def.compile()
		if err != nil {
			return nil, fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
		}
		t.byName[def.Name] = len(t.defs)
		t.defs = append(t.defs, def)
		t.schemas[def.Name] = schema
	}
	return t, nil
}

// Name returns the toolset name
func (t *Toolset) Name() string {
	return t.name
}

// Names returns tool names in definition order
func (t *Toolset) Names() []string {
	names := make([]string, len(t.defs))
	for i, d := range t.defs {
		names[i] = d.Name
	}
	return names
}

// Has reports whether name is part of the toolset
func (t *Toolset) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Specs returns the provider-facing declarations
func (t *Toolset) Specs() []provider.ToolSpec {
	specs := make([]provider.ToolSpec, len(t.defs))
	for i, d := range t.defs {
		specs[i] = provider.ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.schemaMap(),
		}
	}
	return specs
}

// Execute validates and runs one model-requested tool call.
//
// Unknown tools and argument violations abort with NonRecoverableError.
// Other handler failures come back as an error Result for the model to
// react to, except fatal remote errors and cancellation of ctx.
func (t *Toolset) Execute(ctx context.Context, call provider.ToolCall) (Result, error) {
	result := Result{ToolCallID: call.ID, Name: call.Name}

	idx, ok := t.byName[call.Name]
	if !ok {
		return result, &resilience.NonRecoverableError{
			Reason: "no_such_tool",
			Err:    fmt.Errorf("unknown tool %q in %s toolset", call.Name, t.name),
		}
	}
	def := t.defs[idx]

	args, err := t.decode(def, call.Arguments)
	if err != nil {
		return result, &resilience.NonRecoverableError{
			Reason: "invalid_tool_arguments",
			Err:    fmt.Errorf("%s: %w", call.Name, err),
		}
	}

	logger := tracing.LoggerFromContext(ctx, t.logger)
	started := time.Now()
	output, err := def.Handler(ctx, args)
	result.Duration = time.Since(started)

	if err != nil {
		if aborts(ctx, err) {
			return result, err
		}
		logger.Warn().Err(err).Str("tool", call.Name).Msg("Tool failed, reporting to model")
		result.IsError = true
		result.Content = errorContent(err)
		return result, nil
	}

	content, err := render(output)
	if err != nil {
		return result, fmt.Errorf("failed to encode %s output: %w", call.Name, err)
	}
	result.Content, result.Truncated = truncate(content)
	if result.Truncated {
		logger.Warn().
			Str("tool", call.Name).
			Int("original", len(content)).
			Int("truncated", MaxOutputBytes).
			Msg("Output truncated")
	}

	logger.Debug().
		Str("tool", call.Name).
		Int64("durationMs", result.Duration.Milliseconds()).
		Msg("Tool executed")
	return result, nil
}

func (t *Toolset) decode(def Definition, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	res, err := t.schemas[def.Name].Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
	}
	return def.decode(raw)
}

// aborts reports whether a handler error must stop the loop instead of
// being fed back to the model. Cancellation only aborts when it is the
// caller's own context that ended.
func aborts(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ctx.Err() != nil
	}
	var te *resilience.ToolExecutionError
	if errors.As(err, &te) {
		return te.Fatal
	}
	var k resilience.Kinded
	if errors.As(err, &k) {
		switch k.Kind() {
		case resilience.KindNonRecoverable, resilience.KindConfiguration, resilience.KindValidation:
			return true
		}
	}
	return false
}

func errorContent(err error) string {
	data, _ := json.Marshal(map[string]any{
		"success": false,
		"error":   err.Error(),
	})
	return string(data)
}

func render(output any) (string, error) {
	switch v := output.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	case []byte:
		return string(v), nil
	}
	data, err := json.Marshal(output)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func truncate(s string) (string, bool) {
	if len(s) <= MaxOutputBytes {
		return s, false
	}
	cut := MaxOutputBytes
	// keep utf-8 sequences intact
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + truncationMarker, true
}
