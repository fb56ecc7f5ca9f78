package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
)

type ErrorKind string

const (
	ErrorKindDisabled    ErrorKind = "disabled"
	ErrorKindPolicy      ErrorKind = "policy"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindOutputLimit ErrorKind = "output_limit"
	ErrorKindCompile     ErrorKind = "compile"
	ErrorKindRuntime     ErrorKind = "runtime"
)

const (
	MinTimeoutMs     = 100
	MaxTimeoutMs     = 10_000
	DefaultTimeoutMs = 5_000

	MinOutputBytes     = 1_000
	MaxOutputBytes     = 256_000
	DefaultOutputBytes = 64_000
)

var (
	errTimeout     = errors.New("execution timed out")
	errOutputLimit = errors.New("output size exceeded")
)

type Request struct {
	Language      Language       `json:"language"`
	Code          string         `json:"code"`
	Input         map[string]any `json:"input,omitempty"`
	TimeoutMs     int            `json:"timeoutMs,omitempty"`
	MaxOutputSize int            `json:"maxOutputSize,omitempty"`
}

// Result is the contract shared by every lane. User code errors are data, never Go errors.
type Result struct {
	OK         bool      `json:"ok"`
	Result     any       `json:"result,omitempty"`
	Logs       []string  `json:"logs"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  ErrorKind `json:"errorKind,omitempty"`
}

type Options struct {
	// Master switch; when off nothing is ever executed.
	Enabled          bool
	PythonEnabled    bool
	PythonPath       string
	TempDir          string
	DefaultTimeoutMs int
	DefaultMaxOutput int
	// Run plain JavaScript through the transpiler as well.
	TranspileJavaScript bool
}

type Sandbox struct {
	options Options
	logger  zerolog.Logger
	js      *jsLane
	python  *pythonLane
}

func New(options Options, logger zerolog.Logger) *Sandbox {
	if options.PythonPath == "" {
		options.PythonPath = "python3"
	}
	return &Sandbox{
		options: options,
		logger:  logger,
		js:      &jsLane{transpileJS: options.TranspileJavaScript},
		python:  &pythonLane{interpreter: options.PythonPath, tempDir: options.TempDir},
	}
}

// Execute runs a snippet in the lane matching its language.
func (slf *Sandbox) Execute(ctx context.Context, req Request) Result {
	if !slf.options.Enabled {
		return failed(ErrorKindDisabled, "code execution is disabled", 0)
	}

	timeout := ClampTimeout(firstPositive(req.TimeoutMs, slf.options.DefaultTimeoutMs))
	maxOutput := ClampOutputSize(firstPositive(req.MaxOutputSize, slf.options.DefaultMaxOutput))
	input, err := normalizeInput(req.Input)
	if err != nil {
		return failed(ErrorKindRuntime, fmt.Sprintf("input is not JSON serializable: %v", err), 0)
	}

	lang := Language(strings.ToLower(string(req.Language)))
	started := time.Now()
	var res Result
	switch lang {
	case LanguageJavaScript, LanguageTypeScript, "js", "ts":
		res = slf.js.run(ctx, lang, req.Code, input, timeout, maxOutput)
	case LanguagePython, "py":
		if !slf.options.PythonEnabled {
			return failed(ErrorKindDisabled, "python execution is not enabled", 0)
		}
		res = slf.python.run(ctx, req.Code, input, timeout, maxOutput)
	default:
		return failed(ErrorKindRuntime, fmt.Sprintf("unsupported language: %s", req.Language), 0)
	}
	res.DurationMs = time.Since(started).Milliseconds()
	if res.Logs == nil {
		res.Logs = []string{}
	}

	slf.logger.Debug().
		Str("language", string(lang)).
		Bool("ok", res.OK).
		Str("errorKind", string(res.ErrorKind)).
		Int64("durationMs", res.DurationMs).
		Msg("Sandbox execution finished")
	return res
}

type LaneCapability struct {
	Enabled     bool   `json:"enabled"`
	Interpreter string `json:"interpreter,omitempty"`
	Resolved    string `json:"resolvedPath,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type Capabilities struct {
	Enabled   bool                        `json:"enabled"`
	Languages map[Language]LaneCapability `json:"languages"`
	Limits    map[string]int              `json:"limits"`
}

// Capabilities reports which lanes can run without executing anything.
func (slf *Sandbox) Capabilities() Capabilities {
	caps := Capabilities{
		Enabled: slf.options.Enabled,
		Languages: map[Language]LaneCapability{
			LanguageJavaScript: {Enabled: slf.options.Enabled},
			LanguageTypeScript: {Enabled: slf.options.Enabled},
		},
		Limits: map[string]int{
			"minTimeoutMs":  MinTimeoutMs,
			"maxTimeoutMs":  MaxTimeoutMs,
			"minOutputSize": MinOutputBytes,
			"maxOutputSize": MaxOutputBytes,
		},
	}

	python := LaneCapability{
		Enabled:     slf.options.Enabled && slf.options.PythonEnabled,
		Interpreter: slf.options.PythonPath,
	}
	switch {
	case !slf.options.Enabled:
		python.Reason = "code execution is disabled"
	case !slf.options.PythonEnabled:
		python.Reason = "python execution is not enabled"
	default:
		if resolved, err := exec.LookPath(slf.options.PythonPath); err == nil {
			python.Resolved = resolved
		} else {
			python.Reason = fmt.Sprintf("interpreter not found: %v", err)
		}
	}
	caps.Languages[LanguagePython] = python
	return caps
}

func ClampTimeout(ms int) time.Duration {
	if ms <= 0 {
		ms = DefaultTimeoutMs
	}
	ms = min(max(ms, MinTimeoutMs), MaxTimeoutMs)
	return time.Duration(ms) * time.Millisecond
}

func ClampOutputSize(n int) int {
	if n <= 0 {
		n = DefaultOutputBytes
	}
	return min(max(n, MinOutputBytes), MaxOutputBytes)
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func failed(kind ErrorKind, msg string, durationMs int64) Result {
	return Result{OK: false, Error: msg, ErrorKind: kind, Logs: []string{}, DurationMs: durationMs}
}

// normalizeInput deep-copies input into plain JSON shapes so user code cannot
// reach caller-owned values.
func normalizeInput(input map[string]any) (map[string]any, error) {
	if input == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
