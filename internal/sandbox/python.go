package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const resultSentinel = "__FLOWENGINE_RESULT__"

type deniedPattern struct {
	re     *regexp.Regexp
	reason string
}

// Static screen applied before any interpreter is spawned.
var pythonDenylist = []deniedPattern{
	{regexp.MustCompile(`(?m)^\s*(?:import|from)\s+(?:subprocess|socket|ctypes|pty|multiprocessing|importlib|shutil|signal|urllib|http|requests)\b`), "restricted module import"},
	{regexp.MustCompile(`(?m)^[ \t]*import[ \t]+[\w \t,.]*\b(?:subprocess|socket|ctypes|pty|multiprocessing|importlib|shutil)\b`), "restricted module import"},
	{regexp.MustCompile(`\bos\.(?:system|popen|exec\w*|spawn\w*|posix_spawn\w*|fork\w*|kill\w*|remove|unlink|rmdir|removedirs|chmod|chown)\s*\(`), "process or filesystem call"},
	{regexp.MustCompile(`(?m)^[ \t]*from[ \t]+os[ \t]+import[ \t]+[^\n]*(?:\b(?:system|popen|exec\w*|spawn\w*|posix_spawn\w*|fork\w*|kill\w*|remove|unlink|rmdir|removedirs|chmod|chown)\b|\*)`), "process or filesystem import"},
	{regexp.MustCompile(`\bshutil\.rmtree\b`), "recursive delete"},
	{regexp.MustCompile(`(?:^|[^.\w])(?:eval|exec|compile|__import__)\s*\(`), "dynamic code evaluation"},
	{regexp.MustCompile(`\bopen\s*\([^)]*,\s*(?:mode\s*=\s*)?['"][rbt]*[wax+][rwab+xt]*['"]`), "file write"},
	{regexp.MustCompile(`__(?:builtins|subclasses|globals|code)__`), "interpreter internals"},
}

func screenPython(code string) error {
	for _, p := range pythonDenylist {
		if loc := p.re.FindStringIndex(code); loc != nil {
			return fmt.Errorf("%s: %q", p.reason, strings.TrimSpace(code[loc[0]:loc[1]]))
		}
	}
	return nil
}

const pythonPreamble = `import json as _fe_json
import sys as _fe_sys
input = _fe_json.loads(_fe_sys.stdin.read() or "{}")
result = None
`

const pythonPostamble = `
try:
    _fe_out = _fe_json.dumps(result, default=str)
except Exception:
    _fe_out = _fe_json.dumps(str(result))
_fe_sys.stdout.write("\n` + resultSentinel + `" + _fe_out + "\n")
`

type pythonLane struct {
	interpreter string
	tempDir     string
}

func (slf *pythonLane) run(ctx context.Context, code string, input map[string]any, timeout time.Duration, maxOutput int) Result {
	if err := screenPython(code); err != nil {
		return failed(ErrorKindPolicy, err.Error(), 0)
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return failed(ErrorKindRuntime, err.Error(), 0)
	}

	script, err := os.CreateTemp(slf.tempDir, "flowengine-*.py")
	if err != nil {
		return failed(ErrorKindRuntime, fmt.Sprintf("failed to prepare script: %v", err), 0)
	}
	defer os.Remove(script.Name())
	_, werr := script.WriteString(pythonPreamble + code + "\n" + pythonPostamble)
	cerr := script.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return failed(ErrorKindRuntime, fmt.Sprintf("failed to prepare script: %v", err), 0)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newLimitedBuffer(maxOutput, cancel)
	stderr := newLimitedBuffer(maxOutput, cancel)

	cmd := exec.CommandContext(runCtx, slf.interpreter, "-I", "-B", script.Name())
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"PYTHONIOENCODING=utf-8",
		"PYTHONDONTWRITEBYTECODE=1",
	}
	cmd.WaitDelay = 500 * time.Millisecond
	isolateProcess(cmd)

	runErr := cmd.Run()
	out := stdout.String()
	logs, value, found := splitPythonOutput(out)

	switch {
	case stdout.Truncated() || stderr.Truncated():
		res := failed(ErrorKindOutputLimit, errOutputLimit.Error(), 0)
		res.Logs = logs
		return res
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res := failed(ErrorKindTimeout, errTimeout.Error(), 0)
		res.Logs = logs
		return res
	case ctx.Err() != nil:
		res := failed(ErrorKindRuntime, ctx.Err().Error(), 0)
		res.Logs = logs
		return res
	case runErr != nil:
		res := failed(ErrorKindRuntime, lastLine(stderr.String(), runErr.Error()), 0)
		res.Logs = logs
		return res
	case !found:
		res := failed(ErrorKindRuntime, "script produced no result", 0)
		res.Logs = logs
		return res
	}

	var result any
	if err := json.Unmarshal([]byte(value), &result); err != nil {
		res := failed(ErrorKindRuntime, fmt.Sprintf("invalid result payload: %v", err), 0)
		res.Logs = logs
		return res
	}
	return Result{OK: true, Result: result, Logs: logs}
}

// splitPythonOutput separates printed lines from the trailing result line.
func splitPythonOutput(out string) ([]string, string, bool) {
	lines := strings.Split(out, "\n")
	idx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], resultSentinel) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return trimTrailingEmpty(lines), "", false
	}
	value := strings.TrimPrefix(lines[idx], resultSentinel)
	before := lines[:idx]
	// The postamble prefixes the sentinel with a newline.
	if n := len(before); n > 0 && before[n-1] == "" {
		before = before[:n-1]
	}
	return trimTrailingEmpty(before), value, true
}

func trimTrailingEmpty(lines []string) []string {
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return append([]string{}, lines...)
}

func lastLine(s string, fallback string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if l := strings.TrimSpace(lines[len(lines)-1]); l != "" {
		return l
	}
	return fallback
}
