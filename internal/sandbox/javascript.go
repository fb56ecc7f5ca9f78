package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
)

type jsLane struct {
	transpileJS bool
}

// wrap turns a function body into an async IIFE so user code may use return
// and await at the top level.
func wrap(code string) string {
	return "(async function (input) {\n" + code + "\n})(input)"
}

func transpile(src string, lang Language) (string, error) {
	loader := api.LoaderJS
	if lang == LanguageTypeScript || lang == "ts" {
		loader = api.LoaderTS
	}
	out := api.Transform(src, api.TransformOptions{
		Loader: loader,
		Target: api.ES2017,
	})
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", errors.New(strings.Join(msgs, "; "))
	}
	return string(out.Code), nil
}

// console collects log lines against a shared byte budget.
type console struct {
	mu        sync.Mutex
	lines     []string
	used      int
	limit     int
	exceeded  bool
	interrupt func(v any)
}

func (c *console) write(level string, vm *goja.Runtime, args []goja.Value) {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, formatArg(vm, arg))
	}
	line := strings.Join(parts, " ")
	if level != "log" && level != "info" {
		line = "[" + level + "] " + line
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exceeded {
		return
	}
	c.used += len(line) + 1
	if c.used > c.limit {
		c.exceeded = true
		c.interrupt(errOutputLimit)
		return
	}
	c.lines = append(c.lines, line)
}

func formatArg(vm *goja.Runtime, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, ok := v.Export().(string); ok {
		return v.String()
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isErr := obj.Export().(error); isErr || obj.ClassName() == "Error" {
			return v.String()
		}
		if stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify")); ok {
			if s, err := stringify(goja.Undefined(), v); err == nil && !goja.IsUndefined(s) {
				return s.String()
			}
		}
	}
	return v.String()
}

func (slf *jsLane) run(ctx context.Context, lang Language, code string, input map[string]any, timeout time.Duration, maxOutput int) Result {
	src := wrap(code)
	if lang == LanguageTypeScript || lang == "ts" || slf.transpileJS {
		transpiled, err := transpile(src, lang)
		if err != nil {
			return failed(ErrorKindCompile, err.Error(), 0)
		}
		src = transpiled
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	logs := &console{limit: maxOutput, interrupt: vm.Interrupt}
	con := vm.NewObject()
	for _, level := range []string{"log", "info", "debug", "warn", "error"} {
		level := level
		_ = con.Set(level, func(call goja.FunctionCall) goja.Value {
			logs.write(level, vm, call.Arguments)
			return goja.Undefined()
		})
	}
	_ = vm.Set("console", con)
	_ = vm.Set("input", input)

	timer := time.AfterFunc(timeout, func() { vm.Interrupt(errTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	value, err := vm.RunString(src)
	logs.mu.Lock()
	lines := logs.lines
	logs.mu.Unlock()

	if err != nil {
		res := classify(err)
		res.Logs = lines
		return res
	}

	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return finish(value.Export(), lines, maxOutput)
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return finish(promise.Result().Export(), lines, maxOutput)
	case goja.PromiseStateRejected:
		res := failed(ErrorKindRuntime, promise.Result().String(), 0)
		res.Logs = lines
		return res
	default:
		res := failed(ErrorKindRuntime, "async code never settled", 0)
		res.Logs = lines
		return res
	}
}

func classify(err error) Result {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch cause := interrupted.Value().(type) {
		case error:
			switch {
			case errors.Is(cause, errOutputLimit):
				return failed(ErrorKindOutputLimit, cause.Error(), 0)
			case errors.Is(cause, errTimeout), errors.Is(cause, context.DeadlineExceeded):
				return failed(ErrorKindTimeout, errTimeout.Error(), 0)
			default:
				return failed(ErrorKindRuntime, cause.Error(), 0)
			}
		default:
			return failed(ErrorKindRuntime, fmt.Sprint(cause), 0)
		}
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return failed(ErrorKindCompile, syntax.Error(), 0)
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return failed(ErrorKindRuntime, exception.Value().String(), 0)
	}
	return failed(ErrorKindRuntime, err.Error(), 0)
}

// finish normalizes the result to JSON shapes and enforces the output budget
// on the serialized value.
func finish(value any, logs []string, maxOutput int) Result {
	data, err := json.Marshal(value)
	if err != nil {
		res := failed(ErrorKindRuntime, fmt.Sprintf("result is not JSON serializable: %v", err), 0)
		res.Logs = logs
		return res
	}
	used := len(data)
	for _, l := range logs {
		used += len(l) + 1
	}
	if used > maxOutput {
		res := failed(ErrorKindOutputLimit, errOutputLimit.Error(), 0)
		res.Logs = logs
		return res
	}
	normalized, err := normalizeValue(value)
	if err != nil {
		res := failed(ErrorKindRuntime, err.Error(), 0)
		res.Logs = logs
		return res
	}
	return Result{OK: true, Result: normalized, Logs: logs}
}
