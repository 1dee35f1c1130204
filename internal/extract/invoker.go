package extract

import (
	"context"
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"magetools/internal/logging"
	"magetools/internal/spell"
)

// Invoker evaluates spell files with the yaegi interpreter. Every
// invocation gets a fresh interpreter, so spells cannot observe state left
// behind by earlier calls, their own included.
type Invoker struct{}

// NewInvoker creates the interpreter-backed invoker.
func NewInvoker() *Invoker {
	return &Invoker{}
}

// bind captures the source that passed extraction. Edits to the file after
// a scan never reach the interpreter until the next scan re-checks them.
func (v *Invoker) bind(source, pkg, fn string, params []spell.Param) spell.InvokeFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		return v.call(ctx, source, pkg, fn, params, args)
	}
}

func (v *Invoker) call(ctx context.Context, source, pkg, fn string, params []spell.Param, args map[string]any) (string, error) {
	resultChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("spell panicked: %v", r)
			}
		}()
		result, err := run(source, pkg, fn, params, args)
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- result
	}()

	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errChan:
		return "", err
	case <-ctx.Done():
		logging.Get(logging.CategoryExec).Warn("%s.%s abandoned: %v", pkg, fn, ctx.Err())
		return "", fmt.Errorf("spell execution timed out: %w", ctx.Err())
	}
}

// run does the interpreter work synchronously. Top-level declarations
// execute during Eval, so run is always driven from call's goroutine where
// the caller's deadline can cut it loose.
func run(source, pkg, fn string, params []spell.Param, args map[string]any) (string, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(source); err != nil {
		return "", fmt.Errorf("evaluate spell file: %w", err)
	}

	fnVal, err := i.Eval(pkg + "." + fn)
	if err != nil {
		return "", fmt.Errorf("resolve %s.%s: %w", pkg, fn, err)
	}
	if fnVal.Kind() != reflect.Func {
		return "", fmt.Errorf("%s.%s is not a function", pkg, fn)
	}

	in, err := buildArgs(fnVal.Type(), params, args)
	if err != nil {
		return "", err
	}
	return renderResult(fnVal.Call(in))
}

// buildArgs assembles the reflect call arguments in declared order. Missing
// optional arguments take the parameter's zero value.
func buildArgs(ft reflect.Type, params []spell.Param, args map[string]any) ([]reflect.Value, error) {
	if ft.NumIn() != len(params) {
		return nil, fmt.Errorf("interpreter sees %d parameters, extraction found %d", ft.NumIn(), len(params))
	}
	in := make([]reflect.Value, len(params))
	for idx, p := range params {
		raw, ok := args[p.Name]
		if !ok {
			raw = spell.ZeroValue(p.Type)
		}
		rv := reflect.ValueOf(raw)
		want := ft.In(idx)
		if !rv.Type().ConvertibleTo(want) {
			return nil, fmt.Errorf("argument %s: cannot use %T as %s", p.Name, raw, want)
		}
		in[idx] = rv.Convert(want)
	}
	return in, nil
}

// renderResult turns a (T) or (T, error) return into the printable result.
func renderResult(out []reflect.Value) (string, error) {
	switch len(out) {
	case 1:
		return stringify(out[0]), nil
	case 2:
		last := out[1]
		if last.Kind() != reflect.Interface {
			return "", fmt.Errorf("second result is %s, not error", last.Kind())
		}
		if !last.IsNil() {
			if e, ok := last.Interface().(error); ok {
				return "", e
			}
			return "", fmt.Errorf("%v", last.Interface())
		}
		return stringify(out[0]), nil
	default:
		return "", fmt.Errorf("unexpected result arity %d", len(out))
	}
}

func stringify(v reflect.Value) string {
	if v.Kind() == reflect.String {
		return v.String()
	}
	return fmt.Sprintf("%v", v.Interface())
}
