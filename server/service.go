package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

// function is one callable exposed by the backend.
//
// Accepted shapes (receiver excluded):
//
//	func([ctx context.Context,] a A, b B, ...) error
//	func([ctx context.Context,] a A, b B, ...) (R, error)
type function struct {
	name     string
	fn       reflect.Value
	withCtx  bool
	argTypes []reflect.Type
	hasReply bool
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// newFunction 检查函数签名
func newFunction(name string, fn reflect.Value) (*function, error) {
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, fmt.Errorf("rpc: %s is not a function", name)
	}
	typ := fn.Type()
	if typ.IsVariadic() {
		return nil, fmt.Errorf("rpc: %s: variadic functions are not supported", name)
	}

	switch typ.NumOut() {
	case 1:
	case 2:
	default:
		return nil, fmt.Errorf("rpc: %s must return error or (T, error)", name)
	}
	if typ.Out(typ.NumOut()-1) != errorType {
		return nil, fmt.Errorf("rpc: %s: last result must be error", name)
	}

	f := &function{name: name, fn: fn, hasReply: typ.NumOut() == 2}
	for i := 0; i < typ.NumIn(); i++ {
		in := typ.In(i)
		if i == 0 && in == contextType {
			f.withCtx = true
			continue
		}
		f.argTypes = append(f.argTypes, in)
	}
	return f, nil
}

// methodsOf 扫描 struct 的导出方法，过滤出符合签名的
// Methods are exposed under their lowerCamel name: GetItems → getItems.
func methodsOf(rcvr any) (map[string]*function, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer to a struct, got %T", rcvr)
	}
	val := reflect.ValueOf(rcvr)

	fns := make(map[string]*function)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		name := lowerFirst(method.Name)
		f, err := newFunction(name, val.Method(i))
		if err != nil {
			continue
		}
		fns[name] = f
	}
	if len(fns) == 0 {
		return nil, fmt.Errorf("rpc: %T has no exported methods of a supported shape", rcvr)
	}
	return fns, nil
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}

// call binds positional JSON arguments and invokes the function. Missing
// trailing arguments take their zero value; extra ones are ignored.
func (f *function) call(ctx context.Context, raw []json.RawMessage) (any, error) {
	in := make([]reflect.Value, 0, len(f.argTypes)+1)
	if f.withCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, typ := range f.argTypes {
		argv := reflect.New(typ)
		if i < len(raw) {
			if err := json.Unmarshal(raw[i], argv.Interface()); err != nil {
				return nil, &argumentError{index: i, err: err}
			}
		}
		in = append(in, argv.Elem())
	}

	results := f.fn.Call(in)
	if errv := results[len(results)-1]; !errv.IsNil() {
		return nil, errv.Interface().(error)
	}
	if !f.hasReply {
		return nil, nil
	}
	return results[0].Interface(), nil
}

type argumentError struct {
	index int
	err   error
}

func (e *argumentError) Error() string {
	return fmt.Sprintf("argument %d: %v", e.index, e.err)
}

func (e *argumentError) Unwrap() error { return e.err }
