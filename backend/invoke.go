package webgui

import (
	"encoding"
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/CrimsonAS/webgui/backend/weakfn"
)

// Result is what a backend function returns to the frontend.
type Result struct {
	Value any
	Err   error
}

// Callback is a backend function bound weakly to its owner. Frontends call it by the id it
// is registered under in a session.
type Callback = weakfn.Func[[]any, Result]

// Bind binds fn under name to owner. fn must not capture owner.
func Bind[T any](owner *T, name string, fn func(o *T, args []any) (any, error)) Callback {
	return weakfn.Bind(owner, name, func(o *T, args []any) Result {
		v, err := fn(o, args)
		return Result{v, err}
	})
}

// Method binds the method called name on owner. Methods are found by their Go name or with
// the first letter lowercased, and their arguments are converted like Invoke does.
func Method[T any](owner *T, name string) (Callback, error) {
	return bindMethod(owner, name, func(o *T) any { return o })
}

// bindMethod binds the method name of whatever target returns for the owner. target must not
// capture anything.
func bindMethod[T any](owner *T, name string, target func(*T) any) (Callback, error) {
	if !lookupMethod(reflect.ValueOf(target(owner)), name).IsValid() {
		return Callback{}, errors.Wrapf(ErrMethodNotFound, "%T.%s", target(owner), name)
	}
	return weakfn.Bind(owner, name, func(o *T, args []any) Result {
		v, err := invokeMethod(target(o), name, args)
		return Result{v, err}
	}), nil
}

// method names by type, including lowercased aliases
var methodTables sync.Map

func methodTable(t reflect.Type) map[string]int {
	if table, ok := methodTables.Load(t); ok {
		return table.(map[string]int)
	}

	table := make(map[string]int, t.NumMethod()*2)
	for i := 0; i < t.NumMethod(); i++ {
		method := t.Method(i)
		if !method.IsExported() {
			continue
		}
		table[method.Name] = i
		if alias := methodName(method.Name); alias != method.Name {
			if _, exists := table[alias]; !exists {
				table[alias] = i
			}
		}
	}
	methodTables.Store(t, table)
	return table
}

func methodName(name string) string {
	if len(name) > 0 {
		name = strings.ToLower(name[:1]) + name[1:]
	}
	return name
}

// Equivalent to Value.MethodByName, also accepting the lowercased name
func lookupMethod(v reflect.Value, name string) reflect.Value {
	if !v.IsValid() {
		return reflect.Value{}
	}
	if i, ok := methodTable(v.Type())[name]; ok {
		return v.Method(i)
	}
	return reflect.Value{}
}

func invokeMethod(obj any, name string, args []any) (any, error) {
	method := lookupMethod(reflect.ValueOf(obj), name)
	if !method.IsValid() {
		return nil, errors.Wrapf(ErrMethodNotFound, "%T.%s", obj, name)
	}
	return Invoke(method.Interface(), name, args)
}

var (
	errType = reflect.TypeOf((*error)(nil)).Elem()
	umType  = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// Invoke calls the function fn with arguments decoded from JSON, converting them to the
// parameter types of fn. An error among the return values is returned as the error, the
// remaining values become the result: nothing, the single value, or a slice of all of them.
// A panic in fn is returned as an error.
func Invoke(fn any, name string, inArgs []any) (result any, err error) {
	fnValue := reflect.ValueOf(fn)
	if fnValue.Kind() != reflect.Func {
		return nil, errors.Errorf("%s is not a function but %T", name, fn)
	}
	fnType := fnValue.Type()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%s panicked: %v", name, r)
		}
	}()

	if fnType.IsVariadic() {
		if len(inArgs) < fnType.NumIn()-1 {
			return nil, errors.Wrapf(ErrBadArguments, "wrong number of arguments for %s; expected at least %d, provided %d",
				name, fnType.NumIn()-1, len(inArgs))
		}
	} else if len(inArgs) != fnType.NumIn() {
		return nil, errors.Wrapf(ErrBadArguments, "wrong number of arguments for %s; expected %d, provided %d",
			name, fnType.NumIn(), len(inArgs))
	}

	callArgs := make([]reflect.Value, len(inArgs))
	for i, inArg := range inArgs {
		var argType reflect.Type
		if fnType.IsVariadic() && i >= fnType.NumIn()-1 {
			argType = fnType.In(fnType.NumIn() - 1).Elem()
		} else {
			argType = fnType.In(i)
		}

		callArg, err := convertArg(inArg, argType)
		if err != nil {
			return nil, errors.Wrapf(ErrBadArguments, "argument %d to %s: %s", i, name, err)
		}
		callArgs[i] = callArg
	}

	var values []any
	for _, value := range fnValue.Call(callArgs) {
		if value.Type().Implements(errType) {
			if !isNilValue(value) && err == nil {
				err = value.Interface().(error)
			}
			continue
		}
		values = append(values, value.Interface())
	}
	if err != nil {
		return nil, err
	}

	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0], nil
	default:
		return values, nil
	}
}

// convertArg matches types, converting or unmarshaling if possible
func convertArg(inArg any, argType reflect.Type) (reflect.Value, error) {
	inArgValue := reflect.ValueOf(inArg)

	switch {
	case !inArgValue.IsValid():
		// argument is nil
		return reflect.Zero(argType), nil

	case inArgValue.Type() == argType:
		return inArgValue, nil

	case inArgValue.Type().AssignableTo(argType):
		return inArgValue, nil

	case isNumber(inArgValue.Kind()) && isNumber(argType.Kind()):
		return convertNumber(inArgValue, argType)

	case inArgValue.Kind() == reflect.String && argType.Kind() == reflect.String:
		return inArgValue.Convert(argType), nil

	case inArgValue.Kind() == reflect.String:
		// Attempt to unmarshal via TextUnmarshaler, directly or by pointer
		var callArg reflect.Value
		var umArg encoding.TextUnmarshaler
		if argType.Kind() == reflect.Pointer && argType.Implements(umType) {
			callArg = reflect.New(argType.Elem())
			umArg = callArg.Interface().(encoding.TextUnmarshaler)
		} else if reflect.PointerTo(argType).Implements(umType) {
			callArg = reflect.New(argType)
			umArg = callArg.Interface().(encoding.TextUnmarshaler)
			callArg = callArg.Elem()
		}
		if umArg != nil {
			if err := umArg.UnmarshalText([]byte(inArgValue.String())); err != nil {
				return reflect.Value{}, errors.Errorf("expected %s, unmarshal failed: %s", argType, err)
			}
			return callArg, nil
		}
	}

	// Anything else that came from JSON can go back through JSON: slices of any into typed
	// slices, objects into structs or maps.
	buf, err := json.Marshal(inArg)
	if err != nil {
		return reflect.Value{}, errors.Errorf("expected %s, provided %T", argType, inArg)
	}
	callArg := reflect.New(argType)
	if err := json.Unmarshal(buf, callArg.Interface()); err != nil {
		return reflect.Value{}, errors.Errorf("expected %s, provided %T", argType, inArg)
	}
	return callArg.Elem(), nil
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// convertNumber converts between number kinds, refusing to lose the fraction or the
// magnitude of the value. JSON numbers arrive as float64.
func convertNumber(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case v.CanFloat() && out.CanInt():
		f := v.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 || out.OverflowInt(int64(f)) {
			return reflect.Value{}, errors.Wrapf(ErrBadArguments, "%v is not a valid %s", f, t)
		}
	case v.CanFloat() && out.CanUint():
		f := v.Float()
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 || out.OverflowUint(uint64(f)) {
			return reflect.Value{}, errors.Wrapf(ErrBadArguments, "%v is not a valid %s", f, t)
		}
	case v.CanInt() && out.CanInt():
		if out.OverflowInt(v.Int()) {
			return reflect.Value{}, errors.Wrapf(ErrBadArguments, "%d is not a valid %s", v.Int(), t)
		}
	case v.CanInt() && out.CanUint():
		if v.Int() < 0 || out.OverflowUint(uint64(v.Int())) {
			return reflect.Value{}, errors.Wrapf(ErrBadArguments, "%d is not a valid %s", v.Int(), t)
		}
	}
	return v.Convert(t), nil
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
