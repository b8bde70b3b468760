package xmlrpc

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sync"
)

// Method is any Go function of the shape
//
//	func(callerID string, ...typedParams) (interface{}, error)
//
// registered under a Slave-API method name. The Handler decodes each
// XML-RPC parameter into the function's declared parameter type via
// reflection, exactly as the differently-typed closures the node facade
// registers (requestTopic, publisherUpdate, getPid, ...) require.
type Method interface{}

// Handler serves the Slave API: one XML-RPC endpoint
// multiplexing onto a map of named Methods.
type Handler struct {
	methods map[string]Method
	wg      sync.WaitGroup
}

// NewHandler builds a Handler for the given method table.
func NewHandler(methods map[string]Method) *Handler {
	return &Handler{methods: methods}
}

// WaitForShutdown blocks until every in-flight ServeHTTP call has
// returned; callers close the listener first so no new requests arrive.
func (h *Handler) WaitForShutdown() {
	h.wg.Wait()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.wg.Add(1)
	defer h.wg.Done()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	methodName, params, err := unmarshalCall(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	method, ok := h.methods[methodName]
	if !ok {
		h.writeFault(w, fmt.Sprintf("unknown method %q", methodName))
		return
	}

	value, callErr := h.invoke(method, params)
	if callErr != nil {
		h.writeFault(w, callErr.Error())
		return
	}
	body, err := marshalResponse(value)
	if err != nil {
		h.writeFault(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write(body)
}

func (h *Handler) writeFault(w http.ResponseWriter, message string) {
	body, err := marshalFault(message)
	if err != nil {
		http.Error(w, message, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write(body)
}

// invoke reflect-calls method with params converted to its declared
// parameter types, then splits its (interface{}, error) return.
func (h *Handler) invoke(method Method, params []interface{}) (interface{}, error) {
	fn := reflect.ValueOf(method)
	fnType := fn.Type()
	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("xmlrpc: method is not a function")
	}

	numIn := fnType.NumIn()
	args := make([]reflect.Value, 0, numIn)
	for i := 0; i < numIn; i++ {
		paramType := fnType.In(i)
		var raw interface{}
		if i < len(params) {
			raw = params[i]
		}
		converted, err := convertParam(raw, paramType)
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: argument %d: %w", i, err)
		}
		args = append(args, converted)
	}

	results := fn.Call(args)
	var value interface{}
	if len(results) > 0 {
		value = results[0].Interface()
	}
	var err error
	if len(results) > 1 && !results[1].IsNil() {
		err = results[1].Interface().(error)
	}
	return value, err
}

func convertParam(raw interface{}, target reflect.Type) (reflect.Value, error) {
	if raw == nil {
		return reflect.Zero(target), nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(target) && target.Kind() != reflect.Interface && target.Kind() != reflect.Slice {
		return rv.Convert(target), nil
	}
	if target.Kind() == reflect.Interface {
		return rv, nil
	}
	if target.Kind() == reflect.Slice && rv.Kind() == reflect.Slice {
		out := reflect.MakeSlice(target, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := convertParam(rv.Index(i).Interface(), target.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(elem)
		}
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", raw, target)
}
