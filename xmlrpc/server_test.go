package xmlrpc

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postCall(t *testing.T, h *Handler, method string, params ...interface{}) interface{} {
	t.Helper()
	body, err := marshalCall(method, params)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/RPC2", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	v, err := unmarshalResponse(rec.Body.Bytes())
	require.NoError(t, err)
	return v
}

func TestHandlerDispatchesRegisteredMethod(t *testing.T) {
	h := NewHandler(map[string]Method{
		"getUri": func(callerID string) (interface{}, error) {
			return "http://master:11311/", nil
		},
	})

	v := postCall(t, h, "getUri", "/caller")
	assert.Equal(t, "http://master:11311/", v)
}

func TestHandlerUnknownMethodReturnsFault(t *testing.T) {
	h := NewHandler(map[string]Method{})

	body, err := marshalCall("noSuchMethod", nil)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/RPC2", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	_, err = unmarshalResponse(rec.Body.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "noSuchMethod")
}

func TestHandlerMethodErrorReturnsFault(t *testing.T) {
	h := NewHandler(map[string]Method{
		"boom": func(callerID string) (interface{}, error) {
			return nil, assertError("kaboom")
		},
	})

	body, err := marshalCall("boom", []interface{}{"/caller"})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/RPC2", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	_, err = unmarshalResponse(rec.Body.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestHandlerPassesMultipleStringParams(t *testing.T) {
	h := NewHandler(map[string]Method{
		"registerPublisher": func(callerID, topic, msgType, callerAPI string) (interface{}, error) {
			return []interface{}{callerAPI}, nil
		},
	})

	v := postCall(t, h, "registerPublisher", "/caller", "/topic", "std_msgs/String", "http://a:1/")
	tuple, ok := v.([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"http://a:1/"}, tuple)
}

func TestHandlerWaitForShutdownDrainsInFlight(t *testing.T) {
	h := NewHandler(map[string]Method{
		"getPid": func(callerID string) (interface{}, error) { return int32(1), nil },
	})
	postCall(t, h, "getPid", "/caller")
	h.WaitForShutdown()
}

type assertErrorString string

func (e assertErrorString) Error() string { return string(e) }

func assertError(msg string) error { return assertErrorString(msg) }
