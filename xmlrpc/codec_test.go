package xmlrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueXMLRoundTrip(t *testing.T) {
	cases := []interface{}{
		"hello",
		true,
		false,
		int32(42),
		int64(-7),
		3.14,
		[]interface{}{"a", int32(1), true},
		map[string]interface{}{"x": int32(1)},
		nil,
	}
	for _, v := range cases {
		vx, err := toValueXML(v)
		require.NoError(t, err)
		got, err := fromValueXML(vx)
		require.NoError(t, err)
		switch v.(type) {
		case nil:
			assert.Equal(t, "", got)
		case int:
			assert.Equal(t, int32(v.(int)), got)
		case int64:
			assert.Equal(t, int32(v.(int64)), got)
		default:
			assert.Equal(t, v, got)
		}
	}
}

func TestToValueXMLUnsupportedType(t *testing.T) {
	_, err := toValueXML(struct{}{})
	assert.Error(t, err)
}

func TestMarshalUnmarshalCall(t *testing.T) {
	body, err := marshalCall("registerPublisher", []interface{}{"/caller", "/topic", "std_msgs/String", "http://1.2.3.4:5"})
	require.NoError(t, err)

	method, params, err := unmarshalCall(body)
	require.NoError(t, err)
	assert.Equal(t, "registerPublisher", method)
	require.Len(t, params, 4)
	assert.Equal(t, "/caller", params[0])
	assert.Equal(t, "/topic", params[1])
}

func TestMarshalUnmarshalResponseSuccess(t *testing.T) {
	body, err := marshalResponse([]interface{}{int32(1), "Success", "http://1.2.3.4:5"})
	require.NoError(t, err)

	v, err := unmarshalResponse(body)
	require.NoError(t, err)
	tuple, ok := v.([]interface{})
	require.True(t, ok)
	require.Len(t, tuple, 3)
	assert.Equal(t, int32(1), tuple[0])
	assert.Equal(t, "Success", tuple[1])
}

func TestMarshalFaultIsReportedAsError(t *testing.T) {
	body, err := marshalFault("unknown method")
	require.NoError(t, err)

	_, err = unmarshalResponse(body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")
}

func TestNormalizeROSResponse(t *testing.T) {
	v, err := normalizeROSResponse([]interface{}{int32(1), "Success", "value"})
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = normalizeROSResponse([]interface{}{int32(0), "Failure", ""})
	require.Error(t, err)
	assert.Nil(t, v)
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, int32(0), respErr.StatusCode)
	assert.Equal(t, "Failure", respErr.StatusMessage)

	// Non-ROS-shaped values pass through untouched.
	v, err = normalizeROSResponse("plain string")
	require.NoError(t, err)
	assert.Equal(t, "plain string", v)
}
