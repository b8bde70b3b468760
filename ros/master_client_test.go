package ros

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterAPIClientSuccessReturnsValue(t *testing.T) {
	srv := newStubMaster(t)
	client := newMasterAPIClient(srv.URL, "/tester")
	defer client.close()

	uri, err := client.getURI()
	require.NoError(t, err)
	assert.Equal(t, "", uri) // stub returns an empty-array value, not a string
}

func TestMasterAPIClientFailureWrapsResponseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<?xml version="1.0"?><methodResponse><params><param><value><array><data>` +
			`<value><int>0</int></value><value><string>no such topic</string></value><value><array><data></data></array></value>` +
			`</data></array></value></param></params></methodResponse>`))
	}))
	defer srv.Close()

	client := newMasterAPIClient(srv.URL, "/tester")
	defer client.close()

	_, err := client.registerPublisher("/chatter", "std_msgs/String", "http://127.0.0.1:0/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMasterAPI))

	var apiErr *masterAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, int32(0), apiErr.StatusCode)
	assert.Equal(t, "no such topic", apiErr.StatusMessage)
}

func TestMasterAPIClientHasParamBoolean(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<?xml version="1.0"?><methodResponse><params><param><value><array><data>` +
			`<value><int>1</int></value><value><string>Success</string></value><value><boolean>1</boolean></value>` +
			`</data></array></value></param></params></methodResponse>`))
	}))
	defer srv.Close()

	client := newMasterAPIClient(srv.URL, "/tester")
	defer client.close()

	ok, err := client.hasParam("/foo")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPeerClientPoolReturnsSameClientForSameURI(t *testing.T) {
	pool := newPeerClientPool()
	defer pool.closeAll()

	a := pool.get("http://127.0.0.1:9999/")
	b := pool.get("http://127.0.0.1:9999/")
	assert.Same(t, a, b)

	c := pool.get("http://127.0.0.1:8888/")
	assert.NotSame(t, a, c)
}
