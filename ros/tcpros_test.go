package ros

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	headers := []header{
		{"callerid", "/talker"},
		{"topic", "/chatter"},
		{"md5sum", "abcd1234"},
		{"type", "std_msgs/String"},
	}
	require.NoError(t, writeConnectionHeader(headers, &buf))

	got, err := readConnectionHeader(&buf)
	require.NoError(t, err)
	m := headerMap(got)
	assert.Equal(t, "/talker", m["callerid"])
	assert.Equal(t, "/chatter", m["topic"])
	assert.Equal(t, "abcd1234", m["md5sum"])
	assert.Equal(t, "std_msgs/String", m["type"])
}

func TestReadConnectionHeaderRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	// A length prefix bigger than maxFrameSize with no payload behind it.
	oversized := uint32(maxFrameSize + 1)
	buf.Write([]byte{byte(oversized), byte(oversized >> 8), byte(oversized >> 16), byte(oversized >> 24)})

	_, err := readConnectionHeader(&buf)
	require.Error(t, err)
	var tcpErr *TCPRosError
	assert.ErrorAs(t, err, &tcpErr)
}

func TestReadConnectionHeaderRejectsMalformedField(t *testing.T) {
	var buf bytes.Buffer
	field := "not-a-key-value-pair"
	fieldLen := uint32(len(field))
	body := []byte{byte(fieldLen), byte(fieldLen >> 8), byte(fieldLen >> 16), byte(fieldLen >> 24)}
	body = append(body, []byte(field)...)
	blockLen := uint32(len(body))
	buf.Write([]byte{byte(blockLen), byte(blockLen >> 8), byte(blockLen >> 16), byte(blockLen >> 24)})
	buf.Write(body)

	_, err := readConnectionHeader(&buf)
	assert.Error(t, err)
}

func TestTCPRosMessageRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := []byte{1, 2, 3, 4, 5}
	writeResult := make(chan error, 1)
	go writeTCPRosMessage(context.Background(), client, payload, writeResult)

	readResult := make(chan TCPRosReadResult, 1)
	go readTCPRosMessage(context.Background(), server, readResult)

	require.NoError(t, <-writeResult)
	res := <-readResult
	require.NoError(t, res.Err)
	assert.Equal(t, payload, res.Buf)
}

func TestTCPRosMessageRoundTripEmptyPayload(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	writeResult := make(chan error, 1)
	go writeTCPRosMessage(context.Background(), client, nil, writeResult)

	readResult := make(chan TCPRosReadResult, 1)
	go readTCPRosMessage(context.Background(), server, readResult)

	require.NoError(t, <-writeResult)
	res := <-readResult
	require.NoError(t, res.Err)
	assert.NotNil(t, res.Buf)
	assert.Len(t, res.Buf, 0)
}

func TestReadTCPRosMessageCancelable(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	readResult := make(chan TCPRosReadResult, 1)
	go readTCPRosMessage(ctx, server, readResult)
	cancel()
	server.Close()

	select {
	case <-readResult:
	case <-time.After(time.Second):
		t.Fatal("readTCPRosMessage did not return after cancellation")
	}
}

func TestServiceResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeServiceResponse(&buf, serviceResponseSuccess, []byte("hello")))

	status, payload, err := readServiceResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, serviceResponseSuccess, status)
	assert.Equal(t, []byte("hello"), payload)
}

func TestServiceResponseFailureStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeServiceResponse(&buf, serviceResponseFailure, []byte("bad request")))

	status, payload, err := readServiceResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, serviceResponseFailure, status)
	assert.Equal(t, "bad request", string(payload))
}

func TestErrorToReadResult(t *testing.T) {
	assert.Equal(t, readOk, errorToReadResult(nil))
	assert.Equal(t, remoteDisconnected, errorToReadResult(io.EOF))
	assert.Equal(t, readOutOfSync, errorToReadResult(&TCPRosError{kind: tcpRosErrorSizeTooLarge}))
	assert.Equal(t, readFailed, errorToReadResult(io.ErrUnexpectedEOF))
}

func TestTypeMatches(t *testing.T) {
	assert.True(t, typeMatches("std_msgs/String", "std_msgs/String"))
	assert.True(t, typeMatches("*", "std_msgs/String"))
	assert.False(t, typeMatches("std_msgs/Int32", "std_msgs/String"))
}
