package ros

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// maxFrameSize bounds a TCPROS frame length: a length field this large
// almost certainly means the stream has gone out of sync, not that a 256MB
// message was actually sent.
const maxFrameSize = 256000000

// header is a single key=value connection-header field.
type header struct {
	key   string
	value string
}

var headerFieldPattern = regexp.MustCompile(`^\w+=[\s\S]*`)

// writeConnectionHeader encodes an ordered list of header fields as the
// length-prefixed header block: an outer length-prefixed frame containing
// one length-prefixed "key=value" field per entry.
func writeConnectionHeader(headers []header, w io.Writer) error {
	var body bytes.Buffer
	for _, h := range headers {
		field := fmt.Sprintf("%s=%s", h.key, h.value)
		if err := binary.Write(&body, binary.LittleEndian, uint32(len(field))); err != nil {
			return errors.Wrap(err, "writing header field length")
		}
		if _, err := body.WriteString(field); err != nil {
			return errors.Wrap(err, "writing header field")
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(body.Len())); err != nil {
		return errors.Wrap(err, "writing header block length")
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return errors.Wrap(err, "writing header block")
	}
	return nil
}

// readConnectionHeader reads the outer length-prefixed frame then parses
// every key=value field inside it.
func readConnectionHeader(r io.Reader) ([]header, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, errors.Wrap(err, "reading header block length")
	}
	if size > maxFrameSize {
		return nil, &TCPRosError{kind: tcpRosErrorSizeTooLarge}
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "reading header block")
	}
	return parseConnectionHeaderPayload(bytes.NewReader(buf), size)
}

func parseConnectionHeaderPayload(r io.Reader, size uint32) ([]header, error) {
	var headers []header
	var consumed uint32
	for consumed < size {
		var fieldLen uint32
		if err := binary.Read(r, binary.LittleEndian, &fieldLen); err != nil {
			return nil, errors.Wrap(err, "reading header field length")
		}
		consumed += 4
		fieldBuf := make([]byte, fieldLen)
		if _, err := io.ReadFull(r, fieldBuf); err != nil {
			return nil, errors.Wrap(err, "reading header field")
		}
		consumed += fieldLen
		field := string(fieldBuf)
		if !headerFieldPattern.MatchString(field) {
			return nil, errors.Errorf("malformed connection header field: %q", field)
		}
		idx := strings.IndexByte(field, '=')
		headers = append(headers, header{key: field[:idx], value: field[idx+1:]})
	}
	return headers, nil
}

func headerMap(headers []header) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.key] = h.value
	}
	return m
}

// tcpRosErrorKind enumerates the TCPROS-stream-level failure modes a reader
// can hit that aren't plain I/O errors.
type tcpRosErrorKind int

const (
	tcpRosErrorSizeTooLarge tcpRosErrorKind = iota
)

// TCPRosError is returned by frame readers when the stream itself (not the
// underlying socket) appears to be corrupted.
type TCPRosError struct {
	kind tcpRosErrorKind
}

func (e *TCPRosError) Error() string {
	switch e.kind {
	case tcpRosErrorSizeTooLarge:
		return "TCPROS frame length exceeds sane maximum; stream out of sync"
	default:
		return "TCPROS stream error"
	}
}

// TCPRosReadResult is delivered on a channel by readTCPRosMessage so the
// caller can select on it alongside shutdown/timeout channels without
// blocking on the read itself.
type TCPRosReadResult struct {
	Buf []byte
	Err error
}

// readTCPRosMessage reads one length-prefixed frame frame and posts the
// result to resultChan. It is meant to be run in its own goroutine so the
// caller can select between it, a stop channel, and a timeout.
func readTCPRosMessage(ctx context.Context, r io.Reader, resultChan chan<- TCPRosReadResult) {
	// post delivers whenever resultChan has room, even after ctx is
	// canceled; ctx only releases a send that would block.
	post := func(res TCPRosReadResult) {
		select {
		case resultChan <- res:
			return
		default:
		}
		select {
		case resultChan <- res:
		case <-ctx.Done():
		}
	}
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		post(TCPRosReadResult{Err: err})
		return
	}
	if size > maxFrameSize {
		post(TCPRosReadResult{Err: &TCPRosError{kind: tcpRosErrorSizeTooLarge}})
		return
	}
	// Empty messages (length==0) must still produce a "message received"
	// event: an empty, non-nil slice.
	buf := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			post(TCPRosReadResult{Err: err})
			return
		}
	}
	post(TCPRosReadResult{Buf: buf})
}

// writeTCPRosMessage writes one length-prefixed frame and posts the error
// (nil on success) to resultChan.
func writeTCPRosMessage(ctx context.Context, w io.Writer, payload []byte, resultChan chan<- error) {
	var err error
	defer func() {
		select {
		case resultChan <- err:
		case <-ctx.Done():
		}
	}()
	if err = binary.Write(w, binary.LittleEndian, uint32(len(payload))); err != nil {
		return
	}
	if len(payload) > 0 {
		_, err = w.Write(payload)
	}
}

// serviceResponseStatus is the single status byte that prefixes a
// service-response frame: 1 on success (payload is the serialized
// response), 0 on failure (payload is a serialized UTF-8 error string).
type serviceResponseStatus byte

const (
	serviceResponseFailure serviceResponseStatus = 0
	serviceResponseSuccess serviceResponseStatus = 1
)

// writeServiceResponse writes the status byte, then the length-prefixed
// payload — the status byte must be read before the length, not after.
func writeServiceResponse(w io.Writer, status serviceResponseStatus, payload []byte) error {
	if _, err := w.Write([]byte{byte(status)}); err != nil {
		return errors.Wrap(err, "writing service response status byte")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(payload))); err != nil {
		return errors.Wrap(err, "writing service response length")
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return errors.Wrap(err, "writing service response payload")
		}
	}
	return nil
}

// readServiceResponse reads the status byte then the length-prefixed
// payload that follows it.
func readServiceResponse(r io.Reader) (serviceResponseStatus, []byte, error) {
	var statusBuf [1]byte
	if _, err := io.ReadFull(r, statusBuf[:]); err != nil {
		return 0, nil, errors.Wrap(err, "reading service response status byte")
	}
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return 0, nil, errors.Wrap(err, "reading service response length")
	}
	if size > maxFrameSize {
		return 0, nil, &TCPRosError{kind: tcpRosErrorSizeTooLarge}
	}
	buf := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, nil, errors.Wrap(err, "reading service response payload")
		}
	}
	return serviceResponseStatus(statusBuf[0]), buf, nil
}

// errorToReadResult classifies a frame-read error; the subscriber read
// loop logs the classification when a publisher connection ends.
type readResult int

const (
	readOk readResult = iota
	readFailed
	readTimeout
	remoteDisconnected
	readOutOfSync
)

func errorToReadResult(err error) readResult {
	if err == nil {
		return readOk
	}
	if err == io.EOF {
		return remoteDisconnected
	}
	if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
		return readTimeout
	}
	if e, ok := errors.Cause(err).(*TCPRosError); ok && e.kind == tcpRosErrorSizeTooLarge {
		return readOutOfSync
	}
	return readFailed
}

// typeMatches implements the handshake compatibility gate: a peer's field
// matches if it is identical to ours, or is the "*" wildcard used by
// inspection tools such as rostopic.
func typeMatches(theirs, ours string) bool {
	return theirs == "*" || theirs == ours
}
