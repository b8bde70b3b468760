package ros

import (
	"bytes"
	"encoding/binary"
)

// fakeStringMessage is a minimal ros.Message used across this package's
// tests: a single length-prefixed string field.
type fakeStringMessage struct {
	Data string
}

func (m *fakeStringMessage) GetType() MessageType { return fakeStringType{} }

func (m *fakeStringMessage) Serialize(buf *bytes.Buffer) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(m.Data))); err != nil {
		return err
	}
	_, err := buf.WriteString(m.Data)
	return err
}

func (m *fakeStringMessage) Deserialize(r *Reader) error {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return err
	}
	m.Data = string(buf)
	return nil
}

type fakeStringType struct{}

func (fakeStringType) Text() string        { return "string data" }
func (fakeStringType) MD5Sum() string      { return "992ce8a1687cec8c8bd883ec73ca41d1" }
func (fakeStringType) Name() string        { return "std_msgs/String" }
func (fakeStringType) NewMessage() Message { return &fakeStringMessage{} }

// fakeService is a minimal ros.Service/ServiceType pair: a string request,
// an echoed string response.
type fakeServiceType struct{}

func (fakeServiceType) MD5Sum() string            { return "fakemd5" }
func (fakeServiceType) Name() string              { return "test_srvs/Echo" }
func (fakeServiceType) RequestType() MessageType  { return fakeStringType{} }
func (fakeServiceType) ResponseType() MessageType { return fakeStringType{} }
func (fakeServiceType) NewService() Service {
	return &fakeService{req: &fakeStringMessage{}, res: &fakeStringMessage{}}
}

type fakeService struct {
	req *fakeStringMessage
	res *fakeStringMessage
}

func (s *fakeService) ReqMessage() Message { return s.req }
func (s *fakeService) ResMessage() Message { return s.res }
