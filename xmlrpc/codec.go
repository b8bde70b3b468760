// Package xmlrpc is the node runtime's in-process XML-RPC transport: a
// call/serve surface for the ROS Master API and the peer-to-peer Slave
// API. It is hand-rolled on encoding/xml for the wire format and net/http
// for transport, which covers the handful of value types the ROS APIs
// actually exchange.
package xmlrpc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
)

// --- wire types -------------------------------------------------------

type methodCallXML struct {
	XMLName    xml.Name  `xml:"methodCall"`
	MethodName string    `xml:"methodName"`
	Params     paramsXML `xml:"params"`
}

type methodResponseXML struct {
	XMLName xml.Name   `xml:"methodResponse"`
	Params  *paramsXML `xml:"params"`
	Fault   *faultXML  `xml:"fault"`
}

type faultXML struct {
	Value valueXML `xml:"value"`
}

type paramsXML struct {
	Param []paramXML `xml:"param"`
}

type paramXML struct {
	Value valueXML `xml:"value"`
}

type valueXML struct {
	String   *string    `xml:"string"`
	Int      *string    `xml:"int"`
	I4       *string    `xml:"i4"`
	Boolean  *string    `xml:"boolean"`
	Double   *string    `xml:"double"`
	Array    *arrayXML  `xml:"array"`
	Struct   *structXML `xml:"struct"`
	Chardata string     `xml:",chardata"`
}

type arrayXML struct {
	Data struct {
		Value []valueXML `xml:"value"`
	} `xml:"data"`
}

type structXML struct {
	Member []memberXML `xml:"member"`
}

type memberXML struct {
	Name  string   `xml:"name"`
	Value valueXML `xml:"value"`
}

// --- Go <-> XML-RPC value conversion ----------------------------------

// toValueXML encodes a Go value (string, bool, int, int32, int64, float64,
// []interface{}, map[string]interface{}, or nil) as an XML-RPC <value>.
func toValueXML(v interface{}) (valueXML, error) {
	switch t := v.(type) {
	case nil:
		s := ""
		return valueXML{String: &s}, nil
	case string:
		return valueXML{String: &t}, nil
	case bool:
		s := "0"
		if t {
			s = "1"
		}
		return valueXML{Boolean: &s}, nil
	case int:
		s := strconv.Itoa(t)
		return valueXML{Int: &s}, nil
	case int32:
		s := strconv.FormatInt(int64(t), 10)
		return valueXML{Int: &s}, nil
	case int64:
		s := strconv.FormatInt(t, 10)
		return valueXML{Int: &s}, nil
	case float64:
		s := strconv.FormatFloat(t, 'g', -1, 64)
		return valueXML{Double: &s}, nil
	case []interface{}:
		arr := arrayXML{}
		for _, item := range t {
			vx, err := toValueXML(item)
			if err != nil {
				return valueXML{}, err
			}
			arr.Data.Value = append(arr.Data.Value, vx)
		}
		return valueXML{Array: &arr}, nil
	case map[string]interface{}:
		st := structXML{}
		for k, item := range t {
			vx, err := toValueXML(item)
			if err != nil {
				return valueXML{}, err
			}
			st.Member = append(st.Member, memberXML{Name: k, Value: vx})
		}
		return valueXML{Struct: &st}, nil
	default:
		return valueXML{}, fmt.Errorf("xmlrpc: unsupported value type %T", v)
	}
}

// fromValueXML decodes an XML-RPC <value> into a Go value.
func fromValueXML(v valueXML) (interface{}, error) {
	switch {
	case v.String != nil:
		return *v.String, nil
	case v.Int != nil:
		n, err := strconv.ParseInt(*v.Int, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: bad int %q: %w", *v.Int, err)
		}
		return int32(n), nil
	case v.I4 != nil:
		n, err := strconv.ParseInt(*v.I4, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: bad i4 %q: %w", *v.I4, err)
		}
		return int32(n), nil
	case v.Boolean != nil:
		return *v.Boolean == "1" || *v.Boolean == "true", nil
	case v.Double != nil:
		f, err := strconv.ParseFloat(*v.Double, 64)
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: bad double %q: %w", *v.Double, err)
		}
		return f, nil
	case v.Array != nil:
		result := make([]interface{}, 0, len(v.Array.Data.Value))
		for _, item := range v.Array.Data.Value {
			decoded, err := fromValueXML(item)
			if err != nil {
				return nil, err
			}
			result = append(result, decoded)
		}
		return result, nil
	case v.Struct != nil:
		result := make(map[string]interface{}, len(v.Struct.Member))
		for _, m := range v.Struct.Member {
			decoded, err := fromValueXML(m.Value)
			if err != nil {
				return nil, err
			}
			result[m.Name] = decoded
		}
		return result, nil
	default:
		// XML-RPC permits a bare string value with no type tag.
		return v.Chardata, nil
	}
}

// --- request/response (de)serialization --------------------------------

func marshalCall(method string, params []interface{}) ([]byte, error) {
	call := methodCallXML{MethodName: method}
	for _, p := range params {
		vx, err := toValueXML(p)
		if err != nil {
			return nil, err
		}
		call.Params.Param = append(call.Params.Param, paramXML{Value: vx})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(call); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalCall(data []byte) (method string, params []interface{}, err error) {
	var call methodCallXML
	if err := xml.Unmarshal(data, &call); err != nil {
		return "", nil, err
	}
	for _, p := range call.Params.Param {
		v, err := fromValueXML(p.Value)
		if err != nil {
			return "", nil, err
		}
		params = append(params, v)
	}
	return call.MethodName, params, nil
}

func marshalResponse(value interface{}) ([]byte, error) {
	vx, err := toValueXML(value)
	if err != nil {
		return nil, err
	}
	resp := methodResponseXML{Params: &paramsXML{Param: []paramXML{{Value: vx}}}}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(resp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalFault(message string) ([]byte, error) {
	faultStruct := map[string]interface{}{
		"faultCode":   int32(-1),
		"faultString": message,
	}
	vx, err := toValueXML(faultStruct)
	if err != nil {
		return nil, err
	}
	resp := methodResponseXML{Fault: &faultXML{Value: vx}}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(resp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalResponse(data []byte) (interface{}, error) {
	var resp methodResponseXML
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.Fault != nil {
		v, err := fromValueXML(resp.Fault.Value)
		if err != nil {
			return nil, err
		}
		if m, ok := v.(map[string]interface{}); ok {
			return nil, fmt.Errorf("xmlrpc: fault %v: %v", m["faultCode"], m["faultString"])
		}
		return nil, fmt.Errorf("xmlrpc: fault %v", v)
	}
	if resp.Params == nil || len(resp.Params.Param) == 0 {
		return nil, nil
	}
	return fromValueXML(resp.Params.Param[0].Value)
}
