package buildsys

import (
	"errors"
	"fmt"

	"github.com/kolo/xmlrpc"
)

// Calls are encoded and decoded with kolo/xmlrpc but sent through the
// context-aware httpclient. Integers decode as int64, structs as
// map[string]any and arrays as []any.

func encodeCall(method string, params ...any) ([]byte, error) {
	body, err := xmlrpc.EncodeMethodCall(method, params...)
	if err != nil {
		return nil, fmt.Errorf("encoding %s params: %w", method, err)
	}
	return body, nil
}

// decodeResponse returns the single result of a call or its *Fault.
func decodeResponse(data []byte) (any, error) {
	resp := xmlrpc.Response(data)
	if err := resp.Err(); err != nil {
		var fault xmlrpc.FaultError
		if errors.As(err, &fault) {
			return nil, &Fault{Code: fault.Code, Message: fault.String}
		}
		return nil, fmt.Errorf("malformed xml-rpc fault: %w", err)
	}
	var result any
	if err := resp.Unmarshal(&result); err != nil {
		return nil, fmt.Errorf("malformed xml-rpc response: %w", err)
	}
	return result, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// faultFrom converts a multiCall fault entry.
func faultFrom(m map[string]any) *Fault {
	code, _ := asInt(m["faultCode"])
	msg, _ := m["faultString"].(string)
	return &Fault{Code: code, Message: msg}
}
