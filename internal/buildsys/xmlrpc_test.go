package buildsys

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCall(t *testing.T) {
	t.Parallel()

	body, err := encodeCall("moveBuild", "f40-updates-candidate", "f40-updates-testing", "bash-5.2-1.fc40", true)
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, "<methodName>moveBuild</methodName>")
	assert.Contains(t, s, "<string>f40-updates-candidate</string>")
	assert.Contains(t, s, "<boolean>1</boolean>")
}

func TestEncodeCall_EscapesAndNests(t *testing.T) {
	t.Parallel()

	body, err := encodeCall("multiCall", []any{
		map[string]any{"methodName": "listTags", "params": []any{"a<b&c"}},
	})
	require.NoError(t, err)
	s := string(body)
	assert.Contains(t, s, "<name>methodName</name>")
	assert.Contains(t, s, "<string>listTags</string>")
	assert.Contains(t, s, "<string>a&lt;b&amp;c</string>")
	assert.NotContains(t, s, "a<b&c")

	_, err = encodeCall("bad", make(chan int))
	assert.Error(t, err)
}

func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want any
	}{
		{
			name: "array of structs",
			body: `<?xml version="1.0"?><methodResponse><params><param><value><array><data>
				<value><struct><member><name>name</name><value><string>f40-updates-candidate</string></value></member>
				<member><name>id</name><value><int>42</int></value></member></struct></value>
				</data></array></value></param></params></methodResponse>`,
			want: []any{map[string]any{"name": "f40-updates-candidate", "id": int64(42)}},
		},
		{
			name: "nil",
			body: `<methodResponse><params><param><value><nil/></value></param></params></methodResponse>`,
			want: nil,
		},
		{
			name: "i8 and boolean",
			body: `<methodResponse><params><param><value><array><data><value><i8>9000000000</i8></value><value><boolean>0</boolean></value></data></array></value></param></params></methodResponse>`,
			want: []any{int64(9000000000), false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeResponse([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeResponse_Fault(t *testing.T) {
	t.Parallel()

	body := `<methodResponse><fault><value><struct>
		<member><name>faultCode</name><value><int>1000</int></value></member>
		<member><name>faultString</name><value><string>No such build: 'bash-0-0'</string></value></member>
		</struct></value></fault></methodResponse>`

	_, err := decodeResponse([]byte(body))
	require.Error(t, err)

	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 1000, fault.Code)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDecodeResponse_Malformed(t *testing.T) {
	t.Parallel()

	_, err := decodeResponse([]byte("<methodResponse><params>"))
	assert.Error(t, err)

	_, err = decodeResponse([]byte("<methodResponse><params><param><value><int>x</int></value></param></params></methodResponse>"))
	assert.Error(t, err)
}

func TestAsInt(t *testing.T) {
	t.Parallel()

	n, ok := asInt(int64(77))
	assert.True(t, ok)
	assert.Equal(t, 77, n)
	n, ok = asInt(12)
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	_, ok = asInt("77")
	assert.False(t, ok)
	_, ok = asInt(nil)
	assert.False(t, ok)
}

func TestFault_IsOnlyNotFound(t *testing.T) {
	t.Parallel()

	err := &Fault{Code: 1000, Message: "tag f40 is locked"}
	assert.False(t, errors.Is(err, ErrNotFound))
}
