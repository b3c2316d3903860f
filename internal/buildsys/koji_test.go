package buildsys

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hubCall struct {
	Method string
	Body   string
}

// fakeHub answers XML-RPC calls with canned bodies keyed by method name.
type fakeHub struct {
	mu        sync.Mutex
	calls     []hubCall
	responses map[string][]string
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var call struct {
		Method string `xml:"methodName"`
	}
	_ = xml.Unmarshal(body, &call)

	h.mu.Lock()
	h.calls = append(h.calls, hubCall{Method: call.Method, Body: string(body)})
	queue := h.responses[call.Method]
	resp := `<methodResponse><params><param><value><nil/></value></param></params></methodResponse>`
	if len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			h.responses[call.Method] = queue[1:]
		}
	}
	h.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(resp))
}

func (h *fakeHub) methods() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.calls))
	for _, c := range h.calls {
		out = append(out, c.Method)
	}
	return out
}

func newHub(t *testing.T, responses map[string][]string) (*fakeHub, *KojiClient) {
	t.Helper()
	hub := &fakeHub{responses: responses}
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, NewKojiClient(srv.URL, WithTaskPollInterval(time.Millisecond))
}

func params(values string) string {
	return `<methodResponse><params><param><value>` + values + `</value></param></params></methodResponse>`
}

func TestKojiClient_ListTags(t *testing.T) {
	t.Parallel()

	_, client := newHub(t, map[string][]string{
		"listTags": {params(`<array><data>
			<value><struct><member><name>name</name><value><string>f40-updates-candidate</string></value></member></struct></value>
			<value><struct><member><name>name</name><value><string>f40-override</string></value></member></struct></value>
			</data></array>`)},
	})

	tags, err := client.ListTags(context.Background(), "bash-5.2-1.fc40")
	require.NoError(t, err)
	assert.Equal(t, []string{"f40-updates-candidate", "f40-override"}, tags)
}

func TestKojiClient_MoveTagWaitsForTask(t *testing.T) {
	t.Parallel()

	open := params(`<array><data><value><array><data><value><struct><member><name>state</name><value><int>1</int></value></member></struct></value></data></array></value></data></array>`)
	closed := params(`<array><data><value><array><data><value><struct><member><name>state</name><value><int>2</int></value></member></struct></value></data></array></value></data></array>`)

	hub, client := newHub(t, map[string][]string{
		"moveBuild": {params(`<int>77</int>`)},
		"multiCall": {open, closed},
	})

	err := client.MoveTag(context.Background(), "f40-updates-candidate", "f40-updates-testing", "bash-5.2-1.fc40")
	require.NoError(t, err)
	assert.Equal(t, []string{"moveBuild", "multiCall", "multiCall"}, hub.methods())
}

func TestKojiClient_AddTagTaskFailure(t *testing.T) {
	t.Parallel()

	failed := params(`<array><data><value><array><data><value><struct><member><name>state</name><value><int>5</int></value></member></struct></value></data></array></value></data></array>`)
	_, client := newHub(t, map[string][]string{
		"tagBuild":  {params(`<int>12</int>`)},
		"multiCall": {failed},
	})

	err := client.AddTag(context.Background(), "f41", "bash-5.2-1.fc41")
	var taskErr *TaskFailedError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, []int{12}, taskErr.TaskIDs)
}

func TestKojiClient_GetBuildNotFound(t *testing.T) {
	t.Parallel()

	_, client := newHub(t, map[string][]string{})

	_, err := client.GetBuild(context.Background(), "missing-1-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestKojiClient_Batch(t *testing.T) {
	t.Parallel()

	hub, client := newHub(t, map[string][]string{
		"multiCall": {params(`<array><data>
			<value><array><data><value><int>101</int></value></data></array></value>
			<value><struct>
				<member><name>faultCode</name><value><int>1000</int></value></member>
				<member><name>faultString</name><value><string>policy violation</string></value></member>
			</struct></value>
			<value><array><data><value><nil/></value></data></array></value>
			</data></array>`)},
	})

	results, err := client.Batch(context.Background(), []Op{
		{Kind: OpMoveTag, FromTag: "f40-updates-candidate", Tag: "f40-updates-testing", NVR: "a-1-1.fc40"},
		{Kind: OpMoveTag, FromTag: "f40-updates-candidate", Tag: "f40-updates-testing", NVR: "b-1-1.fc40"},
		{Kind: OpRemove, Tag: "f40-signing-pending", NVR: "a-1-1.fc40"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 101, results[0].TaskID)
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[1].Err, "build system fault 1000: policy violation")
	assert.NoError(t, results[2].Err)

	require.Len(t, hub.calls, 1)
	assert.Contains(t, hub.calls[0].Body, "<name>methodName</name><value><string>untagBuild</string></value>")
}

func TestKojiClient_BatchLengthMismatch(t *testing.T) {
	t.Parallel()

	_, client := newHub(t, map[string][]string{
		"multiCall": {params(`<array><data></data></array>`)},
	})

	_, err := client.Batch(context.Background(), []Op{{Kind: OpListTags, NVR: "a-1-1"}})
	assert.Error(t, err)
}

func TestKojiClient_HTTPErrorIsReturned(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := NewKojiClient(srv.URL)
	err := client.DeleteTag(context.Background(), "f40-build-side-1234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deleteTag")
}
