package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readResponses(t *testing.T, buf *bytes.Buffer) []Response {
	t.Helper()
	var out []Response
	sc := bufio.NewScanner(strings.NewReader(buf.String()))
	for sc.Scan() {
		var r Response
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	return out
}

func TestServer_DispatchesRegisteredCommand(t *testing.T) {
	var out bytes.Buffer
	s := NewServer(&out, nil)
	s.Register("ping", func(params json.RawMessage) (any, error) {
		return map[string]string{"status": "ok"}, nil
	})

	in := strings.NewReader(`{"messageId":"1","type":"ping"}` + "\n")
	require.NoError(t, s.Serve(in))

	resp := readResponses(t, &out)
	require.Len(t, resp, 1)
	assert.True(t, resp[0].Success)
	assert.Equal(t, "1", resp[0].MessageID)
	assert.Equal(t, "ping", resp[0].Type)
}

func TestServer_UnknownCommandReturnsValidationError(t *testing.T) {
	var out bytes.Buffer
	s := NewServer(&out, nil)

	in := strings.NewReader(`{"messageId":"2","type":"does_not_exist"}` + "\n")
	require.NoError(t, s.Serve(in))

	resp := readResponses(t, &out)
	require.Len(t, resp, 1)
	assert.False(t, resp[0].Success)
	assert.Equal(t, string(errs.KindValidation), resp[0].ErrorKind)
}

func TestServer_HandlerErrorPropagatesKind(t *testing.T) {
	var out bytes.Buffer
	s := NewServer(&out, nil)
	s.Register("start_acquisition", func(params json.RawMessage) (any, error) {
		return nil, errs.Precondition("acquisition already running")
	})

	in := strings.NewReader(`{"type":"start_acquisition"}` + "\n")
	require.NoError(t, s.Serve(in))

	resp := readResponses(t, &out)
	require.Len(t, resp, 1)
	assert.False(t, resp[0].Success)
	assert.Equal(t, string(errs.KindPrecondition), resp[0].ErrorKind)
}

func TestServer_MalformedRequestGetsErrorResponse(t *testing.T) {
	var out bytes.Buffer
	s := NewServer(&out, nil)

	in := strings.NewReader("not json\n")
	require.NoError(t, s.Serve(in))

	resp := readResponses(t, &out)
	require.Len(t, resp, 1)
	assert.False(t, resp[0].Success)
}

func TestServer_PublishEmitsEventLine(t *testing.T) {
	var out bytes.Buffer
	s := NewServer(&out, nil)
	s.Publish("acquisition_progress", map[string]string{"phase": "STIMULUS"})

	var evt Event
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &evt))
	assert.True(t, evt.Event)
	assert.Equal(t, "acquisition_progress", evt.Type)
	assert.NotEmpty(t, evt.MessageID)
}

func TestServer_MultipleCommandsEachGetOneResponse(t *testing.T) {
	var out bytes.Buffer
	s := NewServer(&out, nil)
	s.Register("ping", func(params json.RawMessage) (any, error) { return nil, nil })

	in := strings.NewReader(`{"messageId":"a","type":"ping"}` + "\n" + `{"messageId":"b","type":"ping"}` + "\n")
	require.NoError(t, s.Serve(in))

	resp := readResponses(t, &out)
	require.Len(t, resp, 2)
	assert.Equal(t, "a", resp[0].MessageID)
	assert.Equal(t, "b", resp[1].MessageID)
}
