// ABOUTME: Tests for the HTTP client and envelope validation against httptest servers
// ABOUTME: Malformed, partial and unsuccessful envelopes must all become ResponseError

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/2389/forgestate/internal/projectstate"
	"github.com/2389/forgestate/internal/wire"
)

func stateEnvelope(t *testing.T) []byte {
	t.Helper()
	st := projectstate.Default(6, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	st.Revision = 4
	b, err := json.Marshal(wire.OK(st))
	require.NoError(t, err)
	return b
}

func fixedServer(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_Fetch(t *testing.T) {
	srv := fixedServer(t, http.StatusOK, stateEnvelope(t))

	st, err := NewHTTPClient(srv.URL+"/", nil).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), st.Revision)
	assert.Len(t, st.Checklist, 6)
}

func TestHTTPClient_FetchRejectsBadEnvelopes(t *testing.T) {
	good := stateEnvelope(t)
	var generic map[string]any
	require.NoError(t, json.Unmarshal(good, &generic))
	data := generic["data"].(map[string]any)
	delete(data, "nodes")
	missingField, _ := json.Marshal(generic)

	tests := []struct {
		name   string
		status int
		body   string
		reason string
	}{
		{"not json", http.StatusOK, "<html>", "not valid JSON"},
		{"truncated", http.StatusOK, string(good[:len(good)/2]), "not valid JSON"},
		{"unsuccessful", http.StatusServiceUnavailable, `{"success":false,"error":"state store unavailable"}`, "state store unavailable"},
		{"success missing", http.StatusOK, `{"data":{}}`, "not successful"},
		{"success as string", http.StatusOK, `{"success":"true","data":{}}`, "not successful"},
		{"no data", http.StatusOK, `{"success":true}`, "no data"},
		{"data not object", http.StatusOK, `{"success":true,"data":[1,2]}`, "not an object"},
		{"missing field", http.StatusOK, string(missingField), `missing "nodes"`},
		{"checklist not array", http.StatusOK, `{"success":true,"data":` + string(checklistAsString(t, good)) + `}`, "checklist is not an array"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fixedServer(t, tt.status, []byte(tt.body))

			st, err := NewHTTPClient(srv.URL, nil).Fetch(context.Background())
			require.Error(t, err)
			assert.Nil(t, st)

			var respErr *ResponseError
			require.True(t, errors.As(err, &respErr), "got %T", err)
			assert.Equal(t, tt.status, respErr.Status)
			assert.Contains(t, respErr.Reason, tt.reason)
		})
	}
}

// checklistAsString returns the state object with checklist replaced by a string.
func checklistAsString(t *testing.T, envelope []byte) []byte {
	t.Helper()
	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(gjson.GetBytes(envelope, "data").Raw), &data))
	data["checklist"] = "all done"
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return b
}

func TestHTTPClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, nil).Fetch(context.Background())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Contains(t, netErr.Op, "/api/project-state")
}

func TestHTTPClient_WritesCarryTokenAndIdempotencyKey(t *testing.T) {
	var gotAuth, gotKey string
	var gotBody wire.BatchRequest
	body := stateEnvelope(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/checklist/batch", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	yes := true
	c := NewHTTPClient(srv.URL, nil).WithToken("tok")
	_, err := c.BatchUpdate(context.Background(), []wire.StepUpdate{{ID: 2, Value: &yes}})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.NotEmpty(t, gotKey)
	require.Len(t, gotBody.Updates, 1)
	assert.Equal(t, 2, gotBody.Updates[0].ID)
	require.NotNil(t, gotBody.Updates[0].Value)
	assert.True(t, *gotBody.Updates[0].Value)
}

func TestHTTPClient_ReadsAreAnonymous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{"success":true,"data":{"completed":3,"total":300,"percent":1,"categories":[]}}`))
	}))
	t.Cleanup(srv.Close)

	v, err := NewHTTPClient(srv.URL, nil).WithToken("tok").Checklist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v.Completed)
	assert.Equal(t, 300, v.Total)
}

func TestHTTPClient_Health(t *testing.T) {
	ok := fixedServer(t, http.StatusOK, []byte("OK"))
	require.NoError(t, NewHTTPClient(ok.URL, nil).Health(context.Background()))

	bad := fixedServer(t, http.StatusServiceUnavailable, []byte("down\n"))
	err := NewHTTPClient(bad.URL, nil).Health(context.Background())
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "down", respErr.Reason)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "bad response (status 500): boom", (&ResponseError{Status: 500, Reason: "boom"}).Error())
	assert.Equal(t, "bad response: boom", (&ResponseError{Reason: "boom"}).Error())

	inner := errors.New("refused")
	err := &NetworkError{Op: "GET /x", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "GET /x: refused", err.Error())
}
