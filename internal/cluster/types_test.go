package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRole tests role parsing and its text encoding
func TestRole(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Role
	}{
		{"host", RoleHost},
		{"Host", RoleHost},
		{" client ", RoleClient},
	} {
		got, err := ParseRole(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseRole("observer")
	assert.Error(t, err)

	data, err := json.Marshal(PeerInfo{ID: 2, Addr: "http://localhost:8082", Role: RoleClient})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":2,"addr":"http://localhost:8082","role":"client"}`, string(data))

	var decoded PeerInfo
	require.NoError(t, json.Unmarshal([]byte(`{"id":0,"addr":"x","role":"host"}`), &decoded))
	assert.Equal(t, RoleHost, decoded.Role)

	_, err = json.Marshal(PeerInfo{Role: Role(7)})
	assert.Error(t, err)
}

func TestIdentity(t *testing.T) {
	id := Identity()
	assert.Equal(t, Vec3{}, id.Position)
	assert.Equal(t, Quat{W: 1}, id.Rotation)
	assert.Equal(t, "(0.000, 0.000, 0.000) [0.000, 0.000, 0.000, 1.000]", id.String())
}

// TestMessageValidate tests that every kind checks its required fields
func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"reset", Message{Kind: KindResetAnchor}, nil},
		{"relocate", Message{Kind: KindReLocateAnchor}, nil},
		{"reset origin", Message{Kind: KindResetOrigin}, nil},
		{"locate with id", Message{Kind: KindLocateAnchor, AnchorID: "A1"}, nil},
		{"locate without id", Message{Kind: KindLocateAnchor}, ErrMissingAnchorID},
		{"ready with user", Message{Kind: KindSessionReady, UserID: "abc123"}, nil},
		{"ready without user", Message{Kind: KindSessionReady}, ErrMissingUserID},
		{"unknown", Message{Kind: "explode"}, ErrUnknownKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestPostJSON tests the PostJSON function with various scenarios
func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    any
		responseBody   any
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"id":3}`,
			requestBody:    JoinRequest{Addr: "http://localhost:8083"},
			responseBody:   &JoinResponse{},
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
			requestBody:    Message{Kind: KindResetAnchor},
		},
		{
			name:           "bad request",
			serverResponse: http.StatusBadRequest,
			serverBody:     `bad json`,
			requestBody:    Message{Kind: KindResetAnchor},
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			requestBody:    Message{Kind: KindResetAnchor},
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "unmarshalable request body",
			serverResponse: http.StatusOK,
			requestBody:    make(chan int),
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Millisecond)
				defer cancel()
			}

			err := PostJSON(ctx, server.URL, tt.requestBody, tt.responseBody)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if resp, ok := tt.responseBody.(*JoinResponse); ok {
				assert.Equal(t, PeerID(3), resp.ID)
			}
		})
	}
}

// TestPostJSONRetriesServerErrors verifies transient 5xx answers are retried
func TestPostJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	require.NoError(t, PostJSON(context.Background(), server.URL, Message{Kind: KindReLocateAnchor}, nil))
	assert.Equal(t, int32(3), calls.Load())
}

// TestStatusError verifies persistent failures keep their status code
func TestStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	var out map[string]any
	err := GetJSON(context.Background(), server.URL+"/anchors/A1", &out)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Contains(t, err.Error(), "404")
}

// TestGetJSON tests the GetJSON function with various scenarios
func TestGetJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		expectError    bool
	}{
		{"successful GET", http.StatusOK, `{"data":"test","value":123}`, false},
		{"not found error", http.StatusNotFound, `{"error":"not found"}`, true},
		{"invalid JSON response", http.StatusOK, `{invalid json}`, true},
		{"redirect response", http.StatusMovedPermanently, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			var out map[string]any
			err := GetJSON(context.Background(), server.URL, &out)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "test", out["data"])
			assert.Equal(t, float64(123), out["value"])
		})
	}
}

func TestDeleteJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	assert.NoError(t, DeleteJSON(context.Background(), server.URL+"/anchors/A1"))
}

// TestGetJSONInvalidURL tests GetJSON with invalid URL
func TestGetJSONInvalidURL(t *testing.T) {
	var result map[string]any
	assert.Error(t, GetJSON(context.Background(), "://invalid-url", &result))
}
