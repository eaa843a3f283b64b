package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func hello(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, "hello")
}

func TestServeUntilCanceled(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	worked := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, ln, http.HandlerFunc(hello), zaptest.NewLogger(t), func(ctx context.Context) error {
			close(worked)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-worked

	resp, err := http.Get("http://" + ln.Addr().String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hello", string(body))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout):
		t.Fatal("server did not stop")
	}
}

func TestServeStopsOnWorkFailure(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	boom := errors.New("boom")

	err = Serve(context.Background(), ln, http.HandlerFunc(hello), zaptest.NewLogger(t), func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestListenInvalidAddr(t *testing.T) {
	_, err := Listen("not-an-addr")
	assert.Error(t, err)
}
