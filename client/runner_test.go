package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"script-rpc/config"
	"script-rpc/transport"
)

func newBackend(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, timeout time.Duration) (*Client, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	c := New(config.ClientConfig{EndpointURL: srv.URL + "/exec", Timeout: timeout}, WithLogger(zap.New(core)))
	t.Cleanup(func() { _ = c.Close() })
	return c, logs
}

func wait(t *testing.T, call *Call) *Call {
	t.Helper()
	select {
	case c := <-call.Done:
		return c
	case <-time.After(5 * time.Second):
		t.Fatalf("call %s never settled", call.Function)
		return nil
	}
}

func TestRunnerSuccess(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[1,2,3]}`))
	})
	c, _ := newClient(t, srv, 5*time.Second)

	var successes, failures atomic.Int32
	var got json.RawMessage
	call := c.Run().
		WithSuccessHandler(func(res json.RawMessage) {
			successes.Add(1)
			got = res
		}).
		WithFailureHandler(func(error) { failures.Add(1) }).
		Call("getItems", 42)
	wait(t, call)

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(0), failures.Load())
	assert.JSONEq(t, `{"items":[1,2,3]}`, string(got))
	assert.NoError(t, call.Error)
}

func TestRunnerHTTPFailure(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c, _ := newClient(t, srv, 5*time.Second)

	var successes atomic.Int32
	var failure error
	call := c.Run().
		WithSuccessHandler(func(json.RawMessage) { successes.Add(1) }).
		WithFailureHandler(func(err error) { failure = err }).
		Call("getItems", 42)
	wait(t, call)

	var httpErr *transport.HTTPError
	require.ErrorAs(t, failure, &httpErr)
	assert.Equal(t, 500, httpErr.StatusCode)
	assert.Equal(t, "Internal Server Error", httpErr.StatusText)
	assert.Equal(t, int32(0), successes.Load())
}

func TestRunnerTimeout(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
			_, _ = w.Write([]byte(`"late"`))
		case <-r.Context().Done():
		}
	})
	c, _ := newClient(t, srv, 100*time.Millisecond)

	var successes atomic.Int32
	var failure error
	start := time.Now()
	call := c.Run().
		WithSuccessHandler(func(json.RawMessage) { successes.Add(1) }).
		WithFailureHandler(func(err error) { failure = err }).
		Call("slow")
	wait(t, call)
	elapsed := time.Since(start)

	var timeoutErr *transport.TimeoutError
	require.ErrorAs(t, failure, &timeoutErr)
	assert.Equal(t, "request timeout after 100ms", failure.Error())
	assert.Less(t, elapsed, 2*time.Second)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), successes.Load(), "no late success after timeout")
}

func TestRunnerLastRegistrationWins(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`1`))
	})
	c, _ := newClient(t, srv, time.Second)

	var first, second atomic.Int32
	call := c.Run().
		WithSuccessHandler(func(json.RawMessage) { first.Add(1) }).
		WithSuccessHandler(func(json.RawMessage) { second.Add(1) }).
		Call("f")
	wait(t, call)

	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestRunnerHandlerOrderDoesNotMatter(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusBadGateway)
	})
	c, _ := newClient(t, srv, time.Second)

	var failures atomic.Int32
	call := c.Run().
		WithFailureHandler(func(error) { failures.Add(1) }).
		WithSuccessHandler(func(json.RawMessage) {}).
		Call("f")
	wait(t, call)
	assert.Equal(t, int32(1), failures.Load())
}

func TestRunnersAreIndependent(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`1`))
	})
	c, logs := newClient(t, srv, time.Second)

	var configured atomic.Int32
	configuredCall := c.Run().WithSuccessHandler(func(json.RawMessage) { configured.Add(1) }).Call("a")
	bareCall := c.Run().Call("b")
	wait(t, configuredCall)
	wait(t, bareCall)

	assert.Equal(t, int32(1), configured.Load())
	completed := logs.FilterMessage("call completed")
	require.Equal(t, 1, completed.Len())
	assert.Equal(t, "b", completed.All()[0].ContextMap()["function"])
}

func TestRunnerTopLevelLogsFailure(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c, logs := newClient(t, srv, time.Second)

	wait(t, c.Run().Call("getItems", 42))

	entries := logs.FilterMessage("call failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "getItems", entries[0].ContextMap()["function"])
}

func TestRunnerUnhandledFailureWithSuccessHandlerOnly(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c, logs := newClient(t, srv, time.Second)

	var successes atomic.Int32
	wait(t, c.Run().WithSuccessHandler(func(json.RawMessage) { successes.Add(1) }).Call("f"))

	assert.Equal(t, int32(0), successes.Load())
	assert.Equal(t, 1, logs.FilterMessage("unhandled error").Len())
	assert.Equal(t, 0, logs.FilterMessage("call failed").Len())
}

func TestRunnerSuccessWithFailureHandlerOnlyIsQuiet(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`1`))
	})
	c, logs := newClient(t, srv, time.Second)

	wait(t, c.Run().WithFailureHandler(func(error) {}).Call("f"))
	assert.Equal(t, 0, logs.FilterMessage("call completed").Len())
}

func TestRunnerReuseFails(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`1`))
	})
	c, _ := newClient(t, srv, time.Second)

	r := c.Run()
	first := r.Call("f")
	second := wait(t, r.Call("g"))
	assert.ErrorIs(t, second.Error, ErrRunnerUsed)
	assert.NoError(t, wait(t, first).Error)
}

func TestRunnerHandlerAfterCallIgnored(t *testing.T) {
	release := make(chan struct{})
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`1`))
	})
	c, logs := newClient(t, srv, 5*time.Second)

	var late atomic.Int32
	r := c.Run()
	call := r.Call("f")
	r.WithSuccessHandler(func(json.RawMessage) { late.Add(1) })
	close(release)
	wait(t, call)

	assert.Equal(t, int32(0), late.Load())
	assert.Equal(t, 1, logs.FilterMessage("handler registered after the call was made; ignored").Len())
	assert.Equal(t, 1, logs.FilterMessage("call completed").Len())
}

func TestRunnerHandlerPanicIsRecovered(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`1`))
	})
	c, logs := newClient(t, srv, time.Second)

	var failures atomic.Int32
	call := c.Run().
		WithSuccessHandler(func(json.RawMessage) { panic("render failed") }).
		WithFailureHandler(func(error) { failures.Add(1) }).
		Call("f")
	wait(t, call)

	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, 1, logs.FilterMessage("handler panicked").Len())
}

func TestRunnerNotConfigured(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := New(config.ClientConfig{EndpointURL: config.PlaceholderEndpoint}, WithLogger(zap.New(core)))

	var failure error
	wait(t, c.Run().WithFailureHandler(func(err error) { failure = err }).Call("getItems"))

	assert.ErrorIs(t, failure, transport.ErrNotConfigured)
	assert.True(t, errors.Is(failure, config.ErrPlaceholderEndpoint))
	assert.GreaterOrEqual(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), 1)
}

func TestCloseFailsInFlightRunner(t *testing.T) {
	started := make(chan struct{})
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})
	c, _ := newClient(t, srv, 5*time.Second)

	var failure error
	call := c.Run().WithFailureHandler(func(err error) { failure = err }).Call("hang")
	<-started
	require.NoError(t, c.Close())
	wait(t, call)

	assert.ErrorIs(t, failure, transport.ErrClosed)
}
