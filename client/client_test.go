package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"script-rpc/codec"
	"script-rpc/config"
	"script-rpc/middleware"
	"script-rpc/server"
)

func TestInvokeDecodesReply(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[1,2,3]}`))
	})
	c, _ := newClient(t, srv, time.Second)

	var reply struct {
		Items []int `json:"items"`
	}
	require.NoError(t, c.Invoke(context.Background(), "getItems", &reply, 42))
	assert.Equal(t, []int{1, 2, 3}, reply.Items)

	assert.NoError(t, c.Invoke(context.Background(), "getItems", nil))

	var wrong []string
	assert.Error(t, c.Invoke(context.Background(), "getItems", &wrong))
}

func TestFetchImage(t *testing.T) {
	var query string
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"data":"aGk=","mimeType":"image/png","name":"a.png"}`))
	})
	c, _ := newClient(t, srv, time.Second)

	img, data, err := c.FetchImage(context.Background(), "file123")
	require.NoError(t, err)
	assert.Equal(t, "img=file123", query)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, []byte("hi"), data)

	raw, err := c.FetchBinary(context.Background(), "file123")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"mimeType":"image/png"`)
}

func TestWithRateLimit(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`1`))
	})
	c := New(config.ClientConfig{EndpointURL: srv.URL + "/exec", Timeout: time.Second}, WithRateLimit(0.001, 0))
	defer c.Close()

	require.NoError(t, c.Invoke(context.Background(), "f", nil))
	assert.ErrorIs(t, c.Invoke(context.Background(), "f", nil), middleware.ErrRateLimited)
}

func TestWithContextCancelsRunnerCalls(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	c := New(config.ClientConfig{EndpointURL: srv.URL + "/exec", Timeout: 5 * time.Second}, WithContext(ctx))
	defer c.Close()

	var failure error
	call := c.Run().WithFailureHandler(func(err error) { failure = err }).Call("hang")
	time.AfterFunc(50*time.Millisecond, cancel)
	wait(t, call)

	assert.ErrorIs(t, failure, context.Canceled)
}

type Catalogue struct{}

func (c *Catalogue) GetItems(limit int) (map[string][]int, error) {
	items := make([]int, limit)
	for i := range items {
		items[i] = i + 1
	}
	return map[string][]int{"items": items}, nil
}

func TestEndToEnd(t *testing.T) {
	backend := server.NewServer(server.WithImageSource(func(ctx context.Context, id string) (any, error) {
		return codec.EncodeImage(id+".png", "image/png", []byte("pixels")), nil
	}))
	require.NoError(t, backend.Register(&Catalogue{}))
	hs := httptest.NewServer(backend)
	defer hs.Close()

	c := New(config.ClientConfig{EndpointURL: hs.URL + "/exec", Timeout: time.Second})
	defer c.Close()
	ns := NewNamespaces(c)

	var got json.RawMessage
	wait(t, ns.API.Run().WithSuccessHandler(func(res json.RawMessage) { got = res }).Call("getItems", 3))
	assert.JSONEq(t, `{"items":[1,2,3]}`, string(got))

	var failure error
	wait(t, ns.Google.Run().WithFailureHandler(func(err error) { failure = err }).Call("missing"))
	assert.Error(t, failure)

	img, data, err := c.FetchImage(context.Background(), "file123")
	require.NoError(t, err)
	assert.Equal(t, "file123.png", img.Name)
	assert.Equal(t, []byte("pixels"), data)
}
