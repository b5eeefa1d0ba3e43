package message

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequest(t *testing.T) {
	req := NewRequest("getItems", []any{42})
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, KindInvoke, req.Kind)
	assert.Equal(t, "getItems", req.Function)
	assert.Equal(t, []any{42}, req.Args)

	other := NewRequest("getItems", nil)
	assert.NotEqual(t, req.ID, other.ID)
	assert.NotNil(t, other.Args)
	assert.Empty(t, other.Args)
}

func TestNewBinaryRequest(t *testing.T) {
	req := NewBinaryRequest("file123")
	assert.Equal(t, KindBinary, req.Kind)
	assert.Equal(t, "file123", req.Function)
	assert.Equal(t, "binary", req.Kind.String())
	assert.Equal(t, "invoke", KindInvoke.String())
}

func TestFailed(t *testing.T) {
	boom := errors.New("boom")
	resp := Failed(boom)
	assert.Nil(t, resp.Result)
	assert.ErrorIs(t, resp.Err, boom)
}
