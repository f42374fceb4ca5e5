package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKnownCode(t *testing.T) {
	for _, c := range []string{"", ErrBadRequest, ErrInternal} {
		assert.True(t, IsKnownCode(c), "expected known code: %q", c)
	}
	assert.False(t, IsKnownCode("E_NOT_DEFINED"))
}
