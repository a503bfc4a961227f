package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+9*********67", MaskPhone("+998901234567"))
	assert.Equal(t, "+4*********90", MaskPhone("+491234567890"))
	assert.Equal(t, "****", MaskPhone("123"))
	assert.Equal(t, "****", MaskPhone(""))
}
