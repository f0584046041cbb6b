package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeChannel(t *testing.T) {
	assert.Equal(t, "photoguess:changes", changeChannel(""))
	assert.Equal(t, "staging:changes", changeChannel("staging:"))
}
