package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	passwordHash, err := HashPassword("sr")
	require.NoError(t, err)
	assert.NotEmpty(t, passwordHash)
	assert.True(t, CheckPasswordHash("sr", passwordHash))
	assert.False(t, CheckPasswordHash("not-sr", passwordHash))

	assert.True(t, CheckPasswordHash("sr", "$2a$14$z8cd4yJpzP40Qh2F2BhiMO.sOm4YAIaf30pmUKLOaISojD9HnXgaG"))
}

func TestIsPasswordHash(t *testing.T) {
	assert.True(t, IsPasswordHash("$2a$14$z8cd4yJpzP40Qh2F2BhiMO.sOm4YAIaf30pmUKLOaISojD9HnXgaG"))
	assert.True(t, IsPasswordHash("$2b$12$abcdefghijklmnopqrstuv"))
	assert.False(t, IsPasswordHash("plain-password"))
	assert.False(t, IsPasswordHash(""))
	assert.False(t, IsPasswordHash("$1$not-bcrypt"))

	generated, err := HashPassword("some password")
	require.NoError(t, err)
	assert.True(t, IsPasswordHash(generated))
}
