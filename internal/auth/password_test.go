package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	passwordHash, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	require.NotEmpty(t, passwordHash)
	require.NotContains(t, passwordHash, "correct horse battery")

	require.NoError(t, VerifyPassword("correct horse battery", passwordHash))
	require.ErrorIs(t, VerifyPassword("wrong password", passwordHash), ErrPasswordMismatch)
}

func TestHashPasswordRejectsOutOfRangeLength(t *testing.T) {
	_, err := HashPassword("short")
	require.ErrorIs(t, err, ErrPasswordLength)

	_, err = HashPassword(strings.Repeat("x", 73))
	require.ErrorIs(t, err, ErrPasswordLength)
}
