package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssuerRoundTrip(t *testing.T) {
	iss, err := NewIssuer("secret")
	require.NoError(t, err)

	raw, err := iss.Generate("user-1", "company-1", "manager", time.Hour)
	require.NoError(t, err)

	claims, err := iss.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "company-1", claims.CompanyID)
	require.Equal(t, "manager", claims.Role)
}

func TestIssuerRejectsForeignSecretAndExpiry(t *testing.T) {
	iss, err := NewIssuer("secret")
	require.NoError(t, err)
	other, err := NewIssuer("other")
	require.NoError(t, err)

	raw, err := other.Generate("user-1", "company-1", "", time.Hour)
	require.NoError(t, err)
	_, err = iss.Parse(raw)
	require.ErrorIs(t, err, ErrInvalidToken)

	past := time.Now().Add(-2 * time.Hour)
	iss.now = func() time.Time { return past }
	expired, err := iss.Generate("user-1", "company-1", "", time.Hour)
	require.NoError(t, err)
	iss.now = time.Now
	_, err = iss.Parse(expired)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("")
	require.Error(t, err)
}
