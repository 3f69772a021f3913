package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "agent-7",
		"exp": exp.Unix(),
	})
	out, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return out
}

func TestStaticAndEnv(t *testing.T) {
	ctx := context.Background()

	token, err := Static(" abc ").Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	t.Setenv("CRMCHAT_TEST_TOKEN", "from-env")
	token, err = Env("CRMCHAT_TEST_TOKEN").Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "from-env", token)

	token, err = Env("").Token(ctx)
	require.NoError(t, err)
	require.Empty(t, token)
}

func TestChainOrder(t *testing.T) {
	ctx := context.Background()

	token, err := Chain{Static(""), nil, Static("second"), Static("third")}.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", token)

	token, err = Chain{}.Token(ctx)
	require.NoError(t, err)
	require.Empty(t, token)

	failing := ProviderFunc(func(context.Context) (string, error) { return "", errors.New("disk gone") })
	_, err = Chain{failing, Static("never")}.Token(ctx)
	require.ErrorContains(t, err, "disk gone")
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store := NewFileStore(path)

	token, err := store.Token(context.Background())
	require.NoError(t, err)
	require.Empty(t, token, "missing file means no token")

	require.NoError(t, store.Save(" tok-123 "))
	token, err = store.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-123", token)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Clear())
	token, err = store.Token(context.Background())
	require.NoError(t, err)
	require.Empty(t, token)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Token(context.Background())
	require.ErrorContains(t, err, "decode")
}

func TestFileStoreWithoutPath(t *testing.T) {
	store := NewFileStore("  ")
	token, err := store.Token(context.Background())
	require.NoError(t, err)
	require.Empty(t, token)
	require.Error(t, store.Save("x"))
}

func TestExpiry(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	past := signed(t, now.Add(-time.Hour))
	require.True(t, Expired(past, now))

	future := signed(t, now.Add(time.Hour))
	require.False(t, Expired(future, now))
	exp, ok := Expiry(future)
	require.True(t, ok)
	require.Equal(t, now.Add(time.Hour).Unix(), exp.Unix())

	require.False(t, Expired("opaque-token", now))
	_, ok = Expiry("a.b.c")
	require.False(t, ok)
}
