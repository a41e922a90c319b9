package trust

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Liangxia6/quicboot/identity"
)

func mustIdentity(t require.TestingT, names ...string) identity.Identity {
	id, err := identity.Generate(names)
	require.NoError(t, err)
	return id
}

func mustRoots(t require.TestingT, ids ...identity.Identity) *x509.CertPool {
	ders := make([][]byte, 0, len(ids))
	for _, id := range ids {
		ders = append(ders, id.CertDER)
	}
	pool, err := NewRootStore(ders...)
	require.NoError(t, err)
	return pool
}

func TestZeroPolicyIsStrict(t *testing.T) {
	t.Parallel()

	var p Policy
	assert.Equal(t, ModeStrict, p.Mode())
	assert.False(t, p.Insecure())

	id := mustIdentity(t, "localhost")
	d := p.Verify([][]byte{id.CertDER}, "localhost")
	assert.False(t, d.Accepted)
	assert.NotEmpty(t, d.Reason)
}

func TestStrictAcceptsRootedChain(t *testing.T) {
	t.Parallel()

	id := mustIdentity(t, "localhost", "127.0.0.1")
	p := Strict(mustRoots(t, id))

	for _, name := range []string{"localhost", "127.0.0.1"} {
		d := p.Verify([][]byte{id.CertDER}, name)
		assert.True(t, d.Accepted, "name %s: %s", name, d)
		assert.NoError(t, d.Err())
	}
}

func TestStrictRejections(t *testing.T) {
	t.Parallel()

	id := mustIdentity(t, "localhost")
	stranger := mustIdentity(t, "localhost")
	roots := mustRoots(t, id)

	cases := []struct {
		name       string
		policy     Policy
		chain      [][]byte
		serverName string
		reason     string
	}{
		{"empty store", Strict(nil), [][]byte{id.CertDER}, "localhost", "unknown authority"},
		{"empty pool", Strict(x509.NewCertPool()), [][]byte{id.CertDER}, "localhost", "unknown authority"},
		{"other root", Strict(roots), [][]byte{stranger.CertDER}, "localhost", "unknown authority"},
		{"name mismatch", Strict(roots), [][]byte{id.CertDER}, "example.test", "example.test"},
		{"no server name", Strict(roots), [][]byte{id.CertDER}, "", "server name"},
		{"empty chain", Strict(roots), nil, "localhost", "empty certificate chain"},
		{"malformed", Strict(roots), [][]byte{[]byte("not a certificate")}, "localhost", "parse certificate 0"},
		{"expired", Strict(roots).At(time.Now().Add(2 * identity.DefaultValidity)), [][]byte{id.CertDER}, "localhost", "expired"},
		{"not yet valid", Strict(roots).At(time.Now().Add(-48 * time.Hour)), [][]byte{id.CertDER}, "localhost", "expired"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := tc.policy.Verify(tc.chain, tc.serverName)
			require.False(t, d.Accepted)
			assert.Contains(t, d.Reason, tc.reason)

			var rejected *RejectedError
			require.ErrorAs(t, d.Err(), &rejected)
			assert.Equal(t, d.Reason, rejected.Reason)
		})
	}
}

func TestInsecureSkipVerifyAcceptsAnything(t *testing.T) {
	t.Parallel()

	p := InsecureSkipVerify()
	assert.True(t, p.Insecure())
	assert.Equal(t, "insecure-skip-verify", p.String())

	assert.True(t, p.Verify(nil, "").Accepted)
	assert.True(t, p.Verify([][]byte{{}}, "anything").Accepted)
}

func TestPermissiveProperty(t *testing.T) {
	p := InsecureSkipVerify()
	rapid.Check(t, func(t *rapid.T) {
		chain := rapid.SliceOfN(rapid.SliceOf(rapid.Byte()), 0, 4).Draw(t, "chain")
		name := rapid.String().Draw(t, "server_name")
		d := p.Verify(chain, name)
		assert.True(t, d.Accepted)
		assert.NoError(t, d.Err())
	})
}

func TestStrictRejectsUnrootedProperty(t *testing.T) {
	trusted := mustIdentity(t, "localhost")
	p := Strict(mustRoots(t, trusted))

	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[a-z]{1,8}\.test`).Draw(t, "name")
		leaf := mustIdentity(t, name)

		var chain [][]byte
		if rapid.Bool().Draw(t, "garbage") {
			chain = [][]byte{rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "der")}
		} else {
			chain = [][]byte{leaf.CertDER}
		}

		d := p.Verify(chain, name)
		assert.False(t, d.Accepted)
		assert.Error(t, d.Err())
	})
}

func TestRootsFromPEM(t *testing.T) {
	t.Parallel()

	a := mustIdentity(t, "a.test")
	b := mustIdentity(t, "b.test")
	bundle := append(a.CertPEM(), b.CertPEM()...)

	pool, err := RootsFromPEM(bundle)
	require.NoError(t, err)
	p := Strict(pool)
	assert.True(t, p.Verify([][]byte{a.CertDER}, "a.test").Accepted)
	assert.True(t, p.Verify([][]byte{b.CertDER}, "b.test").Accepted)

	_, err = RootsFromPEM([]byte("nothing here"))
	assert.Error(t, err)
}

func TestLoadRootsFile(t *testing.T) {
	t.Parallel()

	id := mustIdentity(t, "localhost")
	path := filepath.Join(t.TempDir(), "roots.pem")
	require.NoError(t, os.WriteFile(path, id.CertPEM(), 0o600))

	pool, err := LoadRootsFile(path)
	require.NoError(t, err)
	assert.True(t, Strict(pool).Verify([][]byte{id.CertDER}, "localhost").Accepted)

	_, err = LoadRootsFile(filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "read roots"))
}

func TestNewRootStoreRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := NewRootStore([]byte{0x01, 0x02})
	assert.Error(t, err)
}
