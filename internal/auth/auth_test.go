package auth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv/memory"
)

const (
	aliceKeyHex   = "8f2a55949038a9610f50fb23b5883af3b4ecb3c3bb792cbcefbd1542c692be63"
	malloryKeyHex = "c87509a1c067bbde78beb793e6fa76530b6382a4c0241e5e4a9ec0a0f44dc0d3"
	fixedUnixTime = 1_790_000_000
)

func mustKey(t *testing.T, hexKey string) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.HexToECDSA(hexKey)
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func fixedNow() time.Time { return time.Unix(fixedUnixTime, 0) }

func newVerifier() *Verifier {
	return NewVerifier(Config{Now: fixedNow})
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, method, target string, body []byte, at time.Time, nonce string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	require.NoError(t, Sign(r, key, body, at, nonce))
	return r
}

func TestVerify_AcceptsSignedRequest(t *testing.T) {
	key, addr := mustKey(t, aliceKeyHex)
	body := []byte(`{"principal":"1000"}`)
	r := signedRequest(t, key, http.MethodPost, "/v1/positions/deposit", body, fixedNow(), "n-1")

	got, err := newVerifier().Verify(r, body)
	require.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestVerify_QueryOrderDoesNotMatter(t *testing.T) {
	key, addr := mustKey(t, aliceKeyHex)
	r := signedRequest(t, key, http.MethodGet, "/v1/x?b=2&a=1", nil, fixedNow(), "n-1")
	r.URL.RawQuery = "a=1&b=2"

	got, err := newVerifier().Verify(r, nil)
	require.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestVerify_Rejects(t *testing.T) {
	aliceKey, alice := mustKey(t, aliceKeyHex)
	malloryKey, _ := mustKey(t, malloryKeyHex)
	body := []byte(`{"to":"0x01"}`)

	tests := []struct {
		name    string
		build   func() (*http.Request, []byte)
		wantErr error
	}{
		{
			name: "no headers",
			build: func() (*http.Request, []byte) {
				return httptest.NewRequest(http.MethodPost, "/v1/admin/sweep", nil), nil
			},
			wantErr: ErrMissingAddress,
		},
		{
			name: "bad address",
			build: func() (*http.Request, []byte) {
				r := httptest.NewRequest(http.MethodPost, "/v1/admin/sweep", nil)
				r.Header.Set(HeaderAddress, "not-an-address")
				return r, nil
			},
			wantErr: ErrInvalidAddress,
		},
		{
			name: "claimed address without signature",
			build: func() (*http.Request, []byte) {
				r := httptest.NewRequest(http.MethodPost, "/v1/admin/sweep", bytes.NewReader(body))
				r.Header.Set(HeaderAddress, alice.Hex())
				return r, body
			},
			wantErr: ErrUnauthenticated,
		},
		{
			name: "signed by another key",
			build: func() (*http.Request, []byte) {
				r := signedRequest(t, malloryKey, http.MethodPost, "/v1/admin/sweep", body, fixedNow(), "n-1")
				r.Header.Set(HeaderAddress, alice.Hex())
				return r, body
			},
			wantErr: ErrUnauthenticated,
		},
		{
			name: "body changed after signing",
			build: func() (*http.Request, []byte) {
				r := signedRequest(t, aliceKey, http.MethodPost, "/v1/admin/sweep", body, fixedNow(), "n-1")
				return r, []byte(`{"to":"0x02"}`)
			},
			wantErr: ErrUnauthenticated,
		},
		{
			name: "path changed after signing",
			build: func() (*http.Request, []byte) {
				r := signedRequest(t, aliceKey, http.MethodPost, "/v1/positions/settle", body, fixedNow(), "n-1")
				r.URL.Path = "/v1/admin/sweep"
				return r, body
			},
			wantErr: ErrUnauthenticated,
		},
		{
			name: "stale timestamp",
			build: func() (*http.Request, []byte) {
				return signedRequest(t, aliceKey, http.MethodPost, "/v1/admin/sweep", body, fixedNow().Add(-3*time.Minute), "n-1"), body
			},
			wantErr: ErrUnauthenticated,
		},
		{
			name: "truncated signature",
			build: func() (*http.Request, []byte) {
				r := signedRequest(t, aliceKey, http.MethodPost, "/v1/admin/sweep", body, fixedNow(), "n-1")
				r.Header.Set(HeaderSignature, r.Header.Get(HeaderSignature)[:20])
				return r, body
			},
			wantErr: ErrUnauthenticated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, b := tt.build()
			_, err := newVerifier().Verify(r, b)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerify_RejectsReplayedNonce(t *testing.T) {
	key, _ := mustKey(t, aliceKeyHex)
	v := newVerifier()

	first := signedRequest(t, key, http.MethodPost, "/v1/positions/withdraw", nil, fixedNow(), "n-7")
	_, err := v.Verify(first, nil)
	require.NoError(t, err)

	replay := signedRequest(t, key, http.MethodPost, "/v1/positions/withdraw", nil, fixedNow(), "n-7")
	_, err = v.Verify(replay, nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	fresh := signedRequest(t, key, http.MethodPost, "/v1/positions/withdraw", nil, fixedNow(), "n-8")
	_, err = v.Verify(fresh, nil)
	assert.NoError(t, err)
}

func TestVerify_ForgedRequestDoesNotBurnNonce(t *testing.T) {
	aliceKey, alice := mustKey(t, aliceKeyHex)
	malloryKey, _ := mustKey(t, malloryKeyHex)
	v := newVerifier()

	forged := signedRequest(t, malloryKey, http.MethodPost, "/v1/positions/withdraw", nil, fixedNow(), "n-1")
	forged.Header.Set(HeaderAddress, alice.Hex())
	_, err := v.Verify(forged, nil)
	require.ErrorIs(t, err, ErrUnauthenticated)

	genuine := signedRequest(t, aliceKey, http.MethodPost, "/v1/positions/withdraw", nil, fixedNow(), "n-1")
	_, err = v.Verify(genuine, nil)
	assert.NoError(t, err)
}

func TestKVNonces(t *testing.T) {
	store := memory.New(0)
	defer store.Close()
	nonces := NewKVNonces(store)
	ctx := context.Background()

	seen, err := nonces.Seen(ctx, "a|1", time.Minute)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = nonces.Seen(ctx, "a|1", time.Minute)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = nonces.Seen(ctx, "b|1", time.Minute)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryNonces_Expire(t *testing.T) {
	now := fixedNow()
	nonces := NewMemoryNonces()
	nonces.now = func() time.Time { return now }
	ctx := context.Background()

	seen, err := nonces.Seen(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, seen)

	now = now.Add(2 * time.Minute)
	seen, err = nonces.Seen(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, seen, "expired nonces may be reused")
}
