// Package auth proves that a request was signed by the account it claims to
// act for. Clients sign an EIP-191 personal message over the request line,
// a timestamp, a nonce and the body hash; the server recovers the signer and
// compares it with the claimed address.
package auth

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv"
)

const (
	// HeaderAddress names the account the request acts for.
	HeaderAddress = "X-User-Address"
	// HeaderTimestamp is the unix time (seconds) the request was signed at.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce must be unique per address within the replay window.
	HeaderNonce = "X-Nonce"
	// HeaderSignature is the hex 65-byte secp256k1 signature.
	HeaderSignature = "X-Signature"

	// MaxBodyForSignature is the largest body hashed into a signature.
	MaxBodyForSignature = 1 << 16

	DefaultMaxSkew = 2 * time.Minute
	maxNonceLen    = 128
	messagePrefix  = "yieldproxy"
)

var (
	ErrMissingAddress = errors.New("auth: missing " + HeaderAddress + " header")
	ErrInvalidAddress = errors.New("auth: invalid " + HeaderAddress + " header")
	// ErrUnauthenticated covers every signature, freshness and replay failure.
	ErrUnauthenticated = errors.New("auth: request not authenticated")
)

// NonceStore remembers nonces for the replay window. Seen records key and
// reports whether it was already present.
type NonceStore interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Config tunes a Verifier. Zero values take the defaults.
type Config struct {
	MaxSkew time.Duration
	Nonces  NonceStore
	Now     func() time.Time
}

// Verifier authenticates signed requests.
type Verifier struct {
	maxSkew time.Duration
	nonces  NonceStore
	now     func() time.Time
}

func NewVerifier(cfg Config) *Verifier {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = DefaultMaxSkew
	}
	if cfg.Nonces == nil {
		cfg.Nonces = NewMemoryNonces()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{maxSkew: cfg.MaxSkew, nonces: cfg.Nonces, now: cfg.Now}
}

// Verify returns the address that signed r. body is the full request body.
func (v *Verifier) Verify(r *http.Request, body []byte) (common.Address, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderAddress))
	if raw == "" {
		return common.Address{}, ErrMissingAddress
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	claimed := common.HexToAddress(raw)
	if claimed == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	if len(body) > MaxBodyForSignature {
		return common.Address{}, fmt.Errorf("%w: body exceeds %d bytes", ErrUnauthenticated, MaxBodyForSignature)
	}

	timestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: invalid %s", ErrUnauthenticated, HeaderTimestamp)
	}
	now := v.now()
	skew := now.Sub(time.Unix(secs, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return common.Address{}, fmt.Errorf("%w: timestamp outside allowed skew of %s", ErrUnauthenticated, v.maxSkew)
	}

	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" || len(nonce) > maxNonceLen {
		return common.Address{}, fmt.Errorf("%w: invalid %s", ErrUnauthenticated, HeaderNonce)
	}

	sig, err := hexutil.Decode(ensure0x(strings.TrimSpace(r.Header.Get(HeaderSignature))))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: malformed signature", ErrUnauthenticated)
	}
	// Wallets sign with v in {27, 28}.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest := textHash(Message(claimed, timestamp, nonce, r.Method, CanonicalPath(r), body))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != claimed {
		return common.Address{}, fmt.Errorf("%w: signature is not from %s", ErrUnauthenticated, claimed.Hex())
	}

	// Record the nonce only once the signature checks out.
	seen, err := v.nonces.Seen(r.Context(), claimed.Hex()+"|"+nonce, 2*v.maxSkew)
	if err != nil {
		return common.Address{}, fmt.Errorf("record nonce: %w", err)
	}
	if seen {
		return common.Address{}, fmt.Errorf("%w: nonce already used", ErrUnauthenticated)
	}
	return claimed, nil
}

// Message is the text a client signs for a request.
func Message(account common.Address, timestamp, nonce, method, path string, body []byte) []byte {
	return []byte(strings.Join([]string{
		messagePrefix,
		account.Hex(),
		timestamp,
		nonce,
		strings.ToUpper(method),
		path,
		hex.EncodeToString(crypto.Keccak256(body)),
	}, "\n"))
}

// CanonicalPath is the URL path plus its query parameters in sorted order.
func CanonicalPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		parts := strings.Split(r.URL.RawQuery, "&")
		sort.Strings(parts)
		path += "?" + strings.Join(parts, "&")
	}
	return path
}

// Sign sets the auth headers on r for the account owning key.
func Sign(r *http.Request, key *ecdsa.PrivateKey, body []byte, at time.Time, nonce string) error {
	account := crypto.PubkeyToAddress(key.PublicKey)
	timestamp := strconv.FormatInt(at.Unix(), 10)
	digest := textHash(Message(account, timestamp, nonce, r.Method, CanonicalPath(r), body))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	r.Header.Set(HeaderAddress, account.Hex())
	r.Header.Set(HeaderTimestamp, timestamp)
	r.Header.Set(HeaderNonce, nonce)
	r.Header.Set(HeaderSignature, hexutil.Encode(sig))
	return nil
}

// textHash is the EIP-191 personal message digest wallets sign.
func textHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + s[2:]
	}
	return "0x" + s
}

// KVNonces keeps nonces in a kv.Store, expiring them with the key TTL.
type KVNonces struct {
	mu    sync.Mutex
	store kv.Store
}

func NewKVNonces(store kv.Store) *KVNonces {
	return &KVNonces{store: store}
}

func (n *KVNonces) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	key = "auth:nonce:" + key

	n.mu.Lock()
	defer n.mu.Unlock()
	count, err := n.store.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	return false, n.store.Set(ctx, key, []byte{1}, ttl)
}

// MemoryNonces is an in-process NonceStore.
type MemoryNonces struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	now    func() time.Time
	sweeps int
}

func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{seen: make(map[string]time.Time), now: time.Now}
}

func (n *MemoryNonces) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if n.sweeps++; n.sweeps%256 == 0 {
		for k, exp := range n.seen {
			if now.After(exp) {
				delete(n.seen, k)
			}
		}
	}
	if exp, ok := n.seen[key]; ok && !now.After(exp) {
		return true, nil
	}
	n.seen[key] = now.Add(ttl)
	return false, nil
}
