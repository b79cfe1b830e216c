package auth_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/api/auth"
	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/logger"
)

func TestMain(m *testing.M) {
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	os.Exit(m.Run())
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *testClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func generateRSAKeys(t *testing.T) (privatePEM string, publicKey *rsa.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	return privatePEM, &key.PublicKey
}

func signMessage(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	// Wallets return 27/28 recovery ids
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

type testAuth struct {
	service   auth.Service
	clock     *testClock
	publicKey *rsa.PublicKey
	wallet    *ecdsa.PrivateKey
	address   string
}

func setupTestAuth(t *testing.T) *testAuth {
	privatePEM, publicKey := generateRSAKeys(t)
	clock := &testClock{now: time.Now().UTC()}

	service, err := auth.NewService(auth.Config{
		JWTPrivateKey: privatePEM,
		TokenTTL:      time.Hour,
		Chain:         domain.ChainEthereumSepolia,
	}, auth.NewMemoryNonceStore(), adapter.NewJSON(), clock)
	require.NoError(t, err)

	wallet, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &testAuth{
		service:   service,
		clock:     clock,
		publicKey: publicKey,
		wallet:    wallet,
		address:   crypto.PubkeyToAddress(wallet.PublicKey).Hex(),
	}
}

func TestNewService_InvalidKey(t *testing.T) {
	_, err := auth.NewService(auth.Config{}, auth.NewMemoryNonceStore(), adapter.NewJSON(), adapter.NewClock())
	assert.Error(t, err)

	_, err = auth.NewService(auth.Config{JWTPrivateKey: "not a key"}, auth.NewMemoryNonceStore(), adapter.NewJSON(), adapter.NewClock())
	assert.Error(t, err)
}

func TestService_LoginIssuesVerifiableToken(t *testing.T) {
	ta := setupTestAuth(t)
	ctx := context.Background()

	challenge, err := ta.service.Challenge(ctx, strings.ToLower(ta.address))
	require.NoError(t, err)
	assert.Equal(t, ta.address, challenge.Address)
	assert.Contains(t, challenge.Message, ta.address)
	assert.Contains(t, challenge.Message, challenge.Nonce)
	assert.Equal(t, 5*time.Minute, challenge.ExpiresAt.Sub(challenge.IssuedAt))

	token, err := ta.service.Token(ctx, ta.address, signMessage(t, ta.wallet, challenge.Message))
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, ta.address, token.Subject)
	assert.Equal(t, domain.NewDID(ta.address, domain.ChainEthereumSepolia).String(), token.DID)

	claims := &auth.Claims{}
	parsed, err := jwt.ParseWithClaims(token.AccessToken, claims, func(token *jwt.Token) (interface{}, error) {
		return ta.publicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
	assert.Equal(t, ta.address, claims.Subject)
	assert.Equal(t, auth.DEFAULT_ISSUER, claims.Issuer)
	assert.Equal(t, token.DID, claims.DID)
}

func TestService_NonceIsSingleUse(t *testing.T) {
	ta := setupTestAuth(t)
	ctx := context.Background()

	challenge, err := ta.service.Challenge(ctx, ta.address)
	require.NoError(t, err)
	signature := signMessage(t, ta.wallet, challenge.Message)

	_, err = ta.service.Token(ctx, ta.address, signature)
	require.NoError(t, err)

	_, err = ta.service.Token(ctx, ta.address, signature)
	assert.ErrorIs(t, err, auth.ErrChallengeNotFound)
}

func TestService_NewChallengeReplacesPending(t *testing.T) {
	ta := setupTestAuth(t)
	ctx := context.Background()

	first, err := ta.service.Challenge(ctx, ta.address)
	require.NoError(t, err)
	second, err := ta.service.Challenge(ctx, ta.address)
	require.NoError(t, err)
	assert.NotEqual(t, first.Nonce, second.Nonce)

	_, err = ta.service.Token(ctx, ta.address, signMessage(t, ta.wallet, first.Message))
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestService_RejectsSignatureFromAnotherKey(t *testing.T) {
	ta := setupTestAuth(t)
	ctx := context.Background()

	challenge, err := ta.service.Challenge(ctx, ta.address)
	require.NoError(t, err)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = ta.service.Token(ctx, ta.address, signMessage(t, other, challenge.Message))
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)

	// The failed attempt consumed the challenge
	_, err = ta.service.Token(ctx, ta.address, signMessage(t, ta.wallet, challenge.Message))
	assert.ErrorIs(t, err, auth.ErrChallengeNotFound)
}

func TestService_RejectsExpiredChallenge(t *testing.T) {
	ta := setupTestAuth(t)
	ctx := context.Background()

	challenge, err := ta.service.Challenge(ctx, ta.address)
	require.NoError(t, err)

	ta.clock.advance(5*time.Minute + time.Second)

	_, err = ta.service.Token(ctx, ta.address, signMessage(t, ta.wallet, challenge.Message))
	assert.ErrorIs(t, err, auth.ErrChallengeExpired)
}

func TestService_InvalidInput(t *testing.T) {
	ta := setupTestAuth(t)
	ctx := context.Background()

	_, err := ta.service.Challenge(ctx, "alice")
	assert.ErrorIs(t, err, auth.ErrInvalidAddress)

	_, err = ta.service.Token(ctx, "alice", "0x00")
	assert.ErrorIs(t, err, auth.ErrInvalidAddress)

	_, err = ta.service.Challenge(ctx, ta.address)
	require.NoError(t, err)
	_, err = ta.service.Token(ctx, ta.address, "0x1234")
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)
}

func TestRecoverAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	expected := crypto.PubkeyToAddress(key.PublicKey)

	message := "hello passport"
	raw, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)

	tests := []struct {
		name      string
		signature string
		valid     bool
	}{
		{name: "recovery id 0/1", signature: hexutil.Encode(raw), valid: true},
		{name: "recovery id 27/28", signature: signMessage(t, key, message), valid: true},
		{name: "not hex", signature: "signature", valid: false},
		{name: "wrong length", signature: hexutil.Encode(raw[:64]), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			address, err := auth.RecoverAddress(message, tt.signature)
			if !tt.valid {
				assert.ErrorIs(t, err, auth.ErrInvalidSignature)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, expected, address)
		})
	}
}
