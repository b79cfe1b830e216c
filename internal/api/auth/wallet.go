package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/logger"
)

const (
	DEFAULT_CHALLENGE_TTL = 5 * time.Minute
	DEFAULT_TOKEN_TTL     = 24 * time.Hour
	DEFAULT_ISSUER        = "passport-ledger"

	// CHALLENGE_KEY_PREFIX prefixes the key-value entries holding pending challenges
	CHALLENGE_KEY_PREFIX = "auth:challenge:"
)

var (
	// ErrInvalidAddress is returned when the login address is not a hex address
	ErrInvalidAddress = errors.New("invalid address")
	// ErrChallengeNotFound is returned when no pending challenge exists for the address
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeExpired is returned when the challenge is older than its ttl
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrInvalidSignature is returned when the signature is malformed or signed by another key
	ErrInvalidSignature = errors.New("invalid signature")
)

// NonceStore keeps single-use challenges. store.Store satisfies it.
type NonceStore interface {
	SetKeyValue(ctx context.Context, key string, value string) error
	ConsumeKeyValue(ctx context.Context, key string) (string, error)
}

// Config holds the wallet login configuration
type Config struct {
	JWTPrivateKey string // RSA private key in PEM format
	JWTIssuer     string
	TokenTTL      time.Duration
	ChallengeTTL  time.Duration
	Chain         domain.Chain
}

// Challenge is the message a wallet signs to log in
type Challenge struct {
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Token is an issued access token
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Subject     string    `json:"subject"`
	DID         string    `json:"did"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Claims are the claims of an issued token. The subject is the checksummed address.
type Claims struct {
	DID string `json:"did,omitempty"`
	jwt.RegisteredClaims
}

// Service implements the wallet signature login
type Service interface {
	// Challenge creates a single-use challenge for the address, replacing any pending one
	Challenge(ctx context.Context, address string) (*Challenge, error)
	// Token consumes the pending challenge and issues a token when the signature recovers to the address
	Token(ctx context.Context, address string, signature string) (*Token, error)
}

type service struct {
	config     Config
	privateKey *rsa.PrivateKey
	nonces     NonceStore
	json       adapter.JSON
	clock      adapter.Clock
}

// NewService creates a wallet login service
func NewService(cfg Config, nonces NonceStore, jsonAdapter adapter.JSON, clock adapter.Clock) (Service, error) {
	if cfg.JWTPrivateKey == "" {
		return nil, errors.New("JWT private key not configured")
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.JWTPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DEFAULT_TOKEN_TTL
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DEFAULT_CHALLENGE_TTL
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = DEFAULT_ISSUER
	}
	if cfg.Chain == "" {
		cfg.Chain = domain.ChainEthereumMainnet
	}

	return &service{
		config:     cfg,
		privateKey: privateKey,
		nonces:     nonces,
		json:       jsonAdapter,
		clock:      clock,
	}, nil
}

// ChallengeMessage returns the EIP-191 message signed for a challenge
func ChallengeMessage(address, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf("Passport Ledger wants you to sign in with your account:\n%s\n\nNonce: %s\nIssued At: %s",
		address, nonce, issuedAt.UTC().Format(time.RFC3339))
}

func challengeKey(address string) string {
	return CHALLENGE_KEY_PREFIX + strings.ToLower(address)
}

// Challenge creates a single-use challenge for the address
func (s *service) Challenge(ctx context.Context, address string) (*Challenge, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	checksummed := common.HexToAddress(address).Hex()

	now := s.clock.Now().UTC().Truncate(time.Second)
	nonce := uuid.NewString()
	challenge := &Challenge{
		Address:   checksummed,
		Nonce:     nonce,
		Message:   ChallengeMessage(checksummed, nonce, now),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.ChallengeTTL),
	}

	data, err := s.json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal challenge: %w", err)
	}
	if err := s.nonces.SetKeyValue(ctx, challengeKey(checksummed), string(data)); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return challenge, nil
}

// Token verifies the signed challenge and issues an access token.
// The challenge is consumed before verification, so a failed attempt needs a new challenge.
func (s *service) Token(ctx context.Context, address string, signature string) (*Token, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	checksummed := common.HexToAddress(address)

	value, err := s.nonces.ConsumeKeyValue(ctx, challengeKey(checksummed.Hex()))
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if value == "" {
		return nil, ErrChallengeNotFound
	}

	var challenge Challenge
	if err := s.json.Unmarshal([]byte(value), &challenge); err != nil {
		return nil, fmt.Errorf("failed to parse challenge: %w", err)
	}

	now := s.clock.Now()
	if now.After(challenge.ExpiresAt) {
		return nil, ErrChallengeExpired
	}

	signer, err := RecoverAddress(challenge.Message, signature)
	if err != nil {
		return nil, err
	}
	if signer != checksummed {
		logger.WarnCtx(ctx, "Challenge signed by another key",
			zap.String("address", checksummed.Hex()),
			zap.String("signer", signer.Hex()))
		return nil, ErrInvalidSignature
	}

	did := domain.NewDID(checksummed.Hex(), s.config.Chain).String()
	expiresAt := now.Add(s.config.TokenTTL)
	claims := Claims{
		DID: did,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.JWTIssuer,
			Subject:   checksummed.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	logger.InfoCtx(ctx, "Issued access token", zap.String("subject", checksummed.Hex()))

	return &Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Subject:     checksummed.Hex(),
		DID:         did,
		ExpiresAt:   expiresAt,
	}, nil
}

// RecoverAddress returns the signer of an EIP-191 personal message.
// Both 0/1 and 27/28 recovery ids are accepted.
func RecoverAddress(message string, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	publicKey, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return crypto.PubkeyToAddress(*publicKey), nil
}
