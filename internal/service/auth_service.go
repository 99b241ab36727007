// Package service holds application services that sit beside the market
// engine. AuthService proves control of a wallet address by signature and
// issues the JWTs the API and WebSocket hub accept.
package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evetabi/lotmarket/internal/config"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in access tokens.
const (
	RoleTrader = "trader"
	RoleOwner  = "owner"
)

// ──────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ──────────────────────────────────────────────────────────────────────────────

// Challenge is the message a wallet must sign to log in.
type Challenge struct {
	Address   common.Address `json:"address"`
	Nonce     string         `json:"nonce"`
	Message   string         `json:"message"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Address     common.Address `json:"address"`
	Role        string         `json:"role"`
	AccessToken string         `json:"access_token"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with the caller's role. Subject is
// the checksummed wallet address.
type AppClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Address returns the wallet address in the subject claim.
func (c *AppClaims) Address() (common.Address, error) {
	if !common.IsHexAddress(c.Subject) {
		return common.Address{}, domain.ErrTokenInvalid
	}
	return common.HexToAddress(c.Subject), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService issues single-use login challenges and access tokens.
type AuthService struct {
	secret       []byte
	accessTTL    time.Duration
	challengeTTL time.Duration
	owner        common.Address
	now          func() time.Time

	mu         sync.Mutex
	challenges map[common.Address]Challenge
}

// NewAuthService creates an AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		secret:       []byte(cfg.JWT.AccessSecret),
		accessTTL:    cfg.JWT.AccessTTL,
		challengeTTL: cfg.JWT.ChallengeTTL,
		owner:        cfg.Market.OwnerAddress,
		now:          time.Now,
		challenges:   make(map[common.Address]Challenge),
	}
}

// SetClock replaces the time source; used by tests.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

// IssueChallenge creates a fresh challenge for addr, replacing any earlier one.
func (s *AuthService) IssueChallenge(addr common.Address) (Challenge, error) {
	if addr == (common.Address{}) {
		return Challenge{}, domain.ErrUnauthorized
	}
	now := s.now().UTC()
	nonce := uuid.NewString()
	ch := Challenge{
		Address:   addr,
		Nonce:     nonce,
		Message:   challengeMessage(addr, nonce, now),
		ExpiresAt: now.Add(s.challengeTTL),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for a, c := range s.challenges {
		if now.After(c.ExpiresAt) {
			delete(s.challenges, a)
		}
	}
	s.challenges[addr] = ch
	return ch, nil
}

func challengeMessage(addr common.Address, nonce string, at time.Time) string {
	var b strings.Builder
	b.WriteString("Sign in to lotmarket\n")
	b.WriteString("Address: " + addr.Hex() + "\n")
	b.WriteString("Nonce: " + nonce + "\n")
	b.WriteString("Issued: " + at.Format(time.RFC3339))
	return b.String()
}

// Login verifies that signature (65-byte hex, personal_sign format) over the
// outstanding challenge was produced by addr, consumes the challenge and
// returns an access token.
func (s *AuthService) Login(addr common.Address, signature string) (*LoginResponse, error) {
	s.mu.Lock()
	ch, ok := s.challenges[addr]
	if ok {
		delete(s.challenges, addr)
	}
	s.mu.Unlock()

	if !ok || s.now().After(ch.ExpiresAt) {
		return nil, domain.ErrChallengeNotFound
	}

	signer, err := recoverSigner(ch.Message, signature)
	if err != nil {
		return nil, err
	}
	if signer != addr {
		return nil, domain.ErrInvalidSignature
	}

	role := RoleTrader
	if addr == s.owner {
		role = RoleOwner
	}
	token, exp, err := s.generateAccessToken(addr, role)
	if err != nil {
		return nil, fmt.Errorf("auth_service.Login: %w", err)
	}
	return &LoginResponse{Address: addr, Role: role, AccessToken: token, ExpiresAt: exp}, nil
}

// recoverSigner returns the address that signed message with the EIP-191
// personal-message prefix.
func recoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, domain.ErrInvalidSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, domain.ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Token helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *AuthService) generateAccessToken(addr common.Address, role string) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   addr.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// ParseAccessToken validates the token signature, algorithm and expiry.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	if _, err := claims.Address(); err != nil {
		return nil, err
	}
	return claims, nil
}
