package service_test

import (
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evetabi/lotmarket/internal/config"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/service"
)

type wallet struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return wallet{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// signature produces a personal_sign style signature with a 27/28 recovery
// byte.
func (w wallet) signature(message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func (w wallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := w.signature(message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return sig
}

func newAuth(owner common.Address) *service.AuthService {
	cfg := &config.Config{}
	cfg.JWT = config.JWTConfig{AccessSecret: "test-secret", AccessTTL: 15 * time.Minute, ChallengeTTL: 5 * time.Minute}
	cfg.Market.OwnerAddress = owner
	return service.NewAuthService(cfg)
}

func TestLogin_SignedChallenge(t *testing.T) {
	w := newWallet(t)
	auth := newAuth(common.HexToAddress("0x00000000000000000000000000000000000000a0"))

	ch, err := auth.IssueChallenge(w.addr)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	resp, err := auth.Login(w.addr, w.sign(t, ch.Message))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Role != service.RoleTrader || resp.Address != w.addr {
		t.Errorf("Login() = %+v, want trader %s", resp, w.addr)
	}

	claims, err := auth.ParseAccessToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	addr, err := claims.Address()
	if err != nil || addr != w.addr {
		t.Errorf("claims.Address() = %s, %v, want %s", addr, err, w.addr)
	}

	// single use
	if _, err := auth.Login(w.addr, w.sign(t, ch.Message)); !errors.Is(err, domain.ErrChallengeNotFound) {
		t.Errorf("replayed Login err = %v, want ErrChallengeNotFound", err)
	}
}

func TestLogin_OwnerRole(t *testing.T) {
	w := newWallet(t)
	auth := newAuth(w.addr)

	ch, _ := auth.IssueChallenge(w.addr)
	resp, err := auth.Login(w.addr, w.sign(t, ch.Message))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Role != service.RoleOwner {
		t.Errorf("owner role = %q, want %q", resp.Role, service.RoleOwner)
	}
}

func TestLogin_Rejections(t *testing.T) {
	w, other := newWallet(t), newWallet(t)
	auth := newAuth(common.Address{})

	if _, err := auth.Login(w.addr, "0x00"); !errors.Is(err, domain.ErrChallengeNotFound) {
		t.Errorf("Login without challenge err = %v, want ErrChallengeNotFound", err)
	}

	ch, _ := auth.IssueChallenge(w.addr)
	if _, err := auth.Login(w.addr, other.sign(t, ch.Message)); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Errorf("Login signed by another key err = %v, want ErrInvalidSignature", err)
	}

	if _, err := auth.IssueChallenge(w.addr); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if _, err := auth.Login(w.addr, "0xdeadbeef"); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Errorf("Login with short signature err = %v, want ErrInvalidSignature", err)
	}

	if _, err := auth.IssueChallenge(common.Address{}); !domain.IsAuthError(err) {
		t.Errorf("IssueChallenge(zero) err = %v, want auth error", err)
	}
}

func TestLogin_ExpiredChallenge(t *testing.T) {
	w := newWallet(t)
	auth := newAuth(common.Address{})
	now := time.Now()
	auth.SetClock(func() time.Time { return now })

	ch, _ := auth.IssueChallenge(w.addr)
	now = now.Add(6 * time.Minute)
	if _, err := auth.Login(w.addr, w.sign(t, ch.Message)); !errors.Is(err, domain.ErrChallengeNotFound) {
		t.Errorf("Login after challenge expiry err = %v, want ErrChallengeNotFound", err)
	}
}

func TestParseAccessToken(t *testing.T) {
	w := newWallet(t)
	auth := newAuth(common.Address{})
	now := time.Now()
	auth.SetClock(func() time.Time { return now })

	ch, _ := auth.IssueChallenge(w.addr)
	resp, err := auth.Login(w.addr, w.sign(t, ch.Message))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := auth.ParseAccessToken(resp.AccessToken + "x"); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("tampered token err = %v, want ErrTokenInvalid", err)
	}
	if _, err := newAuth(common.Address{}).ParseAccessToken(resp.AccessToken); err != nil {
		t.Errorf("token rejected by a service sharing the secret: %v", err)
	}

	now = now.Add(16 * time.Minute)
	if _, err := auth.ParseAccessToken(resp.AccessToken); !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("expired token err = %v, want ErrTokenExpired", err)
	}
}
