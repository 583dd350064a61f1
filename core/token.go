package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// SigningKey is one version of the process-wide tracking secret.
type SigningKey struct {
	Version int
	Secret  []byte
}

type keyTable struct {
	keys   map[int][]byte
	active int
}

// TokenCodec mints and verifies signed tracking tokens. Tokens are
// stateless capability tickets: everything needed to validate one is in
// the token itself plus the key table. The key table is replaced
// wholesale on rotation so decoding never takes a lock.
type TokenCodec struct {
	keys     atomic.Value // *keyTable
	lifetime time.Duration
}

// TokenPayload is the decoded content of a tracking token.
type TokenPayload struct {
	KeyVersion int
	CampaignId int
	TargetId   int
	Purpose    Purpose
	IssuedAt   time.Time
}

// NewTokenCodec creates a codec from at least one signing key. The
// highest version becomes the active minting key. lifetime of zero
// disables token expiry.
func NewTokenCodec(keys []SigningKey, lifetime time.Duration) (*TokenCodec, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("token codec needs at least one signing key")
	}
	kt := &keyTable{keys: make(map[int][]byte)}
	for _, k := range keys {
		if k.Version <= 0 {
			return nil, fmt.Errorf("signing key version must be positive, got %d", k.Version)
		}
		if len(k.Secret) == 0 {
			return nil, fmt.Errorf("signing key v%d has empty secret", k.Version)
		}
		kt.keys[k.Version] = k.Secret
		if k.Version > kt.active {
			kt.active = k.Version
		}
	}
	tc := &TokenCodec{lifetime: lifetime}
	tc.keys.Store(kt)
	return tc, nil
}

// AddKey rotates in a new signing key. Rotation is append-only: old
// versions stay valid so in-flight tokens keep working until they expire.
func (tc *TokenCodec) AddKey(version int, secret []byte) error {
	old := tc.keys.Load().(*keyTable)
	if version <= old.active {
		return fmt.Errorf("key version %d is not newer than active version %d", version, old.active)
	}
	if len(secret) == 0 {
		return fmt.Errorf("signing key v%d has empty secret", version)
	}
	kt := &keyTable{keys: make(map[int][]byte, len(old.keys)+1), active: version}
	for v, s := range old.keys {
		kt.keys[v] = s
	}
	kt.keys[version] = secret
	tc.keys.Store(kt)
	return nil
}

// ActiveKeyVersion returns the version tokens are currently minted with.
func (tc *TokenCodec) ActiveKeyVersion() int {
	return tc.keys.Load().(*keyTable).active
}

// Mint creates a signed token for one (campaign, target, purpose). It is
// deterministic for a given issue time and has no side effects, so links
// can be re-generated at will.
func (tc *TokenCodec) Mint(campaignId int, targetId int, purpose Purpose, issuedAt time.Time) (string, error) {
	if _, err := ParsePurpose(string(purpose)); err != nil {
		return "", err
	}
	kt := tc.keys.Load().(*keyTable)
	secret := kt.keys[kt.active]

	data := fmt.Sprintf("%d|%d|%s|%d", campaignId, targetId, purpose, issuedAt.UTC().Unix())
	encoded := base64.RawURLEncoding.EncodeToString([]byte(data))
	prefix := fmt.Sprintf("v%d.%s", kt.active, encoded)
	sig := base64.RawURLEncoding.EncodeToString(sign(secret, prefix))
	return prefix + "." + sig, nil
}

var tokenVersionRe = regexp.MustCompile(`^v(\d+)$`)

// Decode verifies a token's signature and unpacks its fields. Every way a
// token can be malformed, truncated or mis-signed collapses into the same
// ErrInvalidToken so the response never reveals which check failed.
// ErrExpiredToken is returned only after the signature verified.
func (tc *TokenCodec) Decode(token string) (*TokenPayload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	vm := tokenVersionRe.FindStringSubmatch(parts[0])
	if vm == nil {
		return nil, ErrInvalidToken
	}
	version, err := strconv.Atoi(vm[1])
	if err != nil {
		return nil, ErrInvalidToken
	}

	kt := tc.keys.Load().(*keyTable)
	secret, ok := kt.keys[version]
	if !ok {
		return nil, ErrInvalidToken
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(sig, sign(secret, parts[0]+"."+parts[1])) {
		return nil, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	fields := strings.Split(string(raw), "|")
	if len(fields) != 4 {
		return nil, ErrInvalidToken
	}
	campaignId, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	targetId, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	purpose, err := ParsePurpose(fields[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	issued, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}

	pt := &TokenPayload{
		KeyVersion: version,
		CampaignId: campaignId,
		TargetId:   targetId,
		Purpose:    purpose,
		IssuedAt:   time.Unix(issued, 0).UTC(),
	}
	if tc.lifetime > 0 && time.Since(pt.IssuedAt) > tc.lifetime {
		return nil, ErrExpiredToken
	}
	return pt, nil
}

func sign(secret []byte, data string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(data))
	return h.Sum(nil)
}
