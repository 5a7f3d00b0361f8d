// Package auth mints and verifies the JWTs that gate every coordinator
// endpoint and container callback: node access/refresh
// tokens and container tokens scoped to a single task.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HashAPIKey digests a node's bearer api_key the way Node.APIKeyHash is
// stored, so POST /token/node can look a node up by the hash of the
// key it presents without ever persisting the raw key.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// ClientType distinguishes a node's own session from a container token
// minted on its behalf.
type ClientType string

const (
	ClientNode ClientType = "node"
	ClientContainer ClientType = "container"
)

const (
	accessTokenTTL = 1 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
)

// Claims is the JWT payload shape shared by node and container tokens;
// fields outside a given ClientType's scope are left zero.
type Claims struct {
	jwt.RegisteredClaims
	ClientType ClientType `json:"vantage6_client_type"`
	NodeID string `json:"node_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	CollaborationID string `json:"collaboration_id,omitempty"`
	StudyID string `json:"study_id,omitempty"`
	StoreID string `json:"store_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	TaskID string `json:"task_id,omitempty"`
	Image string `json:"image,omitempty"`
	Databases [][]string `json:"databases,omitempty"`
}

// Minter mints and verifies JWTs for one coordinator process using a
// single HMAC signing key: one authority per process, issuing
// structured, independently verifiable claims rather than opaque random
// tokens.
type Minter struct {
	signingKey []byte
}

// NewMinter constructs a Minter from a shared signing key. The key
// should be loaded from configuration, not generated per-process, so
// that tokens remain valid across a coordinator restart.
func NewMinter(signingKey []byte) *Minter {
	return &Minter{signingKey: signingKey}
}

// MintNodeAccessToken issues a short-lived access token for a node that
// has just authenticated with its api_key.
func (m *Minter) MintNodeAccessToken(nodeID, organizationID, collaborationID string) (string, error) {
	return m.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: nodeID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(accessTokenTTL)),
		},
		ClientType: ClientNode,
		NodeID: nodeID,
		OrganizationID: organizationID,
		CollaborationID: collaborationID,
	})
}

// MintNodeRefreshToken issues a long-lived refresh token for a node.
func (m *Minter) MintNodeRefreshToken(nodeID string) (string, error) {
	return m.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: nodeID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(refreshTokenTTL)),
		},
		ClientType: ClientNode,
		NodeID: nodeID,
	})
}

// ContainerTokenParams is everything the coordinator's container-token
// gating logic has verified before minting.
type ContainerTokenParams struct {
	NodeID string
	OrganizationID string
	CollaborationID string
	StudyID string
	StoreID string
	SessionID string
	TaskID string
	Image string
	Databases [][]string
}

// MintContainerToken issues a token scoped to a single task's central
// compute container, valid for ttl from the moment it is minted.
func (m *Minter) MintContainerToken(p ContainerTokenParams, ttl time.Duration) (string, error) {
	return m.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: p.TaskID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		ClientType: ClientContainer,
		NodeID: p.NodeID,
		OrganizationID: p.OrganizationID,
		CollaborationID: p.CollaborationID,
		StudyID: p.StudyID,
		StoreID: p.StoreID,
		SessionID: p.SessionID,
		TaskID: p.TaskID,
		Image: p.Image,
		Databases: p.Databases,
	})
}

func (m *Minter) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString, returning its claims if the
// signature and expiry both check out.
func (m *Minter) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: verify token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: token is not valid")
	}
	return claims, nil
}
