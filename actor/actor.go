// Package actor identifies one writer's append-only log by its ed25519
// public key, per spec.md §3 "Identifiers". An ActorId doubles as a DocId
// when it names the root log of a document, and as a GroupId when it names
// the stable handle for a set of forked documents.
package actor

import (
	"encoding/hex"
	"fmt"

	"github.com/libp2p/go-libp2p-core/crypto"
	golog "github.com/ipfs/go-log"
	"golang.org/x/crypto/blake2b"
)

var log = golog.Logger("actor")

// discoveryKeyContext is hashed alongside a public key to derive its
// discovery key, the same keyed-blake2b construction hypercore uses so two
// peers that both know an ActorId converge on the same swarm rendezvous
// token without exchanging anything else.
const discoveryKeyContext = "hypermerge"

// ID is a 32-byte ed25519 public key, rendered as 64-char lowercase hex.
// It names exactly one log (spec.md "ActorId").
type ID string

// Empty reports whether id is the zero value.
func (id ID) Empty() bool { return id == "" }

func (id ID) String() string { return string(id) }

// KeyPair is a generated or loaded actor identity: a private key for a
// writable log, and the ID derived from its public half.
type KeyPair struct {
	ID      ID
	Private crypto.PrivKey
	Public  crypto.PubKey
}

// Generate creates a fresh ed25519 keypair for a new writable log.
func Generate() (KeyPair, error) {
	priv, pub, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generating actor keypair: %w", err)
	}
	id, err := IDFromPublicKey(pub)
	if err != nil {
		return KeyPair{}, err
	}
	log.Debugw("generated actor keypair", "id", id)
	return KeyPair{ID: id, Private: priv, Public: pub}, nil
}

// IDFromPublicKey renders an ed25519 public key as an ActorId.
func IDFromPublicKey(pub crypto.PubKey) (ID, error) {
	raw, err := pub.Raw()
	if err != nil {
		return "", fmt.Errorf("reading raw public key bytes: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("actor public key must be 32 bytes, got %d", len(raw))
	}
	return ID(hex.EncodeToString(raw)), nil
}

// PublicKey parses id back into a crypto.PubKey, for verifying signatures
// and log ownership.
func PublicKey(id ID) (crypto.PubKey, error) {
	raw, err := hex.DecodeString(string(id))
	if err != nil {
		return nil, fmt.Errorf("actor id %q is not valid hex: %w", id, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("actor id %q decodes to %d bytes, want 32", id, len(raw))
	}
	return crypto.UnmarshalEd25519PublicKey(raw)
}

// DiscoveryKey derives the swarm rendezvous token for id: a keyed
// blake2b-256 digest of the raw public key bytes, keyed with the literal
// string "hypermerge". Two peers holding the same ActorId always derive the
// same DiscoveryKey without needing to exchange anything else, and the
// digest does not reveal the public key to anyone who doesn't already have
// it.
func DiscoveryKey(id ID) (string, error) {
	raw, err := hex.DecodeString(string(id))
	if err != nil {
		return "", fmt.Errorf("actor id %q is not valid hex: %w", id, err)
	}
	h, err := blake2b.New256([]byte(discoveryKeyContext))
	if err != nil {
		return "", fmt.Errorf("initializing discovery key hash: %w", err)
	}
	if _, err := h.Write(raw); err != nil {
		return "", fmt.Errorf("hashing actor id: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
