package sigmode

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// domainTag binds mode-2 digests to this scheme. Changing the tag is a
// scheme version change.
const domainTag = "sessionguard-batch-v2"

// Scheme computes the digest that gets signed for a batch payload. The
// two implementations are the tagged variants of the mode enum.
type Scheme interface {
	Digest(payload []byte) [sha256.Size]byte
}

// LegacyScheme hashes only the batch payload.
type LegacyScheme struct{}

func (LegacyScheme) Digest(payload []byte) [sha256.Size]byte {
	return sha256.Sum256(payload)
}

// DomainSeparatedScheme binds the domain tag, account identifier, and the
// account's current replay nonce into the digest, preventing cross-account
// and cross-deployment signature reuse.
type DomainSeparatedScheme struct {
	Account string
	Nonce   uint64
}

func (s DomainSeparatedScheme) Digest(payload []byte) [sha256.Size]byte {
	h := sha256.New()
	// Length-prefixed fields so no two field sequences collide.
	for _, field := range [][]byte{[]byte(domainTag), []byte(s.Account)} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		h.Write(n[:])
		h.Write(field)
	}
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], s.Nonce)
	h.Write(nonce[:])
	h.Write(payload)

	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SchemeFor returns the scheme for a mode. Account and nonce are only
// consulted in mode 2.
func SchemeFor(mode Mode, account string, nonce uint64) (Scheme, error) {
	switch mode {
	case Legacy:
		return LegacyScheme{}, nil
	case DomainSeparated:
		return DomainSeparatedScheme{Account: account, Nonce: nonce}, nil
	default:
		return nil, fmt.Errorf("no scheme for mode %d", uint8(mode))
	}
}

// Verify checks an ed25519 signature over the scheme digest of payload.
// The key is the credential's hex-encoded verification key. Malformed
// keys or signatures verify as false, never as an error the caller could
// mistake for success.
func Verify(hexKey string, scheme Scheme, payload, sig []byte) bool {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	digest := scheme.Digest(payload)
	return ed25519.Verify(ed25519.PublicKey(key), digest[:], sig)
}

// Sign produces the signature a holder would attach to a batch. Lives
// here so the CLI and tests sign exactly what Verify checks.
func Sign(priv ed25519.PrivateKey, scheme Scheme, payload []byte) []byte {
	digest := scheme.Digest(payload)
	return ed25519.Sign(priv, digest[:])
}
