package core

import (
	"crypto/rand"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/blake2b"
)

// The lattice signs with ed25519 over blake2b-512 instead of SHA-512, so the
// standard library implementation cannot be used. The scheme below is
// otherwise RFC 8032: clamp the hashed seed, derive the nonce from the hash
// prefix, and produce (R, S) with the challenge k = H(R || A || M).

// PrivateKey is a 32-byte ed25519 seed.
type PrivateKey [32]byte

// GenerateKey creates a new random private key.
func GenerateKey() (PrivateKey, error) {
	var k PrivateKey
	if _, err := rand.Read(k[:]); err != nil {
		return PrivateKey{}, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}

// PrivateKeyFromBytes builds a key from a raw 32-byte seed.
func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	if len(b) != 32 {
		return PrivateKey{}, fmt.Errorf("private key length %d, want 32", len(b))
	}
	var k PrivateKey
	copy(k[:], b)
	return k, nil
}

func (k PrivateKey) expand() (scalar *edwards25519.Scalar, prefix [32]byte, err error) {
	h := blake2b.Sum512(k[:])
	scalar, err = new(edwards25519.Scalar).SetBytesWithClamping(h[:32])
	if err != nil {
		return nil, prefix, err
	}
	copy(prefix[:], h[32:])
	return scalar, prefix, nil
}

// PublicKey derives the account public key.
func (k PrivateKey) PublicKey() (PublicKey, error) {
	s, _, err := k.expand()
	if err != nil {
		return PublicKey{}, err
	}
	point := new(edwards25519.Point).ScalarBaseMult(s)
	var pub PublicKey
	copy(pub[:], point.Bytes())
	return pub, nil
}

// Sign signs msg and returns the 64-byte signature.
func (k PrivateKey) Sign(msg []byte) (Signature, error) {
	s, prefix, err := k.expand()
	if err != nil {
		return Signature{}, err
	}

	pubPoint := new(edwards25519.Point).ScalarBaseMult(s)
	pub := pubPoint.Bytes()

	rh, err := blake2b.New512(nil)
	if err != nil {
		return Signature{}, err
	}
	rh.Write(prefix[:])
	rh.Write(msg)
	r, err := new(edwards25519.Scalar).SetUniformBytes(rh.Sum(nil))
	if err != nil {
		return Signature{}, err
	}

	bigR := new(edwards25519.Point).ScalarBaseMult(r)

	kh, err := blake2b.New512(nil)
	if err != nil {
		return Signature{}, err
	}
	kh.Write(bigR.Bytes())
	kh.Write(pub)
	kh.Write(msg)
	challenge, err := new(edwards25519.Scalar).SetUniformBytes(kh.Sum(nil))
	if err != nil {
		return Signature{}, err
	}

	bigS := new(edwards25519.Scalar).MultiplyAdd(challenge, s, r)

	var sig Signature
	copy(sig[:32], bigR.Bytes())
	copy(sig[32:], bigS.Bytes())
	return sig, nil
}

// Verify reports whether sig is a valid signature of msg by pub.
func Verify(pub PublicKey, msg []byte, sig Signature) bool {
	a, err := new(edwards25519.Point).SetBytes(pub[:])
	if err != nil {
		return false
	}

	s, err := new(edwards25519.Scalar).SetCanonicalBytes(sig[32:])
	if err != nil {
		return false
	}

	kh, err := blake2b.New512(nil)
	if err != nil {
		return false
	}
	kh.Write(sig[:32])
	kh.Write(pub[:])
	kh.Write(msg)
	challenge, err := new(edwards25519.Scalar).SetUniformBytes(kh.Sum(nil))
	if err != nil {
		return false
	}

	// [S]B = R + [k]A  <=>  R = [S]B - [k]A
	minusA := new(edwards25519.Point).Negate(a)
	expectedR := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(challenge, minusA, s)

	r, err := new(edwards25519.Point).SetBytes(sig[:32])
	if err != nil {
		return false
	}
	return expectedR.Equal(r) == 1
}

// HashBytes computes the blake2b-256 digest of the concatenation of all
// inputs, the hash used for block identities.
func HashBytes(parts ...[]byte) BlockHash {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out BlockHash
	copy(out[:], h.Sum(nil))
	return out
}
