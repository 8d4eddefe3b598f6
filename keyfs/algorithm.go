// Package keyfs overlays a keystore onto the node tree: generate/trust
// factory pseudo-files that mint UUID-named key directories, each holding
// share/sign/verify pseudo-files implementing a JWS-like signing protocol.
package keyfs

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"encoding/binary"
	"hash"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dsecp "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/wasirt/vfskit/vfs"
)

// Tag is the 4-byte big-endian algorithm code written to generate/trust
// and read back from share.
type Tag uint32

const (
	TagRS256 Tag = iota // RSA PKCS#1 v1.5, SHA-256, 2048-bit key
	TagRS384            // RSA PKCS#1 v1.5, SHA-384, 3072-bit key
	TagRS512            // RSA PKCS#1 v1.5, SHA-512, 4096-bit key
	TagPS256            // RSA-PSS, SHA-256, 2048-bit key
	TagPS384            // RSA-PSS, SHA-384, 3072-bit key
	TagPS512            // RSA-PSS, SHA-512, 4096-bit key
	TagES256K           // ECDSA secp256k1, SHA-256
	TagES256            // ECDSA P-256, SHA-256
	TagES384            // ECDSA P-384, SHA-384
)

// bytes returns the 4-byte big-endian wire encoding of a tag.
func (t Tag) bytes() [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(t))
	return b
}

// parseTag reads a tag from the first 4 bytes of data.
func parseTag(data []byte) (Tag, bool) {
	if len(data) < 4 {
		return 0, false
	}
	return Tag(binary.BigEndian.Uint32(data)), true
}

type keyKind int

const (
	kindRSAPKCS1v15 keyKind = iota
	kindRSAPSS
	kindECDSANIST
	kindECDSASecp256k1
)

type algoSpec struct {
	kind    keyKind
	newHash func() hash.Hash
	cHash   crypto.Hash // for RSA signing/verification
	rsaBits int         // for RSA generation
	curve   elliptic.Curve
}

var algorithms = map[Tag]algoSpec{
	TagRS256:  {kind: kindRSAPKCS1v15, newHash: sha256.New, cHash: crypto.SHA256, rsaBits: 2048},
	TagRS384:  {kind: kindRSAPKCS1v15, newHash: sha512.New384, cHash: crypto.SHA384, rsaBits: 3072},
	TagRS512:  {kind: kindRSAPKCS1v15, newHash: sha512.New, cHash: crypto.SHA512, rsaBits: 4096},
	TagPS256:  {kind: kindRSAPSS, newHash: sha256.New, cHash: crypto.SHA256, rsaBits: 2048},
	TagPS384:  {kind: kindRSAPSS, newHash: sha512.New384, cHash: crypto.SHA384, rsaBits: 3072},
	TagPS512:  {kind: kindRSAPSS, newHash: sha512.New, cHash: crypto.SHA512, rsaBits: 4096},
	TagES256K: {kind: kindECDSASecp256k1, newHash: sha256.New},
	TagES256:  {kind: kindECDSANIST, newHash: sha256.New, curve: elliptic.P256()},
	TagES384:  {kind: kindECDSANIST, newHash: sha512.New384, curve: elliptic.P384()},
}

// privateKey and publicKey hold one of three concrete key representations,
// selected by tag: a hand-written sum type instead of a generic Key[T].
type privateKey struct {
	tag   Tag
	rsa   *rsa.PrivateKey
	ecdsa *ecdsa.PrivateKey
	secp  *secp256k1.PrivateKey
}

type publicKey struct {
	tag   Tag
	rsa   *rsa.PublicKey
	ecdsa *ecdsa.PublicKey
	secp  *secp256k1.PublicKey
}

func newHash(tag Tag) (hash.Hash, error) {
	spec, ok := algorithms[tag]
	if !ok {
		return nil, vfs.ErrIllegalByteSequence("keyfs: unknown algorithm tag %d", tag)
	}
	return spec.newHash(), nil
}

func generate(tag Tag) (privateKey, publicKey, error) {
	spec, ok := algorithms[tag]
	if !ok {
		return privateKey{}, publicKey{}, vfs.ErrIllegalByteSequence("keyfs: unknown algorithm tag %d", tag)
	}

	switch spec.kind {
	case kindRSAPKCS1v15, kindRSAPSS:
		priv, err := rsa.GenerateKey(rand.Reader, spec.rsaBits)
		if err != nil {
			return privateKey{}, publicKey{}, vfs.ErrIO("keyfs: rsa key generation failed: %v", err)
		}
		return privateKey{tag: tag, rsa: priv}, publicKey{tag: tag, rsa: &priv.PublicKey}, nil

	case kindECDSANIST:
		priv, err := ecdsa.GenerateKey(spec.curve, rand.Reader)
		if err != nil {
			return privateKey{}, publicKey{}, vfs.ErrIO("keyfs: ecdsa key generation failed: %v", err)
		}
		return privateKey{tag: tag, ecdsa: priv}, publicKey{tag: tag, ecdsa: &priv.PublicKey}, nil

	case kindECDSASecp256k1:
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return privateKey{}, publicKey{}, vfs.ErrIO("keyfs: secp256k1 key generation failed: %v", err)
		}
		return privateKey{tag: tag, secp: priv}, publicKey{tag: tag, secp: priv.PubKey()}, nil
	}

	return privateKey{}, publicKey{}, vfs.ErrIllegalByteSequence("keyfs: unknown algorithm tag %d", tag)
}

// sign signs an already-computed digest, returning the wire signature:
// PKCS#1v15/PSS ASN.1-free signature bytes for RSA, fixed-width raw r||s
// for both ECDSA flavors.
func sign(priv privateKey, digest []byte) ([]byte, error) {
	spec, ok := algorithms[priv.tag]
	if !ok {
		return nil, vfs.ErrIllegalByteSequence("keyfs: unknown algorithm tag %d", priv.tag)
	}

	switch spec.kind {
	case kindRSAPKCS1v15:
		sig, err := rsa.SignPKCS1v15(rand.Reader, priv.rsa, spec.cHash, digest)
		if err != nil {
			return nil, vfs.ErrIO("keyfs: rsa sign failed: %v", err)
		}
		return sig, nil

	case kindRSAPSS:
		sig, err := rsa.SignPSS(rand.Reader, priv.rsa, spec.cHash, digest, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthAuto,
			Hash:       spec.cHash,
		})
		if err != nil {
			return nil, vfs.ErrIO("keyfs: rsa sign failed: %v", err)
		}
		return sig, nil

	case kindECDSANIST:
		r, s, err := ecdsa.Sign(rand.Reader, priv.ecdsa, digest)
		if err != nil {
			return nil, vfs.ErrIO("keyfs: ecdsa sign failed: %v", err)
		}
		return encodeRawRS(r, s, curveByteLen(priv.ecdsa.Curve)), nil

	case kindECDSASecp256k1:
		sig := dsecp.Sign(priv.secp, digest)
		r, s, err := decodeDERSignature(sig.Serialize())
		if err != nil {
			return nil, err
		}
		return encodeRawRS(r, s, 32), nil
	}

	return nil, vfs.ErrIllegalByteSequence("keyfs: unknown algorithm tag %d", priv.tag)
}

// verify checks sig against digest for the given public key, returning a
// KindIllegalByteSequence error on mismatch.
func verify(pub publicKey, digest, sig []byte) error {
	spec, ok := algorithms[pub.tag]
	if !ok {
		return vfs.ErrIllegalByteSequence("keyfs: unknown algorithm tag %d", pub.tag)
	}

	switch spec.kind {
	case kindRSAPKCS1v15:
		if err := rsa.VerifyPKCS1v15(pub.rsa, spec.cHash, digest, sig); err != nil {
			return vfs.ErrIllegalByteSequence("keyfs: signature verification failed")
		}
		return nil

	case kindRSAPSS:
		if err := rsa.VerifyPSS(pub.rsa, spec.cHash, digest, sig, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthAuto,
			Hash:       spec.cHash,
		}); err != nil {
			return vfs.ErrIllegalByteSequence("keyfs: signature verification failed")
		}
		return nil

	case kindECDSANIST:
		r, s, err := decodeRawRS(sig, curveByteLen(pub.ecdsa.Curve))
		if err != nil {
			return err
		}
		if !ecdsa.Verify(pub.ecdsa, digest, r, s) {
			return vfs.ErrIllegalByteSequence("keyfs: signature verification failed")
		}
		return nil

	case kindECDSASecp256k1:
		r, s, err := decodeRawRS(sig, 32)
		if err != nil {
			return err
		}
		der, err := asn1.Marshal(derSignature{R: r, S: s})
		if err != nil {
			return vfs.ErrIO("keyfs: encoding signature failed: %v", err)
		}
		parsed, err := dsecp.ParseDERSignature(der)
		if err != nil {
			return vfs.ErrIllegalByteSequence("keyfs: malformed signature")
		}
		if !parsed.Verify(digest, pub.secp) {
			return vfs.ErrIllegalByteSequence("keyfs: signature verification failed")
		}
		return nil
	}

	return vfs.ErrIllegalByteSequence("keyfs: unknown algorithm tag %d", pub.tag)
}

func curveByteLen(c elliptic.Curve) int {
	return (c.Params().BitSize + 7) / 8
}

// encodeRawRS produces the fixed-width big-endian r||s wire encoding, in
// place of Go's ASN.1 default.
func encodeRawRS(r, s *big.Int, size int) []byte {
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out
}

func decodeRawRS(sig []byte, size int) (r, s *big.Int, err error) {
	if len(sig) != 2*size {
		return nil, nil, vfs.ErrInvalidArgument("keyfs: signature has unexpected length %d", len(sig))
	}
	r = new(big.Int).SetBytes(sig[:size])
	s = new(big.Int).SetBytes(sig[size:])
	return r, s, nil
}

type derSignature struct {
	R *big.Int
	S *big.Int
}

func decodeDERSignature(der []byte) (r, s *big.Int, err error) {
	var parsed derSignature
	if _, err := asn1.Unmarshal(der, &parsed); err != nil {
		return nil, nil, vfs.ErrIO("keyfs: decoding secp256k1 signature failed: %v", err)
	}
	return parsed.R, parsed.S, nil
}

// encodePublic returns the share payload for a freshly generated key: the
// 4-byte tag followed by the algorithm's canonical public-key encoding.
func encodePublic(pub publicKey) ([]byte, error) {
	spec, ok := algorithms[pub.tag]
	if !ok {
		return nil, vfs.ErrIllegalByteSequence("keyfs: unknown algorithm tag %d", pub.tag)
	}

	tagBytes := pub.tag.bytes()
	switch spec.kind {
	case kindRSAPKCS1v15, kindRSAPSS:
		e := big.NewInt(int64(pub.rsa.E)).Bytes()
		n := pub.rsa.N.Bytes()

		out := make([]byte, 0, 4+4+len(e)+4+len(n))
		out = append(out, tagBytes[:]...)
		out = appendUint32(out, uint32(len(e)))
		out = append(out, e...)
		out = appendUint32(out, uint32(len(n)))
		out = append(out, n...)
		return out, nil

	case kindECDSANIST:
		point := elliptic.Marshal(pub.ecdsa.Curve, pub.ecdsa.X, pub.ecdsa.Y)
		out := make([]byte, 0, 4+len(point))
		out = append(out, tagBytes[:]...)
		out = append(out, point...)
		return out, nil

	case kindECDSASecp256k1:
		point := pub.secp.SerializeUncompressed()
		out := make([]byte, 0, 4+len(point))
		out = append(out, tagBytes[:]...)
		out = append(out, point...)
		return out, nil
	}

	return nil, vfs.ErrIllegalByteSequence("keyfs: unknown algorithm tag %d", pub.tag)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// decodePublic decodes a trust payload's key material (data excludes the
// 4-byte tag prefix already consumed by the caller) into a public key,
// enforcing the RSA 2048-bit floor on trusted keys.
func decodePublic(tag Tag, data []byte) (publicKey, error) {
	spec, ok := algorithms[tag]
	if !ok {
		return publicKey{}, vfs.ErrIllegalByteSequence("keyfs: unknown algorithm tag %d", tag)
	}

	switch spec.kind {
	case kindRSAPKCS1v15, kindRSAPSS:
		if len(data) < 4 {
			return publicKey{}, vfs.ErrIllegalByteSequence("keyfs: truncated rsa key")
		}
		el := binary.BigEndian.Uint32(data[:4])
		if uint64(len(data)) < 8+uint64(el) {
			return publicKey{}, vfs.ErrIllegalByteSequence("keyfs: truncated rsa key")
		}
		nl := binary.BigEndian.Uint32(data[4+el:][:4])
		if uint64(len(data)) != 8+uint64(el)+uint64(nl) {
			return publicKey{}, vfs.ErrIllegalByteSequence("keyfs: truncated rsa key")
		}

		e := new(big.Int).SetBytes(data[4:][:el])
		n := new(big.Int).SetBytes(data[8+el:][:nl])

		if !e.IsInt64() || e.Int64() > 1<<31 {
			return publicKey{}, vfs.ErrIllegalByteSequence("keyfs: rsa exponent out of range")
		}

		pub := &rsa.PublicKey{N: n, E: int(e.Int64())}
		if pub.N.BitLen() < 2048 {
			return publicKey{}, vfs.ErrPermissionDenied("keyfs: rsa key smaller than 2048 bits")
		}
		return publicKey{tag: tag, rsa: pub}, nil

	case kindECDSANIST:
		x, y := elliptic.Unmarshal(spec.curve, data)
		if x == nil {
			return publicKey{}, vfs.ErrIllegalByteSequence("keyfs: malformed ecdsa point")
		}
		return publicKey{tag: tag, ecdsa: &ecdsa.PublicKey{Curve: spec.curve, X: x, Y: y}}, nil

	case kindECDSASecp256k1:
		pub, err := secp256k1.ParsePubKey(data)
		if err != nil {
			return publicKey{}, vfs.ErrIllegalByteSequence("keyfs: malformed secp256k1 point")
		}
		return publicKey{tag: tag, secp: pub}, nil
	}

	return publicKey{}, vfs.ErrIllegalByteSequence("keyfs: unknown algorithm tag %d", tag)
}

