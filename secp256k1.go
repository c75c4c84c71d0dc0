package frost

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"runtime"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Secp256k1Curve implements the Curve interface for secp256k1
type Secp256k1Curve struct{}

// NewSecp256k1Curve creates a new secp256k1 curve instance
func NewSecp256k1Curve() *Secp256k1Curve {
	return &Secp256k1Curve{}
}

func (c *Secp256k1Curve) Name() string    { return "secp256k1" }
func (c *Secp256k1Curve) ScalarSize() int { return 32 }
func (c *Secp256k1Curve) PointSize() int  { return 33 } // Compressed

// ScalarFromBytes parses a canonical 32 byte big-endian scalar.
func (c *Secp256k1Curve) ScalarFromBytes(data []byte) (Scalar, error) {
	if len(data) != 32 {
		return nil, ErrInvalidScalarLength
	}

	scalar := new(btcec.ModNScalar)
	if overflow := scalar.SetByteSlice(data); overflow {
		return nil, ErrInvalidScalar
	}
	return &Secp256k1Scalar{inner: scalar}, nil
}

// ScalarFromUniformBytes reduces the first 32 bytes modulo the group order.
func (c *Secp256k1Curve) ScalarFromUniformBytes(data []byte) (Scalar, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("need at least 32 bytes for uniform scalar generation, got %d", len(data))
	}

	scalar := new(btcec.ModNScalar)
	scalar.SetByteSlice(data[:32]) // BIP-340 always reduces mod n, ignore overflow
	return &Secp256k1Scalar{inner: scalar}, nil
}

func (c *Secp256k1Curve) ScalarFromUint32(v uint32) Scalar {
	var buf [32]byte
	binary.BigEndian.PutUint32(buf[28:], v)
	scalar := new(btcec.ModNScalar)
	scalar.SetBytes(&buf)
	return &Secp256k1Scalar{inner: scalar}
}

// ScalarRandom samples a non-zero scalar from rand by rejection.
func (c *Secp256k1Curve) ScalarRandom(rand io.Reader) (Scalar, error) {
	var buf [32]byte
	defer ZeroizeBytes(buf[:])
	for {
		if _, err := io.ReadFull(rand, buf[:]); err != nil {
			return nil, ErrRandomnessGeneration.WithCause(err)
		}

		scalar := new(btcec.ModNScalar)
		overflow := scalar.SetBytes(&buf)
		if overflow == 0 && !scalar.IsZero() {
			return &Secp256k1Scalar{inner: scalar}, nil
		}
	}
}

func (c *Secp256k1Curve) ScalarZero() Scalar {
	return &Secp256k1Scalar{inner: new(btcec.ModNScalar)}
}

func (c *Secp256k1Curve) ScalarOne() Scalar {
	scalar := new(btcec.ModNScalar)
	scalar.SetInt(1)
	return &Secp256k1Scalar{inner: scalar}
}

// PointFromBytes parses a compressed point, a 32 byte x-only key (even Y)
// or the 33 zero bytes used for the identity.
func (c *Secp256k1Curve) PointFromBytes(data []byte) (Point, error) {
	switch len(data) {
	case 32:
		pubKey, err := schnorr.ParsePubKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
		}
		return &Secp256k1Point{inner: pubKey}, nil
	case 33:
		if isAllZero(data) {
			return &Secp256k1Point{}, nil
		}
		pubKey, err := btcec.ParsePubKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
		}
		return &Secp256k1Point{inner: pubKey}, nil
	default:
		return nil, ErrInvalidPointLength
	}
}

func (c *Secp256k1Curve) BasePoint() Point {
	return &Secp256k1Point{inner: btcec.Generator()}
}

func (c *Secp256k1Curve) PointIdentity() Point {
	// Point at infinity
	return &Secp256k1Point{inner: nil}
}

// Secp256k1Scalar implements the Scalar interface
type Secp256k1Scalar struct {
	inner *btcec.ModNScalar
}

func asModN(s Scalar) *btcec.ModNScalar {
	return s.(*Secp256k1Scalar).inner
}

func (s *Secp256k1Scalar) Bytes() []byte {
	var bytes [32]byte
	s.inner.PutBytes(&bytes)
	return bytes[:]
}

func (s *Secp256k1Scalar) String() string {
	return hex.EncodeToString(s.Bytes())
}

func (s *Secp256k1Scalar) Add(other Scalar) Scalar {
	result := new(btcec.ModNScalar)
	result.Add2(s.inner, asModN(other))
	return &Secp256k1Scalar{inner: result}
}

func (s *Secp256k1Scalar) Sub(other Scalar) Scalar {
	neg := new(btcec.ModNScalar)
	neg.NegateVal(asModN(other))
	result := new(btcec.ModNScalar)
	result.Add2(s.inner, neg)
	return &Secp256k1Scalar{inner: result}
}

func (s *Secp256k1Scalar) Mul(other Scalar) Scalar {
	result := new(btcec.ModNScalar)
	result.Mul2(s.inner, asModN(other))
	return &Secp256k1Scalar{inner: result}
}

func (s *Secp256k1Scalar) Negate() Scalar {
	result := new(btcec.ModNScalar)
	result.NegateVal(s.inner)
	return &Secp256k1Scalar{inner: result}
}

func (s *Secp256k1Scalar) Invert() (Scalar, error) {
	if s.IsZero() {
		return nil, ErrScalarZero
	}

	result := new(btcec.ModNScalar)
	// Only applied to public Lagrange denominators.
	result.InverseValNonConst(s.inner)
	return &Secp256k1Scalar{inner: result}, nil
}

func (s *Secp256k1Scalar) Equal(other Scalar) bool {
	return s.inner.Equals(asModN(other))
}

func (s *Secp256k1Scalar) IsZero() bool {
	return s.inner.IsZero()
}

func (s *Secp256k1Scalar) Zeroize() {
	s.inner.Zero()
	runtime.KeepAlive(s)
}

// Secp256k1Point implements the Point interface.
// A nil inner key is the point at infinity.
type Secp256k1Point struct {
	inner *btcec.PublicKey
}

func asSecp256k1Point(p Point) *Secp256k1Point {
	return p.(*Secp256k1Point)
}

func (p *Secp256k1Point) jacobian() btcec.JacobianPoint {
	var jac btcec.JacobianPoint
	if p.inner != nil {
		p.inner.AsJacobian(&jac)
	}
	return jac
}

func pointFromJacobian(jac *btcec.JacobianPoint) *Secp256k1Point {
	if (jac.X.IsZero() && jac.Y.IsZero()) || jac.Z.IsZero() {
		return &Secp256k1Point{}
	}
	jac.ToAffine()
	return &Secp256k1Point{inner: btcec.NewPublicKey(&jac.X, &jac.Y)}
}

// PublicKey returns the btcec key, nil for the identity.
func (p *Secp256k1Point) PublicKey() *btcec.PublicKey {
	return p.inner
}

// Bytes returns the 33 byte compressed encoding, all zero for the identity.
func (p *Secp256k1Point) Bytes() []byte {
	if p.inner == nil {
		return make([]byte, 33)
	}
	return p.inner.SerializeCompressed()
}

func (p *Secp256k1Point) String() string {
	return hex.EncodeToString(p.Bytes())
}

func (p *Secp256k1Point) Add(other Point) Point {
	o := asSecp256k1Point(other)
	if p.inner == nil {
		return o
	}
	if o.inner == nil {
		return p
	}

	a, b := p.jacobian(), o.jacobian()
	var result btcec.JacobianPoint
	btcec.AddNonConst(&a, &b, &result)
	return pointFromJacobian(&result)
}

func (p *Secp256k1Point) Sub(other Point) Point {
	return p.Add(other.Negate())
}

func (p *Secp256k1Point) Mul(scalar Scalar) Point {
	if p.inner == nil || scalar.IsZero() {
		return &Secp256k1Point{}
	}

	pointJac := p.jacobian()
	var result btcec.JacobianPoint
	btcec.ScalarMultNonConst(asModN(scalar), &pointJac, &result)
	return pointFromJacobian(&result)
}

func (p *Secp256k1Point) Negate() Point {
	if p.inner == nil {
		return p
	}

	jac := p.jacobian()
	jac.Y.Negate(1)
	jac.Y.Normalize()
	return &Secp256k1Point{inner: btcec.NewPublicKey(&jac.X, &jac.Y)}
}

func (p *Secp256k1Point) Equal(other Point) bool {
	o := asSecp256k1Point(other)
	if p.inner == nil || o.inner == nil {
		return p.inner == nil && o.inner == nil
	}
	return p.inner.IsEqual(o.inner)
}

func (p *Secp256k1Point) IsIdentity() bool {
	return p.inner == nil
}

// XOnlyBytes returns the 32 byte BIP-340 encoding of the X coordinate.
func (p *Secp256k1Point) XOnlyBytes() []byte {
	if p.inner == nil {
		return make([]byte, 32)
	}
	return schnorr.SerializePubKey(p.inner)
}

// HasOddY checks the compressed prefix byte.
func (p *Secp256k1Point) HasOddY() bool {
	if p.inner == nil {
		return false
	}
	return p.inner.SerializeCompressed()[0] == 0x03
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
