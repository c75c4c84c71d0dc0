package frost

import (
	"fmt"
)

// PolynomialCommitment holds Feldman commitments C_k = a_k*G to the
// coefficients of one participant's secret polynomial.
type PolynomialCommitment struct {
	curve       Curve
	commitments []Point
}

// NewPolynomialCommitment wraps received commitments, rejecting the identity.
func NewPolynomialCommitment(curve Curve, commitments []Point) (*PolynomialCommitment, error) {
	if len(commitments) == 0 {
		return nil, fmt.Errorf("no commitments available")
	}
	for i, c := range commitments {
		if c == nil || c.IsIdentity() {
			return nil, fmt.Errorf("commitment %d is the identity", i)
		}
	}
	return &PolynomialCommitment{curve: curve, commitments: commitments}, nil
}

// Evaluate returns sum_k C_k * x^k, the public image f(x)*G.
func (pc *PolynomialCommitment) Evaluate(x Scalar) Point {
	expected := pc.curve.PointIdentity()
	xPower := pc.curve.ScalarOne()
	for _, commitment := range pc.commitments {
		expected = expected.Add(commitment.Mul(xPower))
		xPower = xPower.Mul(x)
	}
	return expected
}

// Verify checks that value*G matches the commitment evaluated at index.
func (pc *PolynomialCommitment) Verify(index ParticipantIndex, value Scalar) bool {
	if index == 0 || value == nil {
		return false
	}
	return pc.Evaluate(index.ToScalar()).Equal(pc.curve.BasePoint().Mul(value))
}

// Secret returns C_0, the commitment to the constant term.
func (pc *PolynomialCommitment) Secret() Point {
	return pc.commitments[0]
}

// Len returns the number of coefficients committed to.
func (pc *PolynomialCommitment) Len() int {
	return len(pc.commitments)
}
