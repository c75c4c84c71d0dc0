package frost

import (
	"fmt"
	"io"
)

// Polynomial represents a polynomial over a scalar field
type Polynomial struct {
	curve        Curve
	coefficients []Scalar
}

// NewRandomPolynomial creates a random polynomial of the given degree.
// All coefficients, the constant term included, are sampled from rand.
func NewRandomPolynomial(curve Curve, degree int, rand io.Reader) (*Polynomial, error) {
	if degree < 0 {
		return nil, fmt.Errorf("degree must be non-negative")
	}

	coefficients := make([]Scalar, degree+1)
	for i := range coefficients {
		coeff, err := curve.ScalarRandom(rand)
		if err != nil {
			return nil, fmt.Errorf("failed to generate coefficient %d: %w", i, err)
		}
		coefficients[i] = coeff
	}

	return &Polynomial{
		curve:        curve,
		coefficients: coefficients,
	}, nil
}

// Evaluate evaluates the polynomial at a given point
func (p *Polynomial) Evaluate(x Scalar) Scalar {
	if len(p.coefficients) == 0 {
		return p.curve.ScalarZero()
	}

	// Use Horner's method: f(x) = a0 + x(a1 + x(a2 + x(a3 + ...)))
	result := p.curve.ScalarZero().Add(p.coefficients[len(p.coefficients)-1])
	for i := len(p.coefficients) - 2; i >= 0; i-- {
		result = result.Mul(x).Add(p.coefficients[i])
	}

	return result
}

// Secret returns the constant term a0.
func (p *Polynomial) Secret() Scalar {
	return p.coefficients[0]
}

// Commit returns the Feldman commitments a_k*G for every coefficient.
func (p *Polynomial) Commit() []Point {
	g := p.curve.BasePoint()
	commitments := make([]Point, len(p.coefficients))
	for i, coeff := range p.coefficients {
		commitments[i] = g.Mul(coeff)
	}
	return commitments
}

// Degree returns the degree of the polynomial
func (p *Polynomial) Degree() int {
	return len(p.coefficients) - 1
}

// Zeroize securely clears the polynomial coefficients
func (p *Polynomial) Zeroize() {
	for _, coeff := range p.coefficients {
		if coeff != nil {
			coeff.Zeroize()
		}
	}
	for i := range p.coefficients {
		p.coefficients[i] = nil
	}
	p.coefficients = nil
}
