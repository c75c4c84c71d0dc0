package frost

import (
	"errors"
	"fmt"
)

// LagrangeCoefficient computes lambda_i = prod_{j != i} j / (j - i) over the
// signing set, the weight of participant i's share at x = 0.
func LagrangeCoefficient(curve Curve, i ParticipantIndex, set []ParticipantIndex) (Scalar, error) {
	num := curve.ScalarOne()
	den := curve.ScalarOne()
	found := false
	xi := i.ToScalar()
	for _, j := range set {
		if j == i {
			if found {
				return nil, fmt.Errorf("participant %d appears twice in signing set", i)
			}
			found = true
			continue
		}
		xj := j.ToScalar()
		num = num.Mul(xj)
		den = den.Mul(xj.Sub(xi))
	}
	if !found {
		return nil, fmt.Errorf("participant %d is not in the signing set", i)
	}

	inv, err := den.Invert()
	if err != nil {
		return nil, fmt.Errorf("duplicate participant in signing set: %w", err)
	}
	return num.Mul(inv), nil
}

// ReconstructSecret interpolates the secret at x = 0 from shares keyed by
// participant. Only audits and tests should ever hold enough shares to call it.
func ReconstructSecret(curve Curve, shares map[ParticipantIndex]Scalar) (Scalar, error) {
	if len(shares) == 0 {
		return nil, errors.New("no shares provided")
	}

	set := make([]ParticipantIndex, 0, len(shares))
	for id := range shares {
		if id == 0 {
			return nil, ErrInvalidParticipantID.WithDetails("participant 0")
		}
		set = append(set, id)
	}
	sortParticipants(set)

	secret := curve.ScalarZero()
	for _, id := range set {
		lambda, err := LagrangeCoefficient(curve, id, set)
		if err != nil {
			return nil, err
		}
		secret = secret.Add(shares[id].Mul(lambda))
	}
	return secret, nil
}
