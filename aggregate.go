package frost

import (
	"go.uber.org/zap"
)

// Aggregator combines signature shares on the coordinator side. It only
// ever sees public data.
type Aggregator struct {
	logger *zap.Logger
	audit  AuditEventHandler
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the aggregator logger
func WithAggregatorLogger(logger *zap.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = logger }
}

// WithAggregatorAuditHandler receives rejected-share and self-check alarms
func WithAggregatorAuditHandler(h AuditEventHandler) AggregatorOption {
	return func(a *Aggregator) { a.audit = h }
}

// NewAggregator creates an aggregator
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{logger: zap.NewNop(), audit: &NullAuditHandler{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate is NewAggregator().Aggregate.
func Aggregate(pub *PublicKeyPackage, sessionID SessionID, commitments []*SigningCommitment,
	shares []*SignatureShare, message []byte) (*Signature, error) {
	return NewAggregator().Aggregate(pub, sessionID, commitments, shares, message)
}

// Aggregate verifies every share against its signer's verification share,
// sums them and verifies the resulting BIP-340 signature before returning it.
func (a *Aggregator) Aggregate(pub *PublicKeyPackage, sessionID SessionID, commitments []*SigningCommitment,
	shares []*SignatureShare, message []byte) (*Signature, error) {
	if pub == nil || pub.GroupPublicKey == nil {
		return nil, ErrInvalidState.WithSession(sessionID).WithDetails("missing public key package")
	}
	if len(commitments) < pub.Threshold || len(shares) < pub.Threshold {
		return nil, ErrThresholdNotMet.WithSession(sessionID).
			WithDetails("%d commitments and %d shares, threshold is %d", len(commitments), len(shares), pub.Threshold)
	}

	t, err := newSigningTranscript(pub, commitments, message)
	if err != nil {
		return nil, a.fail(sessionID, err)
	}

	byID := make(map[ParticipantIndex]*SignatureShare, len(shares))
	for _, share := range shares {
		if share == nil || share.Share == nil {
			return nil, a.fail(sessionID, ErrInvalidShare.WithDetails("empty share"))
		}
		if _, ok := t.commitments[share.ParticipantID]; !ok {
			return nil, a.fail(sessionID, ErrInvalidShare.WithOffender(share.ParticipantID).
				WithDetails("share from participant without a commitment"))
		}
		if _, dup := byID[share.ParticipantID]; dup {
			return nil, a.fail(sessionID, ErrInvalidShare.WithOffender(share.ParticipantID).
				WithDetails("duplicate share"))
		}
		byID[share.ParticipantID] = share
	}

	s := secp256k1.ScalarZero()
	for _, id := range t.ids {
		share, ok := byID[id]
		if !ok {
			// the commitment set fixed R, a missing share cannot be replaced
			return nil, a.fail(sessionID, ErrThresholdNotMet.WithOffender(id).
				WithDetails("missing share from committed signer %d", id))
		}
		lambda, err := LagrangeCoefficient(secp256k1, id, t.ids)
		if err != nil {
			return nil, a.fail(sessionID, ErrInvalidCommitment.WithCause(err))
		}
		if !BitcoinVerifyResponse(pub.VerificationShares[id], lambda, t.shares[id], t.oddR, t.challenge, share.Share) {
			err := ErrInvalidShare.WithOffender(id)
			a.audit.OnSecurityAlert(NewAuditEventBuilder(AuditEventShareRejected, ReasonInvalidShare).
				WithSession(sessionID, 0).WithError(err).Build())
			return nil, a.fail(sessionID, err)
		}
		s = s.Add(share.Share)
	}

	sig := &Signature{R: t.R, S: s}
	if err := VerifySignature(pub.GroupPublicKey, message, sig); err != nil {
		alarm := ErrAggregationVerificationFailed.WithSession(sessionID).WithCause(err)
		a.audit.OnSecurityAlert(NewAuditEventBuilder(AuditEventAggregationFailed, ReasonSelfCheckFailure).
			WithSession(sessionID, 0).WithError(alarm).Build())
		a.logger.Error("aggregated signature failed verification", zap.String("session_id", string(sessionID)), zap.Error(alarm))
		return nil, alarm
	}

	a.logger.Info("signature aggregated",
		zap.String("session_id", string(sessionID)), zap.Int("signers", len(t.ids)))
	return sig, nil
}

func (a *Aggregator) fail(sessionID SessionID, err error) error {
	frostErr, ok := AsFROSTError(err)
	if !ok {
		frostErr = ErrSessionAborted.WithCause(err)
	}
	frostErr = frostErr.WithSession(sessionID)
	a.logger.Warn("aggregation rejected", zap.String("session_id", string(sessionID)), zap.Error(frostErr))
	return frostErr
}
