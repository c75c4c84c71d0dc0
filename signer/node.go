// Package signer runs one FROST participant: it owns the DKG engine, the
// persisted key share and the signing engine built on it.
package signer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	frost "github.com/canopy-network/frost-taproot"
)

// Status describes whether a participant holds a finalized key.
type Status struct {
	ParticipantID frost.ParticipantIndex
	HasKey        bool
	KeySession    frost.SessionID
	PublicKey     *frost.PublicKeyPackage
}

// Node is one participant. Its secret state never leaves the process.
type Node struct {
	id     frost.ParticipantIndex
	params frost.ThresholdParams
	store  frost.KeyShareStore
	dkg    *frost.DKGEngine
	logger *zap.Logger
	audit  frost.AuditEventHandler

	validator frost.MessageValidator
	retention time.Duration

	mu         sync.RWMutex
	keySession frost.SessionID
	signer     *frost.SigningEngine
}

// Option configures a Node
type Option func(*Node)

// WithLogger sets the node logger
func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) { n.logger = logger }
}

// WithMessageValidator runs before every signing round 2
func WithMessageValidator(v frost.MessageValidator) Option {
	return func(n *Node) { n.validator = v }
}

// WithAuditHandler overrides the default zap audit handler
func WithAuditHandler(h frost.AuditEventHandler) Option {
	return func(n *Node) { n.audit = h }
}

// WithSessionRetention sets how long finished sessions stay in memory.
// Their ids remain refused through the store afterwards.
func WithSessionRetention(d time.Duration) Option {
	return func(n *Node) { n.retention = d }
}

// NewNode creates participant id over store.
func NewNode(id frost.ParticipantIndex, params frost.ThresholdParams, store frost.KeyShareStore, opts ...Option) (*Node, error) {
	if store == nil {
		return nil, errors.New("key share store is required")
	}
	n := &Node{
		id:     id,
		params: params,
		store:  store,
		logger: zap.NewNop(),

		retention: frost.DefaultClosedRetention,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.Named("signer").With(zap.Uint32("participant", uint32(id)))
	if n.audit == nil {
		n.audit = frost.NewZapAuditHandler(n.logger)
	}

	dkg, err := frost.NewDKGEngine(id, params,
		frost.WithKeyShareStore(store),
		frost.WithLogger(n.logger),
		frost.WithAuditHandler(n.audit),
		frost.WithDKGSessionLedger(frost.NewStoreSessionLedger(store, "dkg", id)))
	if err != nil {
		return nil, err
	}
	n.dkg = dkg
	return n, nil
}

// currentHandle stores the session id of the key in use.
func currentHandle(id frost.ParticipantIndex) string {
	return fmt.Sprintf("current/%d", id)
}

// ID returns the participant id
func (n *Node) ID() frost.ParticipantIndex { return n.id }

// Load installs the key share recorded as current, if there is one.
func (n *Node) Load(ctx context.Context) error {
	blob, err := n.store.Get(ctx, currentHandle(n.id))
	if errors.Is(err, frost.ErrKeyShareNotFound) {
		n.logger.Info("no key share yet")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read current key pointer")
	}

	sessionID := frost.SessionID(blob)
	share, err := n.dkg.LoadKeyShare(ctx, sessionID)
	if err != nil {
		return errors.Wrapf(err, "load key share of session %s", sessionID)
	}
	if err := n.install(share); err != nil {
		return err
	}
	n.logger.Info("key share loaded",
		zap.String("key_session", string(sessionID)),
		zap.String("group_key", fmt.Sprintf("%x", share.GroupPublicKey.XOnlyBytes())))
	return nil
}

func (n *Node) install(share *frost.KeyShare) error {
	signer, err := frost.NewSigningEngine(share,
		frost.WithSigningLogger(n.logger),
		frost.WithSigningAuditHandler(n.audit),
		frost.WithMessageValidator(n.validate),
		frost.WithSessionLedger(frost.NewStoreSessionLedger(n.store, "sign", n.id)),
		frost.WithClosedRetention(n.retention))
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.keySession = share.SessionID
	n.signer = signer
	n.mu.Unlock()
	return nil
}

func (n *Node) validate(sessionID frost.SessionID, message []byte) error {
	if n.validator == nil {
		return nil
	}
	return n.validator(sessionID, message)
}

func (n *Node) signingEngine() (*frost.SigningEngine, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.signer == nil {
		return nil, frost.ErrKeyShareNotFound.WithDetails("participant %d has not completed key generation", n.id)
	}
	return n.signer, nil
}

// Status reports the key this node signs with.
func (n *Node) Status(ctx context.Context) (*Status, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	st := &Status{ParticipantID: n.id, KeySession: n.keySession}
	if n.signer != nil {
		st.HasKey = true
		st.PublicKey = n.signer.PublicKey()
	}
	return st, nil
}

// DKGRound1 starts key generation session sessionID.
func (n *Node) DKGRound1(ctx context.Context, sessionID frost.SessionID) (*frost.Round1Package, error) {
	return n.dkg.Round1(sessionID)
}

// DKGRound2 returns fragments ordered by recipient.
func (n *Node) DKGRound2(ctx context.Context, sessionID frost.SessionID, packages []*frost.Round1Package) ([]*frost.EncryptedFragment, error) {
	byRecipient, err := n.dkg.Round2(sessionID, packages)
	if err != nil {
		return nil, err
	}
	fragments := make([]*frost.EncryptedFragment, 0, len(byRecipient))
	for _, id := range n.params.Participants() {
		if frag, ok := byRecipient[id]; ok {
			fragments = append(fragments, frag)
		}
	}
	return fragments, nil
}

// DKGFinalize completes key generation and switches signing to the new key.
func (n *Node) DKGFinalize(ctx context.Context, sessionID frost.SessionID, fragments []*frost.EncryptedFragment) (*frost.PublicKeyPackage, error) {
	result, err := n.dkg.Finalize(ctx, sessionID, fragments)
	if err != nil {
		return nil, err
	}
	if err := n.store.Put(ctx, currentHandle(n.id), []byte(sessionID)); err != nil {
		return nil, frost.ErrStorage.WithSession(sessionID).WithCause(err)
	}
	if err := n.install(result.KeyShare); err != nil {
		return nil, err
	}
	return result.PublicKey, nil
}

// SignRound1 commits to fresh nonces for sessionID.
func (n *Node) SignRound1(ctx context.Context, sessionID frost.SessionID) (*frost.SigningCommitment, error) {
	signer, err := n.signingEngine()
	if err != nil {
		return nil, err
	}
	return signer.Round1(sessionID)
}

// SignRound2 produces this node's signature share.
func (n *Node) SignRound2(ctx context.Context, sessionID frost.SessionID, commitments []*frost.SigningCommitment, message []byte) (*frost.SignatureShare, error) {
	signer, err := n.signingEngine()
	if err != nil {
		return nil, err
	}
	return signer.Round2(sessionID, commitments, message)
}

// Abort discards any DKG or signing state of sessionID.
func (n *Node) Abort(ctx context.Context, sessionID frost.SessionID) error {
	if err := n.dkg.Abort(sessionID, nil); err != nil {
		return err
	}
	if signer, err := n.signingEngine(); err == nil {
		signer.Abort(sessionID)
	}
	return nil
}

// RunJanitor expires signing nonces older than ttl and forgets sessions past
// the retention period until ctx is done.
func (n *Node) RunJanitor(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := n.dkg.Prune(n.retention); pruned > 0 {
				n.logger.Debug("pruned dkg sessions", zap.Int("count", pruned))
			}
			signer, err := n.signingEngine()
			if err != nil {
				continue
			}
			if expired := signer.Expire(ttl); expired > 0 {
				n.logger.Info("expired signing sessions", zap.Int("count", expired))
			}
		}
	}
}
