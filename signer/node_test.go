package signer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	frost "github.com/canopy-network/frost-taproot"
	"github.com/canopy-network/frost-taproot/keystore"
)

func newNodes(t *testing.T, params frost.ThresholdParams, opts ...Option) ([]*Node, []*keystore.MemoryStore) {
	t.Helper()
	nodes := make([]*Node, 0, params.Total)
	stores := make([]*keystore.MemoryStore, 0, params.Total)
	for _, id := range params.Participants() {
		store := keystore.NewMemoryStore()
		node, err := NewNode(id, params, store, opts...)
		require.NoError(t, err)
		nodes = append(nodes, node)
		stores = append(stores, store)
	}
	return nodes, stores
}

// runDKG drives key generation directly over the nodes.
func runDKG(t *testing.T, nodes []*Node, sid frost.SessionID) *frost.PublicKeyPackage {
	t.Helper()
	ctx := context.Background()

	pkgs := make([]*frost.Round1Package, len(nodes))
	for i, n := range nodes {
		pkg, err := n.DKGRound1(ctx, sid)
		require.NoError(t, err)
		pkgs[i] = pkg
	}

	inbox := make(map[frost.ParticipantIndex][]*frost.EncryptedFragment)
	for i, n := range nodes {
		var others []*frost.Round1Package
		for j, pkg := range pkgs {
			if j != i {
				others = append(others, pkg)
			}
		}
		frags, err := n.DKGRound2(ctx, sid, others)
		require.NoError(t, err)
		require.Len(t, frags, len(nodes)-1)
		for k := 1; k < len(frags); k++ {
			require.Less(t, frags[k-1].To, frags[k].To, "fragments must be ordered by recipient")
		}
		for _, f := range frags {
			inbox[f.To] = append(inbox[f.To], f)
		}
	}

	var pub *frost.PublicKeyPackage
	for _, n := range nodes {
		p, err := n.DKGFinalize(ctx, sid, inbox[n.ID()])
		require.NoError(t, err)
		if pub != nil {
			require.True(t, pub.GroupPublicKey.Equal(p.GroupPublicKey))
		}
		pub = p
	}
	return pub
}

func TestNodeKeygenAndSign(t *testing.T) {
	ctx := context.Background()
	params := frost.ThresholdParams{Threshold: 2, Total: 3}
	nodes, _ := newNodes(t, params)

	st, err := nodes[0].Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.HasKey)
	_, err = nodes[0].SignRound1(ctx, "too-early")
	assert.ErrorIs(t, err, frost.ErrKeyShareNotFound)

	pub := runDKG(t, nodes, "node-dkg")

	st, err = nodes[2].Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.HasKey)
	assert.Equal(t, frost.SessionID("node-dkg"), st.KeySession)
	assert.True(t, st.PublicKey.GroupPublicKey.Equal(pub.GroupPublicKey))

	message := []byte("node signing")
	signers := []*Node{nodes[0], nodes[2]}
	var commitments []*frost.SigningCommitment
	for _, n := range signers {
		c, err := n.SignRound1(ctx, "node-sign")
		require.NoError(t, err)
		commitments = append(commitments, c)
	}
	var shares []*frost.SignatureShare
	for _, n := range signers {
		s, err := n.SignRound2(ctx, "node-sign", commitments, message)
		require.NoError(t, err)
		shares = append(shares, s)
	}
	sig, err := frost.Aggregate(pub, "node-sign", commitments, shares, message)
	require.NoError(t, err)
	require.NoError(t, frost.VerifySignature(pub.GroupPublicKey, message, sig))
}

func TestNodeLoadsPersistedKey(t *testing.T) {
	ctx := context.Background()
	params := frost.ThresholdParams{Threshold: 2, Total: 2}
	nodes, stores := newNodes(t, params)
	pub := runDKG(t, nodes, "persisted")

	restarted, err := NewNode(1, params, stores[0])
	require.NoError(t, err)
	require.NoError(t, restarted.Load(ctx))

	st, err := restarted.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.HasKey)
	assert.True(t, st.PublicKey.GroupPublicKey.Equal(pub.GroupPublicKey))

	// a node with an empty store starts without a key
	fresh, err := NewNode(1, params, keystore.NewMemoryStore())
	require.NoError(t, err)
	require.NoError(t, fresh.Load(ctx))
	st, err = fresh.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.HasKey)
}

func TestNodeRefusesUsedSessionsAfterRestart(t *testing.T) {
	ctx := context.Background()
	params := frost.ThresholdParams{Threshold: 1, Total: 1}
	nodes, stores := newNodes(t, params)
	runDKG(t, nodes, "restart-dkg")

	c, err := nodes[0].SignRound1(ctx, "restart-sign")
	require.NoError(t, err)
	_, err = nodes[0].SignRound2(ctx, "restart-sign", []*frost.SigningCommitment{c}, []byte("m"))
	require.NoError(t, err)

	restarted, err := NewNode(1, params, stores[0])
	require.NoError(t, err)
	require.NoError(t, restarted.Load(ctx))

	_, err = restarted.SignRound1(ctx, "restart-sign")
	assert.ErrorIs(t, err, frost.ErrSessionExists)
	_, err = restarted.DKGRound1(ctx, "restart-dkg")
	assert.ErrorIs(t, err, frost.ErrSessionExists)

	_, err = restarted.SignRound1(ctx, "after-restart")
	assert.NoError(t, err)
}

func TestNodeMessageValidator(t *testing.T) {
	ctx := context.Background()
	params := frost.ThresholdParams{Threshold: 1, Total: 1}
	veto := func(sid frost.SessionID, msg []byte) error {
		if string(msg) == "forbidden" {
			return errors.New("not on the allow list")
		}
		return nil
	}
	nodes, _ := newNodes(t, params, WithMessageValidator(veto))
	runDKG(t, nodes, "validator")

	c, err := nodes[0].SignRound1(ctx, "v1")
	require.NoError(t, err)
	_, err = nodes[0].SignRound2(ctx, "v1", []*frost.SigningCommitment{c}, []byte("forbidden"))
	assert.ErrorIs(t, err, frost.ErrMessageRejected)

	c, err = nodes[0].SignRound1(ctx, "v2")
	require.NoError(t, err)
	_, err = nodes[0].SignRound2(ctx, "v2", []*frost.SigningCommitment{c}, []byte("fine"))
	assert.NoError(t, err)
}

func TestNodeAbort(t *testing.T) {
	ctx := context.Background()
	params := frost.ThresholdParams{Threshold: 1, Total: 1}
	nodes, _ := newNodes(t, params)

	// aborting before a key exists only touches DKG state
	require.NoError(t, nodes[0].Abort(ctx, "pre-key"))
	_, err := nodes[0].DKGRound1(ctx, "pre-key")
	assert.ErrorIs(t, err, frost.ErrSessionExists)

	runDKG(t, nodes, "abort-dkg")
	c, err := nodes[0].SignRound1(ctx, "abort-sign")
	require.NoError(t, err)
	require.NoError(t, nodes[0].Abort(ctx, "abort-sign"))
	_, err = nodes[0].SignRound2(ctx, "abort-sign", []*frost.SigningCommitment{c}, []byte("m"))
	assert.ErrorIs(t, err, frost.ErrNonceReuse)
}

func TestNodeJanitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	params := frost.ThresholdParams{Threshold: 1, Total: 1}
	nodes, _ := newNodes(t, params)
	runDKG(t, nodes, "janitor")

	_, err := nodes[0].SignRound1(ctx, "stale")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		nodes[0].RunJanitor(ctx, 5*time.Millisecond, time.Nanosecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		signer, err := nodes[0].signingEngine()
		return err == nil && signer.State("stale") == frost.SigningStateDone
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
