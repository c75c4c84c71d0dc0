package adapters

import (
	"context"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	frost "github.com/canopy-network/frost-taproot"
	"github.com/canopy-network/frost-taproot/coordinator"
	"github.com/canopy-network/frost-taproot/keystore"
	"github.com/canopy-network/frost-taproot/signer"
)

func newCoordinator(t *testing.T, params frost.ThresholdParams) *coordinator.Coordinator {
	t.Helper()
	participants := make([]coordinator.Participant, 0, params.Total)
	for _, id := range params.Participants() {
		node, err := signer.NewNode(id, params, keystore.NewMemoryStore())
		require.NoError(t, err)
		participants = append(participants, node)
	}
	coord, err := coordinator.New(params, participants)
	require.NoError(t, err)
	_, err = coord.EnsureKey(context.Background())
	require.NoError(t, err)
	return coord
}

func spendingTx(pkScript []byte) (*wire.MsgTx, []*wire.TxOut) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}, nil, nil))
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 1}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(140_000, pkScript))
	spent := []*wire.TxOut{
		wire.NewTxOut(100_000, pkScript),
		wire.NewTxOut(50_000, pkScript),
	}
	return tx, spent
}

func TestTaprootKeyPathRoundTrip(t *testing.T) {
	params := frost.ThresholdParams{Threshold: 2, Total: 3}
	coord := newCoordinator(t, params)
	pub := coord.PublicKey()
	adapter := NewTaprootAdapter(&chaincfg.RegressionNetParams)

	pkScript, err := adapter.PayToTaprootScript(pub.GroupPublicKey)
	require.NoError(t, err)
	require.True(t, txscript.IsPayToTaproot(pkScript))

	for _, hashType := range []txscript.SigHashType{txscript.SigHashDefault, txscript.SigHashAll} {
		tx, spent := spendingTx(pkScript)
		signed := tx
		for input := range tx.TxIn {
			sighash, err := adapter.SigHash(signed, input, spent, hashType)
			require.NoError(t, err)
			again, err := adapter.SigHash(signed, input, spent, hashType)
			require.NoError(t, err)
			require.Equal(t, sighash, again, "sighash must be deterministic")

			sig, err := coord.Sign(context.Background(), coordinator.NewSessionID(),
				[]frost.ParticipantIndex{1, 3}, sighash)
			require.NoError(t, err)

			signed, err = adapter.Finalize(signed, input, sig, hashType)
			require.NoError(t, err)
		}
		for input := range signed.TxIn {
			require.NoError(t, adapter.VerifyInput(signed, input, spent), "hash type %v input %d", hashType, input)
		}
		assert.Empty(t, tx.TxIn[0].Witness, "Finalize must not modify its input")

		// any change to the signed transaction invalidates the signatures
		tampered := signed.Copy()
		tampered.TxOut[0].Value--
		assert.Error(t, adapter.VerifyInput(tampered, 0, spent))
	}
}

func TestSigHashRejectsUnsupportedSpends(t *testing.T) {
	params := frost.ThresholdParams{Threshold: 1, Total: 1}
	coord := newCoordinator(t, params)
	adapter := NewTaprootAdapter(nil)
	pkScript, err := adapter.PayToTaprootScript(coord.PublicKey().GroupPublicKey)
	require.NoError(t, err)

	tx, spent := spendingTx(pkScript)
	for _, hashType := range []txscript.SigHashType{txscript.SigHashNone, txscript.SigHashSingle,
		txscript.SigHashAll | txscript.SigHashAnyOneCanPay} {
		_, err := adapter.SigHash(tx, 0, spent, hashType)
		assert.ErrorIs(t, err, frost.ErrUnsupportedSighashType)
	}

	p2wpkh := append([]byte{txscript.OP_0, txscript.OP_DATA_20}, make([]byte, 20)...)
	_, err = adapter.SigHash(tx, 0, []*wire.TxOut{wire.NewTxOut(1, p2wpkh), spent[1]}, txscript.SigHashDefault)
	assert.ErrorIs(t, err, frost.ErrUnsupportedSighashType)

	scriptPath := tx.Copy()
	scriptPath.TxIn[0].Witness = wire.TxWitness{{0x51}, {0xc0}}
	_, err = adapter.SigHash(scriptPath, 0, spent, txscript.SigHashDefault)
	assert.ErrorIs(t, err, frost.ErrUnsupportedSighashType)

	_, err = adapter.SigHash(tx, 0, spent[:1], txscript.SigHashDefault)
	assert.Error(t, err)
	_, err = adapter.SigHash(tx, 5, spent, txscript.SigHashDefault)
	assert.Error(t, err)
}

func TestAddress(t *testing.T) {
	coord := newCoordinator(t, frost.ThresholdParams{Threshold: 2, Total: 2})
	groupKey := coord.PublicKey().GroupPublicKey

	for name, prefix := range map[string]string{"mainnet": "bc1p", "testnet3": "tb1p", "regtest": "bcrt1p"} {
		net, err := NetworkParams(name)
		require.NoError(t, err)
		addr, err := NewTaprootAdapter(net).Address(groupKey)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(addr.EncodeAddress(), prefix), addr.EncodeAddress())
		assert.Equal(t, groupKey.XOnlyBytes(), addr.ScriptAddress())
	}

	_, err := NetworkParams("dogecoin")
	assert.Error(t, err)
	_, err = NewTaprootAdapter(nil).Address(frost.DefaultCurve().PointIdentity())
	assert.Error(t, err)
}

func TestFinalizeRejectsIncompleteSignature(t *testing.T) {
	adapter := NewTaprootAdapter(nil)
	curve := frost.DefaultCurve()
	tx, _ := spendingTx([]byte{txscript.OP_1})

	for name, sig := range map[string]*frost.Signature{
		"nil":       nil,
		"empty":     {},
		"missing S": {R: curve.BasePoint()},
		"missing R": {S: curve.ScalarOne()},
	} {
		var signed *wire.MsgTx
		var err error
		require.NotPanics(t, func() {
			signed, err = adapter.Finalize(tx, 0, sig, txscript.SigHashDefault)
		}, name)
		assert.Error(t, err, name)
		assert.Nil(t, signed, name)
	}
}
