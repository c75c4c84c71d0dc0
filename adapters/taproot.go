package adapters

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	frost "github.com/canopy-network/frost-taproot"
)

// ChainType represents different blockchain types
type ChainType string

// ChainTypeBitcoin represents the Bitcoin blockchain
const ChainTypeBitcoin ChainType = "bitcoin"

// TaprootAdapter maps FROST signatures onto taproot key-path spends.
type TaprootAdapter struct {
	net *chaincfg.Params
}

// NewTaprootAdapter creates an adapter for the given network, testnet3 if nil
func NewTaprootAdapter(net *chaincfg.Params) *TaprootAdapter {
	if net == nil {
		net = &chaincfg.TestNet3Params
	}
	return &TaprootAdapter{net: net}
}

// NetworkParams resolves a network name as used in configuration.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet", chaincfg.MainNetParams.Name:
		return &chaincfg.MainNetParams, nil
	case "testnet", chaincfg.TestNet3Params.Name:
		return &chaincfg.TestNet3Params, nil
	case chaincfg.SigNetParams.Name:
		return &chaincfg.SigNetParams, nil
	case chaincfg.RegressionNetParams.Name:
		return &chaincfg.RegressionNetParams, nil
	}
	return nil, fmt.Errorf("unknown bitcoin network %q", name)
}

// Chain returns the chain type
func (ta *TaprootAdapter) Chain() ChainType {
	return ChainTypeBitcoin
}

// Net returns the network parameters
func (ta *TaprootAdapter) Net() *chaincfg.Params {
	return ta.net
}

func outputKey(groupKey frost.Point) (*btcec.PublicKey, error) {
	p, ok := groupKey.(*frost.Secp256k1Point)
	if !ok || p.IsIdentity() {
		return nil, fmt.Errorf("group key must be a secp256k1 point")
	}
	return p.PublicKey(), nil
}

// PayToTaprootScript returns OP_1 <x(Q)> for the group key.
func (ta *TaprootAdapter) PayToTaprootScript(groupKey frost.Point) ([]byte, error) {
	key, err := outputKey(groupKey)
	if err != nil {
		return nil, err
	}
	return txscript.PayToTaprootScript(key)
}

// Address returns the bech32m P2TR address of the group key.
func (ta *TaprootAdapter) Address(groupKey frost.Point) (*btcutil.AddressTaproot, error) {
	if _, err := outputKey(groupKey); err != nil {
		return nil, err
	}
	return btcutil.NewAddressTaproot(groupKey.XOnlyBytes(), ta.net)
}

func checkHashType(hashType txscript.SigHashType) error {
	switch hashType {
	case txscript.SigHashDefault, txscript.SigHashAll:
		return nil
	default:
		return frost.ErrUnsupportedSighashType.WithDetails("sighash type 0x%02x", uint8(hashType))
	}
}

func prevOutFetcher(tx *wire.MsgTx, spentOutputs []*wire.TxOut) (*txscript.MultiPrevOutFetcher, error) {
	if len(spentOutputs) != len(tx.TxIn) {
		return nil, fmt.Errorf("need %d spent outputs, got %d", len(tx.TxIn), len(spentOutputs))
	}
	fetcher := txscript.NewMultiPrevOutFetcher(make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn)))
	for i, in := range tx.TxIn {
		if spentOutputs[i] == nil {
			return nil, fmt.Errorf("spent output %d is nil", i)
		}
		fetcher.AddPrevOut(in.PreviousOutPoint, spentOutputs[i])
	}
	return fetcher, nil
}

// SigHash computes the BIP-341 key-path sighash of input inputIndex.
// spentOutputs lists the output spent by every input, in input order.
func (ta *TaprootAdapter) SigHash(tx *wire.MsgTx, inputIndex int, spentOutputs []*wire.TxOut,
	hashType txscript.SigHashType) ([]byte, error) {
	if err := checkHashType(hashType); err != nil {
		return nil, err
	}
	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range", inputIndex)
	}
	fetcher, err := prevOutFetcher(tx, spentOutputs)
	if err != nil {
		return nil, err
	}
	if !txscript.IsPayToTaproot(spentOutputs[inputIndex].PkScript) {
		return nil, frost.ErrUnsupportedSighashType.WithDetails("input %d does not spend a taproot output", inputIndex)
	}
	// a control block means a script-path spend
	if len(tx.TxIn[inputIndex].Witness) > 1 {
		return nil, frost.ErrUnsupportedSighashType.WithDetails("input %d carries a script-path witness", inputIndex)
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	return txscript.CalcTaprootSignatureHash(sigHashes, hashType, tx, inputIndex, fetcher)
}

// Finalize returns a copy of tx whose input inputIndex carries sig as its
// only witness element. The hash type byte is appended unless it is default.
func (ta *TaprootAdapter) Finalize(tx *wire.MsgTx, inputIndex int, sig *frost.Signature,
	hashType txscript.SigHashType) (*wire.MsgTx, error) {
	if err := checkHashType(hashType); err != nil {
		return nil, err
	}
	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range", inputIndex)
	}
	if sig == nil || sig.R == nil || sig.S == nil {
		return nil, fmt.Errorf("signature is incomplete")
	}
	if sig.R.HasOddY() {
		return nil, fmt.Errorf("signature must have an even-Y nonce")
	}

	witnessSig := sig.Bytes()
	if hashType != txscript.SigHashDefault {
		witnessSig = append(witnessSig, byte(hashType))
	}

	signed := tx.Copy()
	signed.TxIn[inputIndex].Witness = wire.TxWitness{witnessSig}
	return signed, nil
}

// VerifyInput runs the script engine over one signed input.
func (ta *TaprootAdapter) VerifyInput(tx *wire.MsgTx, inputIndex int, spentOutputs []*wire.TxOut) error {
	fetcher, err := prevOutFetcher(tx, spentOutputs)
	if err != nil {
		return err
	}
	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		return fmt.Errorf("input index %d out of range", inputIndex)
	}

	prevOut := spentOutputs[inputIndex]
	vm, err := txscript.NewEngine(prevOut.PkScript, tx, inputIndex, txscript.StandardVerifyFlags,
		nil, txscript.NewTxSigHashes(tx, fetcher), prevOut.Value, fetcher)
	if err != nil {
		return fmt.Errorf("create script engine: %w", err)
	}
	if err := vm.Execute(); err != nil {
		return fmt.Errorf("input %d failed verification: %w", inputIndex, err)
	}
	return nil
}
