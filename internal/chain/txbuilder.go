package chain

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/config/netmode"
	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/io"
	"github.com/nspcc-dev/neo-go/pkg/smartcontract/callflag"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/emit"
	"github.com/nspcc-dev/neo-go/pkg/vm/opcode"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
)

// Fee defaults, in GAS smallest units. A plain NEP-17 transfer consumes
// just under 0.01 GAS of system fee; the network fee covers one
// single-signature witness.
const (
	DefaultSystemFee  int64 = 1_000_000 // 0.01 GAS
	DefaultNetworkFee int64 = 200_000   // 0.002 GAS

	// ValidUntilOffset bounds how many blocks a built transaction stays
	// valid past the state reference it was constructed from.
	ValidUntilOffset uint32 = 240
)

// NewGASTransfer builds an unsigned single-instruction GAS transfer for
// amount from one account to another, anchored to the given state
// reference. The script asserts the transfer result so a failed transfer
// FAULTs instead of silently returning false.
func NewGASTransfer(from, to util.Uint160, amount int64, state StateRef) (*transaction.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	w := io.NewBufBinWriter()
	emit.AppCall(w.BinWriter, GASToken, "transfer", callflag.All, from, to, amount, nil)
	emit.Opcodes(w.BinWriter, opcode.ASSERT)
	if w.Err != nil {
		return nil, fmt.Errorf("emit transfer script: %w", w.Err)
	}

	return newTx(w.Bytes(), from, state), nil
}

// NewDelegation builds an unsigned invocation of the confidential
// executor's delegation contract, assigning execution rights over account
// to the executor. The re-commitment interval bounds how long the
// executor may run before checkpointing state back to the public ledger.
func NewDelegation(executorContract, account util.Uint160, recommitInterval time.Duration, state StateRef) (*transaction.Transaction, error) {
	if recommitInterval <= 0 {
		return nil, fmt.Errorf("re-commitment interval must be positive")
	}

	w := io.NewBufBinWriter()
	emit.AppCall(w.BinWriter, executorContract, "delegate", callflag.All, account, recommitInterval.Milliseconds())
	if w.Err != nil {
		return nil, fmt.Errorf("emit delegation script: %w", w.Err)
	}

	return newTx(w.Bytes(), account, state), nil
}

// newTx assembles a transaction skeleton around a script, with the
// signer scoped to CalledByEntry and validity bounded by the recency
// marker.
func newTx(script []byte, signer util.Uint160, state StateRef) *transaction.Transaction {
	tx := transaction.New(script, DefaultSystemFee)
	tx.NetworkFee = DefaultNetworkFee
	tx.Nonce = randomNonce()
	tx.ValidUntilBlock = state.Height + ValidUntilOffset
	tx.Signers = []transaction.Signer{{
		Account: signer,
		Scopes:  transaction.CalledByEntry,
	}}
	return tx
}

// Sign attaches the witness for the transaction's signer. The private
// key is used in place and never serialized.
func Sign(tx *transaction.Transaction, priv *keys.PrivateKey, magic uint32) error {
	acct := wallet.NewAccountFromPrivateKey(priv)
	if err := acct.SignTx(netmode.Magic(magic), tx); err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}

// randomNonce draws a transaction nonce from the system CSPRNG.
func randomNonce() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
