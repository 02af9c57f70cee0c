package utils

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccount(t *testing.T) {
	pk := solana.NewWallet().PublicKey()

	got, err := ParseAccount(pk.String())
	require.NoError(t, err)
	assert.Equal(t, pk, got)

	got, err = ParseAccount(HexAccount(pk))
	require.NoError(t, err)
	assert.Equal(t, pk, got)

	for _, bad := range []string{"", "   ", "0x1234", "not-base58-0OIl", "0xzz" + HexAccount(pk)[4:]} {
		_, err := ParseAccount(bad)
		assert.ErrorIs(t, err, ErrInvalidAccount, "input %q", bad)
	}
}

func TestBase64TxRoundTrip(t *testing.T) {
	from := solana.NewWallet()
	to := solana.NewWallet().PublicKey()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(42, from.PublicKey(), to).Build()},
		solana.Hash{1, 2, 3},
		solana.TransactionPayer(from.PublicKey()),
	)
	require.NoError(t, err)

	enc, err := EncodeBase64Tx(tx)
	require.NoError(t, err)

	decoded, err := DecodeBase64Tx(enc)
	require.NoError(t, err)
	assert.Equal(t, tx.Message.RecentBlockhash, decoded.Message.RecentBlockhash)
	assert.Equal(t, tx.Message.AccountKeys, decoded.Message.AccountKeys)

	_, err = DecodeBase64Tx("%%%")
	assert.Error(t, err)
}

func TestSystemTransfers(t *testing.T) {
	from := solana.NewWallet()
	to := solana.NewWallet().PublicKey()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(70_995_000, from.PublicKey(), to).Build()},
		solana.Hash{9},
		solana.TransactionPayer(from.PublicKey()),
	)
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(from.PublicKey()) {
			return &from.PrivateKey
		}
		return nil
	})
	require.NoError(t, err)

	enc, err := EncodeBase64Tx(tx)
	require.NoError(t, err)
	decoded, err := DecodeBase64Tx(" " + enc + "\n")
	require.NoError(t, err)
	assert.NoError(t, decoded.VerifySignatures())

	transfers, err := SystemTransfers(decoded)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, Transfer{From: from.PublicKey(), To: to, Lamports: 70_995_000}, transfers[0])
}
