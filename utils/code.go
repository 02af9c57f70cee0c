package utils

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// ErrInvalidAccount 账户字符串既不是 base58 也不是 32 字节 hex
var ErrInvalidAccount = errors.New("invalid account encoding")

// DecodeBase64Tx 解析 base64 编码的交易，用于核对链上的提现交易
func DecodeBase64Tx(b64 string) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// Transfer 系统程序转账指令的摘要
type Transfer struct {
	From     solana.PublicKey
	To       solana.PublicKey
	Lamports uint64
}

// SystemTransfers 提取交易中的系统转账，其他指令忽略
func SystemTransfers(tx *solana.Transaction) ([]Transfer, error) {
	var out []Transfer
	for _, ci := range tx.Message.Instructions {
		program, err := tx.Message.Program(ci.ProgramIDIndex)
		if err != nil {
			return nil, err
		}
		if !program.Equals(solana.SystemProgramID) {
			continue
		}
		accounts, err := ci.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			return nil, err
		}
		inst, err := system.DecodeInstruction(accounts, ci.Data)
		if err != nil {
			return nil, err
		}
		transfer, ok := inst.Impl.(*system.Transfer)
		if !ok || transfer.Lamports == nil {
			continue
		}
		out = append(out, Transfer{
			From:     transfer.GetFundingAccount().PublicKey,
			To:       transfer.GetRecipientAccount().PublicKey,
			Lamports: *transfer.Lamports,
		})
	}
	return out, nil
}

func EncodeBase64Tx(tx *solana.Transaction) (string, error) {
	enc, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

// ParseAccount 在传输边界把 base58 或 0x 前缀 hex 解码为 32 字节公钥
func ParseAccount(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, ErrInvalidAccount
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw, err := hex.DecodeString(s[2:])
		if err != nil || len(raw) != solana.PublicKeyLength {
			return solana.PublicKey{}, ErrInvalidAccount
		}
		return solana.PublicKeyFromBytes(raw), nil
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, ErrInvalidAccount
	}
	return pk, nil
}

// HexAccount 返回 0x 前缀的 hex 编码
func HexAccount(pk solana.PublicKey) string {
	return "0x" + hex.EncodeToString(pk[:])
}
