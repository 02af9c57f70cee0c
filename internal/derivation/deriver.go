// Package derivation 根据主密钥、收款人和订单号派生每个订单独立的收款账户。
//
// 派生方式与 SLIP-0010 的 ed25519 硬化派生一致，只是把 31 位索引换成了
// 32 字节的路径分量：第一步用收款人公钥原始字节，第二步用订单号的
// blake2b-256 哈希。每一步都需要父私钥，只拿到公钥无法推出兄弟账户。
package derivation

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/blake2b"
)

// MaxOrderLength 订单号最大字节数
const MaxOrderLength = 512

var (
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrInvalidOrder     = errors.New("invalid order identifier")
	ErrInvalidMaster    = errors.New("invalid master key")
)

var (
	masterHMACKey = []byte("ed25519 seed")
	orderHashKey  = []byte("depositpay/order")
)

type node struct {
	key   [32]byte
	chain [32]byte
}

// Deriver 只读，构造后可并发使用；私钥材料不会离开本包
type Deriver struct {
	root node
}

// New 用主密钥的 seed 部分生成派生根节点
func New(master solana.PrivateKey) (*Deriver, error) {
	if len(master) != ed25519.PrivateKeySize {
		return nil, ErrInvalidMaster
	}
	seed := ed25519.PrivateKey(master).Seed()

	mac := hmac.New(sha512.New, masterHMACKey)
	mac.Write(seed)
	sum := mac.Sum(nil)

	d := &Deriver{}
	copy(d.root.key[:], sum[:32])
	copy(d.root.chain[:], sum[32:])
	return d, nil
}

// String 不输出任何密钥材料
func (d *Deriver) String() string { return "derivation.Deriver{redacted}" }

// GoString 同 String，避免 %#v 打印出私钥
func (d *Deriver) GoString() string { return d.String() }

func (n node) hardChild(junction [32]byte) node {
	mac := hmac.New(sha512.New, n.chain[:])
	mac.Write([]byte{0x00})
	mac.Write(n.key[:])
	mac.Write(junction[:])
	sum := mac.Sum(nil)

	var child node
	copy(child.key[:], sum[:32])
	copy(child.chain[:], sum[32:])
	return child
}

// OrderJunction 把任意长度的订单号编码为定长路径分量（带域分隔的 blake2b-256）
func OrderJunction(order []byte) ([32]byte, error) {
	var out [32]byte
	if len(order) == 0 || len(order) > MaxOrderLength {
		return out, fmt.Errorf("%w: length %d not in [1,%d]", ErrInvalidOrder, len(order), MaxOrderLength)
	}
	h, err := blake2b.New256(orderHashKey)
	if err != nil {
		return out, err
	}
	h.Write(order)
	copy(out[:], h.Sum(nil))
	return out, nil
}

func (d *Deriver) depositKey(recipient solana.PublicKey, order []byte) (ed25519.PrivateKey, error) {
	if recipient.IsZero() {
		return nil, ErrInvalidRecipient
	}
	orderJunction, err := OrderJunction(order)
	if err != nil {
		return nil, err
	}
	leaf := d.root.hardChild([32]byte(recipient)).hardChild(orderJunction)
	return ed25519.NewKeyFromSeed(leaf.key[:]), nil
}

// DeriveDepositAccount 返回 (recipient, order) 对应的收款账户公钥
func (d *Deriver) DeriveDepositAccount(recipient solana.PublicKey, order []byte) (solana.PublicKey, error) {
	key, err := d.depositKey(recipient, order)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(key.Public().(ed25519.PublicKey)), nil
}

// SignTransaction 用收款账户私钥为交易签名，私钥只在本函数内存在
func (d *Deriver) SignTransaction(recipient solana.PublicKey, order []byte, tx *solana.Transaction) error {
	key, err := d.depositKey(recipient, order)
	if err != nil {
		return err
	}
	signer := solana.PrivateKey(key)
	account := signer.PublicKey()

	_, err = tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(account) {
			return &signer
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign with deposit key: %w", err)
	}
	return nil
}
