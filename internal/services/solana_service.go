package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"DepositPay/utils"
)

var (
	ErrEncodeFailed    = errors.New("encode failed")
	ErrBroadcastFailed = errors.New("broadcast failed")
)

// SolanaClient 对 rpc.Client 的薄封装，实现 Chain 和 listener 需要的链上查询
type SolanaClient struct {
	client     *rpc.Client
	log        *utils.Logger
	maxRetries int
	// 广播串行化，避免触发 RPC 节点的并发限制
	txMutex sync.Mutex
}

func NewSolanaClient(rpcURL string, logger *utils.Logger) *SolanaClient {
	return &SolanaClient{
		client:     rpc.New(rpcURL),
		log:        logger,
		maxRetries: 3,
	}
}

// Balance 查询账户 lamports 余额
func (c *SolanaClient) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := c.client.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

// LatestBlockhash 优先取 Finalized，失败时退回 Confirmed
func (c *SolanaClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	bh, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		c.log.Debug("获取 Finalized blockhash 失败，尝试 Confirmed: %v", err)
		bh, err = c.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
		}
	}
	return bh.Value.Blockhash, nil
}

// Healthy 节点 getHealth 返回 ok 时为 nil
func (c *SolanaClient) Healthy(ctx context.Context) error {
	out, err := c.client.GetHealth(ctx)
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("node unhealthy: %s", out)
	}
	return nil
}

// Submit 广播已签名交易。
// gagliardetto/solana-go 的 SendRawTransaction 不支持 skipPreflight，这里直接调用 sendTransaction。
// blockhash 过期时重试无效，直接返回。
func (c *SolanaClient) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	encBase64, err := utils.EncodeBase64Tx(tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}

	c.txMutex.Lock()
	defer c.txMutex.Unlock()

	var sig solana.Signature
	var broadcastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return solana.Signature{}, err
		}
		c.log.Debug("广播交易 (尝试 %d/%d)", i+1, c.maxRetries)

		broadcastErr = c.client.RPCCallForInto(ctx, &sig, "sendTransaction", []interface{}{
			encBase64,
			map[string]interface{}{
				"skipPreflight":       true,
				"preflightCommitment": "confirmed",
				"encoding":            "base64",
			},
		})
		if broadcastErr == nil {
			if sig.IsZero() {
				broadcastErr = errors.New("广播返回的签名为零")
				continue
			}
			return sig, nil
		}

		c.log.Warn("广播失败 (尝试 %d/%d): %v", i+1, c.maxRetries, broadcastErr)
		if isBlockhashNotFound(broadcastErr) {
			break
		}
	}
	return solana.Signature{}, fmt.Errorf("%w: %v", ErrBroadcastFailed, broadcastErr)
}

func isBlockhashNotFound(err error) bool {
	s := err.Error()
	return strings.Contains(s, "Blockhash not found") || strings.Contains(s, "BlockhashNotFound")
}
