// Package anchor folds a shipment's custody chain into a single keccak-256
// digest and stamps it with the head of an external EVM chain, producing a
// receipt that can later be compared against the authoritative ledger. The
// notary only reads chain metadata; it submits nothing and verifies nothing.
package anchor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/VictoryV20/SecureChain/internal/ledger"
)

// Receipt captures one anchoring of a custody chain against a chain head.
type Receipt struct {
	ShipmentID  uint64      `json:"shipment_id"`
	Digest      common.Hash `json:"digest"`
	Records     int         `json:"records"`
	ChainID     string      `json:"chain_id"`
	BlockNumber uint64      `json:"block_number"`
	AnchoredAt  int64       `json:"anchored_at"`
}

// Notary dials an EVM endpoint and stamps custody digests with its head.
type Notary struct {
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	chainID   *big.Int
}

// Dial connects the notary to the configured RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Notary, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, errors.New("未配置锚定节点 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接锚定节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("读取链 ID 失败: %w", err)
	}
	return &Notary{rpcClient: rpcClient, eth: eth, chainID: chainID}, nil
}

// Anchor computes the chain digest and stamps it with the current head.
func (n *Notary) Anchor(ctx context.Context, shipmentID uint64, records []*ledger.CustodyRecord) (Receipt, error) {
	if n == nil || n.eth == nil {
		return Receipt{}, errors.New("锚定公证未初始化")
	}
	if len(records) == 0 {
		return Receipt{}, errors.New("监管链为空，无法锚定")
	}
	blockNumber, err := n.eth.BlockNumber(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("读取区块高度失败: %w", err)
	}
	return Receipt{
		ShipmentID:  shipmentID,
		Digest:      ChainDigest(records),
		Records:     len(records),
		ChainID:     n.chainID.String(),
		BlockNumber: blockNumber,
		AnchoredAt:  time.Now().Unix(),
	}, nil
}

// Close releases the RPC connection.
func (n *Notary) Close() {
	if n == nil || n.rpcClient == nil {
		return
	}
	n.rpcClient.Close()
}

// ChainDigest folds custody records into a keccak-256 digest over their
// canonical encoding. The encoding is order-sensitive, so identical chains
// always produce identical digests.
func ChainDigest(records []*ledger.CustodyRecord) common.Hash {
	var buf []byte
	scratch := make([]byte, 8)
	for _, record := range records {
		if record == nil {
			continue
		}
		binary.BigEndian.PutUint64(scratch, record.ShipmentID)
		buf = append(buf, scratch...)
		binary.BigEndian.PutUint64(scratch, record.Sequence)
		buf = append(buf, scratch...)
		buf = append(buf, []byte(record.Holder)...)
		binary.BigEndian.PutUint64(scratch, record.Height)
		buf = append(buf, scratch...)
		buf = append(buf, record.Location.Bytes()...)
		if record.Verified {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return crypto.Keccak256Hash(buf)
}
