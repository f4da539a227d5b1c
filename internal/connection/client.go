package connection

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/metrics"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// ChainClient reads blocks and receipts through the connection manager
type ChainClient struct {
	manager        Manager
	metricsManager *metrics.Manager
	logger         *logrus.Entry

	mu      sync.Mutex
	chainID *big.Int
}

// NewChainClient creates a chain reader on top of manager
func NewChainClient(manager Manager, metricsManager *metrics.Manager) *ChainClient {
	return &ChainClient{
		manager:        manager,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("chain_client"),
	}
}

// BlockNumber returns the latest block number
func (cc *ChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	return cc.manager.GetLatestBlockNumber(ctx)
}

// BlockByNumber gets a block with its transactions
func (cc *ChainClient) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	start := time.Now()
	client, err := cc.manager.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	block, err := client.BlockByNumber(ctx, number)
	cc.record("eth_getBlockByNumber", err, start)
	if err != nil {
		cc.logger.WithFields(logrus.Fields{"number": number, "error": err}).Error("Failed to get block")
		return nil, utils.WrapAppError(utils.ErrCodeBlockchain, "Failed to get block", err)
	}
	return block, nil
}

// TransactionReceipt gets a transaction receipt
func (cc *ChainClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	client, err := cc.manager.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	receipt, err := client.TransactionReceipt(ctx, txHash)
	cc.record("eth_getTransactionReceipt", err, start)
	if err != nil {
		cc.logger.WithFields(logrus.Fields{"tx_hash": txHash.Hex(), "error": err}).Error("Failed to get transaction receipt")
		return nil, utils.WrapAppError(utils.ErrCodeBlockchain, "Failed to get transaction receipt", err)
	}
	return receipt, nil
}

// ChainID returns the node's chain ID, cached after the first call
func (cc *ChainClient) ChainID(ctx context.Context) (*big.Int, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.chainID != nil {
		return new(big.Int).Set(cc.chainID), nil
	}

	start := time.Now()
	client, err := cc.manager.GetClient(ctx)
	if err != nil {
		return nil, err
	}
	id, err := client.ChainID(ctx)
	cc.record("eth_chainId", err, start)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeBlockchain, "Failed to get chain ID", err)
	}
	cc.chainID = id
	return new(big.Int).Set(id), nil
}

func (cc *ChainClient) record(method string, err error, start time.Time) {
	if cc.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	cc.metricsManager.GetPrometheusMetrics().RecordRPCRequest(method, status, time.Since(start))
}
