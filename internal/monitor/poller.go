package monitor

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// ChainReader is the subset of node access the block scanner needs
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// BlockPoller discovers deployments by scanning blocks for contract
// creation transactions
type BlockPoller struct {
	reader ChainReader
	logger *logrus.Entry

	mu           sync.RWMutex
	lastPollTime time.Time
	pollCount    uint64
	blockCount   uint64
	errorCount   uint64
}

// NewBlockPoller creates a new block poller
func NewBlockPoller(reader ChainReader) *BlockPoller {
	return &BlockPoller{
		reader: reader,
		logger: utils.ComponentLogger("block_poller"),
	}
}

// Name implements Source
func (bp *BlockPoller) Name() string { return "rpc" }

// LatestBlock implements Source
func (bp *BlockPoller) LatestBlock(ctx context.Context) (uint64, error) {
	bp.mu.Lock()
	bp.pollCount++
	bp.lastPollTime = time.Now()
	bp.mu.Unlock()

	n, err := bp.reader.BlockNumber(ctx)
	if err != nil {
		bp.recordError()
		return 0, err
	}
	return n, nil
}

// Deployments implements Source. Blocks are scanned in order so candidates
// come back in discovery order.
func (bp *BlockPoller) Deployments(ctx context.Context, fromBlock, toBlock uint64) ([]models.ContractCandidate, error) {
	if fromBlock > toBlock {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid block range", "fromBlock > toBlock")
	}

	chainID, err := bp.reader.ChainID(ctx)
	if err != nil {
		bp.recordError()
		return nil, err
	}
	signer := types.LatestSignerForChainID(chainID)

	var candidates []models.ContractCandidate
	for n := fromBlock; n <= toBlock; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		found, err := bp.scanBlock(ctx, n, signer)
		if err != nil {
			bp.recordError()
			return nil, err
		}
		candidates = append(candidates, found...)

		bp.mu.Lock()
		bp.blockCount++
		bp.mu.Unlock()
	}
	return candidates, nil
}

func (bp *BlockPoller) scanBlock(ctx context.Context, number uint64, signer types.Signer) ([]models.ContractCandidate, error) {
	block, err := bp.reader.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, err
	}

	var candidates []models.ContractCandidate
	for _, tx := range block.Transactions() {
		if tx.To() != nil {
			continue
		}

		receipt, err := bp.reader.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return nil, err
		}
		if receipt.Status != types.ReceiptStatusSuccessful || receipt.ContractAddress == (common.Address{}) {
			continue
		}

		c := models.ContractCandidate{
			ContractAddress: strings.ToLower(receipt.ContractAddress.Hex()),
			BlockNumber:     number,
			TxHash:          tx.Hash().Hex(),
		}
		if from, err := types.Sender(signer, tx); err == nil {
			c.CreatorAddress = strings.ToLower(from.Hex())
		} else {
			bp.logger.WithFields(logrus.Fields{
				"tx_hash": tx.Hash().Hex(),
				"error":   err,
			}).Debug("Could not recover deployer")
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// GetStats returns poller statistics
func (bp *BlockPoller) GetStats() map[string]interface{} {
	bp.mu.RLock()
	defer bp.mu.RUnlock()

	return map[string]interface{}{
		"poll_count":     bp.pollCount,
		"blocks_scanned": bp.blockCount,
		"error_count":    bp.errorCount,
		"last_poll_time": bp.lastPollTime,
	}
}

func (bp *BlockPoller) recordError() {
	bp.mu.Lock()
	bp.errorCount++
	bp.mu.Unlock()
}
