package monitor

import (
	"context"

	"github.com/smartdevs17/contract-risk-watcher/internal/models"
)

// Explorer is the discovery half of the explorer API client
type Explorer interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetDeployments(ctx context.Context, fromBlock, toBlock uint64) ([]models.ContractCandidate, error)
}

// ExplorerSource discovers deployments from explorer event logs
type ExplorerSource struct {
	explorer Explorer
}

// NewExplorerSource creates an explorer-backed source
func NewExplorerSource(explorer Explorer) *ExplorerSource {
	return &ExplorerSource{explorer: explorer}
}

// Name implements Source
func (s *ExplorerSource) Name() string { return "etherscan" }

// LatestBlock implements Source
func (s *ExplorerSource) LatestBlock(ctx context.Context) (uint64, error) {
	return s.explorer.BlockNumber(ctx)
}

// Deployments implements Source
func (s *ExplorerSource) Deployments(ctx context.Context, fromBlock, toBlock uint64) ([]models.ContractCandidate, error) {
	return s.explorer.GetDeployments(ctx, fromBlock, toBlock)
}
