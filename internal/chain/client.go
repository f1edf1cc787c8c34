package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lockwatch/lockwatch/internal/config"
)

// EthClient is the typed JSON-RPC surface the indexer depends on.
type EthClient interface {
	// CurrentBlock returns the highest block number known to the node.
	CurrentBlock(ctx context.Context) (uint64, error)

	// GetBlocks returns canonical block headers for the given numbers, in order.
	GetBlocks(ctx context.Context, blockNums []uint64) ([]*types.Header, error)

	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// Close releases the underlying connection.
	Close()
}

// Compile-time check to ensure Client implements the EthClient interface.
var _ EthClient = (*Client)(nil)

// Client wraps the Ethereum RPC client with convenience methods for indexing.
type Client struct {
	eth         *ethclient.Client
	rpc         *rpc.Client
	retryConfig *config.RetryConfig
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string, retryConfig *config.RetryConfig) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		eth:         ethclient.NewClient(rpcClient),
		rpc:         rpcClient,
		retryConfig: retryConfig,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// CurrentBlock returns the highest block number known to the node.
func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	start := time.Now()
	RPCMethodInc("eth_blockNumber")
	defer func() {
		RPCMethodDuration("eth_blockNumber", time.Since(start))
	}()

	var blockNum uint64
	err := retryWithBackoff(ctx, c.retryConfig, "eth_blockNumber", func() error {
		var fetchErr error
		blockNum, fetchErr = c.eth.BlockNumber(ctx)
		return fetchErr
	})

	if err != nil {
		RPCMethodError("eth_blockNumber", "error")
		return 0, err
	}

	return blockNum, nil
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	start := time.Now()
	RPCMethodInc("eth_getLogs")
	defer func() {
		RPCMethodDuration("eth_getLogs", time.Since(start))
	}()

	var logs []types.Log
	err := retryWithBackoff(ctx, c.retryConfig, "eth_getLogs", func() error {
		var fetchErr error
		logs, fetchErr = c.eth.FilterLogs(ctx, query)
		return fetchErr
	})

	if err != nil {
		RPCMethodError("eth_getLogs", "error")
		return nil, err
	}

	return logs, nil
}

// GetBlocks retrieves headers for multiple block numbers in batched
// eth_getBlockByNumber calls, preserving input order.
func (c *Client) GetBlocks(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	const maxBatch = 100
	var allResults []*types.Header

	start := time.Now()
	RPCMethodInc("eth_getBlockByNumber_batch")
	defer func() {
		RPCMethodDuration("eth_getBlockByNumber_batch", time.Since(start))
	}()

	for i := 0; i < len(blockNums); i += maxBatch {
		end := min(i+maxBatch, len(blockNums))
		chunk := blockNums[i:end]

		var chunkResults []*types.Header
		err := retryWithBackoff(ctx, c.retryConfig, "eth_getBlockByNumber_batch", func() error {
			batch := make([]rpc.BatchElem, len(chunk))
			chunkResults = make([]*types.Header, len(chunk))

			for j, blockNum := range chunk {
				batch[j] = rpc.BatchElem{
					Method: "eth_getBlockByNumber",
					Args:   []any{toBlockNumArg(blockNum), false}, // false = don't include transactions
					Result: &chunkResults[j],
				}
			}

			if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
				return err
			}

			// Check for individual errors
			for _, elem := range batch {
				if elem.Error != nil {
					return elem.Error
				}
			}

			return nil
		})

		if err != nil {
			RPCMethodError("eth_getBlockByNumber_batch", "error")
			return nil, err
		}

		allResults = append(allResults, chunkResults...)
	}

	return allResults, nil
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
