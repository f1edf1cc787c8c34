package common

const (
	ComponentChainClient   = "chain-client"
	ComponentStore         = "store"
	ComponentScanner       = "scanner"
	ComponentReorgDetector = "reorg-detector"
	ComponentScheduler     = "scheduler"
	ComponentAggregator    = "aggregator"
	ComponentMetrics       = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentChainClient:   {},
	ComponentStore:         {},
	ComponentScanner:       {},
	ComponentReorgDetector: {},
	ComponentScheduler:     {},
	ComponentAggregator:    {},
	ComponentMetrics:       {},
}
