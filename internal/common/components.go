package common

const (
	ComponentPoller      = "poller"
	ComponentLogFetcher  = "log-fetcher"
	ComponentDecoder     = "decoder"
	ComponentCheckpoint  = "checkpoint"
	ComponentStore       = "store"
	ComponentReorg       = "reorg"
	ComponentMaintenance = "maintenance"
	ComponentRPC         = "rpc"
	ComponentAPI         = "api"
	ComponentMetrics     = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentPoller:      {},
	ComponentLogFetcher:  {},
	ComponentDecoder:     {},
	ComponentCheckpoint:  {},
	ComponentStore:       {},
	ComponentReorg:       {},
	ComponentMaintenance: {},
	ComponentRPC:         {},
	ComponentAPI:         {},
	ComponentMetrics:     {},
}
