package watcher

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/did-method-tdw/go-didtdw/watcher")

var (
	WatchedDIDsGauge      metric.Int64Gauge
	LastRefreshTsGauge    metric.Int64Gauge
	RefreshErrorsCounter  metric.Int64Counter
	InvalidLogsCounter    metric.Int64Counter
	HistoryRewriteCounter metric.Int64Counter
	EntriesCommittedCount metric.Int64Counter
)

func init() {
	var err error
	WatchedDIDsGauge, err = meter.Int64Gauge("tdw_watcher_watched_dids",
		metric.WithDescription("Number of DIDs currently being watched"),
	)
	if err != nil {
		panic(err)
	}
	LastRefreshTsGauge, err = meter.Int64Gauge("tdw_watcher_last_refresh_ts",
		metric.WithDescription("Unix timestamp of the most recently completed refresh pass"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}
	RefreshErrorsCounter, err = meter.Int64Counter("tdw_watcher_refresh_errors",
		metric.WithDescription("Number of refresh attempts that failed to fetch or parse a log"),
	)
	if err != nil {
		panic(err)
	}
	InvalidLogsCounter, err = meter.Int64Counter("tdw_watcher_invalid_logs",
		metric.WithDescription("Number of fetched logs that failed verification"),
	)
	if err != nil {
		panic(err)
	}
	HistoryRewriteCounter, err = meter.Int64Counter("tdw_watcher_history_rewrites",
		metric.WithDescription("Number of refreshes that detected rewritten published history"),
	)
	if err != nil {
		panic(err)
	}
	EntriesCommittedCount, err = meter.Int64Counter("tdw_watcher_entries_committed",
		metric.WithDescription("Number of newly verified log entries committed to the store"),
	)
	if err != nil {
		panic(err)
	}
}
