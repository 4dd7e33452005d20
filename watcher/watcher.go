package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/versioninfo"
	didtdw "github.com/did-method-tdw/go-didtdw"
	"github.com/emirpasic/gods/sets/hashset"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const httpClientTimeout = 30 * time.Second

// inFlight tracks DIDs with a refresh in progress, so overlapping passes and
// API-triggered refreshes never race on the same log.
type inFlight struct {
	dids *hashset.Set
	lock sync.Mutex
}

func newInFlight() *inFlight {
	return &inFlight{dids: hashset.New()}
}

// returns true on success, does nothing and returns false if the DID was
// already in-flight
func (infl *inFlight) add(did string) bool {
	infl.lock.Lock()
	defer infl.lock.Unlock()
	if infl.dids.Contains(did) {
		return false
	}
	infl.dids.Add(did)
	return true
}

func (infl *inFlight) remove(did string) {
	infl.lock.Lock()
	defer infl.lock.Unlock()
	infl.dids.Remove(did)
}

// Watcher periodically re-fetches the logs of watched DIDs, verifies them,
// and commits newly appended entries.
type Watcher struct {
	store      *Store
	hub        *Hub
	client     *didtdw.Client
	interval   time.Duration
	numWorkers int
	inflight   *inFlight
	logger     *slog.Logger
}

func NewWatcher(store *Store, hub *Hub, interval time.Duration, numWorkers int, logger *slog.Logger) *Watcher {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &Watcher{
		store: store,
		hub:   hub,
		client: &didtdw.Client{
			HTTPClient: &http.Client{
				Timeout:   httpClientTimeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			UserAgent: fmt.Sprintf("go-didtdw-watcher/%s", versioninfo.Short()),
		},
		interval:   interval,
		numWorkers: numWorkers,
		inflight:   newInFlight(),
		logger:     logger.With("component", "watcher"),
	}
}

// Run refreshes all watched DIDs immediately and then on every interval tick,
// until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.refreshAll(ctx); err != nil {
			return err
		}
		LastRefreshTsGauge.Record(ctx, time.Now().Unix())

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) refreshAll(ctx context.Context) error {
	recs, err := w.store.ListDIDs(ctx)
	if err != nil {
		return err
	}
	WatchedDIDsGauge.Record(ctx, int64(len(recs)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.numWorkers)
	for _, rec := range recs {
		g.Go(func() error {
			// per-DID failures are logged and counted, never fatal
			if err := w.Refresh(gctx, rec.DID); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("refresh failed", "did", rec.DID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Refresh fetches and verifies one DID's log and commits whatever verified
// suffix extends the stored head. Returns nil when another refresh for the
// same DID is already running.
func (w *Watcher) Refresh(ctx context.Context, didstr string) error {
	if !w.inflight.add(didstr) {
		return nil
	}
	defer w.inflight.remove(didstr)

	rec, err := w.store.GetRecord(ctx, didstr)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("DID not watched: %s", didstr)
	}

	did, err := didtdw.ParseDID(didstr)
	if err != nil {
		return err
	}
	logURL := rec.LogURL
	if logURL == "" {
		logURL = did.LogURL()
	}

	entries, err := w.client.FetchLogURL(ctx, logURL)
	if err != nil {
		RefreshErrorsCounter.Add(ctx, 1)
		return err
	}
	if len(entries) == 0 {
		RefreshErrorsCounter.Add(ctx, 1)
		return fmt.Errorf("empty log at %s", logURL)
	}
	if entries[0].Parameters.SCID != did.SCID {
		InvalidLogsCounter.Add(ctx, 1)
		return fmt.Errorf("log at %s is for scid %s, not %s", logURL, entries[0].Parameters.SCID, did.SCID)
	}

	proofs, err := w.client.FetchWitnessProofsURL(ctx, witnessURLFor(logURL))
	if err != nil {
		w.logger.Warn("witness proof fetch failed", "did", didstr, "error", err)
	}

	st, verr := didtdw.Resolve(entries, &didtdw.ResolveOptions{WitnessProofs: proofs})
	if st == nil {
		InvalidLogsCounter.Add(ctx, 1)
		return fmt.Errorf("log verification failed: %w", verr)
	}
	if verr != nil {
		// commit the maximal valid prefix; the bad tail may be a publishing
		// race that resolves itself on the next pass
		InvalidLogsCounter.Add(ctx, 1)
		w.logger.Warn("log tail invalid, keeping valid prefix",
			"did", didstr, "validVersions", st.VersionNumber, "error", verr)
	}

	if st.VersionNumber == rec.HeadVersion {
		return w.store.TouchRefreshed(ctx, didstr)
	}

	appended, err := w.store.ExtendLog(ctx, didstr, st)
	if err != nil {
		if errors.Is(err, ErrHistoryRewritten) {
			HistoryRewriteCounter.Add(ctx, 1)
		}
		return err
	}

	EntriesCommittedCount.Add(ctx, int64(len(appended)))
	w.logger.Info("committed new entries", "did", didstr,
		"count", len(appended), "headVersion", st.VersionNumber)
	if w.hub != nil {
		for _, e := range appended {
			w.hub.Broadcast(UpdateEvent{DID: didstr, Entry: e})
		}
	}
	return nil
}

// witnessURLFor maps a did.jsonl location to its sibling witness document.
func witnessURLFor(logURL string) string {
	if base, ok := strings.CutSuffix(logURL, "did.jsonl"); ok {
		return base + "did-witness.json"
	}
	return logURL + "/did-witness.json"
}
