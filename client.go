package didtdw

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client fetches and verifies DID logs over HTTPS. The zero value is usable;
// it resolves from the web location the identifier encodes.
type Client struct {
	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
	UserAgent  string
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func (c *Client) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return fmt.Sprintf("go-didtdw/%s", versioninfo.Short())
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent())
	return c.httpClient().Do(req)
}

// FetchLogURL fetches and parses a did.jsonl document from an explicit URL.
func (c *Client) FetchLogURL(ctx context.Context, url string) ([]LogEntry, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching DID log: unexpected status %s from %s", resp.Status, url)
	}
	return ParseLog(resp.Body)
}

// FetchLog fetches the DID log from the web location the identifier encodes.
func (c *Client) FetchLog(ctx context.Context, did *DID) ([]LogEntry, error) {
	return c.FetchLogURL(ctx, did.LogURL())
}

// FetchWitnessProofs fetches the witness proof document published next to
// the log. A missing document is not an error: witnessing may simply not be
// configured.
func (c *Client) FetchWitnessProofs(ctx context.Context, did *DID) ([]WitnessProof, error) {
	return c.FetchWitnessProofsURL(ctx, did.WitnessURL())
}

// FetchWitnessProofsURL fetches a witness proof document from an explicit URL.
func (c *Client) FetchWitnessProofsURL(ctx context.Context, url string) ([]WitnessProof, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching witness proofs: unexpected status %s", resp.Status)
	}
	return ParseWitnessProofs(resp.Body)
}

// Resolve fetches, verifies, and materializes the DID. The SCID embedded in
// the identifier is cross-checked against the log: a log served for a
// different identifier, however internally valid, must not resolve.
func (c *Client) Resolve(ctx context.Context, didstr string, opts *ResolveOptions) (*ResolvedState, error) {
	did, err := ParseDID(didstr)
	if err != nil {
		return nil, err
	}
	entries, err := c.FetchLog(ctx, did)
	if err != nil {
		return nil, err
	}
	// work on a copy: witness proofs fetched for this DID must not leak into
	// a caller-owned options value reused across resolutions
	var ropts ResolveOptions
	if opts != nil {
		ropts = *opts
	}
	if ropts.WitnessProofs == nil {
		proofs, err := c.FetchWitnessProofs(ctx, did)
		if err != nil {
			return nil, err
		}
		ropts.WitnessProofs = proofs
	}
	if len(entries) > 0 && entries[0].Parameters.SCID != did.SCID {
		return nil, &SCIDMismatchError{Derived: entries[0].Parameters.SCID, Claimed: did.SCID}
	}
	return Resolve(entries, &ropts)
}
