// Package ingest fetches the upstream pricing feed and extracts price
// observations from it. The feed is loosely structured JSON maintained by
// hand; extraction uses gjson path queries and skips malformed entries
// instead of aborting the batch.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"pricefeed/internal/core"
)

const maxBodySize = 10 * 1024 * 1024 // 10 MB

// Fetch downloads the pricing feed from the given URL and parses it into
// observations. Returns nil, nil if the URL is empty (feature disabled).
func Fetch(ctx context.Context, url string, timeout time.Duration, now time.Time) ([]core.PriceObservation, error) {
	if url == "" {
		return nil, nil
	}

	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching pricing feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	limited := io.LimitReader(resp.Body, maxBodySize+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(raw) > maxBodySize {
		return nil, fmt.Errorf("response body too large (exceeds %d bytes)", maxBodySize)
	}

	return Parse(raw, url, now), nil
}

// Parse extracts observations from a feed document. Each entry may carry a
// sync and/or batch price; entries without a model ID or with non-positive
// prices are skipped with a log line. The per-entry timestamp falls back to
// the document-level updated_at, then to now.
func Parse(raw []byte, source string, now time.Time) []core.PriceObservation {
	doc := gjson.ParseBytes(raw)

	docTime := parseTime(doc.Get("updated_at"), now)

	var out []core.PriceObservation
	doc.Get("prices").ForEach(func(_, entry gjson.Result) bool {
		modelID := entry.Get("model").String()
		if modelID == "" {
			modelID = entry.Get("model_id").String()
		}
		if modelID == "" {
			slog.Warn("skipping feed entry without model id", "source", source)
			return true
		}

		observedAt := parseTime(entry.Get("observed_at"), docTime)

		for _, pt := range []struct {
			priceType core.PriceType
			path      string
		}{
			{core.PriceTypeSync, "sync"},
			{core.PriceTypeBatch, "batch"},
		} {
			v := entry.Get(pt.path)
			if !v.Exists() {
				continue
			}
			beta := v.Float()
			if beta <= 0 {
				slog.Warn("skipping non-positive feed price",
					"model", modelID, "price_type", pt.priceType, "beta", beta)
				continue
			}
			out = append(out, core.PriceObservation{
				ModelID:    modelID,
				PriceType:  pt.priceType,
				Beta:       beta,
				ObservedAt: observedAt,
				Source:     source,
			})
		}
		return true
	})

	return out
}

func parseTime(v gjson.Result, fallback time.Time) time.Time {
	if !v.Exists() {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, v.String())
	if err != nil {
		return fallback
	}
	return t
}
