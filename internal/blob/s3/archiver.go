package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openpredict/marketd/internal/domain"
)

// MarketArchiver uploads a resolved market's final record to object
// storage as JSONL: one header line with the market and its terminal
// curve state, then one line per bet. Deletion of the archived rows from
// the primary store is intentionally NOT performed here; that is a
// separate, explicit step to be executed after the archive has been
// verified.
type MarketArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewMarketArchiver creates a MarketArchiver. The reader and audit store
// are optional; without a reader re-archiving overwrites the prior
// object, and without an audit store uploads are not recorded.
func NewMarketArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *MarketArchiver {
	return &MarketArchiver{
		writer: writer,
		reader: reader,
		audit:  audit,
	}
}

// marketHeader is the first JSONL line of an archive file.
type marketHeader struct {
	Market     domain.Market      `json:"market"`
	State      domain.MarketState `json:"state"`
	BetCount   int                `json:"bet_count"`
	ArchivedAt time.Time          `json:"archived_at"`
}

// ArchiveMarket serializes the market, its final curve state and all of
// its bets to JSONL and uploads the file to archive/markets/<id>.jsonl.
// The upload is idempotent: if the object already exists it is left
// untouched. Returns the object path.
func (a *MarketArchiver) ArchiveMarket(ctx context.Context, m domain.Market, st domain.MarketState, bets []domain.Bet) (string, error) {
	path := MarketArchivePath(m.ID)

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive market %d: %w", m.ID, err)
		}
		if exists {
			return path, nil
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	header := marketHeader{
		Market:     m,
		State:      st,
		BetCount:   len(bets),
		ArchivedAt: time.Now().UTC(),
	}
	if err := enc.Encode(header); err != nil {
		return "", fmt.Errorf("s3blob: archive market %d: encode header: %w", m.ID, err)
	}
	for i, b := range bets {
		if err := enc.Encode(b); err != nil {
			return "", fmt.Errorf("s3blob: archive market %d: encode bet %d: %w", m.ID, i, err)
		}
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive market %d: upload: %w", m.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.market", map[string]any{
			"path":      path,
			"market_id": m.ID,
			"bet_count": len(bets),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive market %d: audit log: %w", m.ID, err)
		}
	}

	return path, nil
}

// ListArchives returns the stored archive objects under the market
// archive prefix.
func (a *MarketArchiver) ListArchives(ctx context.Context) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, nil
	}
	infos, err := a.reader.List(ctx, "archive/markets/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	return infos, nil
}

// MarketArchivePath builds the object key for a market's archive file.
//
//	archive/markets/42.jsonl
func MarketArchivePath(marketID int64) string {
	return fmt.Sprintf("archive/markets/%d.jsonl", marketID)
}
