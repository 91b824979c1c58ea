package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/marketd/internal/domain"
)

// memBlobs is an in-memory BlobWriter/BlobReader pair.
type memBlobs struct {
	objects map[string][]byte
	puts    int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path, b := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(_ context.Context, _ string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testMarket() (domain.Market, domain.MarketState, []domain.Bet) {
	m := domain.Market{
		ID:         42,
		Question:   "Will it rain tomorrow?",
		Status:     domain.MarketStatusResolved,
		Resolution: domain.SideYes,
	}
	st := domain.MarketState{MarketID: 42, QYes: 12000, QNo: 10000, Seq: 3}
	bets := []domain.Bet{
		{ID: "bet-1", MarketID: 42, Wallet: "0xaaa", Side: domain.SideYes, Amount: 100, Shares: 190},
		{ID: "bet-2", MarketID: 42, Wallet: "0xbbb", Side: domain.SideNo, Amount: 50, Shares: 95},
	}
	return m, st, bets
}

func TestArchiveMarketWritesJSONL(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	arch := NewMarketArchiver(blobs, blobs, audit)

	m, st, bets := testMarket()
	path, err := arch.ArchiveMarket(context.Background(), m, st, bets)
	require.NoError(t, err)
	assert.Equal(t, "archive/markets/42.jsonl", path)

	rc, err := blobs.Get(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	require.True(t, scanner.Scan())

	var header marketHeader
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &header))
	assert.Equal(t, m.ID, header.Market.ID)
	assert.Equal(t, st.QYes, header.State.QYes)
	assert.Equal(t, 2, header.BetCount)
	assert.WithinDuration(t, time.Now(), header.ArchivedAt, time.Minute)

	var lines int
	for scanner.Scan() {
		var b domain.Bet
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &b))
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)

	assert.Equal(t, []string{"archive.market"}, audit.events)
}

func TestArchiveMarketIdempotent(t *testing.T) {
	blobs := newMemBlobs()
	arch := NewMarketArchiver(blobs, blobs, nil)

	m, st, bets := testMarket()
	ctx := context.Background()

	first, err := arch.ArchiveMarket(ctx, m, st, bets)
	require.NoError(t, err)

	// A second run finds the object and leaves it untouched.
	second, err := arch.ArchiveMarket(ctx, m, st, bets)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, blobs.puts)
}

func TestListArchives(t *testing.T) {
	blobs := newMemBlobs()
	arch := NewMarketArchiver(blobs, blobs, nil)

	m, st, bets := testMarket()
	_, err := arch.ArchiveMarket(context.Background(), m, st, bets)
	require.NoError(t, err)

	infos, err := arch.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "archive/markets/42.jsonl", infos[0].Path)

	// Without a reader listing is a no-op.
	writeOnly := NewMarketArchiver(blobs, nil, nil)
	infos, err = writeOnly.ListArchives(context.Background())
	require.NoError(t, err)
	assert.Nil(t, infos)
}
