package s3blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func TestArchiver_RoundTrip(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs)
	ctx := context.Background()

	settled := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	m := domain.Market{ID: "0xabc", Question: "q?", Authority: "0xauth", State: domain.MarketStateSettled, UpdatedAt: settled}
	s := domain.Settlement{
		MarketID:    m.ID,
		ResultHash:  domain.Hash{7},
		ResultBytes: []byte{1, 2, 3},
		Signature:   bytes.Repeat([]byte{9}, 65),
		Payouts:     []domain.Payout{{Recipient: "alice", Amount: 10}},
		Cursor:      1,
		CreatedAt:   settled.Add(-time.Minute),
	}
	require.NoError(t, a.Archive(ctx, m, s))

	ok, err := blobs.Exists(ctx, "attestations/0xabc.json")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := a.Fetch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ResultHash, got.ResultHash)
	assert.Equal(t, s.ResultBytes, got.ResultBytes)
	assert.Equal(t, s.Signature, got.Signature)
	assert.Equal(t, s.Payouts, got.Payouts)
	assert.True(t, settled.Equal(got.UpdatedAt))

	ids, err := a.Archived(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xabc"}, ids)

	_, err = a.Fetch(ctx, "0xmissing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClientKeyPrefix(t *testing.T) {
	c := &Client{prefix: normalisePrefix("/prod/archive/")}
	assert.Equal(t, "prod/archive/attestations/x.json", c.Key("/attestations/x.json"))
	assert.Equal(t, "a", (&Client{}).Key("a"))

	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
