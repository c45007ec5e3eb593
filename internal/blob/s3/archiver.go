package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// maxArchiveSize bounds how much of an archive object Fetch will read.
const maxArchiveSize = 8 << 20

// archiveRecord is the JSON document kept per settled market. It carries
// everything needed to re-verify the attestation offline.
type archiveRecord struct {
	MarketID    string          `json:"market_id"`
	Question    string          `json:"question"`
	Authority   string          `json:"authority"`
	Escrow      string          `json:"escrow"`
	ResultHash  domain.Hash     `json:"result_hash"`
	ResultBytes []byte          `json:"result_bytes"`
	Signature   []byte          `json:"signature"`
	Payouts     []domain.Payout `json:"payouts"`
	Cursor      int             `json:"cursor"`
	Attempts    int             `json:"attempts"`
	StartedAt   time.Time       `json:"started_at"`
	SettledAt   time.Time       `json:"settled_at"`
}

// Archiver implements domain.AttestationArchiver on top of any blob
// reader/writer pair, normally the S3 Reader and Writer.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader) *Archiver {
	return &Archiver{writer: writer, reader: reader}
}

// Archive uploads the settlement of a settled market to
// attestations/<market id>.json.
func (a *Archiver) Archive(ctx context.Context, m domain.Market, s domain.Settlement) error {
	rec := archiveRecord{
		MarketID:    m.ID,
		Question:    m.Question,
		Authority:   m.Authority,
		Escrow:      m.Escrow,
		ResultHash:  s.ResultHash,
		ResultBytes: s.ResultBytes,
		Signature:   s.Signature,
		Payouts:     s.Payouts,
		Cursor:      s.Cursor,
		Attempts:    s.Attempts,
		StartedAt:   s.CreatedAt,
		SettledAt:   m.UpdatedAt,
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("s3blob: marshal attestation %s: %w", m.ID, err)
	}
	path := attestationPath(m.ID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive attestation %s: %w", m.ID, err)
	}
	return nil
}

// Fetch reads back an archived settlement. It returns domain.ErrNotFound
// when nothing was archived for marketID.
func (a *Archiver) Fetch(ctx context.Context, marketID string) (domain.Settlement, error) {
	body, err := a.reader.Get(ctx, attestationPath(marketID))
	if err != nil {
		return domain.Settlement{}, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxArchiveSize))
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("s3blob: read attestation %s: %w", marketID, err)
	}
	var rec archiveRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Settlement{}, fmt.Errorf("s3blob: decode attestation %s: %w", marketID, err)
	}
	return domain.Settlement{
		MarketID:    rec.MarketID,
		ResultHash:  rec.ResultHash,
		ResultBytes: rec.ResultBytes,
		Signature:   rec.Signature,
		Payouts:     rec.Payouts,
		Cursor:      rec.Cursor,
		Attempts:    rec.Attempts,
		CreatedAt:   rec.StartedAt,
		UpdatedAt:   rec.SettledAt,
	}, nil
}

// Archived lists the market IDs with an archived attestation.
func (a *Archiver) Archived(ctx context.Context) ([]string, error) {
	infos, err := a.reader.List(ctx, attestationDir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		name, ok := strings.CutPrefix(info.Path, attestationDir)
		if !ok {
			continue
		}
		if id, ok := strings.CutSuffix(name, ".json"); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

const attestationDir = "attestations/"

func attestationPath(marketID string) string {
	return attestationDir + marketID + ".json"
}

var _ domain.AttestationArchiver = (*Archiver)(nil)
