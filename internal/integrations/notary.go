package integrations

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/domain"
)

const defaultNotaryStream = "symptom-intake:ledger"

// StreamAdder is the subset of redis.Cmdable the notary needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Notary appends a SHA-256 digest of every report to a Redis stream so a
// stored report can later be checked for tampering.
type Notary struct {
	client StreamAdder
	stream string
	maxLen int64
	logger *logrus.Logger
}

// NewNotary builds a notary on client. A nil client disables it.
func NewNotary(client StreamAdder, cfg domain.NotaryConfig, logger *logrus.Logger) *Notary {
	stream := cfg.Stream
	if stream == "" {
		stream = defaultNotaryStream
	}
	return &Notary{client: client, stream: stream, maxLen: cfg.MaxLen, logger: logger}
}

func (n *Notary) Name() string  { return "notary" }
func (n *Notary) Enabled() bool { return n != nil && n.client != nil }

// Digest hashes the JSON encoding of r.
func Digest(r *domain.Report) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Publish appends the digest of r to the ledger stream.
func (n *Notary) Publish(ctx context.Context, r *domain.Report) error {
	digest, err := Digest(r)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]interface{}{
			"report_id":   r.ID,
			"fingerprint": r.Fingerprint,
			"sha256":      digest,
			"created_at":  r.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}
	entryID, err := n.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("appending to %s: %w", n.stream, err)
	}
	n.logger.WithFields(logrus.Fields{
		"report_id": r.ID,
		"stream":    n.stream,
		"entry_id":  entryID,
	}).Debug("Report digest recorded")
	return nil
}
