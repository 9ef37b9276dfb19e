package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"go-citizenlink/types"
)

// FirestoreSource reads complaints from a Firestore collection.
type FirestoreSource struct {
	client     *firestore.Client
	collection string
	lookback   time.Duration // 0 reads every complaint
	logger     *slog.Logger
}

func NewFirestoreSource(client *firestore.Client, collection string, lookback time.Duration, logger *slog.Logger) *FirestoreSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FirestoreSource{client: client, collection: collection, lookback: lookback, logger: logger}
}

func (s *FirestoreSource) ListActiveComplaints(ctx context.Context) ([]types.Complaint, error) {
	q := s.client.Collection(s.collection).Query
	if s.lookback > 0 {
		q = q.Where("submittedAt", ">=", time.Now().Add(-s.lookback))
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []types.Complaint
	skipped := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.collection, err)
		}

		var c types.Complaint
		if err := doc.DataTo(&c); err != nil {
			s.logger.Warn("skipping malformed complaint", "id", doc.Ref.ID, "error", err)
			skipped++
			continue
		}
		c.ID = doc.Ref.ID
		if !isActive(c.Status) {
			continue
		}
		out = append(out, c)
	}

	s.logger.Debug("complaints listed", "collection", s.collection, "count", len(out), "malformed", skipped)
	return out, nil
}
