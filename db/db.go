// Package db holds the complaint sources the clustering pipeline reads from.
package db

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/option"
)

// InitFirestore builds a Firestore client from base64 encoded service
// account credentials. The caller owns the client and closes it.
func InitFirestore(ctx context.Context, encodedCreds string) (*firestore.Client, error) {
	creds, err := base64.StdEncoding.DecodeString(encodedCreds)
	if err != nil {
		return nil, fmt.Errorf("decode firestore credentials: %w", err)
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsJSON(creds))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("get firestore client: %w", err)
	}
	return client, nil
}

// closed statuses are never clustered
var closedStatuses = map[string]bool{
	"resolved": true,
	"closed":   true,
	"rejected": true,
	"spam":     true,
}

func isActive(status string) bool {
	return !closedStatuses[strings.ToLower(strings.TrimSpace(status))]
}
