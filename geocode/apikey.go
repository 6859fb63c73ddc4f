// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"errors"
	"fmt"

	apikeys "cloud.google.com/go/apikeys/apiv2"
	"cloud.google.com/go/apikeys/apiv2/apikeyspb"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
)

// AssistantKeyDisplayName is the display name of the Cloud API key used for
// the assistant.
const AssistantKeyDisplayName = "Senda Gemini Key"

// AssistantKeyFromADC retrieves the assistant API key through Application
// Default Credentials, looking it up by display name in the credentials'
// project (or fallbackProject when the credentials carry none).
func AssistantKeyFromADC(ctx context.Context, fallbackProject string, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return "", fmt.Errorf("finding default credentials: %w", err)
	}

	projectID := creds.ProjectID
	if projectID == "" {
		// user credentials without a quota project carry no project id
		if fallbackProject == "" {
			return "", errors.New("no project id in default credentials")
		}

		projectID = fallbackProject
		logger.Warn("no project id found in credentials, using fallback", zap.String("project", projectID))
	}

	client, err := apikeys.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("creating apikeys client: %w", err)
	}
	defer client.Close()

	it := client.ListKeys(ctx, &apikeyspb.ListKeysRequest{
		Parent: fmt.Sprintf("projects/%s/locations/global", projectID),
	})

	for {
		key, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}

		if err != nil {
			return "", fmt.Errorf("listing keys: %w", err)
		}

		if key.DisplayName != AssistantKeyDisplayName {
			continue
		}

		// ListKeys redacts the secret, GetKeyString returns it.
		logger.Info("found assistant key resource, retrieving secret", zap.String("key", key.Name))

		resp, err := client.GetKeyString(ctx, &apikeyspb.GetKeyStringRequest{Name: key.Name})
		if err != nil {
			return "", fmt.Errorf("getting key string: %w", err)
		}

		if resp.KeyString == "" {
			return "", fmt.Errorf("key '%s' found but its key string is empty", AssistantKeyDisplayName)
		}

		return resp.KeyString, nil
	}

	return "", fmt.Errorf("key with display name '%s' not found in project %s", AssistantKeyDisplayName, projectID)
}
