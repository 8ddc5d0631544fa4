/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webnotifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

const webhookRetries = 2

// HTTPNotifier posts topic messages to webhook subscribers.
type HTTPNotifier struct {
	urls   []string
	client *http.Client
}

// NewHTTPNotifier returns a new instance of an HTTPNotifier.
func NewHTTPNotifier(webhookURLs []string) *HTTPNotifier {
	return &HTTPNotifier{urls: webhookURLs, client: &http.Client{Timeout: notificationSendTimeout}}
}

// Notify posts the topic message to every webhook URL, retrying each a few times. Subscribers that still fail are
// reported together.
func (n *HTTPNotifier) Notify(topic string, message []byte) error {
	if err := validate(topic, message); err != nil {
		return err
	}

	topicMsg, err := PrepareTopicMessage(topic, message)
	if err != nil {
		return fmt.Errorf(failedToCreateErrMsg, err)
	}

	var errs []error

	for _, webhookURL := range n.urls {
		post := func() error {
			return n.post(webhookURL, topicMsg)
		}

		if err := backoff.Retry(post, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), webhookRetries)); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (n *HTTPNotifier) post(destination string, message []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), notificationSendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(message))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create webhook request for %s: %w", destination, err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification to %s: %w", destination, err)
	}

	defer closeResponse(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated ||
		resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		logger.Debugf("notification sent to %s", destination)

		return nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("webhook %s answered %s", destination, resp.Status)
	default:
		return backoff.Permanent(fmt.Errorf("webhook %s rejected notification: %s", destination, resp.Status))
	}
}

func closeResponse(c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Errorf("failed to close webhook response body: %s", err)
	}
}
