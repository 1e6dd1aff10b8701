// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/relabs-tech/sensorhub/core/access"
	"github.com/relabs-tech/sensorhub/core/client"
	"github.com/relabs-tech/sensorhub/core/logger"
	"github.com/relabs-tech/sensorhub/sensor"
)

// Forwarder posts readings to the HTTP API
type Forwarder struct {
	client  client.Client
	retries uint64
	delay   time.Duration
	issuer  *access.IngestTokenIssuer
}

// ForwarderBuilder is a helper struct to build a forwarder.
type ForwarderBuilder struct {
	// APIURL is the base URL of the API, mandatory
	APIURL string
	// Timeout of a single request. Defaults to 10s.
	Timeout time.Duration
	// Retries is the number of retries after a failed attempt
	Retries uint64
	// RetryDelay is the constant delay between attempts. Defaults to 1s.
	RetryDelay time.Duration
	// IngestSecret signs bearer tokens if set
	IngestSecret []byte
	// ClientID is the subject of the bearer tokens
	ClientID string
}

// NewForwarder creates a forwarder
func NewForwarder(fb *ForwarderBuilder) *Forwarder {
	if fb.APIURL == "" {
		panic("api url missing")
	}
	timeout := fb.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	delay := fb.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	f := &Forwarder{
		client:  client.NewWithURL(fb.APIURL).WithTimeout(timeout),
		retries: fb.Retries,
		delay:   delay,
	}
	if len(fb.IngestSecret) > 0 {
		f.issuer = &access.IngestTokenIssuer{Secret: fb.IngestSecret, Subject: fb.ClientID}
	}
	return f
}

type postBody struct {
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
	DeviceID  string  `json:"device_id,omitempty"`
}

// Post posts the reading to /api/{sensorType}. Transport errors and server errors are retried,
// client errors are not.
func (f *Forwarder) Post(ctx context.Context, reading Reading) error {
	rlog := logger.FromContext(ctx)
	body := postBody{
		Value:     reading.Value,
		Timestamp: sensor.FormatTimestamp(reading.Timestamp),
		DeviceID:  reading.DeviceID,
	}

	c := f.client.WithContext(ctx)
	if f.issuer != nil {
		token, err := f.issuer.Token()
		if err != nil {
			return err
		}
		c = c.WithToken(token)
	}

	attempt := 0
	operation := func() error {
		attempt++
		id, _, err := c.Readings(reading.Type.String()).Create(body)
		if err == nil {
			rlog.Debugf("posted %s reading with id %d", reading.Type, id)
			return nil
		}
		var statusErr *client.StatusError
		if errors.As(err, &statusErr) && statusErr.Status < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		rlog.WithError(err).Warnf("post %s reading attempt %d failed", reading.Type, attempt)
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(f.delay), f.retries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return fmt.Errorf("post %s reading after %d attempts: %w", reading.Type, attempt, err)
	}
	return nil
}
