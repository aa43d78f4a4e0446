/*******************************************************************************
* Copyright (C) 2026 the Eclipse BaSyx Authors and Fraunhofer IESE
*
* Permission is hereby granted, free of charge, to any person obtaining
* a copy of this software and associated documentation files (the
* "Software"), to deal in the Software without restriction, including
* without limitation the rights to use, copy, modify, merge, publish,
* distribute, sublicense, and/or sell copies of the Software, and to
* permit persons to whom the Software is furnished to do so, subject to
* the following conditions:
*
* The above copyright notice and this permission notice shall be
* included in all copies or substantial portions of the Software.
*
* THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
* EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
* MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND
* NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE
* LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION
* OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION
* WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*
* SPDX-License-Identifier: MIT
******************************************************************************/

// Package repository implements the write-back half of the bidirectional
// sync path (spec.md §4.6.6): issuing a value update to a BaSyx Submodel
// Repository and retrying transport failures with bounded backoff.
package repository

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
)

// Writer issues a value write to the asset administration shell backing
// a published leaf. Implementations must be safe for concurrent use.
type Writer interface {
	WriteValue(ctx context.Context, submodelID string, path []string, value any) error
}

// HTTPWriter writes through the BaSyx Submodel Repository HTTP API:
// PATCH .../submodels/{base64(submodelId)}/submodel-elements/{idShortPath}/$value.
type HTTPWriter struct {
	baseURL string
	client  *http.Client
	retries int
	wait    time.Duration
}

// NewHTTPWriter builds an HTTPWriter from the repository configuration
// group.
func NewHTTPWriter(cfg config.RepositoryConfig) *HTTPWriter {
	return &HTTPWriter{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.CallTimeout},
		retries: cfg.WriteRetries,
		wait:    cfg.WriteRetryWait,
	}
}

// WriteValue PATCHes value to the submodel element at path, retrying
// transport failures (connection errors and 5xx responses) with bounded
// exponential backoff. A 4xx response is not retried: it indicates the
// write itself is invalid, not a transient failure.
func (w *HTTPWriter) WriteValue(ctx context.Context, submodelID string, path []string, value any) error {
	url := w.elementURL(submodelID, path)

	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling value for %s: %w", url, err)
	}

	policy := backoff.WithContext(w.backoffPolicy(), ctx)
	return backoff.Retry(func() error {
		err := w.doPatch(ctx, url, body)
		if err == nil {
			return nil
		}
		if perr, ok := err.(*permanentWriteError); ok {
			return backoff.Permanent(perr.cause)
		}
		return err
	}, policy)
}

type permanentWriteError struct{ cause error }

func (e *permanentWriteError) Error() string { return e.cause.Error() }

func (w *HTTPWriter) doPatch(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return &permanentWriteError{cause: fmt.Errorf("building request for %s: %w", url, err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("writing %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("writing %s: server error %d", url, resp.StatusCode)
	default:
		return &permanentWriteError{cause: fmt.Errorf("writing %s: rejected with status %d", url, resp.StatusCode)}
	}
}

func (w *HTTPWriter) backoffPolicy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.wait
	policy := backoff.BackOff(eb)
	if w.retries > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(w.retries))
	}
	return policy
}

// elementURL composes the BaSyx submodel-element value endpoint for a
// dot-free idShort path.
func (w *HTTPWriter) elementURL(submodelID string, path []string) string {
	encodedSubmodel := base64.RawURLEncoding.EncodeToString([]byte(submodelID))
	idShortPath := strings.Join(path, ".")
	return fmt.Sprintf("%s/submodels/%s/submodel-elements/%s/$value", w.baseURL, encodedSubmodel, idShortPath)
}
