package gsc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/0xFlo/prism-sub006/internal/metrics"
)

// BatchTransport bundles many logical sub-requests into one
// multipart/mixed HTTP call against the batch endpoint and
// demultiplexes the per-sub-request responses.
//
// Retry policy: a transport-level failure, an outer or per-part 429, or
// a 5xx retries the whole batch with exponential backoff (base delay
// doubling per attempt, capped). A 401 triggers one synchronous
// credential refresh and an immediate retry. Terminal 4xx responses are
// attributed to their sub-request and never retried. Retry exhaustion
// yields a typed error per still-unsettled sub-request; Send itself
// only errors on context cancellation or a request that cannot be built.
type BatchTransport struct {
	client      *Client
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewBatchTransport creates a batch transport over an API client.
func NewBatchTransport(client *Client, maxAttempts int, baseDelay time.Duration, logger *slog.Logger) *BatchTransport {
	return &BatchTransport{
		client:      client,
		logger:      logger,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    time.Minute,
	}
}

// partResult is the decoded inner response of one batch part.
type partResult struct {
	statusCode int
	rows       []Row
	message    string
}

// Send submits the sub-requests as one batch call and returns one
// response per sub-request, in input order.
func (t *BatchTransport) Send(ctx context.Context, subs []SubRequest) ([]SubResponse, error) {
	settled := make(map[string]SubResponse, len(subs))
	pending := subs
	refreshed := false

	for attempt := 1; attempt <= t.maxAttempts && len(pending) > 0; attempt++ {
		parts, status, err := t.roundTrip(ctx, pending)

		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()

		case err != nil:
			// Transport-level failure: retry the whole remaining batch.
			t.logger.Warn("batch call failed", "attempt", attempt, "error", err)
			metrics.BatchRetriesTotal.WithLabelValues("transport").Inc()

		case status == http.StatusUnauthorized:
			if refreshed {
				return nil, ErrAuthRefreshFailed
			}
			if err := t.client.RefreshToken(ctx); err != nil {
				return nil, err
			}
			refreshed = true
			t.logger.Info("refreshed credentials after 401", "attempt", attempt)
			// Refresh-and-retry does not consume a backoff cycle.
			attempt--
			continue

		case retryable(status):
			t.logger.Warn("batch call rejected", "attempt", attempt, "status", status)
			metrics.BatchRetriesTotal.WithLabelValues(retryReason(status)).Inc()

		default:
			// The outer call succeeded; settle parts individually.
			var still []SubRequest
			retriedPart := false
			for _, sub := range pending {
				part, ok := parts[sub.ID]
				if !ok {
					// A missing part is treated as transient.
					still = append(still, sub)
					retriedPart = true
					continue
				}

				switch {
				case part.statusCode == http.StatusOK:
					settled[sub.ID] = SubResponse{
						ID:         sub.ID,
						StatusCode: part.statusCode,
						Rows:       part.rows,
						Attempts:   attempt,
					}
				case retryable(part.statusCode):
					still = append(still, sub)
					retriedPart = true
				default:
					// Terminal per-sub-request failure, not retried.
					settled[sub.ID] = SubResponse{
						ID:         sub.ID,
						StatusCode: part.statusCode,
						Err:        &APIError{StatusCode: part.statusCode, Message: part.message},
						Attempts:   attempt,
					}
				}
			}

			pending = still
			if retriedPart {
				metrics.BatchRetriesTotal.WithLabelValues("partial").Inc()
			}
		}

		if len(pending) > 0 && attempt < t.maxAttempts {
			if err := t.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}

	// Anything still pending ran out of attempts.
	for _, sub := range pending {
		settled[sub.ID] = SubResponse{
			ID:       sub.ID,
			Err:      ErrRetriesExhausted,
			Attempts: t.maxAttempts,
		}
	}

	responses := make([]SubResponse, len(subs))
	for i, sub := range subs {
		responses[i] = settled[sub.ID]
	}
	return responses, nil
}

// roundTrip performs one outbound batch call. Returns the decoded parts
// keyed by sub-request ID, or the outer status code when the call as a
// whole was rejected.
func (t *BatchTransport) roundTrip(ctx context.Context, subs []SubRequest) (map[string]partResult, int, error) {
	body, contentType, err := encodeBatch(subs)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.client.endpoint+DefaultBatchPath, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+t.client.token())

	resp, err := t.client.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}

	parts, err := decodeBatch(resp)
	if err != nil {
		return nil, 0, err
	}
	return parts, resp.StatusCode, nil
}

// backoff sleeps for the exponential delay of the given attempt,
// honouring context cancellation.
func (t *BatchTransport) backoff(ctx context.Context, attempt int) error {
	delay := t.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= t.maxDelay {
			delay = t.maxDelay
			break
		}
	}

	t.logger.Debug("retrying batch after backoff", "delay", delay, "next_attempt", attempt+1)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func retryReason(status int) string {
	if status == 429 {
		return "rate_limited"
	}
	return "server_error"
}

// encodeBatch builds the multipart/mixed request body. Each part is a
// nested application/http request carrying one searchAnalytics query,
// identified by its Content-ID.
func encodeBatch(subs []SubRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, sub := range subs {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "application/http")
		header.Set("Content-Transfer-Encoding", "binary")
		header.Set("Content-ID", "<"+sub.ID+">")

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}

		payload, err := json.Marshal(searchAnalyticsRequest{
			StartDate:  sub.Date,
			EndDate:    sub.Date,
			Dimensions: sub.Dimensions,
			RowLimit:   PageSize,
			StartRow:   sub.StartRow,
		})
		if err != nil {
			return nil, "", err
		}

		fmt.Fprintf(part, "POST %s HTTP/1.1\r\n", queryPath(sub.Site))
		fmt.Fprintf(part, "Content-Type: application/json\r\n")
		fmt.Fprintf(part, "Content-Length: %d\r\n\r\n", len(payload))
		part.Write(payload)
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + w.Boundary(), nil
}

// decodeBatch parses a multipart/mixed batch response into per-part
// results keyed by the sub-request ID from each part's Content-ID.
func decodeBatch(resp *http.Response) (map[string]partResult, error) {
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("parsing batch content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("unexpected batch content type %q", mediaType)
	}

	results := make(map[string]partResult)
	reader := multipart.NewReader(resp.Body, params["boundary"])

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading batch part: %w", err)
		}

		id := parseContentID(part.Header.Get("Content-ID"))
		if id == "" {
			part.Close()
			continue
		}

		inner, err := http.ReadResponse(bufio.NewReader(part), nil)
		if err != nil {
			part.Close()
			return nil, fmt.Errorf("reading part response %q: %w", id, err)
		}

		result := partResult{statusCode: inner.StatusCode}
		if inner.StatusCode == http.StatusOK {
			var decoded searchAnalyticsResponse
			if err := json.NewDecoder(inner.Body).Decode(&decoded); err != nil {
				inner.Body.Close()
				part.Close()
				return nil, fmt.Errorf("decoding part body %q: %w", id, err)
			}
			result.rows = decoded.Rows
		} else {
			msg, _ := io.ReadAll(io.LimitReader(inner.Body, 4096))
			result.message = string(msg)
		}
		inner.Body.Close()
		part.Close()

		results[id] = result
	}

	return results, nil
}

// parseContentID strips the angle brackets and optional "response-"
// prefix the batch endpoint adds to response part IDs.
func parseContentID(raw string) string {
	id := strings.TrimSuffix(strings.TrimPrefix(raw, "<"), ">")
	return strings.TrimPrefix(id, "response-")
}
