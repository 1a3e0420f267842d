package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/civicmesh/enroll/internal/sheets"

// HTTPClient talks to a Sheets-style values REST API.
type HTTPClient struct {
	baseURL       string
	spreadsheetID string
	tokens        TokenSource
	client        *http.Client
	tracer        trace.Tracer
}

// NewHTTPClient creates a client for one spreadsheet document.
func NewHTTPClient(baseURL, spreadsheetID string, tokens TokenSource) *HTTPClient {
	return &HTTPClient{
		baseURL:       baseURL,
		spreadsheetID: spreadsheetID,
		tokens:        tokens,
		client:        &http.Client{Timeout: 30 * time.Second},
		tracer:        otel.Tracer(tracerName),
	}
}

// Read implements Client.
func (c *HTTPClient) Read(ctx context.Context, sheet, rng string) (rows [][]string, err error) {
	ctx, span := c.startSpan(ctx, "sheets.read", sheet)
	defer func() { endSpan(span, err) }()

	var payload struct {
		Values [][]string `json:"values"`
	}
	if err := c.do(ctx, http.MethodGet, c.valuesURL(sheet, rng, ""), nil, &payload); err != nil {
		return nil, err
	}
	return payload.Values, nil
}

// Append implements Client.
func (c *HTTPClient) Append(ctx context.Context, sheet string, row []string) (err error) {
	ctx, span := c.startSpan(ctx, "sheets.append", sheet)
	defer func() { endSpan(span, err) }()

	body := map[string]any{"values": [][]string{row}}
	return c.do(ctx, http.MethodPost, c.valuesURL(sheet, "", ":append")+"?valueInputOption=RAW", body, nil)
}

// Update implements Client.
func (c *HTTPClient) Update(ctx context.Context, sheet, rng string, row []string) (err error) {
	ctx, span := c.startSpan(ctx, "sheets.update", sheet)
	defer func() { endSpan(span, err) }()

	body := map[string]any{"values": [][]string{row}}
	return c.do(ctx, http.MethodPut, c.valuesURL(sheet, rng, "")+"?valueInputOption=RAW", body, nil)
}

// BatchUpdate implements Client.
func (c *HTTPClient) BatchUpdate(ctx context.Context, sheet string, updates []CellUpdate) (err error) {
	ctx, span := c.startSpan(ctx, "sheets.batch_update", sheet)
	defer func() { endSpan(span, err) }()

	data := make([]map[string]any, 0, len(updates))
	for _, u := range updates {
		data = append(data, map[string]any{
			"range":  fmt.Sprintf("%s!%s", sheet, u.Range),
			"values": [][]string{u.Values},
		})
	}
	body := map[string]any{
		"valueInputOption": "RAW",
		"data":             data,
	}
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values:batchUpdate", c.baseURL, c.spreadsheetID)
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// valuesURL builds the values endpoint for a sheet range. The verb suffix
// (":append") is glued to the range path segment, matching the remote API.
func (c *HTTPClient) valuesURL(sheet, rng, verb string) string {
	ref := sheet
	if rng != "" {
		ref = fmt.Sprintf("%s!%s", sheet, rng)
	}
	return fmt.Sprintf("%s/spreadsheets/%s/values/%s%s", c.baseURL, c.spreadsheetID, url.PathEscape(ref), verb)
}

// do executes one authenticated JSON round-trip.
func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &RemoteError{Op: method + " " + endpoint, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{Op: method + " " + endpoint, StatusCode: resp.StatusCode}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) startSpan(ctx context.Context, name, sheet string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("sheet", sheet),
		attribute.String("spreadsheet_id", c.spreadsheetID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	span.End()
}
