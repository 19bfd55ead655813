package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// httpRequestBody is the {query, variables} envelope POSTed to the
// server.
type httpRequestBody struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// httpResponseBody is the {data, errors} envelope decoded back.
type httpResponseBody struct {
	Data   map[string]interface{} `json:"data"`
	Errors []httpResponseError    `json:"errors"`
}

type httpResponseError struct {
	Message string `json:"message"`
}

func (e httpResponseError) Error() string { return e.Message }

// NewHTTP builds an HttpFunc that POSTs a {query, variables} envelope
// to url and decodes a {data, errors} envelope back.
func NewHTTP(client *http.Client, url string) HttpFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, hctx HttpContext) Result {
		body, err := json.Marshal(httpRequestBody{Query: hctx.Query, Variables: hctx.Variables})
		if err != nil {
			return Result{Error: fmt.Errorf("transport: encoding request: %w", err)}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return Result{Error: fmt.Errorf("transport: building request: %w", err)}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return Result{Error: fmt.Errorf("transport: request failed: %w", err)}
		}
		defer resp.Body.Close()

		var decoded httpResponseBody
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return Result{Error: fmt.Errorf("transport: decoding response: %w", err)}
		}
		if len(decoded.Errors) > 0 {
			return Result{Data: decoded.Data, Error: decoded.Errors[0]}
		}
		return Result{Data: decoded.Data}
	}
}
