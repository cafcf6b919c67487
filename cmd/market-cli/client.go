package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nftmarket/core/types"
)

const apiTimeout = 15 * time.Second

type apiError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *apiError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s (%d): %s [request %s]", e.Code, e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

var (
	apiCall    = callAPI
	httpClient = &http.Client{Timeout: apiTimeout}
)

// callAPI performs a request against the node's HTTP API. Non-2xx responses
// are decoded into an *apiError.
func callAPI(method, path string, body any) (json.RawMessage, *apiError, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	url := strings.TrimRight(rpcEndpoint, "/") + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var envelope struct {
			Error *apiError `json:"error"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == nil {
			return nil, &apiError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(raw))}, nil
		}
		envelope.Error.Status = resp.StatusCode
		return nil, envelope.Error, nil
	}
	return json.RawMessage(raw), nil, nil
}

// fetch calls the API and decodes a successful response into out.
func fetch(method, path string, body, out any) error {
	result, apiErr, err := apiCall(method, path, body)
	if err != nil {
		return err
	}
	if apiErr != nil {
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type receiptResponse struct {
	Hash        string        `json:"hash"`
	Program     string        `json:"program"`
	Instruction string        `json:"instruction"`
	Events      []types.Event `json:"events"`
	CommittedAt int64         `json:"committedAt"`
}

func submitTransaction(tx *types.Transaction) (*receiptResponse, error) {
	var receipt receiptResponse
	if err := fetch(http.MethodPost, "/v1/transactions", tx, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func printJSON(w io.Writer, v any) int {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return printError(w, err.Error())
	}
	fmt.Fprintln(w, string(encoded))
	return 0
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}
