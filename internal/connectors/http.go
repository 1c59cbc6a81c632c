package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HTTPTicketSystem — адаптер к вендорской тикет-системе поверх REST.
// Схема минимальна: POST /tickets и GET /tickets/{ref}; все, что вендор
// добавляет сверх трехзначного статуса, игнорируется.
type HTTPTicketSystem struct {
	baseURL string
	client  *http.Client
	apiKey  string
}

func NewHTTPTicketSystem(baseURL, apiKey string) *HTTPTicketSystem {
	return &HTTPTicketSystem{
		baseURL: baseURL,
		apiKey:  apiKey,
		// Защитный предел адаптера поверх таймаутов ReliableTicketSystem
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type createTicketRequest struct {
	EscalationID string            `json:"escalation_id"`
	Summary      string            `json:"summary"`
	Details      map[string]string `json:"details,omitempty"`
}

type ticketResponse struct {
	Ref    string `json:"ref"`
	Status string `json:"status"`
}

func (t *HTTPTicketSystem) CreateTicket(ctx context.Context, escalationID, summary string, details map[string]string) (string, error) {
	body, err := json.Marshal(createTicketRequest{
		EscalationID: escalationID,
		Summary:      summary,
		Details:      details,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ticket request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/tickets", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ticket system call failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out ticketResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode ticket response: %w", err)
	}
	if out.Ref == "" {
		return "", fmt.Errorf("ticket system returned empty ref")
	}
	return out.Ref, nil
}

func (t *HTTPTicketSystem) PollStatus(ctx context.Context, ticketRef string) (TicketStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/tickets/"+ticketRef, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ticket system call failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out ticketResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode ticket response: %w", err)
	}

	switch TicketStatus(out.Status) {
	case TicketPending, TicketApproved, TicketDenied:
		return TicketStatus(out.Status), nil
	default:
		return "", fmt.Errorf("ticket system returned unknown status %q", out.Status)
	}
}

// checkStatus транслирует HTTP-коды в ошибки ядра; 429 с Retry-After
// конвертируется в ThrottleError для умного бэкоффа в обвязке
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 5 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &ThrottleError{
			RetryAfter: retryAfter,
			Cause:      fmt.Errorf("ticket system rate limited"),
		}
	}
	return fmt.Errorf("ticket system returned status %d", resp.StatusCode)
}
