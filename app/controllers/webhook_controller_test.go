package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gatewayevents"
)

type stubInbox struct {
	receiveErr error
	processErr error
	outcome    gatewayevents.Outcome
	payload    []byte
	processed  []uint
}

func (s *stubInbox) Receive(ctx context.Context, payload []byte, signatureHeader string) (*models.PaymentGatewayEvent, error) {
	s.payload = payload
	if s.receiveErr != nil {
		return nil, s.receiveErr
	}
	return &models.PaymentGatewayEvent{ID: 42}, nil
}

func (s *stubInbox) Process(ctx context.Context, id uint) (gatewayevents.Outcome, error) {
	s.processed = append(s.processed, id)
	return s.outcome, s.processErr
}

func (s *stubInbox) Replay(ctx context.Context, id uint) (gatewayevents.Outcome, error) {
	return s.outcome, s.processErr
}

func (s *stubInbox) Repository() gatewayevents.Repository { return nil }

func postWebhook(t *testing.T, inbox *stubInbox, body string) (int, map[string]interface{}) {
	t.Helper()
	app := fiber.New()
	app.Post("/webhooks/stripe", NewWebhookController(inbox).HandleStripeWebhook)

	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "v1=abc")
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func TestHandleStripeWebhook(t *testing.T) {
	tests := []struct {
		name        string
		inbox       *stubInbox
		wantStatus  int
		wantOutcome string
		wantProcess bool
	}{
		{
			name:        "processed",
			inbox:       &stubInbox{outcome: gatewayevents.OutcomeProcessed},
			wantStatus:  fiber.StatusOK,
			wantOutcome: "processed",
			wantProcess: true,
		},
		{
			name:       "invalid signature",
			inbox:      &stubInbox{receiveErr: fmt.Errorf("verify: %w", gateway.ErrInvalidSignature)},
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "malformed event",
			inbox:      &stubInbox{receiveErr: gateway.ErrMalformedEvent},
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "store failure is not acknowledged",
			inbox:      &stubInbox{receiveErr: errors.New("db down")},
			wantStatus: fiber.StatusInternalServerError,
		},
		{
			name:        "process failure after store is acknowledged",
			inbox:       &stubInbox{processErr: errors.New("mark failed: db down")},
			wantStatus:  fiber.StatusOK,
			wantOutcome: "failed",
			wantProcess: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := postWebhook(t, tt.inbox, `{"id":"evt_1"}`)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, `{"id":"evt_1"}`, string(tt.inbox.payload))
			if tt.wantProcess {
				assert.Equal(t, []uint{42}, tt.inbox.processed)
				assert.Equal(t, tt.wantOutcome, body["outcome"])
				assert.Equal(t, float64(42), body["event_id"])
			} else {
				assert.Empty(t, tt.inbox.processed)
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestPagination(t *testing.T) {
	tests := []struct {
		query      string
		wantOffset int
		wantLimit  int
	}{
		{"", 0, defaultPageLimit},
		{"?limit=10&offset=20", 20, 10},
		{"?limit=0", 0, defaultPageLimit},
		{"?limit=9999", 0, maxPageLimit},
		{"?offset=-5", 0, defaultPageLimit},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				offset, limit := pagination(c)
				return c.JSON(fiber.Map{"offset": offset, "limit": limit})
			})
			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/"+tt.query, nil))
			require.NoError(t, err)
			var out struct{ Offset, Limit int }
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, tt.wantOffset, out.Offset)
			assert.Equal(t, tt.wantLimit, out.Limit)
		})
	}
}
