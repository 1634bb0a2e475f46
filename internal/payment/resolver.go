package payment

import (
	"context"
	"fmt"
	"net/url"

	"staybook/internal/models"
	"staybook/internal/upstream"
)

// HTTPSessionResolver looks checkout sessions up at the payment processor.
type HTTPSessionResolver struct {
	client *upstream.Client
}

func NewHTTPSessionResolver(client *upstream.Client) *HTTPSessionResolver {
	return &HTTPSessionResolver{client: client}
}

func (r *HTTPSessionResolver) Resolve(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	var session models.PaymentSession
	if err := r.client.GetJSON(ctx, "/sessions/"+url.PathEscape(sessionID), &session); err != nil {
		return nil, fmt.Errorf("resolve session %s: %w", sessionID, err)
	}
	if session.ID == "" {
		session.ID = sessionID
	}
	return &session, nil
}
