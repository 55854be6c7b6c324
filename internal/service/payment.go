package service

import (
	"context"
	"fmt"
	"strings"

	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChargeResult reports a successful capture.
type ChargeResult struct {
	Reference string
}

// Charger is the external payment capability: a single blocking call that
// either captures the amount or fails. Callers must leave all local state
// untouched on failure.
type Charger interface {
	Charge(ctx context.Context, amountMinorUnits int64, currency, paymentToken string) (*ChargeResult, error)
}

// SimulatedGateway implements Charger for environments without a real
// payment provider. Tokens prefixed "tok_fail" are declined; everything
// else captures with a generated reference.
type SimulatedGateway struct {
	logger *zap.Logger
}

// NewSimulatedGateway creates a new simulated payment gateway
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{logger: util.GetLogger()}
}

// Charge simulates a payment capture.
func (g *SimulatedGateway) Charge(ctx context.Context, amountMinorUnits int64, currency, paymentToken string) (*ChargeResult, error) {
	if amountMinorUnits <= 0 {
		return nil, fmt.Errorf("charge amount must be positive, got %d", amountMinorUnits)
	}
	if paymentToken == "" || strings.HasPrefix(paymentToken, "tok_fail") {
		g.logger.Warn("Simulated payment declined",
			zap.Int64("amount", amountMinorUnits),
			zap.String("currency", currency))
		return nil, fmt.Errorf("%w: card declined", ErrPaymentFailed)
	}

	ref := "TXN-" + uuid.New().String()[:8]
	g.logger.Info("Simulated payment captured",
		zap.Int64("amount", amountMinorUnits),
		zap.String("currency", currency),
		zap.String("reference", ref))
	return &ChargeResult{Reference: ref}, nil
}
