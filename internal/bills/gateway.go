// internal/bills/gateway.go
package bills

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/backend"
	"github.com/factuscan/factuscan/internal/scrapererr"
)

// Gateway deduplicates and upserts extracted bill records against the
// backend. Saving the same bill list twice is a no-op on the second call.
type Gateway struct {
	client *backend.Client
	logger *zap.Logger
}

// NewGateway builds a persistence gateway on top of the backend client.
func NewGateway(client *backend.Client, logger *zap.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.Named("bills"),
	}
}

var _ schemas.BillStore = (*Gateway)(nil)

// SaveBills upserts bills for a user service. When no scrapped-data record
// exists yet one is created with the whole list; otherwise only bills not
// already stored (by exact structural equality) are appended, never
// replacing what is there. The result always reports whether anything new
// was actually written.
func (g *Gateway) SaveBills(ctx context.Context, userServiceID string, incoming []schemas.Bill, debt bool) schemas.SaveResult {
	logger := g.logger.With(zap.String("user_service_id", userServiceID))

	if _, err := g.client.GetUserService(ctx, userServiceID); err != nil {
		if errors.Is(err, scrapererr.ErrNotFound) {
			return schemas.SaveResult{Success: false, Message: "user service not found"}
		}
		logger.Error("Failed to verify user service", zap.Error(err))
		return schemas.SaveResult{Success: false, Message: "failed to verify user service: " + err.Error()}
	}

	records, err := g.client.GetScrappedData(ctx, userServiceID)
	if err != nil {
		if errors.Is(err, scrapererr.ErrNotFound) {
			return g.createInitial(ctx, userServiceID, incoming, debt)
		}
		logger.Error("Failed to fetch scrapped data", zap.Error(err))
		return schemas.SaveResult{Success: false, Message: "failed to fetch scrapped data: " + err.Error()}
	}
	if len(records) == 0 {
		return g.createInitial(ctx, userServiceID, incoming, debt)
	}

	newBillsSaved := false
	for _, record := range records {
		added := diffBills(record.BillsURL, incoming)
		if len(added) == 0 {
			continue
		}

		patch := backend.ScrappedDataPatch{
			Bills: append(record.BillsURL, added...),
			Debt:  &debt,
		}
		if _, err := g.client.UpdateScrappedData(ctx, record.ID, patch); err != nil {
			logger.Error("Failed to append bills", zap.String("scrapped_data_id", record.ID), zap.Error(err))
			return schemas.SaveResult{Success: false, Message: "failed to append bills: " + err.Error()}
		}
		newBillsSaved = true
		logger.Info("Appended new bills",
			zap.String("scrapped_data_id", record.ID),
			zap.Int("new_bills", len(added)))
	}

	return schemas.SaveResult{
		Success:       true,
		Message:       "bills processed successfully",
		NewBillsSaved: newBillsSaved,
	}
}

func (g *Gateway) createInitial(ctx context.Context, userServiceID string, incoming []schemas.Bill, debt bool) schemas.SaveResult {
	if _, err := g.client.CreateScrappedData(ctx, userServiceID, incoming, nil, debt); err != nil {
		g.logger.Error("Failed to create scrapped data",
			zap.String("user_service_id", userServiceID), zap.Error(err))
		return schemas.SaveResult{Success: false, Message: "failed to create scrapped data: " + err.Error()}
	}
	return schemas.SaveResult{
		Success:       true,
		Message:       "new scrapped data created with bills",
		NewBillsSaved: true,
	}
}

// diffBills returns the incoming bills not already present in existing,
// preserving input order. Identity is the bill's structural key.
func diffBills(existing, incoming []schemas.Bill) []schemas.Bill {
	seen := make(map[string]bool, len(existing))
	for _, b := range existing {
		seen[b.Key()] = true
	}

	var added []schemas.Bill
	for _, b := range incoming {
		if b.URL == "" && b.Content == "" {
			continue
		}
		if seen[b.Key()] {
			continue
		}
		seen[b.Key()] = true
		added = append(added, b)
	}
	return added
}
