// internal/extract/extract.go
package extract

import (
	"context"
	"errors"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/factuscan/factuscan/api/schemas"
	"github.com/factuscan/factuscan/internal/backend"
	"github.com/factuscan/factuscan/internal/billparse"
	"github.com/factuscan/factuscan/internal/bills"
	"github.com/factuscan/factuscan/internal/doctext"
	"github.com/factuscan/factuscan/internal/scrapererr"
)

// Result summarizes one extraction run.
type Result struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	BillsProcessed int    `json:"bills_processed"`
}

// Service turns a user service's stored bills into structured consumption
// data: url bills are downloaded and text-extracted, content bills are
// parsed directly, and the combined output replaces the record's
// consumption_data wholesale.
type Service struct {
	client     *backend.Client
	downloader *bills.Downloader
	parser     *billparse.Parser
	logger     *zap.Logger
}

func NewService(client *backend.Client, logger *zap.Logger) *Service {
	return &Service{
		client:     client,
		downloader: bills.NewDownloader(logger),
		parser:     billparse.New(logger),
		logger:     logger.Named("extract"),
	}
}

// ProcessBills fetches the scrapped data for a user service, parses every
// bill it holds, and writes the structured result back. Individual bill
// failures are logged and skipped; only the absence of any scrapped data or
// a backend failure fails the run.
func (s *Service) ProcessBills(ctx context.Context, userServiceID string) (Result, error) {
	logger := s.logger.With(zap.String("user_service_id", userServiceID))
	logger.Info("Starting bill extraction")

	records, err := s.client.GetScrappedData(ctx, userServiceID)
	if err != nil {
		if errors.Is(err, scrapererr.ErrNotFound) {
			return Result{Success: false, Message: "no scrapped data found"}, nil
		}
		return Result{Success: false, Message: err.Error()}, err
	}
	if len(records) == 0 {
		return Result{Success: false, Message: "no scrapped data found"}, nil
	}

	var urlBills, contentBills []schemas.Bill
	for _, record := range records {
		for _, bill := range record.BillsURL {
			switch {
			case bill.URL != "":
				urlBills = append(urlBills, bill)
			case bill.Content != "":
				contentBills = append(contentBills, bill)
			}
		}
	}

	parsed := s.processURLBills(ctx, urlBills)
	parsed = append(parsed, s.processContentBills(contentBills)...)

	if len(parsed) == 0 {
		return Result{Success: true, Message: "no bills to process"}, nil
	}

	consumption := make(map[string]interface{}, len(parsed))
	for i, record := range parsed {
		consumption[strconv.Itoa(i)] = record
	}

	// Consumption data is replaced wholesale; concurrent extractors are
	// last-writer-wins.
	if _, err := s.client.UpdateScrappedData(ctx, records[0].ID, backend.ScrappedDataPatch{
		Consumption: consumption,
	}); err != nil {
		logger.Error("Failed to save consumption data", zap.Error(err))
		return Result{Success: false, Message: "failed to save consumption data: " + err.Error()}, err
	}

	logger.Info("Bill extraction complete", zap.Int("bills_processed", len(parsed)))
	return Result{
		Success:        true,
		Message:        "bills processed and saved successfully",
		BillsProcessed: len(parsed),
	}, nil
}

// processURLBills downloads the referenced documents, extracts their text,
// and parses each one. The download directory is transient and removed once
// the text is out.
func (s *Service) processURLBills(ctx context.Context, urlBills []schemas.Bill) []billparse.ParsedBill {
	if len(urlBills) == 0 {
		return nil
	}

	urls := make([]string, len(urlBills))
	for i, b := range urlBills {
		urls[i] = b.URL
	}

	dir, paths, err := s.downloader.DownloadAll(ctx, urls)
	if dir != "" {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				s.logger.Warn("Failed to remove download dir",
					zap.String("dir", dir), zap.Error(err))
			}
		}()
	}
	if err != nil {
		s.logger.Error("Bill download failed", zap.Error(err))
		return nil
	}

	var parsed []billparse.ParsedBill
	for _, path := range paths {
		text, err := doctext.ExtractText(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable bill document",
				zap.String("path", path), zap.Error(err))
			continue
		}
		parsed = append(parsed, s.parser.Parse(text))
	}
	return parsed
}

func (s *Service) processContentBills(contentBills []schemas.Bill) []billparse.ParsedBill {
	var parsed []billparse.ParsedBill
	for _, bill := range contentBills {
		parsed = append(parsed, s.parser.Parse(bill.Content))
	}
	return parsed
}
