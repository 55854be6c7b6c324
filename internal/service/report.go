package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/util"
)

// ReportStore is the read-only query interface behind the staff exports.
type ReportStore interface {
	UserReportRows(ctx context.Context, from, to time.Time) ([]models.UserReportRow, error)
	OrderReportRows(ctx context.Context, from, to time.Time) ([]models.OrderReportRow, error)
}

const reportTimeFormat = "02/01/06 15:04:05"

// ReportService produces the staff CSV exports: users registered in a date
// range (minus credentials) and orders placed in a date range joined with
// user email, shipping address and shipping option.
type ReportService struct {
	reports ReportStore
}

// NewReportService creates a new report service
func NewReportService(reports ReportStore) *ReportService {
	return &ReportService{reports: reports}
}

// UserReport writes the user export for the range as CSV with a header row.
// Returns ErrNoReportData when no users were created in the range.
func (s *ReportService) UserReport(ctx context.Context, from, to time.Time, w io.Writer) error {
	rows, err := s.reports.UserReportRows(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to query user report: %w", err)
	}
	if len(rows) == 0 {
		return ErrNoReportData
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "first_name", "last_name", "email_address", "user_role", "date_created"}); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.ID, 10),
			row.FirstName,
			row.LastName,
			row.EmailAddress,
			row.UserRole,
			row.CreatedAt.Format(reportTimeFormat),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	util.ReportsGeneratedTotal.WithLabelValues("user").Inc()
	return nil
}

// OrderReport writes the order export for the range as CSV with a header
// row. Returns ErrNoReportData when no orders were placed in the range.
func (s *ReportService) OrderReport(ctx context.Context, from, to time.Time, w io.Writer) error {
	rows, err := s.reports.OrderReportRows(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to query order report: %w", err)
	}
	if len(rows) == 0 {
		return ErrNoReportData
	}

	cw := csv.NewWriter(w)
	header := []string{
		"id", "user", "status", "order_placed_on", "order_dispatched_on",
		"order_completed_on", "order_total",
		"shipping_address_line_1", "shipping_address_line_2",
		"shipping_address_city", "shipping_address_postcode", "shipping_option",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.ID, 10),
			row.UserEmail,
			row.Status,
			formatStamp(row.PlacedOn),
			formatStamp(row.DispatchedOn),
			formatStamp(row.CompletedOn),
			strconv.FormatInt(row.Total, 10),
			row.AddressLine1,
			row.AddressLine2,
			row.AddressCity,
			row.AddressPost,
			row.ShippingOption,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	util.ReportsGeneratedTotal.WithLabelValues("order").Inc()
	return nil
}

func formatStamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(reportTimeFormat)
}
