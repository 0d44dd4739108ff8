package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"license-gate/internal/model"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var sheetHeader = []interface{}{"id", "status", "email", "created_at", "redeemed_at", "redeemed_telegram_id"}

// SheetSyncService mirrors license rows into a Google Sheet for the shop owner.
// Digests and codes are never exported.
type SheetSyncService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetSyncService returns nil when sync is disabled. A non-empty credentialPath
// is read as a service account key; extra options are passed to the Sheets client.
func NewSheetSyncService(ctx context.Context, enableSync bool, credentialPath, spreadsheetID, sheetName string, opts ...option.ClientOption) (*SheetSyncService, error) {
	if !enableSync {
		return nil, nil
	}

	if credentialPath != "" {
		b, err := os.ReadFile(credentialPath)
		if err != nil {
			return nil, fmt.Errorf("read sheets credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("load sheets credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}

	return &SheetSyncService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// SyncLicense updates the row whose column A holds the license id, or appends one.
func (s *SheetSyncService) SyncLicense(ctx context.Context, license *model.License) error {
	if s == nil {
		return nil
	}

	keyResp, err := s.service.Spreadsheets.Values.
		Get(s.spreadsheetID, s.sheetName+"!A2:A").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("read sheet ids: %w", err)
	}

	rowIndex := 0
	for i, row := range keyResp.Values {
		if len(row) > 0 && fmt.Sprint(row[0]) == license.ID {
			rowIndex = i + 2 // data starts at A2
			break
		}
	}

	values := &sheets.ValueRange{Values: [][]interface{}{licenseRow(license)}}
	if rowIndex > 0 {
		_, err = s.service.Spreadsheets.Values.
			Update(s.spreadsheetID, fmt.Sprintf("%s!A%d:F%d", s.sheetName, rowIndex, rowIndex), values).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
	} else {
		_, err = s.service.Spreadsheets.Values.
			Append(s.spreadsheetID, s.sheetName+"!A2:F", values).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
	}
	if err != nil {
		return fmt.Errorf("write sheet row for license %s: %w", license.ID, err)
	}
	return nil
}

// ReplaceAll clears the sheet and writes the header plus one row per license.
func (s *SheetSyncService) ReplaceAll(ctx context.Context, licenses []model.License) error {
	if s == nil {
		return nil
	}

	_, err := s.service.Spreadsheets.Values.
		Clear(s.spreadsheetID, s.sheetName+"!A:F", &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("clear sheet: %w", err)
	}

	rows := make([][]interface{}, 0, len(licenses)+1)
	rows = append(rows, sheetHeader)
	for i := range licenses {
		rows = append(rows, licenseRow(&licenses[i]))
	}

	_, err = s.service.Spreadsheets.Values.
		Update(s.spreadsheetID, s.sheetName+"!A1", &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write sheet: %w", err)
	}
	return nil
}

func licenseRow(license *model.License) []interface{} {
	redeemedAt := ""
	if license.RedeemedAt != nil {
		redeemedAt = license.RedeemedAt.UTC().Format(time.RFC3339)
	}
	identity := ""
	if license.RedeemedIdentity != nil {
		identity = strconv.FormatInt(*license.RedeemedIdentity, 10)
	}
	return []interface{}{
		license.ID,
		string(license.Status),
		license.Email,
		license.CreatedAt.UTC().Format(time.RFC3339),
		redeemedAt,
		identity,
	}
}
