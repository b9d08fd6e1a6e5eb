// Package sheets writes value grids to a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/allcookiesaccept/rankmirror/internal/upstream"
)

const writeTask = "sheets.write"

// Publisher overwrites a named sheet of one spreadsheet.
type Publisher struct {
	svc           *gsheets.Service
	spreadsheetID string
	logger        *zap.Logger
}

// NewPublisher authenticates with a service-account credentials file.
func NewPublisher(ctx context.Context, spreadsheetID, credentialsFile string, logger *zap.Logger) (*Publisher, error) {
	if credentialsFile == "" {
		return nil, errors.New("sheets: credentials file is required")
	}
	return NewPublisherWithOptions(ctx, spreadsheetID, logger,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
}

// NewPublisherWithOptions builds a publisher from explicit client options,
// e.g. a custom endpoint and HTTP client.
func NewPublisherWithOptions(ctx context.Context, spreadsheetID string, logger *zap.Logger, opts ...option.ClientOption) (*Publisher, error) {
	if spreadsheetID == "" {
		return nil, errors.New("sheets: spreadsheet id is required")
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: failed to create service: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{svc: svc, spreadsheetID: spreadsheetID, logger: logger}, nil
}

// Write writes rows starting at rangeStart (e.g. "A1") and then clears the
// leftover rows below the grid within its columns. Cells outside that block
// are never touched. If the write fails nothing is cleared.
// Values are stored as given, without spreadsheet parsing.
func (p *Publisher) Write(ctx context.Context, sheet, rangeStart string, rows [][]any) error {
	col, row, err := parseCell(rangeStart)
	if err != nil {
		return err
	}

	target := quoteSheet(sheet) + "!" + rangeStart
	resp, err := p.svc.Spreadsheets.Values.
		Update(p.spreadsheetID, target, &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return transportError(err)
	}

	p.logger.Debug("sheet updated",
		zap.String("range", resp.UpdatedRange),
		zap.Int64("rows", resp.UpdatedRows),
		zap.Int64("cells", resp.UpdatedCells),
	)

	leftover := quoteSheet(sheet) + "!" + leftoverRange(col, row, rows)
	if _, err := p.svc.Spreadsheets.Values.
		Clear(p.spreadsheetID, leftover, &gsheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return transportError(err)
	}
	p.logger.Debug("leftover rows cleared", zap.String("range", leftover))
	return nil
}

// leftoverRange is the open-ended A1 range directly below a grid of rows
// placed at column col (1-based) and row, spanning the grid's widest row.
func leftoverRange(col, row int, rows [][]any) string {
	width := 1
	for _, r := range rows {
		width = max(width, len(r))
	}
	return columnName(col) + strconv.Itoa(row+len(rows)) + ":" + columnName(col+width-1)
}

// parseCell splits an A1 cell reference such as "C5" into a 1-based column
// and row. A bare column ("C") means row 1.
func parseCell(ref string) (col, row int, err error) {
	i := 0
	for i < len(ref) && isLetter(ref[i]) {
		col = col*26 + int(unicode.ToUpper(rune(ref[i]))-'A') + 1
		i++
	}
	if i == 0 || i > 3 {
		return 0, 0, fmt.Errorf("sheets: invalid range start %q", ref)
	}
	if i == len(ref) {
		return col, 1, nil
	}
	row, err = strconv.Atoi(ref[i:])
	if err != nil || row < 1 || ref[i] == '+' {
		return 0, 0, fmt.Errorf("sheets: invalid range start %q", ref)
	}
	return col, row, nil
}

func isLetter(b byte) bool { return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' }

// columnName converts a 1-based column index to its letters (28 -> "AB").
func columnName(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

func transportError(err error) error {
	te := &upstream.TransportError{Task: writeTask, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		te.StatusCode = gerr.Code
	}
	return te
}

// quoteSheet returns name in A1 notation, quoting it when it contains
// anything other than letters, digits and underscores.
func quoteSheet(name string) string {
	plain := name != ""
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			plain = false
			break
		}
	}
	if plain {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
