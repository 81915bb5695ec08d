// Package ingestion turns uploaded CSV and XLSX files into staged chunks of a
// migration session. Cells are kept as raw strings; typing and validation
// happen later when the session is validated.
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/migration"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// DefaultChunkSize is how many rows one staged chunk carries.
const DefaultChunkSize = 1000

// Service reads tabular uploads and appends them to a session chunk by chunk.
type Service struct {
	chunks    *migration.ChunkStore
	logger    *zap.Logger
	chunkSize int
}

// NewService creates an ingestion service. A zero chunkSize falls back to
// DefaultChunkSize.
func NewService(chunks *migration.ChunkStore, logger *zap.Logger, chunkSize int) *Service {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Service{
		chunks:    chunks,
		logger:    logger,
		chunkSize: chunkSize,
	}
}

// Request describes one file upload into a session.
type Request struct {
	TenantID       uuid.UUID
	SessionID      uuid.UUID
	EntityType     string
	FileName       string
	HeaderRowIndex *int
	Data           io.Reader
}

// Summary reports what an upload produced.
type Summary struct {
	TotalRows int      `json:"totalRows"`
	Chunks    int      `json:"chunks"`
	Headers   []string `json:"headers"`
}

// HeaderCandidate represents a potential header row option.
type HeaderCandidate struct {
	Index   int      `json:"index"`
	Values  []string `json:"values"`
	Current bool     `json:"current"`
}

// PreviewRow is one sample row keyed by sanitized header.
type PreviewRow struct {
	RowNumber int               `json:"rowNumber"`
	Values    map[string]string `json:"values"`
}

// PreviewResult returns upload metadata without staging anything.
type PreviewResult struct {
	TotalRows        int               `json:"totalRows"`
	Headers          []string          `json:"headers"`
	RawHeaders       []string          `json:"rawHeaders"`
	Rows             []PreviewRow      `json:"rows"`
	HeaderCandidates []HeaderCandidate `json:"headerCandidates"`
}

type tableData struct {
	headers        []string
	rawHeaders     []string
	rows           [][]string
	headerRowIndex int
}

// Ingest parses the upload and appends its rows to the session as chunks of
// the configured size.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{Headers: []string{}}

	if req.TenantID == uuid.Nil {
		return summary, errors.New("tenant id is required")
	}
	if req.SessionID == uuid.Nil {
		return summary, errors.New("session id is required")
	}
	if strings.TrimSpace(req.EntityType) == "" {
		return summary, errors.New("entity type is required")
	}
	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, errors.New("file is empty")
	}

	table, _, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return summary, err
	}
	if len(table.headers) == 0 {
		return summary, errors.New("no header row detected")
	}
	if len(table.rows) == 0 {
		return summary, errors.New("no data rows found in file")
	}

	summary.Headers = table.headers
	summary.TotalRows = len(table.rows)

	for start := 0; start < len(table.rows); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(table.rows) {
			end = len(table.rows)
		}

		batch := make([]domain.Record, 0, end-start)
		for _, row := range table.rows[start:end] {
			batch = append(batch, rowToRecord(table.headers, row))
		}

		if _, err := s.chunks.AppendChunk(ctx, req.TenantID, req.SessionID, req.EntityType, batch); err != nil {
			return summary, err
		}
		summary.Chunks++
	}

	s.logger.Info("file ingested",
		zap.String("session_id", req.SessionID.String()),
		zap.String("entity_type", req.EntityType),
		zap.String("file_name", req.FileName),
		zap.Int("rows", summary.TotalRows),
		zap.Int("chunks", summary.Chunks),
	)
	return summary, nil
}

// Preview parses the upload and returns headers plus sample rows without
// staging anything.
func (s *Service) Preview(ctx context.Context, req Request, limit int) (PreviewResult, error) {
	result := PreviewResult{
		Headers:          []string{},
		RawHeaders:       []string{},
		Rows:             []PreviewRow{},
		HeaderCandidates: []HeaderCandidate{},
	}

	if req.Data == nil {
		return result, errors.New("data reader is required")
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return result, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return result, errors.New("file is empty")
	}

	table, records, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return result, err
	}

	result.HeaderCandidates = buildHeaderCandidates(records, 10, table.headerRowIndex)
	if len(table.headers) == 0 {
		return result, errors.New("no header row detected")
	}

	result.Headers = table.headers
	result.RawHeaders = table.rawHeaders
	result.TotalRows = len(table.rows)

	if limit <= 0 {
		limit = 10
	}
	for rowIdx, row := range table.rows {
		if rowIdx >= limit {
			break
		}
		rowNumber := table.headerRowIndex + rowIdx + 2 // include header row (1-based)
		values := make(map[string]string, len(table.headers))
		for colIdx, header := range table.headers {
			if colIdx < len(row) {
				values[header] = strings.TrimSpace(row[colIdx])
			} else {
				values[header] = ""
			}
		}
		result.Rows = append(result.Rows, PreviewRow{RowNumber: rowNumber, Values: values})
	}

	return result, nil
}

// rowToRecord converts one raw row into an ordered record of string cells.
// Blank cells become nulls so required checks can tell empty from missing.
func rowToRecord(headers []string, row []string) domain.Record {
	record := make(domain.Record, 0, len(headers))
	for colIdx, header := range headers {
		value := domain.NullValue()
		if colIdx < len(row) {
			if raw := strings.TrimSpace(row[colIdx]); raw != "" {
				value = domain.StringValue(raw)
			}
		}
		record = append(record, domain.Field{Name: header, Value: value})
	}
	return record
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to read csv: %w", err)
	}

	table, err := normalizeTable(records, headerRowIndex)
	if err != nil {
		return tableData{}, nil, err
	}
	return table, records, nil
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	table, err := normalizeTable(rows, headerRowIndex)
	if err != nil {
		return tableData{}, nil, err
	}
	return table, rows, nil
}

func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	headerIndex := -1

	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		selected := cleanRow(records[*headerRowIndex])
		if len(selected) == 0 {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		headerIndex = *headerRowIndex
		for idx := *headerRowIndex + 1; idx < len(records); idx++ {
			row := records[idx]
			if len(cleanRow(row)) == 0 {
				continue
			}
			dataRows = append(dataRows, row)
		}
	} else {
		for idx, row := range records {
			if len(cleanRow(row)) == 0 {
				continue
			}
			if headerRow == nil {
				headerRow = row
				headerIndex = idx
				continue
			}
			dataRows = append(dataRows, row)
		}
	}

	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	rawHeaders := make([]string, len(headerRow))
	for i, value := range headerRow {
		rawHeaders[i] = strings.TrimSpace(value)
	}

	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}

	dataRows = filterEmptyRows(dataRows)

	return tableData{
		headers:        headers,
		rawHeaders:     rawHeaders,
		rows:           dataRows,
		headerRowIndex: headerIndex,
	}, nil
}

func buildHeaderCandidates(records [][]string, limit int, currentIndex int) []HeaderCandidate {
	if limit <= 0 {
		limit = 10
	}

	candidates := make([]HeaderCandidate, 0, limit)
	for idx, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}

		values := make([]string, len(row))
		for i, cell := range row {
			values[i] = strings.TrimSpace(cell)
		}

		candidates = append(candidates, HeaderCandidate{
			Index:   idx,
			Values:  values,
			Current: idx == currentIndex,
		})

		if len(candidates) >= limit {
			break
		}
	}

	return candidates
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	for i := len(row); i < length; i++ {
		padded[i] = ""
	}
	return padded
}

func filterEmptyRows(rows [][]string) [][]string {
	var filtered [][]string
	for _, row := range rows {
		keep := false
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				keep = true
				break
			}
		}
		if keep {
			filtered = append(filtered, row)
		}
	}
	return filtered
}
