package importer

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"itam-api/internal/models"

	"github.com/tealeg/xlsx/v3"
	"gopkg.in/yaml.v3"
)

//go:embed mapping.yaml
var defaultMapping []byte

// AssetCreator registers one asset under the actor's tenant quota
type AssetCreator interface {
	Create(ctx context.Context, actor models.Actor, req models.CreateAssetRequest) (*models.Asset, error)
}

// ImportOptions defines the configuration for Excel import operations
type ImportOptions struct {
	Actor       models.Actor
	MappingPath string // empty uses the built-in mapping
	DryRun      bool
	MaxErrors   int // default 50
}

// RowError represents an error that occurred during row processing
type RowError struct {
	Sheet   string `json:"sheet"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// SheetSummary contains the import statistics for a single sheet
type SheetSummary struct {
	Name     string     `json:"name"`
	Inserted int        `json:"inserted"`
	Skipped  int        `json:"skipped"`
	Errors   int        `json:"errors"`
	Samples  []RowError `json:"error_samples,omitempty"`
}

// ImportSummary contains the overall import statistics. Stopped is set when
// the tenant ran out of asset quota; rows after it were not attempted.
type ImportSummary struct {
	Inserted int            `json:"inserted"`
	Skipped  int            `json:"skipped"`
	Errors   int            `json:"errors"`
	Sheets   []SheetSummary `json:"sheets"`
	DryRun   bool           `json:"dry_run"`
	Stopped  *RowError      `json:"stopped,omitempty"`
}

// MappingConfig represents the YAML mapping configuration
type MappingConfig struct {
	Version int                    `yaml:"version"`
	Sheets  map[string]SheetConfig `yaml:"sheets"`
}

// SheetConfig maps one sheet's headers onto asset fields. Headers match case
// insensitively, directly or through an alias.
type SheetConfig struct {
	DeviceType string                  `yaml:"device_type"`
	Aliases    map[string][]string     `yaml:"aliases"`
	Columns    map[string]ColumnConfig `yaml:"columns"`
}

type ColumnConfig struct {
	Field string `yaml:"field"`
	Type  string `yaml:"type"`
}

// LoadMapping reads a mapping file, or the built-in mapping when path is empty
func LoadMapping(path string) (*MappingConfig, error) {
	data := defaultMapping
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read mapping: %w", err)
		}
	}
	return ParseMapping(data)
}

// ParseMapping decodes and checks a YAML mapping
func ParseMapping(data []byte) (*MappingConfig, error) {
	var m MappingConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	if len(m.Sheets) == 0 {
		return nil, errors.New("mapping defines no sheets")
	}
	for name, sc := range m.Sheets {
		if sc.DeviceType != "" && !models.DeviceType(sc.DeviceType).Valid() {
			return nil, fmt.Errorf("sheet %q: unknown device type %q", name, sc.DeviceType)
		}
		for header, col := range sc.Columns {
			if _, ok := fieldSetters[col.Field]; !ok && !strings.HasPrefix(col.Field, "specs.") {
				return nil, fmt.Errorf("sheet %q column %q: unknown field %q", name, header, col.Field)
			}
		}
	}
	return &m, nil
}

// ImportExcel creates one asset per data row of every mapped sheet. Each row
// goes through creator, so it reserves asset quota like any other create.
// A dry run only validates rows.
func ImportExcel(ctx context.Context, creator AssetCreator, r io.Reader, opts ImportOptions) (ImportSummary, error) {
	summary := ImportSummary{
		DryRun: opts.DryRun,
		Sheets: []SheetSummary{},
	}
	if opts.MaxErrors == 0 {
		opts.MaxErrors = 50
	}

	mapping, err := LoadMapping(opts.MappingPath)
	if err != nil {
		return summary, fmt.Errorf("failed to load mapping config: %w", err)
	}

	// xlsx.OpenBinary needs the whole file
	data, err := io.ReadAll(r)
	if err != nil {
		return summary, fmt.Errorf("failed to read Excel file: %w", err)
	}
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return summary, fmt.Errorf("failed to open Excel file: %w", err)
	}

	for _, sheet := range xlFile.Sheets {
		config, ok := lookupSheet(mapping, sheet.Name)
		if !ok {
			continue
		}
		p := &sheetProcessor{ctx: ctx, creator: creator, opts: opts, config: config, seen: map[string]bool{}}
		sheetSummary, stopErr := p.process(sheet)
		summary.Sheets = append(summary.Sheets, sheetSummary)

		summary.Inserted += sheetSummary.Inserted
		summary.Skipped += sheetSummary.Skipped
		summary.Errors += sheetSummary.Errors

		if stopErr != nil {
			var quota *models.QuotaExceededError
			if errors.As(stopErr, &quota) {
				summary.Stopped = p.stoppedAt
				return summary, nil
			}
			return summary, stopErr
		}
		if summary.Errors > opts.MaxErrors {
			return summary, fmt.Errorf("too many errors (%d), stopping import", summary.Errors)
		}
	}
	return summary, nil
}

func lookupSheet(m *MappingConfig, name string) (SheetConfig, bool) {
	if sc, ok := m.Sheets[name]; ok {
		return sc, true
	}
	for k, sc := range m.Sheets {
		if strings.EqualFold(k, name) {
			return sc, true
		}
	}
	return SheetConfig{}, false
}

type sheetProcessor struct {
	ctx       context.Context
	creator   AssetCreator
	opts      ImportOptions
	config    SheetConfig
	headers   map[int]string // column index -> canonical header
	seen      map[string]bool
	stoppedAt *RowError
}

// process walks the rows of sheet. The returned error aborts the whole import.
func (p *sheetProcessor) process(sheet *xlsx.Sheet) (SheetSummary, error) {
	summary := SheetSummary{Name: sheet.Name}
	sample := func(row int, msg string) {
		summary.Errors++
		if len(summary.Samples) < 10 {
			summary.Samples = append(summary.Samples, RowError{Sheet: sheet.Name, Row: row, Message: msg})
		}
	}

	errStop := errors.New("stop")
	var stopErr error
	err := sheet.ForEachRow(func(row *xlsx.Row) error {
		rowNum := row.GetCoordinate() + 1
		if p.headers == nil {
			p.headers = p.readHeader(row)
			return nil
		}
		if err := p.ctx.Err(); err != nil {
			stopErr = err
			return errStop
		}

		values := p.readRow(row)
		if len(values) == 0 {
			summary.Skipped++
			return nil
		}

		req, err := p.buildRequest(values)
		if err != nil {
			sample(rowNum, err.Error())
			return nil
		}
		if req.SerialNumber != nil {
			key := strings.ToUpper(*req.SerialNumber)
			if p.seen[key] {
				summary.Skipped++
				return nil
			}
			p.seen[key] = true
		}

		if p.opts.DryRun {
			if err := req.Validate(); err != nil {
				sample(rowNum, err.Error())
				return nil
			}
			summary.Inserted++
			return nil
		}

		if _, err := p.creator.Create(p.ctx, p.opts.Actor, req); err != nil {
			var quota *models.QuotaExceededError
			if errors.As(err, &quota) || errors.Is(err, models.ErrTenantInactive) {
				p.stoppedAt = &RowError{Sheet: sheet.Name, Row: rowNum, Message: err.Error()}
				stopErr = err
				return errStop
			}
			if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrConflict) {
				sample(rowNum, err.Error())
				return nil
			}
			stopErr = fmt.Errorf("row %d: %w", rowNum, err)
			return errStop
		}
		summary.Inserted++
		return nil
	}, xlsx.SkipEmptyRows)
	if err != nil && !errors.Is(err, errStop) {
		return summary, fmt.Errorf("read sheet %q: %w", sheet.Name, err)
	}
	return summary, stopErr
}

// readHeader resolves each header cell to the configured column it names
func (p *sheetProcessor) readHeader(row *xlsx.Row) map[int]string {
	headers := map[int]string{}
	_ = row.ForEachCell(func(c *xlsx.Cell) error {
		name := strings.TrimSpace(c.String())
		if name == "" {
			return nil
		}
		col, _ := c.GetCoordinates()
		if canonical, ok := p.canonicalHeader(name); ok {
			headers[col] = canonical
		}
		return nil
	}, xlsx.SkipEmptyCells)
	return headers
}

func (p *sheetProcessor) canonicalHeader(name string) (string, bool) {
	for header := range p.config.Columns {
		if strings.EqualFold(header, name) {
			return header, true
		}
	}
	for header, aliases := range p.config.Aliases {
		for _, alias := range aliases {
			if strings.EqualFold(alias, name) {
				return header, true
			}
		}
	}
	return "", false
}

// readRow returns the non-empty mapped cells of row keyed by canonical header.
// Date cells come back as YYYY-MM-DD.
func (p *sheetProcessor) readRow(row *xlsx.Row) map[string]string {
	values := map[string]string{}
	_ = row.ForEachCell(func(c *xlsx.Cell) error {
		col, _ := c.GetCoordinates()
		header, ok := p.headers[col]
		if !ok {
			return nil
		}
		v := strings.TrimSpace(c.String())
		if c.IsTime() {
			if t, err := c.GetTime(false); err == nil {
				v = t.Format("2006-01-02")
			}
		}
		if v != "" {
			values[header] = v
		}
		return nil
	}, xlsx.SkipEmptyCells)
	return values
}

func (p *sheetProcessor) buildRequest(values map[string]string) (models.CreateAssetRequest, error) {
	req := models.CreateAssetRequest{DeviceType: models.DeviceType(p.config.DeviceType)}
	for header, raw := range values {
		col := p.config.Columns[header]
		parsed, err := parseValue(raw, col.Type)
		if err != nil {
			return req, fmt.Errorf("failed to parse %s: %v", header, err)
		}
		if strings.HasPrefix(col.Field, "specs.") {
			if req.Specs == nil {
				req.Specs = models.JSONB{}
			}
			req.Specs[strings.TrimPrefix(col.Field, "specs.")] = parsed
			continue
		}
		if err := fieldSetters[col.Field](&req, parsed); err != nil {
			return req, fmt.Errorf("%s: %v", header, err)
		}
	}
	if req.DeviceType == "" {
		return req, errors.New("device type is missing")
	}
	return req, nil
}

type fieldSetter func(req *models.CreateAssetRequest, v interface{}) error

func setString(dst func(*models.CreateAssetRequest) **string) fieldSetter {
	return func(req *models.CreateAssetRequest, v interface{}) error {
		s := fmt.Sprint(v)
		*dst(req) = &s
		return nil
	}
}

func setDate(dst func(*models.CreateAssetRequest) **time.Time) fieldSetter {
	return func(req *models.CreateAssetRequest, v interface{}) error {
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("expected a date, got %v", v)
		}
		*dst(req) = &t
		return nil
	}
}

var fieldSetters = map[string]fieldSetter{
	"name":           setString(func(r *models.CreateAssetRequest) **string { return &r.Name }),
	"manufacturer":   setString(func(r *models.CreateAssetRequest) **string { return &r.Manufacturer }),
	"model":          setString(func(r *models.CreateAssetRequest) **string { return &r.Model }),
	"serial_number":  setString(func(r *models.CreateAssetRequest) **string { return &r.SerialNumber }),
	"location":       setString(func(r *models.CreateAssetRequest) **string { return &r.Location }),
	"notes":          setString(func(r *models.CreateAssetRequest) **string { return &r.Notes }),
	"vendor":         setString(func(r *models.CreateAssetRequest) **string { return &r.Vendor }),
	"order_number":   setString(func(r *models.CreateAssetRequest) **string { return &r.OrderNumber }),
	"warranty_start": setDate(func(r *models.CreateAssetRequest) **time.Time { return &r.WarrantyStart }),
	"warranty_end":   setDate(func(r *models.CreateAssetRequest) **time.Time { return &r.WarrantyEnd }),
	"purchase_date":  setDate(func(r *models.CreateAssetRequest) **time.Time { return &r.PurchaseDate }),
	"device_type": func(req *models.CreateAssetRequest, v interface{}) error {
		req.DeviceType = models.DeviceType(strings.ToLower(strings.ReplaceAll(fmt.Sprint(v), " ", "_")))
		return nil
	},
	"purchase_cost": func(req *models.CreateAssetRequest, v interface{}) error {
		cents, ok := v.(int64)
		if !ok {
			return fmt.Errorf("expected money, got %v", v)
		}
		req.PurchaseCostCents = &cents
		return nil
	},
}

func parseValue(value, valueType string) (interface{}, error) {
	valueType = strings.TrimSuffix(valueType, "?") // optional marker

	switch valueType {
	case "TEXT", "string", "":
		return value, nil
	case "INT", "int":
		return strconv.Atoi(value)
	case "BOOL", "bool":
		value = strings.ToLower(value)
		return value == "yes" || value == "y" || value == "true" || value == "1", nil
	case "MONEY", "money":
		// Parsed to cents
		clean := strings.NewReplacer("$", "", ",", "", " ", "").Replace(value)
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid amount: %s", value)
		}
		return int64(math.Round(f * 100)), nil
	case "DATE", "date", "TIMESTAMP", "timestamp":
		formats := []string{
			"2006-01-02",
			"2006-01-02 15:04:05",
			"01/02/2006",
			"01-02-06",
			"1/2/06",
		}
		for _, format := range formats {
			if t, err := time.Parse(format, value); err == nil {
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
			}
		}
		return nil, fmt.Errorf("invalid date format: %s", value)
	default:
		return value, nil
	}
}
