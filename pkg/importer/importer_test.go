package importer

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"itam-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"
)

type fakeCreator struct {
	limit int
	reqs  []models.CreateAssetRequest
}

func (f *fakeCreator) Create(_ context.Context, _ models.Actor, req models.CreateAssetRequest) (*models.Asset, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if f.limit > 0 && len(f.reqs) >= f.limit {
		return nil, &models.QuotaExceededError{Kind: models.ResourceAsset, Limit: int64(f.limit), Attempted: int64(f.limit + 1)}
	}
	f.reqs = append(f.reqs, req)
	return &models.Asset{ID: fmt.Sprint(len(f.reqs)), DeviceType: req.DeviceType}, nil
}

// workbook builds an xlsx file with one sheet of string cells
func workbook(t *testing.T, sheet string, rows [][]string) *bytes.Buffer {
	t.Helper()
	f := xlsx.NewFile()
	sh, err := f.AddSheet(sheet)
	require.NoError(t, err)
	for _, cells := range rows {
		row := sh.AddRow()
		for _, v := range cells {
			row.AddCell().SetString(v)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

var actor = models.Actor{UserID: "u1", TenantID: "t1", Roles: []string{models.RoleAssetManager}}

func TestImportExcelCreatesAssets(t *testing.T) {
	buf := workbook(t, "Assets", [][]string{
		{"Name", "Type", "S/N", "Manufacturer", "Warranty Expires", "Cost"},
		{"Front desk", "laptop", "SN-1", "Dell", "2027-01-31", "$1,299.50"},
		{"", "monitor", "SN-2", "LG", "", ""},
	})
	fc := &fakeCreator{}

	sum, err := ImportExcel(context.Background(), fc, buf, ImportOptions{Actor: actor})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Inserted)
	assert.Zero(t, sum.Errors)
	assert.Nil(t, sum.Stopped)
	require.Len(t, fc.reqs, 2)

	first := fc.reqs[0]
	assert.Equal(t, models.DeviceLaptop, first.DeviceType)
	require.NotNil(t, first.SerialNumber)
	assert.Equal(t, "SN-1", *first.SerialNumber)
	require.NotNil(t, first.WarrantyEnd)
	assert.Equal(t, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC), *first.WarrantyEnd)
	require.NotNil(t, first.PurchaseCostCents)
	assert.Equal(t, int64(129950), *first.PurchaseCostCents)

	assert.Equal(t, models.DeviceMonitor, fc.reqs[1].DeviceType)
	assert.Nil(t, fc.reqs[1].Name)
}

func TestImportExcelRowErrors(t *testing.T) {
	buf := workbook(t, "Assets", [][]string{
		{"Name", "Device Type", "Serial", "Warranty Start", "Warranty End"},
		{"ok", "phone", "A", "", ""},
		{"bad type", "toaster", "B", "", ""},
		{"bad window", "phone", "C", "2026-05-01", "2026-01-01"},
		{"bad date", "phone", "D", "", "someday"},
		{"duplicate", "phone", "a", "", ""},
	})
	fc := &fakeCreator{}

	sum, err := ImportExcel(context.Background(), fc, buf, ImportOptions{Actor: actor})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 3, sum.Errors)
	assert.Equal(t, 1, sum.Skipped)
	require.Len(t, sum.Sheets, 1)
	require.Len(t, sum.Sheets[0].Samples, 3)
	assert.Equal(t, 3, sum.Sheets[0].Samples[0].Row)
}

func TestImportExcelStopsAtQuota(t *testing.T) {
	rows := [][]string{{"Device Type", "Serial"}}
	for i := 0; i < 5; i++ {
		rows = append(rows, []string{"tablet", fmt.Sprintf("T-%d", i)})
	}
	fc := &fakeCreator{limit: 3}

	sum, err := ImportExcel(context.Background(), fc, workbook(t, "Assets", rows), ImportOptions{Actor: actor})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Inserted)
	require.NotNil(t, sum.Stopped)
	assert.Equal(t, 5, sum.Stopped.Row)
	assert.Contains(t, sum.Stopped.Message, "quota exceeded")
	assert.Len(t, fc.reqs, 3)
}

func TestImportExcelDryRunWritesNothing(t *testing.T) {
	buf := workbook(t, "laptops", [][]string{
		{"Name", "Serial", "CPU", "RAM GB"},
		{"dev box", "L-1", "i7", "32"},
		{"spare", "L-2", "i5", "lots"},
	})
	fc := &fakeCreator{}

	sum, err := ImportExcel(context.Background(), fc, buf, ImportOptions{Actor: actor, DryRun: true})
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 1, sum.Errors)
	assert.Empty(t, fc.reqs)
}

func TestImportExcelTooManyErrors(t *testing.T) {
	buf := workbook(t, "Assets", [][]string{
		{"Device Type"},
		{"x"}, {"y"}, {"z"},
	})
	_, err := ImportExcel(context.Background(), &fakeCreator{}, buf, ImportOptions{Actor: actor, MaxErrors: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many errors")
}

func TestImportExcelRejectsGarbage(t *testing.T) {
	_, err := ImportExcel(context.Background(), &fakeCreator{}, bytes.NewBufferString("not a workbook"), ImportOptions{Actor: actor})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open Excel file")
}

func TestParseMapping(t *testing.T) {
	m, err := LoadMapping("")
	require.NoError(t, err)
	assert.Contains(t, m.Sheets, "Assets")
	assert.Equal(t, "laptop", m.Sheets["Laptops"].DeviceType)

	_, err = ParseMapping([]byte("version: 1\nsheets: {}\n"))
	assert.Error(t, err)

	_, err = ParseMapping([]byte("version: 1\nsheets:\n  S:\n    columns:\n      X: { field: mgmt_ip }\n"))
	assert.ErrorContains(t, err, "unknown field")

	_, err = ParseMapping([]byte("version: 1\nsheets:\n  S:\n    device_type: fridge\n"))
	assert.ErrorContains(t, err, "unknown device type")
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in, typ string
		want    interface{}
		wantErr bool
	}{
		{"hello", "TEXT", "hello", false},
		{"12", "INT", 12, false},
		{"twelve", "INT", nil, true},
		{"Yes", "BOOL", true, false},
		{"1,000.10", "MONEY", int64(100010), false},
		{"-5", "MONEY", nil, true},
		{"2026-02-03", "DATE", time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC), false},
		{"02/03/2026", "DATE", time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC), false},
		{"soon", "DATE?", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.typ+"/"+tt.in, func(t *testing.T) {
			got, err := parseValue(tt.in, tt.typ)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
