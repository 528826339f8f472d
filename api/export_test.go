package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/warehouse-ledger/warehouse"
)

func TestBalanceWorkbook_Rows(t *testing.T) {
	buf, err := balanceWorkbook([]warehouse.BalanceEntry{
		{ResourceID: 1, UnitID: 2, ResourceName: "Bolt", UnitName: "pcs", Quantity: 7},
		{ResourceID: 1, UnitID: 3, ResourceName: "Bolt", UnitName: "kg", Quantity: 0},
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"resource_id", "resource", "unit_id", "unit", "quantity"},
		{"1", "Bolt", "2", "pcs", "7"},
		{"1", "Bolt", "3", "kg", "0"},
	}, rows)
}

func TestExportBalance_Endpoint(t *testing.T) {
	ts := newTestServer(t)
	bolt := ts.create("resources", "Bolt")
	nut := ts.create("resources", "Nut")
	pcs := ts.create("units", "pcs")
	ts.arrival("A-1", "2024-01-01",
		LineRequest{ResourceID: bolt, UnitID: pcs, Quantity: 4},
		LineRequest{ResourceID: nut, UnitID: pcs, Quantity: 9})

	// WHEN
	resp, err := http.Get(ts.srv.URL + fmt.Sprintf("/api/warehouse/balance.xlsx?resource_id=%d", nut))
	require.NoError(t, err)
	defer resp.Body.Close()

	// THEN
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "balance.xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{fmt.Sprint(nut), "Nut", fmt.Sprint(pcs), "pcs", "9"}, rows[1])
}

func TestExportBalance_BadFilter(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/warehouse/balance.xlsx?unit_id=pcs", nil, nil))
}
