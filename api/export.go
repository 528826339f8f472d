/*
export.go - Balance spreadsheet export

PURPOSE:
  Serves GET /api/warehouse/balance.xlsx. Same filters and rows as
  GET /api/warehouse/balance, rendered with excelize as a single sheet.

COLUMNS:
  resource_id, resource, unit_id, unit, quantity

SEE ALSO:
  - handlers.go: loadBalance (filter parsing)
*/
package api

import (
	"bytes"
	"net/http"

	"github.com/xuri/excelize/v2"

	"github.com/warp/warehouse-ledger/warehouse"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportBalance serves the balance report as a spreadsheet. Filters are the
// same as GetBalance.
func (h *Handler) ExportBalance(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.loadBalance(w, r)
	if !ok {
		return
	}

	buf, err := balanceWorkbook(entries)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="balance.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// balanceWorkbook renders one sheet: a header row, then one row per pair.
func balanceWorkbook(entries []warehouse.BalanceEntry) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	header := []interface{}{"resource_id", "resource", "unit_id", "unit", "quantity"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}

	for i, e := range entries {
		row := []interface{}{e.ResourceID, e.ResourceName, e.UnitID, e.UnitName, e.Quantity}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
