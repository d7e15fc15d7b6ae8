package reports

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/vastramandir/storefront_backend/models"
	"github.com/vastramandir/storefront_backend/utils"
	"github.com/xuri/excelize/v2"
)

const orderSheet = "Orders"

var orderExportHeadings = []string{
	"Order", "Placed", "Customer", "Phone", "Address", "Pincode",
	"Items", "Payment", "Payment State", "UPI Ref", "Express", "Total", "Status",
}

func orderRow(o *models.Order) []interface{} {
	items := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		label := item.Title
		if item.Color != "" || item.Size != "" {
			label += fmt.Sprintf(" (%s/%s)", item.Color, item.Size)
		}
		items = append(items, fmt.Sprintf("%s x%d", label, item.Quantity))
	}
	return []interface{}{
		o.ID,
		o.CreatedAt.Format("2006-01-02 15:04"),
		o.CustomerName,
		o.Phone,
		o.Address,
		o.Pincode,
		strings.Join(items, "; "),
		string(o.PaymentMode),
		string(o.PaymentState),
		utils.DereferencePtr(o.PaymentReference),
		o.IsUrgent,
		o.ItemPrice.InexactFloat64(),
		string(o.Status),
	}
}

// BuildOrderWorkbook lays orders out one per row under a header row.
func BuildOrderWorkbook(orders []*models.Order) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", orderSheet); err != nil {
		return nil, err
	}

	header := make([]interface{}, len(orderExportHeadings))
	for i, h := range orderExportHeadings {
		header[i] = h
	}
	if err := f.SetSheetRow(orderSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, o := range orders {
		row := orderRow(o)
		if err := f.SetSheetRow(orderSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}
	if err := f.SetPanes(orderSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}
	return f, nil
}

// ExportOrders writes the orders of an admin group as an .xlsx workbook.
func ExportOrders(ctx context.Context, store *models.OrderStore, group string, w io.Writer) error {
	statuses, err := models.StatusGroup(group)
	if err != nil {
		return err
	}
	orders, err := store.ListByStatus(ctx, statuses, 500)
	if err != nil {
		return err
	}
	f, err := BuildOrderWorkbook(orders)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}
