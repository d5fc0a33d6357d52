// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle  = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle  = lipgloss.NewStyle().Faint(false).PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).PaddingLeft(1).PaddingRight(1)
)

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 {
				return headerStyle
			}
			s := evenRowStyle
			if row%2 == 0 {
				s = oddRowStyle
			}
			if col > 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

// ReportTable renders the aggregate metrics as a table with one metric per row.
func ReportTable(agg *Aggregate) string {
	table := newTable().Headers("Metric", "Value")
	table.Row("Series", fmt.Sprintf("%d", agg.NumSeries))
	for _, metric := range []struct {
		name  string
		value float64
	}{
		{"MSE", agg.MSE},
		{"RMSE", agg.RMSE},
		{"NRMSE", agg.NRMSE},
		{"ND", agg.ND},
		{"MASE", agg.MASE},
		{"RMSSE", agg.RMSSE},
		{"mean_wQuantileLoss", agg.MeanWeightedQuantileLoss},
	} {
		table.Row(metric.name, fmt.Sprintf("%.4f", metric.value))
	}
	for ii, q := range agg.Quantiles {
		table.Row(fmt.Sprintf("wQuantileLoss[%.2g]", q), fmt.Sprintf("%.4f", agg.WeightedQuantileLoss[ii]))
		table.Row(fmt.Sprintf("Coverage[%.2g]", q), fmt.Sprintf("%.4f", agg.Coverage[ii]))
	}
	return table.String()
}

// ItemsTable renders the main metrics of each series, one series per row.
func ItemsTable(items []*ItemMetrics) string {
	table := newTable().Headers("Series", "MSE", "AbsError", "MASE", "RMSSE")
	for _, m := range items {
		table.Row(m.ItemID,
			fmt.Sprintf("%.4g", m.MSE),
			fmt.Sprintf("%.4g", m.AbsError),
			fmt.Sprintf("%.4f", m.MASE),
			fmt.Sprintf("%.4f", m.RMSSE))
	}
	return table.String()
}
