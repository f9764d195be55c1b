// Package export renders ledger records as spreadsheet and PDF documents.
package export

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"chekitimer/internal/engine"
	"chekitimer/internal/ledger"
)

const (
	RecordsSheet = "records"
	SummarySheet = "summary"
)

var recordHeader = []string{
	"Seq", "Timestamp", "Timer", "Group", "Entity", "Items",
	"Units", "Distribution", "Seconds", "Overtime", "Status",
}

// XLSX renders a workbook with a records sheet and a summary sheet.
func XLSX(recs []ledger.Record, sum ledger.Summary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", RecordsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, err
	}

	for i, h := range recordHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(RecordsSheet, cell, h)
	}
	for i, r := range recs {
		row := i + 2
		values := []any{
			r.Seq,
			r.Timestamp.Format(time.RFC3339),
			r.TimerID,
			r.GroupKey,
			r.EntityKey,
			r.ItemNames,
			r.TotalUnits,
			r.Distribution,
			r.TotalSeconds,
			r.OvertimeSeconds,
			string(r.Status),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(RecordsSheet, cell, v)
		}
	}
	_ = f.SetPanes(RecordsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	rows := [][2]any{
		{"Sessions", sum.Count},
		{"Completed", sum.Completed},
		{"Cancelled", sum.Cancelled},
		{"Groups", strings.Join(sum.Groups, ", ")},
		{"Total units", sum.TotalUnits},
		{"Total distribution", sum.TotalDistribution},
		{"Scheduled seconds", sum.TotalSeconds},
		{"Net overtime seconds", sum.NetOvertime},
		{"Net overtime", sum.OvertimeLabel()},
	}
	for i, kv := range rows {
		_ = f.SetCellValue(SummarySheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(SummarySheet, fmt.Sprintf("B%d", i+1), kv[1])
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PDFOptions controls the PDF layout. FontFile, when set, is a TTF font
// with the glyphs the records need (e.g. CJK); the built-in font only
// covers Latin-1.
type PDFOptions struct {
	Title       string
	HeaderColor string
	FontFile    string
	GeneratedAt time.Time
}

// PDF renders the summary and a record table.
func PDF(recs []ledger.Record, sum ledger.Summary, opt PDFOptions) ([]byte, error) {
	if opt.Title == "" {
		opt.Title = "Session Ledger"
	}
	if opt.HeaderColor == "" {
		opt.HeaderColor = "#4169e1"
	}
	if opt.GeneratedAt.IsZero() {
		opt.GeneratedAt = time.Now()
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	family := "Arial"
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	if opt.FontFile != "" {
		family = "body"
		pdf.AddUTF8Font(family, "", opt.FontFile)
		pdf.AddUTF8Font(family, "B", opt.FontFile)
		tr = func(s string) string { return s }
	}
	pdf.AddPage()

	// Title band; text color follows the band color.
	br, bg, bb := hexRGB(opt.HeaderColor)
	tcr, tcg, tcb := hexRGB(engine.ContrastColor(opt.HeaderColor))
	pdf.SetFillColor(br, bg, bb)
	pdf.SetTextColor(tcr, tcg, tcb)
	pdf.SetFont(family, "B", 14)
	pdf.CellFormat(0, 10, tr(opt.Title), "", 1, "L", true, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(2)

	pdf.SetFont(family, "", 10)
	lines := []string{
		fmt.Sprintf("Generated: %s", opt.GeneratedAt.Format(time.RFC3339)),
		fmt.Sprintf("Sessions: %d (completed %d, cancelled %d)", sum.Count, sum.Completed, sum.Cancelled),
		fmt.Sprintf("Groups: %s", strings.Join(sum.Groups, ", ")),
		fmt.Sprintf("Units: %d  Distribution: %d", sum.TotalUnits, sum.TotalDistribution),
		fmt.Sprintf("Scheduled: %s  Net: %s", engine.FormatClock(sum.TotalSeconds), sum.OvertimeLabel()),
	}
	for _, l := range lines {
		pdf.Cell(0, 6, tr(l))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	widths := []float64{12, 32, 28, 28, 40, 14, 18, 18}
	header := []string{"Seq", "Group", "Entity", "Time", "Items", "Units", "Over", "Status"}
	pdf.SetFont(family, "B", 9)
	for i, h := range header {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont(family, "", 9)
	for _, r := range recs {
		cells := []string{
			strconv.FormatInt(r.Seq, 10),
			r.GroupKey,
			r.EntityKey,
			r.Timestamp.Format("01-02 15:04"),
			r.ItemNames,
			strconv.Itoa(r.TotalUnits),
			engine.FormatClock(r.OvertimeSeconds),
			string(r.Status),
		}
		for i, c := range cells {
			align := "L"
			if i == 0 || i >= 5 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 6, tr(clip(c, 24)), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func hexRGB(hex string) (int, int, int) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if len(h) != 6 || err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}

// FileName builds a timestamped export name, e.g. ledger-20260101-1000.xlsx.
func FileName(prefix, ext string, at time.Time) string {
	return fmt.Sprintf("%s-%s.%s", prefix, at.Format("20060102-1504"), strings.TrimPrefix(ext, "."))
}
