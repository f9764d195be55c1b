package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Canonical column names.
const (
	colGroup        = "group"
	colEntity       = "entity"
	colMemberColor  = "member_color"
	colName         = "name"
	colColor        = "color"
	colUnits        = "units"
	colSeconds      = "seconds"
	colMargin       = "margin_seconds"
	colTargets      = "targets"
	colDistribution = "distribution"
)

// headerAliases maps spreadsheet headers (Japanese and English) to columns.
var headerAliases = map[string]string{
	"グループ名": colGroup, "グループ": colGroup, "group": colGroup, "groupname": colGroup,

	"タレント名": colEntity, "タレント": colEntity, "talent": colEntity, "talentname": colEntity,
	"entity": colEntity,

	"メンバーカラー": colMemberColor, "メンバー色": colMemberColor, "カラー": colMemberColor,
	"membercolor": colMemberColor, "member_color": colMemberColor, "color": colMemberColor,

	"ボタン名": colName, "ボタン": colName, "button": colName, "buttonname": colName, "name": colName,

	"ボタンカラー": colColor, "ボタン色": colColor, "buttoncolor": colColor,

	"チケット枚数": colUnits, "チケット": colUnits, "ticket": colUnits, "ticketcount": colUnits,
	"units": colUnits,

	"秒数": colSeconds, "時間": colSeconds, "time": colSeconds, "seconds": colSeconds,

	"マージン秒数": colMargin, "マージン秒": colMargin, "マージン": colMargin, "margin": colMargin,
	"marginseconds": colMargin, "margin_seconds": colMargin,

	"対象タレント": colTargets, "対象": colTargets, "target": colTargets, "targettalents": colTargets,
	"targets": colTargets,

	"配当枚数": colDistribution, "配当": colDistribution, "distribution": colDistribution,
	"distributioncount": colDistribution,
}

var ErrMissingColumns = errors.New("csv: missing required columns")

// ParseCSV reads a catalog spreadsheet export. The first row is the header;
// unknown headers are ignored. Rows without group, entity or name are skipped
// and counted.
func ParseCSV(r io.Reader) (templates []Template, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("%w: empty file", ErrMissingColumns)
		}
		return nil, 0, fmt.Errorf("csv header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		col, ok := headerAliases[h]
		if !ok {
			col, ok = headerAliases[strings.ToLower(h)]
		}
		if !ok {
			continue
		}
		if _, dup := idx[col]; !dup {
			idx[col] = i
		}
	}
	var missing []string
	for _, col := range []string{colGroup, colEntity, colName} {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, 0, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("csv row: %w", err)
		}
		field := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		raw := rawTemplate{
			Group:       field(colGroup),
			Entity:      field(colEntity),
			Name:        field(colName),
			Color:       field(colColor),
			MemberColor: field(colMemberColor),
			Units:       intField(field(colUnits)),
			Seconds:     intField(field(colSeconds)),
			Margin:      intField(field(colMargin)),
			Targets:     splitTargets(field(colTargets)),
			Dist:        intField(field(colDistribution)),
		}
		t, ok := raw.normalize()
		if !ok {
			skipped++
			continue
		}
		templates = append(templates, t)
	}
	return templates, skipped, nil
}

// intField returns nil for blank or non-numeric cells so defaults apply.
func intField(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func splitTargets(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '、' || r == '|' || r == ';' })
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
