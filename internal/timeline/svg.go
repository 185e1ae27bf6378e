package timeline

import (
	"fmt"
	"io"
	"strings"

	"timelineboard/internal/model"
)

var monthLabels = [MonthsPerChart]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// 左侧表格列的起始 x 坐标
const (
	colModule   = 16
	colTimeline = 300
	colDuration = 520
	colStatus   = 680
)

// RenderSVG 把布局结果画成 SVG：左侧表格、月份/周网格、状态色块
func RenderSVG(w io.Writer, chart Chart, modules []model.Module) error {
	cfg := chart.Config.withDefaults()

	var svg strings.Builder
	fmt.Fprintf(&svg, `<?xml version="1.0" encoding="UTF-8"?>
<svg width="%g" height="%g" xmlns="http://www.w3.org/2000/svg">
<rect width="100%%" height="100%%" fill="#ffffff"/>
<defs>
<style>
.head { font-family: Arial, sans-serif; font-size: 13px; font-weight: bold; fill: #333333; }
.cell { font-family: Arial, sans-serif; font-size: 12px; fill: #333333; }
.pill { font-family: Arial, sans-serif; font-size: 11px; fill: #ffffff; }
</style>
</defs>
`, chart.Width, chart.Height)

	// 表头
	headerY := cfg.HeaderHeight / 2
	for _, col := range []struct {
		x     int
		title string
	}{{colModule, "Module"}, {colTimeline, "Timeline"}, {colDuration, "Duration"}, {colStatus, "Status"}} {
		fmt.Fprintf(&svg, `<text class="head" x="%d" y="%g">%s</text>`+"\n", col.x, headerY, col.title)
	}
	for m := 0; m < MonthsPerChart; m++ {
		x := float64(FixedLeftWidth + m*MonthWidth)
		fmt.Fprintf(&svg, `<text class="head" x="%g" y="%g">%s</text>`+"\n", x+MonthWidth/2-12, headerY, monthLabels[m])
		for wk := 0; wk < WeeksPerMonth; wk++ {
			gx := x + float64(wk*WeekWidth)
			stroke := "#eeeeee"
			if wk == 0 {
				stroke = "#cccccc"
			}
			fmt.Fprintf(&svg, `<line x1="%g" y1="%g" x2="%g" y2="%g" stroke="%s"/>`+"\n",
				gx, cfg.HeaderHeight, gx, chart.Height, stroke)
		}
	}

	// 表格行
	for i, m := range modules {
		top := cfg.HeaderHeight + float64(i)*cfg.RowHeight
		textY := top + cfg.RowHeight/2 + 4
		fmt.Fprintf(&svg, `<line x1="0" y1="%g" x2="%g" y2="%g" stroke="#dddddd"/>`+"\n", top, chart.Width, top)
		fmt.Fprintf(&svg, `<text class="cell" x="%d" y="%g">%s</text>`+"\n", colModule, textY, escapeXML(m.Name))
		fmt.Fprintf(&svg, `<text class="cell" x="%d" y="%g">%s</text>`+"\n", colTimeline, textY, escapeXML(m.Timeline))
		fmt.Fprintf(&svg, `<text class="cell" x="%d" y="%g">%s</text>`+"\n", colDuration, textY, escapeXML(m.Duration))
		fmt.Fprintf(&svg, `<text class="cell" x="%d" y="%g">%s</text>`+"\n", colStatus, textY, escapeXML(m.Status))
	}

	// 色块覆盖层
	for _, p := range chart.Pills {
		color := p.Color
		if color == "" {
			color = "#888888"
		}
		fmt.Fprintf(&svg, `<rect x="%g" y="%g" width="%g" height="%g" rx="%g" fill="%s"/>`+"\n",
			p.Left, p.Top, p.Width, p.Height, p.Height/2, color)
		fmt.Fprintf(&svg, `<text class="pill" x="%g" y="%g">%s</text>`+"\n",
			p.Left+8, p.Top+p.Height/2+4, escapeXML(p.Label))
	}

	svg.WriteString("</svg>\n")
	_, err := io.WriteString(w, svg.String())
	return err
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
