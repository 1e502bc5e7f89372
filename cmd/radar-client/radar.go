package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/flightscope/internal/markers"
	"github.com/unklstewy/flightscope/pkg/coordinates"
)

// Terminal characters are ~2:1 (height:width), so X distances are scaled
// by 0.5 to keep rings round.
const aspectRatio = 0.5

const (
	infoPanelWidth = 48
	minRadarWidth  = 60
	minRadarHeight = 20
)

var headingGlyphs = []rune{'↑', '↗', '→', '↘', '↓', '↙', '←', '↖'}

var (
	borderStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	centerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	aircraftStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	cardinalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Bold(true)
	ringStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	ringNumStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// headingGlyph picks an arrow for the aircraft's track. Aircraft without a
// known track are drawn as a plain circle.
func headingGlyph(s markers.RenderState) rune {
	if !s.HasRotation {
		return '○'
	}
	heading := coordinates.NormalizeAzimuth(s.Rotation - markers.RotationOffset)
	idx := int(math.Round(heading/45)) % len(headingGlyphs)
	return headingGlyphs[idx]
}

// radarSize returns the drawable grid size for the current terminal.
func (m model) radarSize() (int, int) {
	w := m.width - infoPanelWidth
	if w < minRadarWidth {
		w = minRadarWidth
	}
	h := m.height - 8
	if h < minRadarHeight {
		h = minRadarHeight
	}
	return w, h
}

// scale returns screen rows per nautical mile.
func (m model) scale(w, h int) float64 {
	maxY := float64(h/2 - 1)
	maxX := float64(w/2-2) * aspectRatio
	return math.Min(maxX, maxY) / m.radarRadius
}

// radarToScreen converts a position to grid X/Y. Returns -1,-1 when the
// position is outside the radar radius or the grid.
func (m model) radarToScreen(lat, lon float64) (int, int) {
	pos := coordinates.Geographic{Latitude: lat, Longitude: lon}

	distanceNM := coordinates.DistanceNauticalMiles(m.center, pos)
	if distanceNM > m.radarRadius {
		return -1, -1
	}
	bearingRad := coordinates.Bearing(m.center, pos) * math.Pi / 180.0

	w, h := m.radarSize()
	screenDist := distanceNM * m.scale(w, h)

	// Bearing 0° is up (negative Y), 90° is right
	x := w/2 + int(math.Round(screenDist*math.Sin(bearingRad)/aspectRatio))
	y := h/2 - int(math.Round(screenDist*math.Cos(bearingRad)))

	if x < 0 || x >= w || y < 0 || y >= h {
		return -1, -1
	}
	return x, y
}

// renderRadar draws the scope: range rings, cardinal points and one glyph
// per marker. The highlighted aircraft gets its callsign alongside.
func (m model) renderRadar() string {
	w, h := m.radarSize()
	grid := make([][]rune, h)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", w))
	}

	cx, cy := w/2, h/2
	scale := m.scale(w, h)

	for _, ring := range m.cfg.Client.RangeRingsNM {
		if ring <= 0 || ring > m.radarRadius {
			continue
		}
		r := int(ring * scale)
		drawCircle(grid, cx, cy, r, '·')

		label := fmt.Sprintf("%.0f", ring)
		putString(grid, cx-len(label)/2, cy-r, label)
	}

	maxR := int(m.radarRadius * scale)
	setRune(grid, cx, cy-maxR, 'N')
	setRune(grid, cx+int(float64(maxR)/aspectRatio), cy, 'E')
	setRune(grid, cx, cy+maxR, 'S')
	setRune(grid, cx-int(float64(maxR)/aspectRatio), cy, 'W')
	grid[cy][cx] = '+'

	var selectedX, selectedY = -1, -1
	var selectedLabel string
	for _, mk := range m.scope.sorted() {
		if !mk.State.Position.Valid {
			continue
		}
		x, y := m.radarToScreen(mk.State.Position.Lat, mk.State.Position.Lng)
		if x < 0 {
			continue
		}
		if mk.ID == m.scope.highlighted {
			selectedX, selectedY, selectedLabel = x, y, mk.State.InfoLine1
			continue
		}
		grid[y][x] = headingGlyph(mk.State)
	}
	if selectedX >= 0 {
		grid[selectedY][selectedX] = '◉'
		putString(grid, selectedX+2, selectedY, selectedLabel)
	}

	var b strings.Builder
	b.WriteString(borderStyle.Render("┌" + strings.Repeat("─", w) + "┐"))
	b.WriteString("\n")
	for y := 0; y < h; y++ {
		b.WriteString(borderStyle.Render("│"))
		for x := 0; x < w; x++ {
			b.WriteString(styleRune(grid[y][x]))
		}
		b.WriteString(borderStyle.Render("│"))
		b.WriteString("\n")
	}
	b.WriteString(borderStyle.Render("└" + strings.Repeat("─", w) + "┘"))
	return b.String()
}

func styleRune(ch rune) string {
	s := string(ch)
	switch {
	case ch == ' ':
		return s
	case ch == '+':
		return centerStyle.Render(s)
	case ch == '◉':
		return selectedStyle.Render(s)
	case ch == '○' || strings.ContainsRune(string(headingGlyphs), ch):
		return aircraftStyle.Render(s)
	case ch == '·':
		return ringStyle.Render(s)
	case ch >= '0' && ch <= '9':
		return ringNumStyle.Render(s)
	case ch == 'N' || ch == 'E' || ch == 'S' || ch == 'W':
		return cardinalStyle.Render(s)
	default:
		return labelStyle.Render(s)
	}
}

// drawCircle draws a circle using Bresenham's algorithm, stretching X by the
// aspect ratio.
func drawCircle(grid [][]rune, cx, cy, radius int, ch rune) {
	x, y, e := radius, 0, 0
	for x >= y {
		xs := int(float64(x) / aspectRatio)
		ys := int(float64(y) / aspectRatio)

		setRune(grid, cx+xs, cy+y, ch)
		setRune(grid, cx+ys, cy+x, ch)
		setRune(grid, cx-ys, cy+x, ch)
		setRune(grid, cx-xs, cy+y, ch)
		setRune(grid, cx-xs, cy-y, ch)
		setRune(grid, cx-ys, cy-x, ch)
		setRune(grid, cx+ys, cy-x, ch)
		setRune(grid, cx+xs, cy-y, ch)

		y++
		e += 1 + 2*y
		if 2*(e-x)+1 > 0 {
			x--
			e += 1 - 2*x
		}
	}
}

// setRune writes ch if (x, y) is on the grid and the cell is blank or ring.
func setRune(grid [][]rune, x, y int, ch rune) {
	if y < 0 || y >= len(grid) || x < 0 || x >= len(grid[y]) {
		return
	}
	if grid[y][x] == ' ' || grid[y][x] == '·' {
		grid[y][x] = ch
	}
}

func putString(grid [][]rune, x, y int, s string) {
	for i, ch := range []rune(s) {
		setRune(grid, x+i, y, ch)
	}
}

// renderInfo renders the side panel: scope settings, poll status and the
// selected aircraft's details.
func (m model) renderInfo() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("SCOPE"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Center:   %.4f°, %.4f°\n", m.center.Latitude, m.center.Longitude)
	fmt.Fprintf(&b, "Radius:   %.0f NM\n", m.radarRadius)
	fmt.Fprintf(&b, "Aircraft: %d\n", len(m.scope.markers))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("POLLING"))
	b.WriteString("\n")
	status := "running"
	if !m.poller.Running() {
		status = "stopped"
	}
	fmt.Fprintf(&b, "Status:   %s every %s\n", status, m.poller.Interval())
	if m.lastUpdate.IsZero() {
		b.WriteString("Updated:  never\n")
	} else {
		fmt.Fprintf(&b, "Updated:  %s\n", m.lastUpdate.Format(time.TimeOnly))
	}
	if m.lastErr != nil {
		b.WriteString(errStyle.Render(truncate("Error: "+m.lastErr.Error(), infoPanelWidth-4)))
		b.WriteString("\n")
	}
	if m.rejected > 0 {
		fmt.Fprintf(&b, "Rejected: %d records\n", m.rejected)
	}
	switch {
	case m.creditsErr != nil:
		b.WriteString("Credits:  unavailable\n")
	case m.remaining >= 0:
		fmt.Fprintf(&b, "Credits:  %d\n", m.remaining)
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("SELECTED"))
	b.WriteString("\n")
	if len(m.scope.panel) == 0 {
		b.WriteString(helpStyle.Render("None"))
		b.WriteString("\n")
	}
	for _, line := range m.scope.panel {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(helpStyle.Render("TAB/↑/↓: Move  ENTER: Select  ESC: Clear\n"))
	b.WriteString(helpStyle.Render("+/-: Radius  [/]: Interval\n"))
	b.WriteString(helpStyle.Render("S: Start/Stop  R: Refresh  C: Credits  Q: Quit"))
	return b.String()
}

// renderList renders a window of the aircraft list around the cursor.
func (m model) renderList() string {
	var b strings.Builder

	list := m.scope.sorted()
	b.WriteString(headerStyle.Render("Aircraft:"))
	fmt.Fprintf(&b, " (%d)\n", len(list))

	if len(list) == 0 {
		b.WriteString(helpStyle.Render("  No aircraft in range"))
		return b.String()
	}

	const rows = 5
	start := 0
	if m.cursor > 2 && len(list) > rows {
		start = m.cursor - 2
	}
	end := start + rows
	if end > len(list) {
		end = len(list)
	}

	for i := start; i < end; i++ {
		mk := list[i]
		prefix := "  "
		if i == m.cursor {
			prefix = "→ "
		}
		mark := ""
		if mk.ID == m.scope.highlighted {
			mark = " [SELECTED]"
		}
		line := fmt.Sprintf("%s%-8s %s  %s%s", prefix, mk.State.InfoLine1, mk.ID, mk.State.InfoLine2, mark)
		if i == m.cursor {
			line = lipgloss.NewStyle().Background(lipgloss.Color("237")).Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
