package ui

import (
	"fmt"
	"strconv"

	"github.com/BioHazard786/warplink/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	pretty "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// FileTableItem represents a file in the table
type FileTableItem struct {
	Index int
	Name  string
	Size  int64
	Type  string
}

// FileTable renders offered files with lipgloss/table.
type FileTable struct {
	items    []FileTableItem
	showType bool
}

func NewFileTable(items []FileTableItem) *FileTable {
	return &FileTable{
		items:    items,
		showType: true,
	}
}

// HideType hides the file type column
func (t *FileTable) HideType() *FileTable {
	t.showType = false
	return t
}

func (t *FileTable) View() string {
	if len(t.items) == 0 {
		return MutedStyle.Render("No files")
	}

	headers := []string{"#", "Name", "Size"}
	if t.showType {
		headers = append(headers, "Type")
	}

	rows := make([][]string, 0, len(t.items))
	for _, item := range t.items {
		row := []string{
			strconv.Itoa(item.Index),
			utils.TruncateString(item.Name, 50),
			utils.FormatSize(item.Size),
		}
		if t.showType {
			row = append(row, utils.TruncateString(item.Type, 20))
		}
		rows = append(rows, row)
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func (t *FileTable) Render() {
	fmt.Println(t.View())
}

func RenderFileTable(items []FileTableItem) {
	fmt.Println(NewFileTable(items).View())
}

// summaryTable renders key/value rows with go-pretty.
func summaryTable(title string, rows [][2]string) string {
	tw := pretty.NewWriter()
	tw.SetTitle(title)
	tw.AppendHeader(pretty.Row{"Metric", "Value"})
	for _, r := range rows {
		tw.AppendRow(pretty.Row{r[0], r[1]})
	}
	tw.SetStyle(pretty.StyleRounded)
	tw.Style().Title.Align = text.AlignCenter
	tw.Style().Format.Header = text.FormatTitle
	tw.SetColumnConfigs([]pretty.ColumnConfig{
		{Number: 1, Colors: text.Colors{text.FgCyan}},
	})
	return tw.Render()
}

type TransferSummary struct {
	Status    string
	Files     int
	TotalSize string
	Duration  string
	Speed     string
}

func TransferSummaryView(summary TransferSummary) string {
	return summaryTable("Transfer Summary", [][2]string{
		{"Status", summary.Status},
		{"Files", strconv.Itoa(summary.Files)},
		{"Total Size", summary.TotalSize},
		{"Duration", summary.Duration},
		{"Avg Speed", summary.Speed},
	})
}

func RenderTransferSummary(summary TransferSummary) {
	fmt.Println(TransferSummaryView(summary))
}

// SessionSummary describes a negotiated session.
type SessionSummary struct {
	Room      string
	Role      string
	State     string
	Transport string
	Gathering string
	Took      string
}

func SessionSummaryView(s SessionSummary) string {
	return summaryTable("Session", [][2]string{
		{"Room", s.Room},
		{"Role", s.Role},
		{"State", s.State},
		{"Signaling", s.Transport},
		{"Candidates", s.Gathering},
		{"Negotiation", s.Took},
	})
}

type RoomInfo struct {
	RoomID  string
	Command string
}

func NewRoomInfo(roomID, command string) *RoomInfo {
	return &RoomInfo{
		RoomID:  roomID,
		Command: command,
	}
}

func (r *RoomInfo) View() string {
	content := fmt.Sprintf("%s Room Created!\n\n%s Room:     %s\n%s Receive:  %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconLink, MutedStyle.Render(r.Command),
	)
	return RoomBoxStyle.Render(content)
}
