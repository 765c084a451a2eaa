// Package ui 终端表格界面（bubbletea）
package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"crypto-arbitrage-engine/internal/arbitrage"
	"crypto-arbitrage-engine/internal/feed"
	"crypto-arbitrage-engine/pkg/common"
)

// Source 界面的数据来源
type Source interface {
	Latest() common.Ranking
	Status() feed.Status
}

var (
	filters = []string{"all", "direct", "triangular", "futures"}
	sorts   = []string{"profit", "spread", "time"}
)

// Model Bubbletea模型
type Model struct {
	table      table.Model
	source     Source
	ranking    common.Ranking
	status     feed.Status
	sortBy     string // "profit", "spread", "time"
	sortDesc   bool
	filterType string // "all", "direct", "triangular", "futures"
	lastUpdate time.Time
	paused     bool
	width      int
	height     int
}

// TickMsg 定时更新消息
type TickMsg time.Time

// NewModel 创建新模型
func NewModel(src Source) Model {
	columns := []table.Column{
		{Title: "Type", Width: 11},
		{Title: "Pair / Path", Width: 28},
		{Title: "Buy", Width: 26},
		{Title: "Sell", Width: 26},
		{Title: "Spread %", Width: 10},
		{Title: "Fees $", Width: 10},
		{Title: "Net $", Width: 12},
		{Title: "Note", Width: 22},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		table:      t,
		source:     src,
		sortBy:     "profit",
		sortDesc:   true,
		filterType: "all",
		lastUpdate: time.Now(),
	}
}

// Init 初始化
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update 更新
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(msg.Height - 10)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case " ", "p":
			m.paused = !m.paused
		case "r":
			m.refresh()
		case "s":
			m.sortBy = next(sorts, m.sortBy)
			m.updateTable()
		case "d":
			m.sortDesc = !m.sortDesc
			m.updateTable()
		case "f":
			m.filterType = next(filters, m.filterType)
			m.updateTable()
		}

	case TickMsg:
		if !m.paused {
			m.refresh()
		}
		return m, tickCmd()
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func next(options []string, current string) string {
	for i, o := range options {
		if o == current {
			return options[(i+1)%len(options)]
		}
	}
	return options[0]
}

// refresh 从数据源读取最新排名和状态
func (m *Model) refresh() {
	if m.source == nil {
		return
	}
	m.ranking = m.source.Latest()
	m.status = m.source.Status()
	m.lastUpdate = time.Now()
	m.updateTable()
}

// View 视图
func (m Model) View() string {
	var b strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)
	b.WriteString(titleStyle.Render("Crypto Arbitrage Monitor"))
	b.WriteString("\n\n")

	statsStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	pausedIndicator := ""
	if m.paused {
		pausedIndicator = " | ⏸ PAUSED"
	}
	stats := fmt.Sprintf(
		"Cycle: %d | Opportunities: %d | Sort: %s %s | Filter: %s | Last Update: %s%s",
		m.ranking.Cycle,
		len(m.table.Rows()),
		m.sortBy,
		m.getSortDirectionSymbol(),
		m.filterType,
		m.lastUpdate.Format("15:04:05"),
		pausedIndicator,
	)
	b.WriteString(statsStyle.Render(stats))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	help := "Keys: [Space/p] Pause | [s] Sort Field | [d] Sort Direction | [f] Filter | [r] Refresh | [q] Quit"
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

// statusLine 活跃交易所与不活跃原因
func (m Model) statusLine() string {
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	badStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	parts := make([]string, 0, len(m.status.Exchanges))
	for _, es := range m.status.Exchanges {
		if es.Contributing {
			parts = append(parts, okStyle.Render(string(es.Exchange)))
		} else {
			parts = append(parts, badStyle.Render(fmt.Sprintf("%s (%s)", es.Exchange, es.Reason)))
		}
	}
	line := "Exchanges: " + strings.Join(parts, " ")
	if !m.status.Enabled && m.status.Reason != "" {
		line += " | " + badStyle.Render("detection inactive: "+m.status.Reason)
	}
	return line
}

// updateTable 更新表格
func (m *Model) updateTable() {
	opps := arbitrage.FilterOpportunities(m.ranking.Opportunities, m.filterType)
	opps = m.sortOpportunities(opps)

	rows := make([]table.Row, 0, len(opps))
	for _, opp := range opps {
		rows = append(rows, createRow(opp))
	}
	m.table.SetRows(rows)
}

// sortOpportunities 排序，不修改原排名
func (m *Model) sortOpportunities(opps []common.Opportunity) []common.Opportunity {
	sorted := make([]common.Opportunity, len(opps))
	copy(sorted, opps)

	sort.SliceStable(sorted, func(i, j int) bool {
		var c int
		switch m.sortBy {
		case "spread":
			c = spreadOf(sorted[i]).Cmp(spreadOf(sorted[j]))
		case "time":
			ti, tj := sorted[i].Timestamp(), sorted[j].Timestamp()
			switch {
			case ti.Before(tj):
				c = -1
			case ti.After(tj):
				c = 1
			}
		default:
			c = sorted[i].NetProfit().Cmp(sorted[j].NetProfit())
		}
		if m.sortDesc {
			return c > 0
		}
		return c < 0
	})
	return sorted
}

// createRow 一行套利机会
func createRow(opp common.Opportunity) table.Row {
	switch opp.Kind {
	case common.KindDirect:
		o := opp.Direct
		note := ""
		if o.BestNetwork != nil {
			note = fmt.Sprintf("%s %dm", o.BestNetwork.Name, o.BestNetwork.EstimatedTimeMinutes)
			if o.ConstraintViolation {
				note += " !"
			}
		}
		return table.Row{
			"direct",
			fmt.Sprintf("%s %s", o.Pair, strings.ToLower(string(o.MarketType))),
			fmt.Sprintf("%s @%s", o.FromExchange, o.FromPrice.String()),
			fmt.Sprintf("%s @%s", o.ToExchange, o.ToPrice.String()),
			o.SpreadPercent.StringFixed(3) + "%",
			o.Fees.StringFixed(2),
			o.NetProfit.StringFixed(2),
			note,
		}
	case common.KindTriangular:
		o := opp.Triangular
		return table.Row{
			"triangular",
			strings.Join(o.Path, ">"),
			string(o.Exchange),
			fmt.Sprintf("%s, %s, %s", o.FirstPair, o.SecondPair, o.ThirdPair),
			o.ProfitPercent.StringFixed(3) + "%",
			o.Fees.StringFixed(2),
			o.NetProfit.StringFixed(2),
			"",
		}
	case common.KindFutures:
		o := opp.Futures
		return table.Row{
			"futures",
			o.Pair,
			fmt.Sprintf("%s spot @%s", o.Exchange, o.SpotPrice.String()),
			fmt.Sprintf("%s perp @%s", o.Exchange, o.FuturesPrice.String()),
			o.SpreadPercent.StringFixed(3) + "%",
			o.Fees.StringFixed(2),
			o.NetProfit.StringFixed(2),
			fmt.Sprintf("funding %s/%s", o.FundingRate.Mul(hundred).StringFixed(4)+"%", o.FundingInterval),
		}
	}
	return table.Row{string(opp.Kind), "", "", "", "", "", "", ""}
}

// getSortDirectionSymbol 获取排序方向符号
func (m Model) getSortDirectionSymbol() string {
	if m.sortDesc {
		return "↓"
	}
	return "↑"
}

// tickCmd 定时器命令
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
