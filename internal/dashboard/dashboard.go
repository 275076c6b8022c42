package dashboard

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"AgentFleet/internal/clock"
	"AgentFleet/internal/status"
)

const clearScreen = "\033[H\033[2J"

// Renderer 周期性地把状态表渲染成终端表格。它只读取状态表，不会阻塞 Worker。
type Renderer struct {
	registry *status.Registry
	out      io.Writer
	interval time.Duration
	clear    bool
	now      func() time.Time
}

// New 创建 Renderer。interval 非正时使用 1 秒。
func New(registry *status.Registry, out io.Writer, interval time.Duration) *Renderer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Renderer{registry: registry, out: out, interval: interval, clear: true, now: time.Now}
}

// Run 按固定间隔刷新直到上下文取消。
func (r *Renderer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.Render(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Render 输出一帧。
func (r *Renderer) Render() error {
	var buf strings.Builder
	if r.clear {
		buf.WriteString(clearScreen)
	}
	now := r.now()
	fmt.Fprintf(&buf, "AgentFleet  %s\n", now.UTC().Format(time.RFC3339))

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"#", "Address", "Balance", "Interactions", "Status"})
	table.SetAutoWrapText(false)
	for _, snap := range r.registry.Snapshots() {
		table.Append([]string{
			fmt.Sprint(snap.Index),
			shortAddress(snap.Address),
			balanceCell(snap),
			interactionsCell(snap),
			statusCell(snap, now),
		})
	}
	table.Render()

	_, err := io.WriteString(r.out, buf.String())
	return err
}

func shortAddress(addr string) string {
	if addr == "" {
		return "-"
	}
	if len(addr) <= 14 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-6:]
}

func balanceCell(snap status.Snapshot) string {
	if snap.Balance.Symbol == "" && snap.Balance.Amount.IsZero() {
		return "-"
	}
	return snap.Balance.Amount.StringFixed(4) + " " + snap.Balance.Symbol
}

func interactionsCell(snap status.Snapshot) string {
	total := "-"
	if n, ok := snap.TotalInteractions(); ok {
		total = fmt.Sprint(n)
	}
	return fmt.Sprintf("%s (today %d/%d)", total, snap.InteractionsToday, snap.QuotaLimit)
}

func statusCell(snap status.Snapshot, now time.Time) string {
	if snap.Stopped {
		return "stopped: " + snap.Message
	}
	if !snap.ResumeAt.IsZero() && snap.ResumeAt.After(now) {
		return "next cycle in " + clock.FormatDelay(snap.ResumeAt.Sub(now))
	}
	if snap.Message == "" {
		return snap.Stage
	}
	return fmt.Sprintf("[%s] %s", snap.Stage, snap.Message)
}
