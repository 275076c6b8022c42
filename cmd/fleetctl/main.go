package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"

	"AgentFleet/sdk/go/agentfleet"
)

var opts struct {
	URL     string        `long:"url" env:"AGENTFLEET_URL" default:"http://127.0.0.1:8080" description:"状态 API 地址"`
	Token   string        `long:"token" env:"AGENTFLEET_TOKEN" description:"Bearer 令牌"`
	Index   int           `long:"index" description:"只查看指定序号的账户"`
	Timeout time.Duration `long:"timeout" default:"10s" description:"请求超时"`
}

// main 查询正在运行的 agentfleetd 并以表格输出账户状态。
func main() {
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(1)
	}

	client, err := agentfleet.NewClient(opts.URL, nil)
	if err != nil {
		log.Fatalf("fleetctl: %v", err)
	}
	client.SetAccessToken(opts.Token)

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	var accounts []agentfleet.Account
	if opts.Index > 0 {
		acct, err := client.Account(ctx, opts.Index)
		if err != nil {
			log.Fatalf("fleetctl: %v", err)
		}
		accounts = []agentfleet.Account{acct}
	} else {
		accounts, err = client.Accounts(ctx)
		if err != nil {
			log.Fatalf("fleetctl: %v", err)
		}
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Address", "Balance", "Today", "Stage", "Message"})
	table.SetAutoWrapText(false)
	for _, acct := range accounts {
		stage := acct.Stage
		if acct.Stopped {
			stage = "stopped"
		}
		table.Append([]string{
			strconv.Itoa(acct.Index),
			acct.Address,
			acct.Balance.Amount.StringFixed(4) + " " + acct.Balance.Symbol,
			fmt.Sprintf("%d/%d", acct.InteractionsToday, acct.QuotaLimit),
			stage,
			acct.Message,
		})
	}
	table.Render()
}
