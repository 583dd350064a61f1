package core

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spearlab/phishtrack/database"
	"github.com/spearlab/phishtrack/log"
)

// Terminal is the interactive operator console.
type Terminal struct {
	rl      *readline.Instance
	cfg     *Config
	db      *database.Database
	codec   *TokenCodec
	engine  *TrackEngine
	gateway *Gateway
}

func NewTerminal(cfg *Config, db *database.Database, codec *TokenCodec, engine *TrackEngine, gateway *Gateway) (*Terminal, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:              color.New(color.FgCyan, color.Bold).Sprint("phishtrack") + " > ",
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		FuncFilterInputRune: nil,
	})
	if err != nil {
		return nil, err
	}
	return &Terminal{
		rl:      rl,
		cfg:     cfg,
		db:      db,
		codec:   codec,
		engine:  engine,
		gateway: gateway,
	}, nil
}

func (t *Terminal) DoWork() {
	defer t.rl.Close()

	for {
		line, err := t.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		args := strings.Fields(line)

		var cmd_err error
		switch args[0] {
		case "help":
			t.printHelp()
		case "campaigns":
			cmd_err = t.cmdCampaigns(args[1:])
		case "targets":
			cmd_err = t.cmdTargets(args[1:])
		case "links":
			cmd_err = t.cmdLinks(args[1:])
		case "delivered":
			cmd_err = t.cmdDelivered(args[1:])
		case "events":
			cmd_err = t.cmdEvents(args[1:])
		case "training":
			cmd_err = t.cmdTraining(args[1:])
		case "config":
			cmd_err = t.cmdConfig(args[1:])
		case "keys":
			cmd_err = t.cmdKeys(args[1:])
		case "exit", "quit":
			return
		default:
			cmd_err = fmt.Errorf("unknown command: %s (try 'help')", args[0])
		}
		if cmd_err != nil {
			log.Error("%v", cmd_err)
		}
	}
}

func (t *Terminal) printHelp() {
	hl := color.New(color.FgYellow)
	log.Printf(" %s : manage campaigns (list | create <scenario> <name> | activate <id> | close <id> | stats <id>)\n", hl.Sprint("campaigns"))
	log.Printf(" %s : manage targets (list <campaign_id> | add <campaign_id> <recipient>...)\n", hl.Sprint("targets  "))
	log.Printf(" %s : show minted tracking links for a target (<target_id>)\n", hl.Sprint("links    "))
	log.Printf(" %s : mark a target's email as delivered (<target_id>)\n", hl.Sprint("delivered"))
	log.Printf(" %s : show the event ledger for a campaign (<campaign_id>)\n", hl.Sprint("events   "))
	log.Printf(" %s : show training assignments (<campaign_id>)\n", hl.Sprint("training "))
	log.Printf(" %s : show or change configuration (domain | lifetime | mode | webhook)\n", hl.Sprint("config   "))
	log.Printf(" %s : signing keys (rotate)\n", hl.Sprint("keys     "))
}

func (t *Terminal) cmdCampaigns(args []string) error {
	if len(args) == 0 || args[0] == "list" {
		campaigns, err := t.db.ListCampaigns()
		if err != nil {
			return err
		}
		if len(campaigns) == 0 {
			log.Info("no campaigns")
			return nil
		}
		for _, c := range campaigns {
			log.Printf(" [%d] %-24s scenario:%-18s status:%-8s created:%s\n", c.Id, c.Name, c.Scenario, c.Status, time.Unix(c.CreateTime, 0).Format("2006-01-02"))
		}
		return nil
	}

	switch args[0] {
	case "create":
		if len(args) < 3 {
			return fmt.Errorf("usage: campaigns create <scenario> <name>")
		}
		scenario := args[1]
		name := strings.Join(args[2:], " ")
		c, err := t.db.CreateCampaign(name, scenario, "")
		if err != nil {
			return err
		}
		log.Success("created campaign [%d] %s", c.Id, c.Name)
	case "activate", "close":
		if len(args) < 2 {
			return fmt.Errorf("usage: campaigns %s <id>", args[0])
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid campaign id: %s", args[1])
		}
		status := database.CampaignStatusActive
		if args[0] == "close" {
			status = database.CampaignStatusClosed
		}
		c, err := t.db.SetCampaignStatus(id, status)
		if err != nil {
			return err
		}
		log.Success("campaign [%d] is now %s", c.Id, c.Status)
	case "stats":
		if len(args) < 2 {
			return fmt.Errorf("usage: campaigns stats <id>")
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid campaign id: %s", args[1])
		}
		return t.printStats(id)
	default:
		return fmt.Errorf("unknown subcommand: campaigns %s", args[0])
	}
	return nil
}

func (t *Terminal) printStats(campaign_id int) error {
	targets, err := t.db.ListTargets(campaign_id)
	if err != nil {
		return err
	}
	var delivered, opened, clicked, submitted, reported int
	for _, tg := range targets {
		state, _ := ParseState(tg.State)
		if state >= StateDelivered {
			delivered++
		}
		if state >= StateOpened {
			opened++
		}
		if state >= StateClicked {
			clicked++
		}
		if state >= StateSubmitted {
			submitted++
		}
		if tg.Reported {
			reported++
		}
	}
	log.Printf(" targets:%d delivered:%d opened:%d clicked:%d submitted:%d reported:%d\n", len(targets), delivered, opened, clicked, submitted, reported)
	if len(targets) > 0 {
		log.Printf(" click rate: %.1f%%  submission rate: %.1f%%\n", float64(clicked)/float64(len(targets))*100, float64(submitted)/float64(len(targets))*100)
	}
	return nil
}

func (t *Terminal) cmdTargets(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: targets list <campaign_id> | targets add <campaign_id> <recipient>...")
	}
	switch args[0] {
	case "list":
		if len(args) < 2 {
			return fmt.Errorf("usage: targets list <campaign_id>")
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid campaign id: %s", args[1])
		}
		targets, err := t.db.ListTargets(id)
		if err != nil {
			return err
		}
		for _, tg := range targets {
			flag := ""
			if tg.Reported {
				flag = " [reported]"
			}
			log.Printf(" [%d] %-32s state:%s%s\n", tg.Id, tg.Recipient, tg.State, flag)
		}
	case "add":
		if len(args) < 3 {
			return fmt.Errorf("usage: targets add <campaign_id> <recipient>...")
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid campaign id: %s", args[1])
		}
		for _, r := range args[2:] {
			tg, err := t.db.CreateTarget(id, r)
			if err != nil {
				return err
			}
			log.Success("added target [%d] %s", tg.Id, tg.Recipient)
		}
	default:
		return fmt.Errorf("unknown subcommand: targets %s", args[0])
	}
	return nil
}

func (t *Terminal) cmdLinks(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: links <target_id>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid target id: %s", args[0])
	}
	target, err := t.db.GetTarget(id)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, p := range []Purpose{PurposeOpen, PurposeClick, PurposeSubmit} {
		token, err := t.codec.Mint(target.CampaignId, target.Id, p, now)
		if err != nil {
			return err
		}
		log.Printf(" %-6s %s\n", p, t.gateway.TrackURL(token, p))
		if p == PurposeSubmit {
			log.Printf(" %-6s %s\n", "report", t.gateway.ReportURL(token))
		}
	}
	return nil
}

func (t *Terminal) cmdDelivered(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: delivered <target_id>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid target id: %s", args[0])
	}
	tg, err := t.engine.MarkDelivered(id)
	if err != nil {
		return err
	}
	log.Success("target [%d] %s is %s", tg.Id, tg.Recipient, tg.State)
	return nil
}

func (t *Terminal) cmdEvents(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: events <campaign_id>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid campaign id: %s", args[0])
	}
	events, err := t.db.ListEvents(id)
	if err != nil {
		return err
	}
	for _, e := range events {
		tags := []string{}
		if e.Causing {
			tags = append(tags, "causing")
		}
		if e.Audit {
			tags = append(tags, "audit")
		}
		log.Printf(" [%d] target:%d %-7s %s %s\n", e.Id, e.TargetId, e.Purpose, time.Unix(e.CreateTime, 0).Format("2006-01-02 15:04:05"), strings.Join(tags, ","))
	}
	return nil
}

func (t *Terminal) cmdTraining(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: training <campaign_id>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid campaign id: %s", args[0])
	}
	assignments, err := t.db.ListTraining(id)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		done := "pending"
		if a.CompletedAt != 0 {
			done = "completed"
		}
		log.Printf(" [%d] target:%d %-40s severity:%-7s %s\n", a.Id, a.TargetId, a.ContentKey, a.Severity, done)
	}
	return nil
}

func (t *Terminal) cmdConfig(args []string) error {
	if len(args) == 0 {
		log.Printf(" domain        : %s\n", t.cfg.GetBaseDomain())
		log.Printf(" base url      : %s\n", t.cfg.GetBaseURL())
		log.Printf(" token lifetime: %s\n", t.cfg.GetTokenLifetime())
		log.Printf(" dispatch mode : %s\n", t.cfg.GetDispatchMode())
		log.Printf(" webhook       : %s\n", t.cfg.GetTrainingWebhookURL())
		log.Printf(" signing key   : v%d\n", t.codec.ActiveKeyVersion())
		return nil
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: config <domain|lifetime|mode|webhook> <value>")
	}
	switch args[0] {
	case "domain":
		t.cfg.SetBaseDomain(args[1])
	case "lifetime":
		hours, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid lifetime: %s", args[1])
		}
		t.cfg.SetTokenLifetimeHours(hours)
		log.Info("token lifetime set to %dh (takes effect on restart)", hours)
	case "mode":
		if err := t.cfg.SetDispatchMode(args[1]); err != nil {
			return err
		}
		log.Info("dispatch mode set to %s (takes effect on restart)", args[1])
	case "webhook":
		t.cfg.SetTrainingWebhookURL(args[1])
	default:
		return fmt.Errorf("unknown config key: %s", args[0])
	}
	return nil
}

func (t *Terminal) cmdKeys(args []string) error {
	if len(args) < 1 || args[0] != "rotate" {
		return fmt.Errorf("usage: keys rotate")
	}
	k := t.cfg.AddSigningKey()
	return t.codec.AddKey(k.Version, []byte(k.Secret))
}
