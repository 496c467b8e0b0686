package display

import (
	"context"
	"fmt"
	"io"
	"os"

	"hyperflow/config"
	"hyperflow/internal/events"
	"hyperflow/logger"
)

// Consumer drains the event bus and writes the rendered stream to out.
// It owns the optional CSV export stream and the max-trades stop condition.
type Consumer struct {
	cfg       config.DisplayConfig
	formatter *Formatter
	out       io.Writer
	log       *logger.Log

	// onLimit fires once when max_trades accepted trades have been shown.
	onLimit func()

	// exportOut receives CSV trade lines when csv_export is enabled. It is
	// stderr so the export can be redirected separately from the display.
	exportOut io.Writer
	exportFmt *Formatter
	shown     uint64
}

// NewConsumer builds a consumer writing to out. onLimit may be nil when no
// trade limit is configured.
func NewConsumer(cfg config.DisplayConfig, out io.Writer, onLimit func()) *Consumer {
	c := &Consumer{
		cfg:       cfg,
		formatter: NewFormatter(cfg.Format, cfg.NoColor, cfg.VerboseTrades),
		out:       out,
		log:       logger.GetLogger(),
		onLimit:   onLimit,
	}
	if cfg.CSVExport {
		c.exportOut = os.Stderr
		c.exportFmt = NewFormatter("csv", true, cfg.VerboseTrades)
	}
	return c
}

// Run consumes events until the channel closes or the context is cancelled.
// The session blocks on a full bus, so Run must keep draining for the
// lifetime of the client.
func (c *Consumer) Run(ctx context.Context, ch <-chan events.Event) {
	log := c.log.WithComponent("display")

	if c.exportOut != nil {
		fmt.Fprintln(c.exportOut, c.exportFmt.Header())
		log.Info("csv export to stderr enabled")
	}

	if header := c.formatter.Header(); header != "" && !c.cfg.Quiet && !c.cfg.PriceOnly {
		fmt.Fprintln(c.out, header)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.handle(ev)
		}
	}
}

func (c *Consumer) handle(ev events.Event) {
	switch ev.Type {
	case events.TypeTradeReceived:
		c.handleTrade(ev)
	case events.TypeMessageReceived:
		// Raw payloads are for metrics consumers, not the terminal.
	default:
		c.handleStatus(ev)
	}
}

func (c *Consumer) handleTrade(ev events.Event) {
	trade := ev.Trade
	if trade == nil {
		return
	}

	if c.cfg.PriceOnly {
		fmt.Fprintln(c.out, c.formatter.Price(trade))
	} else {
		fmt.Fprintln(c.out, c.formatter.Trade(trade))
	}

	if c.exportOut != nil {
		fmt.Fprintln(c.exportOut, c.exportFmt.Trade(trade))
	}

	c.shown++
	if c.cfg.MaxTrades > 0 && c.shown >= c.cfg.MaxTrades && c.onLimit != nil {
		c.log.WithComponent("display").WithFields(logger.Fields{
			"max_trades": c.cfg.MaxTrades,
		}).Info("trade limit reached, stopping")
		limit := c.onLimit
		c.onLimit = nil
		limit()
	}
}

func (c *Consumer) handleStatus(ev events.Event) {
	if c.cfg.Quiet || c.cfg.PriceOnly {
		return
	}

	var line string
	switch ev.Type {
	case events.TypeStarting:
		line = c.formatter.Status("starting client")
	case events.TypeConnecting:
		line = c.formatter.Status(fmt.Sprintf("connecting to %s", ev.URL))
	case events.TypeConnected:
		line = c.formatter.Status(fmt.Sprintf("connected (session %s)", ev.SessionID))
	case events.TypeSubscriptionSent:
		line = c.formatter.Status("subscription sent")
	case events.TypeSubscriptionConfirmed:
		line = c.formatter.Status(fmt.Sprintf("subscribed to %s for %s", ev.SubType, ev.Coin))
	case events.TypeReconnecting:
		line = c.formatter.Warning(fmt.Sprintf("reconnecting (attempt %d) in %s", ev.Attempt, ev.Delay))
	case events.TypeHealthCheckFailed:
		line = c.formatter.Warning(fmt.Sprintf("health check failed: %s", ev.Reason))
	case events.TypeDisconnected:
		reason := ev.Reason
		if reason == "" {
			reason = "connection closed"
		}
		line = c.formatter.Warning(fmt.Sprintf("disconnected: %s", reason))
	case events.TypeStopping:
		line = c.formatter.Status("stopping")
	}
	if line != "" {
		fmt.Fprintln(c.out, line)
	}
}
