package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vincentbai/formshot-agent/internal/agent"
	"github.com/vincentbai/formshot-agent/internal/browser"
	"github.com/vincentbai/formshot-agent/internal/config"
	"github.com/vincentbai/formshot-agent/internal/database"
	"github.com/vincentbai/formshot-agent/internal/htmldoc"
	"github.com/vincentbai/formshot-agent/internal/models"
	"github.com/vincentbai/formshot-agent/internal/server"
	"github.com/vincentbai/formshot-agent/internal/snapshot"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func openDatabase() (*database.Database, error) {
	if err := cfg.EnsureDataDirectory(); err != nil {
		return nil, err
	}
	return database.NewDatabase(cfg.Database)
}

func newBrowser() *browser.Manager {
	headless := true
	if cfg.Browser.Headless != nil {
		headless = *cfg.Browser.Headless
	}
	return browser.NewManager(browser.Config{
		RemoteURL:         cfg.Browser.Remote,
		Headless:          headless,
		Stealth:           cfg.Browser.Stealth,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		Logger:            logger,
	})
}

func isPageURL(target string) bool {
	u, err := url.Parse(target)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// openTarget returns the document for a page URL or an HTML file path, the URL
// its shots are filed under and a function releasing it.
func openTarget(ctx context.Context, target string) (snapshot.Document, string, func(), error) {
	if !isPageURL(target) {
		if _, err := os.Stat(target); err != nil {
			return nil, "", nil, err
		}
		f := htmldoc.NewFile(target)
		return f, f.URL(), func() {}, nil
	}

	m := newBrowser()
	page, err := m.Tab(ctx, target)
	if err != nil {
		m.Close()
		return nil, "", nil, err
	}
	pageURL := page.URL()
	if pageURL == "" {
		pageURL = target
	}
	return page, pageURL, func() { m.Close() }, nil
}

// attachTargets binds the configured targets to the agent. A target that
// cannot be opened is logged and skipped.
func attachTargets(ctx context.Context, a *agent.Agent, open server.PageOpener, targets []config.TargetConfig) int {
	attached := 0
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		info := models.Target{ID: t.ID}
		var doc snapshot.Document
		if t.File != "" {
			if _, err := os.Stat(t.File); err != nil {
				logger.Warn("serve: skipping target", zap.String("file", t.File), zap.Error(err))
				continue
			}
			f := htmldoc.NewFile(t.File)
			info.Kind, info.URL, doc = "file", f.URL(), f
		} else {
			if open == nil {
				logger.Warn("serve: skipping target, no browser", zap.String("url", t.URL))
				continue
			}
			page, err := open(ctx, t.URL)
			if err != nil {
				logger.Warn("serve: skipping target", zap.String("url", t.URL), zap.Error(err))
				continue
			}
			info.Kind, info.URL, doc = "page", t.URL, page
		}
		if _, ok := a.Attach(info, doc); ok {
			attached++
		}
	}
	return attached
}

func describe(res *snapshot.Result) string {
	s := fmt.Sprintf("%d by position, %d by id/name", res.Positional, res.Identity)
	if res.Dropped > 0 {
		s += fmt.Sprintf(", %d not found", res.Dropped)
	}
	if n := len(res.Failures); n > 0 {
		s += fmt.Sprintf(", %d failed", n)
	}
	return s
}
