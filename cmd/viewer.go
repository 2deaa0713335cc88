package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/internal/client/overlay"
	"github.com/livecast/overlay-delivery-service/internal/client/session"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/urfave/cli/v2"
)

func viewerCmd() *cli.Command {
	return &cli.Command{
		Name:            "viewer",
		Aliases:         []string{"v"},
		Usage:           "Watch a stream's overlays in the terminal",
		SkipFlagParsing: true,
		Action: func(c *cli.Context) error {
			fs := config.NewFlagSet("viewer")
			fs.String("prompt", "", "Seed the sentiment overlay with this prompt's recorded tally")
			loader, cfg, err := parseFlags(c, fs)
			if err != nil {
				return err
			}
			if err := cfg.ValidateViewer(); err != nil {
				return err
			}

			// the terminal belongs to the overlays, logs go to a file
			logOut := io.Writer(os.Stderr)
			if cfg.Viewer.Renderer == "termui" {
				f, err := os.OpenFile(filepath.Join(os.TempDir(), "overlay-viewer.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				logOut = f
			}
			logger, level, err := NewLogger(cfg.Log, logOut)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var renderer overlay.Renderer
			if cfg.Viewer.Renderer == "termui" {
				term, err := overlay.NewTermRenderer(fmt.Sprintf("%s @ %s", cfg.Viewer.Username, cfg.Viewer.StreamID))
				if err != nil {
					return err
				}
				defer term.Close()
				renderer = term

				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				defer cancel()
				go func() {
					term.Run(ctx)
					cancel()
				}()
			} else {
				renderer = overlay.NewLogRenderer(logger)
			}

			sess, err := session.New(cfg, renderer, session.WithLogger(logger))
			if err != nil {
				return err
			}
			defer sess.Close()

			loader.Watch(logger, func(next *config.Config) {
				setLevel(level, next.Log.Level)
				if err := sess.Reconfigure(ctx, next.Notify); err != nil {
					logger.Warn("[VIEWER] reconfigure failed", "err", err)
				}
			})

			if prompt, _ := fs.GetString("prompt"); prompt != "" {
				tally, err := fetchTally(ctx, cfg.Viewer.ServerURL, cfg.Viewer.StreamID, prompt)
				if err != nil {
					logger.Warn("[VIEWER] tally not seeded", "prompt_id", prompt, "err", err)
				} else if err := sess.SeedTally(ctx, tally); err != nil {
					return err
				}
			}

			return sess.Run(ctx)
		},
	}
}

// fetchTally reads the recorded aggregate from the hub's REST API. The base
// URL is derived from the WebSocket URL.
func fetchTally(ctx context.Context, wsURL, streamID, promptID string) (model.VoteTally, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return model.VoteTally{}, err
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.RawQuery = ""
	u.Path = fmt.Sprintf("/api/v1/streams/%s/prompts/%s/tally", url.PathEscape(streamID), url.PathEscape(promptID))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.VoteTally{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return model.VoteTally{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.VoteTally{}, fmt.Errorf("tally: unexpected status %s", resp.Status)
	}
	var tally model.VoteTally
	if err := json.NewDecoder(resp.Body).Decode(&tally); err != nil {
		return model.VoteTally{}, fmt.Errorf("tally: decode: %w", err)
	}
	return tally, nil
}
