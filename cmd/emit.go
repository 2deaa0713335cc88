package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/livecast/overlay-delivery-service/config"
	"github.com/livecast/overlay-delivery-service/internal/client/bus"
	"github.com/livecast/overlay-delivery-service/internal/client/transport"
	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"
)

func emitCmd() *cli.Command {
	return &cli.Command{
		Name:            "emit",
		Usage:           "Send one viewer action and wait for the hub to echo it",
		ArgsUsage:       "<join-stream|tip-sent|vote-casted|token-traded> [flags]",
		SkipFlagParsing: true,
		Action: func(c *cli.Context) error {
			fs := config.NewFlagSet("emit")
			fs.Float64("amount", 0, "Tip or vote amount")
			fs.String("prompt", "", "Prompt id for vote-casted")
			fs.Bool("bull", true, "Vote side for vote-casted")
			fs.String("token_in", "", "Sold leg for token-traded as amount:name:decimals")
			fs.String("token_out", "", "Bought leg for token-traded as amount:name:decimals")

			_, cfg, err := parseFlags(c, fs)
			if err != nil {
				return err
			}
			if err := cfg.ValidateViewer(); err != nil {
				return err
			}
			if fs.NArg() != 1 {
				return cli.Exit("emit: exactly one event kind is required", 2)
			}
			kind, ok := model.ParseKind(fs.Arg(0))
			if !ok || !kind.IsDomain() {
				return fmt.Errorf("emit: %q is not a viewer action", fs.Arg(0))
			}

			logger, _, err := NewLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}

			viewer := model.Viewer{Username: cfg.Viewer.Username, ProfilePictureURL: cfg.Viewer.AvatarURL}
			payload, err := buildPayload(kind, viewer, fs)
			if err != nil {
				return err
			}

			client := transport.New(cfg.Viewer.ServerURL, cfg.Viewer.StreamID,
				transport.WithIdentity(viewer),
				transport.WithHandshakeTimeout(cfg.Transport.HandshakeTimeout),
				transport.WithLogger(logger))
			defer client.Disconnect()

			adapter := bus.New(client, bus.WithLogger(logger))
			defer adapter.Close()

			// the hub fans out to the sender too, so our own echo confirms delivery
			echoed := make(chan struct{})
			want := payload.(model.Displayable).Fingerprint()
			sub := adapter.Subscribe(kind, func(ev model.Event) {
				if d, ok := ev.Displayable(); ok && d.Fingerprint() == want {
					select {
					case <-echoed:
					default:
						close(echoed)
					}
				}
			})
			defer sub.Close()

			ctx, cancel := context.WithTimeout(c.Context, 2*cfg.Transport.HandshakeTimeout)
			defer cancel()

			if err := client.Connect(ctx); err != nil {
				return err
			}
			if err := adapter.Publish(ctx, model.Event{StreamID: cfg.Viewer.StreamID, Payload: payload}); err != nil {
				return err
			}

			select {
			case <-echoed:
				logger.Info("[EMIT] delivered", "kind", kind, "stream_id", cfg.Viewer.StreamID)
				return nil
			case <-ctx.Done():
				return fmt.Errorf("emit: no echo from hub: %w", ctx.Err())
			}
		},
	}
}

func buildPayload(kind model.Kind, viewer model.Viewer, fs *pflag.FlagSet) (model.Payload, error) {
	amount, _ := fs.GetFloat64("amount")

	var p model.Payload
	switch kind {
	case model.KindJoinStream:
		p = &model.JoinStream{Viewer: viewer}
	case model.KindTipSent:
		p = &model.TipSent{Viewer: viewer, TipAmount: amount}
	case model.KindVoteCast:
		prompt, _ := fs.GetString("prompt")
		bull, _ := fs.GetBool("bull")
		p = &model.VoteCast{Viewer: viewer, VoteAmount: amount, IsBull: bull, PromptID: prompt}
	case model.KindTokenTraded:
		rawIn, _ := fs.GetString("token_in")
		rawOut, _ := fs.GetString("token_out")
		in, err := parseToken(rawIn)
		if err != nil {
			return nil, fmt.Errorf("token_in: %w", err)
		}
		out, err := parseToken(rawOut)
		if err != nil {
			return nil, fmt.Errorf("token_out: %w", err)
		}
		p = &model.TokenTraded{Viewer: viewer, TokenIn: in, TokenOut: out}
	default:
		return nil, fmt.Errorf("emit: unsupported kind %s", kind)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("emit %s: %w", kind, err)
	}
	return p, nil
}

// parseToken reads "amount:name:decimals", e.g. "1500000000000000000:ETH:18".
func parseToken(s string) (model.Token, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return model.Token{}, errors.New("expected amount:name:decimals")
	}
	decimals, err := strconv.Atoi(parts[2])
	if err != nil {
		return model.Token{}, fmt.Errorf("decimals: %w", err)
	}
	return model.Token{Amount: parts[0], Name: parts[1], Decimals: decimals}, nil
}
