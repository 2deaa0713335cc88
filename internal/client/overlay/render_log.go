package overlay

import (
	"log/slog"

	"github.com/livecast/overlay-delivery-service/internal/client/notify"
)

var _ Renderer = (*LogRenderer)(nil)

// LogRenderer writes every surface update as a structured log record. It is
// the headless renderer used when no terminal is attached.
type LogRenderer struct {
	logger *slog.Logger
}

func NewLogRenderer(logger *slog.Logger) *LogRenderer {
	return &LogRenderer{logger: logger.With("component", "overlay")}
}

func (r *LogRenderer) Show(it *notify.QueueItem) {
	r.logger.Info("[POPUP] show",
		"item_id", it.ID,
		"seq", it.Seq,
		"kind", it.Event.Kind(),
		"text", it.Display.Text,
		"avatar", it.Display.AvatarURL)
}

func (r *LogRenderer) Exit(it *notify.QueueItem) {
	r.logger.Debug("[POPUP] exit", "item_id", it.ID)
}

func (r *LogRenderer) Clear() {
	r.logger.Debug("[POPUP] clear")
}

func (r *LogRenderer) RenderSentiment(view SentimentView) {
	for _, t := range view.Tallies {
		r.logger.Info("[SENTIMENT] tally",
			"prompt_id", t.PromptID,
			"bull_votes", t.BullVotes,
			"bear_votes", t.BearVotes,
			"bull_share", t.BullShare())
	}
}

func (r *LogRenderer) RenderMarkets(view MarketsView) {
	if len(view.Tape) == 0 {
		return
	}
	r.logger.Info("[MARKETS] trade", "text", view.Tape[0].Text, "pair", view.Tape[0].Pair)
}
