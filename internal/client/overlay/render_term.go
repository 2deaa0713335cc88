package overlay

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/livecast/overlay-delivery-service/internal/client/notify"
)

var _ Renderer = (*TermRenderer)(nil)

// TermRenderer draws the overlays as termui widgets: the popup on top, the
// sentiment gauge in the middle and the markets tape at the bottom.
type TermRenderer struct {
	mu sync.Mutex

	popup     *widgets.Paragraph
	sentiment *widgets.Gauge
	prompts   *widgets.List
	tape      *widgets.List
}

// NewTermRenderer takes over the terminal. Call Close to restore it.
func NewTermRenderer(title string) (*TermRenderer, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("overlay: init terminal: %w", err)
	}

	r := &TermRenderer{
		popup:     widgets.NewParagraph(),
		sentiment: widgets.NewGauge(),
		prompts:   widgets.NewList(),
		tape:      widgets.NewList(),
	}
	r.popup.Title = title
	r.sentiment.Title = "BULL / BEAR"
	r.sentiment.BarColor = ui.ColorGreen
	r.prompts.Title = "Prompts"
	r.tape.Title = "Markets"

	r.layout()
	r.draw()
	return r, nil
}

// Run redraws on resize and returns when the viewer presses q or ctx ends.
func (r *TermRenderer) Run(ctx context.Context) {
	events := ui.PollEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return
			case "<Resize>":
				r.mu.Lock()
				ui.Clear()
				r.layout()
				r.draw()
				r.mu.Unlock()
			}
		}
	}
}

func (r *TermRenderer) Close() { ui.Close() }

func (r *TermRenderer) Show(it *notify.QueueItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.popup.Text = it.Display.Text
	r.popup.TextStyle = ui.NewStyle(ui.ColorWhite, ui.ColorClear, ui.ModifierBold)
	r.draw()
}

func (r *TermRenderer) Exit(*notify.QueueItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.popup.TextStyle = ui.NewStyle(ui.ColorWhite)
	r.draw()
}

func (r *TermRenderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.popup.Text = ""
	r.draw()
}

func (r *TermRenderer) RenderSentiment(view SentimentView) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := make([]string, 0, len(view.Tallies))
	for _, t := range view.Tallies {
		rows = append(rows, fmt.Sprintf("%s  bull %d (%g)  bear %d (%g)",
			t.PromptID, t.BullVotes, t.BullAmount, t.BearVotes, t.BearAmount))
	}
	r.prompts.Rows = rows

	if n := len(view.Tallies); n > 0 {
		last := view.Tallies[n-1]
		r.sentiment.Percent = int(last.BullShare() * 100)
		r.sentiment.Label = fmt.Sprintf("%s %d%% bull", last.PromptID, r.sentiment.Percent)
	}
	if view.Latest != nil {
		r.sentiment.Title = "BULL / BEAR  " + view.Latest.Text
	} else {
		r.sentiment.Title = "BULL / BEAR"
	}
	r.draw()
}

func (r *TermRenderer) RenderMarkets(view MarketsView) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := make([]string, 0, len(view.Tape)+len(view.Pairs)+1)
	for _, p := range view.Pairs {
		rows = append(rows, fmt.Sprintf("[%s](fg:cyan) %d trades, %g in", p.Pair, p.Trades, p.VolumeIn))
	}
	if len(view.Pairs) > 0 {
		rows = append(rows, strings.Repeat("-", 20))
	}
	for _, t := range view.Tape {
		rows = append(rows, t.At.Format("15:04:05")+" "+t.Text)
	}
	r.tape.Rows = rows
	r.draw()
}

func (r *TermRenderer) layout() {
	w, h := ui.TerminalDimensions()
	r.popup.SetRect(0, 0, w, 3)
	r.sentiment.SetRect(0, 3, w, 6)
	r.prompts.SetRect(0, 6, w, 6+max(3, h/4))
	r.tape.SetRect(0, 6+max(3, h/4), w, h)
}

func (r *TermRenderer) draw() {
	ui.Render(r.popup, r.sentiment, r.prompts, r.tape)
}
