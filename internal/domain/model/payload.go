package model

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Interface guards
var (
	_ Displayable = (*JoinStream)(nil)
	_ Displayable = (*TipSent)(nil)
	_ Displayable = (*TokenTraded)(nil)
	_ Displayable = (*VoteCast)(nil)
	_ Payload     = (*TimeSync)(nil)
)

// Viewer is the display identity attached to every outgoing viewer action.
type Viewer struct {
	Username          string `json:"username"`
	ProfilePictureURL string `json:"profilePictureUrl"`
}

func (v Viewer) validate() error {
	if strings.TrimSpace(v.Username) == "" {
		return errors.New("username is required")
	}
	return nil
}

func (v Viewer) key() string { return strings.ToLower(strings.TrimSpace(v.Username)) }

// [JOIN_STREAM]
type JoinStream struct {
	Viewer
}

func (p *JoinStream) Kind() Kind      { return KindJoinStream }
func (p *JoinStream) Actor() Viewer   { return p.Viewer }
func (p *JoinStream) Validate() error { return p.Viewer.validate() }

func (p *JoinStream) Fingerprint() string {
	return fmt.Sprintf("%s|%s", KindJoinStream, p.key())
}

func (p *JoinStream) Display() Display {
	return Display{Text: p.Username + " joined the stream", AvatarURL: p.ProfilePictureURL}
}

// [TIP_SENT]
type TipSent struct {
	Viewer
	TipAmount float64 `json:"tipAmount"`
}

func (p *TipSent) Kind() Kind    { return KindTipSent }
func (p *TipSent) Actor() Viewer { return p.Viewer }

func (p *TipSent) Validate() error {
	if err := p.Viewer.validate(); err != nil {
		return err
	}
	if p.TipAmount <= 0 {
		return fmt.Errorf("tipAmount must be positive, got %v", p.TipAmount)
	}
	return nil
}

func (p *TipSent) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s", KindTipSent, p.key(), formatAmount(p.TipAmount))
}

func (p *TipSent) Display() Display {
	return Display{
		Text:      fmt.Sprintf("%s tipped %s", p.Username, formatAmount(p.TipAmount)),
		AvatarURL: p.ProfilePictureURL,
	}
}

// Token is one leg of a swap. Amount is the raw integer amount in base units.
type Token struct {
	Amount   string `json:"amount"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	ImageURL string `json:"imageUrl"`
}

const maxTokenDecimals = 36

func (t Token) validate(leg string) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%s.name is required", leg)
	}
	if t.Decimals < 0 || t.Decimals > maxTokenDecimals {
		return fmt.Errorf("%s.decimals out of range: %d", leg, t.Decimals)
	}
	n, ok := new(big.Int).SetString(t.Amount, 10)
	if !ok || n.Sign() < 0 {
		return fmt.Errorf("%s.amount is not a non-negative integer: %q", leg, t.Amount)
	}
	return nil
}

// HumanAmount renders Amount scaled by Decimals, trimming trailing zeros.
func (t Token) HumanAmount() string {
	n, ok := new(big.Int).SetString(t.Amount, 10)
	if !ok {
		return t.Amount
	}
	if t.Decimals == 0 {
		return n.String()
	}
	r := new(big.Rat).SetFrac(n, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil))
	s := r.FloatString(t.Decimals)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// [TOKEN_TRADED]
type TokenTraded struct {
	Viewer
	TokenIn  Token `json:"tokenIn"`
	TokenOut Token `json:"tokenOut"`
}

func (p *TokenTraded) Kind() Kind    { return KindTokenTraded }
func (p *TokenTraded) Actor() Viewer { return p.Viewer }

func (p *TokenTraded) Validate() error {
	if err := p.Viewer.validate(); err != nil {
		return err
	}
	if err := p.TokenIn.validate("tokenIn"); err != nil {
		return err
	}
	return p.TokenOut.validate("tokenOut")
}

// Fingerprint keys on the raw amount and its decimals, so the same digits at
// another scale are a different trade.
func (p *TokenTraded) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s:%s:%d>%s:%s:%d", KindTokenTraded, p.key(),
		p.TokenIn.Name, p.TokenIn.Amount, p.TokenIn.Decimals,
		p.TokenOut.Name, p.TokenOut.Amount, p.TokenOut.Decimals)
}

// Pair is the market label, e.g. "ETH/USDC".
func (p *TokenTraded) Pair() string { return p.TokenIn.Name + "/" + p.TokenOut.Name }

func (p *TokenTraded) Display() Display {
	return Display{
		Text: fmt.Sprintf("%s swapped %s %s for %s %s", p.Username,
			p.TokenIn.HumanAmount(), p.TokenIn.Name, p.TokenOut.HumanAmount(), p.TokenOut.Name),
		AvatarURL: p.ProfilePictureURL,
	}
}

// [VOTE_CAST]
type VoteCast struct {
	Viewer
	VoteAmount float64 `json:"voteAmount"`
	IsBull     bool    `json:"isBull"`
	PromptID   string  `json:"promptId"`
}

func (p *VoteCast) Kind() Kind    { return KindVoteCast }
func (p *VoteCast) Actor() Viewer { return p.Viewer }

func (p *VoteCast) Validate() error {
	if err := p.Viewer.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.PromptID) == "" {
		return errors.New("promptId is required")
	}
	if p.VoteAmount <= 0 {
		return fmt.Errorf("voteAmount must be positive, got %v", p.VoteAmount)
	}
	return nil
}

// Side renders the sentiment as shown on the overlay.
func (p *VoteCast) Side() string {
	if p.IsBull {
		return "BULL"
	}
	return "BEAR"
}

func (p *VoteCast) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", KindVoteCast, p.key(), p.PromptID, p.Side(), formatAmount(p.VoteAmount))
}

func (p *VoteCast) Display() Display {
	return Display{
		Text:      fmt.Sprintf("%s voted %s with %s", p.Username, p.Side(), formatAmount(p.VoteAmount)),
		AvatarURL: p.ProfilePictureURL,
	}
}

// [TIME_SYNC]
// TimeSync is the current-time request/response pair. The client stamps
// RequestedAt, the server echoes it back together with ServerTime (unix ms).
type TimeSync struct {
	RequestedAt int64 `json:"requestedAt"`
	ServerTime  int64 `json:"serverTime,omitempty"`
}

func (p *TimeSync) Kind() Kind { return KindCurrentTime }

func (p *TimeSync) Validate() error {
	if p.RequestedAt <= 0 {
		return errors.New("requestedAt is required")
	}
	return nil
}

func formatAmount(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
