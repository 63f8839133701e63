// Package assistant produces chat replies for the docket and consult views.
// Replies are simulated; nothing here is part of the workflow state.
package assistant

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Prompt struct {
	// AgentName is set when a previous agent is being consulted.
	AgentName string
	Message   string
	// Context carries the docket brief or step name shown above the chat.
	Context string
}

type Reply struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Body   string `json:"body"`
}

type Provider interface {
	Respond(ctx context.Context, p Prompt) (Reply, error)
}

// Rule answers with Reply when the message contains any of Keywords.
type Rule struct {
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

type Options struct {
	Persona   string
	Seed      uint64
	Delay     time.Duration
	Rules     []Rule
	Fallbacks []string
}

// Canned matches keyword rules in order and otherwise picks a fallback with
// a seeded generator, so the same seed yields the same conversation.
type Canned struct {
	persona   string
	delay     time.Duration
	rules     []Rule
	fallbacks []string

	mu  sync.Mutex
	rng *rand.Rand
}

var DefaultRules = []Rule{
	{Keywords: []string{"budget", "spend", "cost"}, Reply: "The current plan stays within budget. The largest line item is paid social."},
	{Keywords: []string{"deadline", "launch", "when"}, Reply: "Launch is on track if the current step is approved this week."},
	{Keywords: []string{"why", "reason", "rationale"}, Reply: "I chose this direction because it tested best with the target audience in research."},
	{Keywords: []string{"risk", "concern", "worried"}, Reply: "The main risk is turnaround time on production assets. I would flag it to the client early."},
	{Keywords: []string{"priority", "first", "start"}, Reply: "Start with the operational items. They unblock the rest of the team."},
}

var DefaultFallbacks = []string{
	"Good question. Let me pull the relevant notes together.",
	"I can draft a couple of options for you to compare.",
	"That is covered in the brief. I can summarize the key points.",
	"I would suggest reviewing the latest documents on this step first.",
}

func NewCanned(opts Options) *Canned {
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules
	}
	fallbacks := opts.Fallbacks
	if len(fallbacks) == 0 {
		fallbacks = DefaultFallbacks
	}
	persona := opts.Persona
	if persona == "" {
		persona = "Assistant"
	}
	return &Canned{
		persona:   persona,
		delay:     opts.Delay,
		rules:     rules,
		fallbacks: fallbacks,
		rng:       rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

func (c *Canned) Respond(ctx context.Context, p Prompt) (Reply, error) {
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	author := c.persona
	if p.AgentName != "" {
		author = p.AgentName
	}
	body, ok := c.match(p.Message)
	if !ok {
		c.mu.Lock()
		body = c.fallbacks[c.rng.IntN(len(c.fallbacks))]
		c.mu.Unlock()
	}
	if p.AgentName != "" {
		body = p.AgentName + ": " + body
	}
	return Reply{ID: uuid.NewString(), Author: author, Body: body}, nil
}

func (c *Canned) match(msg string) (string, bool) {
	msg = strings.ToLower(msg)
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(msg, strings.ToLower(kw)) {
				return r.Reply, true
			}
		}
	}
	return "", false
}
