// Package trigger decides whether an inbound message should get a reply.
package trigger

import (
	"regexp"
	"slices"
	"strings"

	"nitrobot/internal/domain"
)

// ParticipationWindow is how many recent thread messages are scanned for a
// prior bot message.
const ParticipationWindow = 50

// Greeting is sent instead of a backend call when the question is empty.
const Greeting = "Hi! Ask me anything and I'll help you out."

// Verdict is a rule's outcome.
type Verdict int

const (
	Abstain Verdict = iota
	Respond
	Ignore
)

func (v Verdict) String() string {
	switch v {
	case Respond:
		return "respond"
	case Ignore:
		return "ignore"
	default:
		return "abstain"
	}
}

// Input is everything the rules look at.
type Input struct {
	Message domain.InboundMessage
	BotID   string
	// ReplyToBot reports whether the message replies to one of the bot's
	// messages. Resolving it may fetch the referenced message, so it is
	// only called once the cheaper rules have abstained.
	ReplyToBot func() bool
	// Participation reports whether the bot already posted in the message's
	// thread. It is only called by the thread rule.
	Participation func() bool
}

// Decision is the evaluator's answer.
type Decision struct {
	Respond        bool
	IncludeHistory bool
	Rule           string // name of the deciding rule
}

// Rule is one step of the evaluation order.
type Rule struct {
	Name  string
	Apply func(Input) Verdict
}

// Rules in evaluation order. The first rule that does not abstain decides.
var (
	BotAuthorRule = Rule{Name: "bot-author", Apply: func(in Input) Verdict {
		if in.Message.Author.Bot || in.Message.Author.ID == in.BotID {
			return Ignore
		}
		return Abstain
	}}

	DirectMessageRule = Rule{Name: "direct-message", Apply: func(in Input) Verdict {
		if in.Message.Kind == domain.KindDirect {
			return Respond
		}
		return Abstain
	}}

	MentionRule = Rule{Name: "mention", Apply: func(in Input) Verdict {
		if Mentions(in.Message, in.BotID) {
			return Respond
		}
		return Abstain
	}}

	ReplyToBotRule = Rule{Name: "reply-to-bot", Apply: func(in Input) Verdict {
		if in.repliesToBot() {
			return Respond
		}
		return Abstain
	}}

	ThreadParticipationRule = Rule{Name: "thread-participation", Apply: func(in Input) Verdict {
		if !in.Message.InThread() {
			return Abstain
		}
		if in.Participation != nil && in.Participation() {
			return Respond
		}
		return Ignore
	}}
)

// DefaultRules is the standard evaluation order.
func DefaultRules() []Rule {
	return []Rule{BotAuthorRule, DirectMessageRule, MentionRule, ReplyToBotRule, ThreadParticipationRule}
}

// Evaluator applies an ordered rule list.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator creates an evaluator. With no rules the default order is used.
func NewEvaluator(rules ...Rule) *Evaluator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Evaluator{rules: rules}
}

// Decide evaluates the rules in order. When every rule abstains the message
// is ignored.
func (e *Evaluator) Decide(in Input) Decision {
	d := Decision{Rule: "default", IncludeHistory: IncludeHistory(in)}
	for _, r := range e.rules {
		v := r.Apply(in)
		if v == Abstain {
			continue
		}
		d.Rule = r.Name
		d.Respond = v == Respond
		break
	}
	return d
}

// IncludeHistory reports whether prior messages should be attached: inside
// threads and for replies. A bare first mention stays single-shot.
func IncludeHistory(in Input) bool {
	return in.Message.InThread() || in.Message.Reference != nil || in.repliesToBot()
}

func (in Input) repliesToBot() bool {
	return in.ReplyToBot != nil && in.ReplyToBot()
}

// mentionPattern matches <@ID> and <@!ID> markup for one user id.
func mentionPattern(botID string) *regexp.Regexp {
	return regexp.MustCompile(`<@!?` + regexp.QuoteMeta(botID) + `>`)
}

// Mentions reports whether msg mentions botID, either through the
// platform's structured mention list or through inline markup.
func Mentions(msg domain.InboundMessage, botID string) bool {
	if botID == "" {
		return false
	}
	if slices.Contains(msg.Mentions, botID) {
		return true
	}
	return mentionPattern(botID).MatchString(msg.Content)
}

// StripMention removes botID's mention markup from text and trims it.
func StripMention(text, botID string) string {
	if botID != "" {
		text = mentionPattern(botID).ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// ExtractQuestion returns the question carried by msg, with the bot's
// mention removed. An empty result means the greeting should be sent.
func ExtractQuestion(msg domain.InboundMessage, botID string) string {
	return StripMention(msg.Content, botID)
}
