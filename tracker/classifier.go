package tracker

import (
	"fmt"
	"time"

	"mailtracker/models"
	"mailtracker/utils"
)

// Decision is the outcome of classifying one pixel fetch.
type Decision int

const (
	SenderOrBotAccess Decision = iota
	TooSoonAfterFirstSeen
	AlreadyRecorded
	ReceiverOpen
)

func (d Decision) String() string {
	switch d {
	case SenderOrBotAccess:
		return "sender_or_bot"
	case TooSoonAfterFirstSeen:
		return "too_soon"
	case AlreadyRecorded:
		return "already_recorded"
	case ReceiverOpen:
		return "receiver_open"
	default:
		panic(fmt.Sprintf("tracker: unknown decision %d", int(d)))
	}
}

// Reason names the predicate that produced a decision.
type Reason string

const (
	ReasonBotSignature    Reason = "bot_signature"
	ReasonNotBrowser      Reason = "not_browser"
	ReasonSenderReferer   Reason = "sender_referer"
	ReasonFirstSeen       Reason = "first_seen"
	ReasonDebounce        Reason = "debounce"
	ReasonAlreadyRecorded Reason = "already_recorded"
	ReasonReceiverOpen    Reason = "receiver_open"
)

// Snapshot is the part of an access history entry the classifier reads.
type Snapshot struct {
	Seen        bool
	FirstSeenAt time.Time
	Recorded    int
}

type Classification struct {
	Decision Decision
	Reason   Reason
	// Confidence is only set for ReceiverOpen. It never affects the decision.
	Confidence int
	ImageProxy bool
	Delay      time.Duration
	Device     *utils.DeviceInfo
}

// Classifier decides whether a fetch is the recipient opening the message.
// It does no I/O and returns the same result for the same inputs.
type Classifier struct {
	DebounceWindow time.Duration
}

const DefaultDebounceWindow = 5 * time.Second

func NewClassifier(debounce time.Duration) Classifier {
	return Classifier{DebounceWindow: debounce}
}

// Classify runs the predicates in order; the first match wins.
func (c Classifier) Classify(meta models.RequestMetadata, snap Snapshot, now time.Time) Classification {
	ua := inspectUserAgent(meta.UserAgent)
	result := Classification{
		ImageProxy: ua.imageProxy,
		Device:     utils.ParseUserAgent(meta.UserAgent),
	}
	if snap.Seen {
		result.Delay = now.Sub(snap.FirstSeenAt)
	}

	switch {
	case ua.bot && !ua.imageProxy:
		return result.decide(SenderOrBotAccess, ReasonBotSignature)
	case !ua.browser && !ua.imageProxy:
		return result.decide(SenderOrBotAccess, ReasonNotBrowser)
	case isSenderReferer(meta.Referer):
		return result.decide(SenderOrBotAccess, ReasonSenderReferer)
	case !snap.Seen:
		return result.decide(SenderOrBotAccess, ReasonFirstSeen)
	case result.Delay < c.DebounceWindow:
		return result.decide(TooSoonAfterFirstSeen, ReasonDebounce)
	case snap.Recorded > 0:
		return result.decide(AlreadyRecorded, ReasonAlreadyRecorded)
	}

	result.Confidence = confidence(meta, result)
	return result.decide(ReceiverOpen, ReasonReceiverOpen)
}

func (c Classification) decide(d Decision, r Reason) Classification {
	c.Decision = d
	c.Reason = r
	return c
}

// confidence is additive and clamped to [0,100].
func confidence(meta models.RequestMetadata, c Classification) int {
	score := 0
	if c.ImageProxy {
		score += 40
	}
	if c.Device.Browser != "Unknown" {
		score += 30
	}
	if isInboxReferer(meta.Referer) {
		score += 25
	}

	switch {
	case c.Delay >= 5*time.Minute:
		score += 25
	case c.Delay >= time.Minute:
		score += 20
	case c.Delay >= 30*time.Second:
		score += 15
	case c.Delay >= 5*time.Second:
		score += 10
	}

	if c.Device.IsMobile() {
		score += 10
	}

	return min(max(score, 0), 100)
}
