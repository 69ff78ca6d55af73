package title

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/service/ai"
)

var errEmptyTitle = errors.New("model returned an empty title")

// Writer persists an advisory title.
type Writer interface {
	UpdateTitle(ctx context.Context, sessionID, userID, title string) error
}

// Options configures a Manager.
type Options struct {
	Timeout  time.Duration
	Disabled bool
}

// Manager generates model titles in the background. Nothing it does can fail or delay a
// chat turn: every call returns immediately and failures only keep the current title.
type Manager struct {
	completer ai.Completer
	writer    Writer
	broker    *Broker
	timeout   time.Duration
	disabled  bool
	wg        *conc.WaitGroup
	log       *logrus.Entry
}

func NewManager(completer ai.Completer, writer Writer, broker *Broker, opts Options, log *logrus.Entry) *Manager {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Manager{
		completer: completer,
		writer:    writer,
		broker:    broker,
		timeout:   timeout,
		disabled:  opts.Disabled,
		wg:        conc.NewWaitGroup(),
		log:       log,
	}
}

// Proposal is the pending result of Propose.
type Proposal struct {
	done  chan struct{}
	title string
}

// Result blocks until the proposal settles. A nil proposal yields "".
func (p *Proposal) Result() string {
	if p == nil {
		return ""
	}
	<-p.done
	return p.title
}

// Propose asks the model for a short title built from candidate. It starts immediately and
// runs concurrently with the reply; the request context only contributes its values.
func (m *Manager) Propose(ctx context.Context, candidate string) *Proposal {
	if m.disabled || strings.TrimSpace(candidate) == "" {
		return nil
	}

	p := &Proposal{done: make(chan struct{})}
	detached := context.WithoutCancel(ctx)
	m.wg.Go(func() {
		defer close(p.done)

		callCtx, cancel := context.WithTimeout(detached, m.timeout)
		defer cancel()

		prompt := fmt.Sprintf("Write a short title of at most %d words for a conversation that starts with:\n\n%s",
			maxProposalWords, candidate)
		raw, err := m.completer.GenerateTitle(callCtx, prompt)
		if err != nil {
			m.log.WithError(err).Warn("title proposal failed, keep fallback")
			return
		}
		p.title = Clean(raw, maxProposalWords)
	})
	return p
}

// Refine summarizes a complete first turn into a 4-7 word title.
func (m *Manager) Refine(ctx context.Context, userText, assistantText string) (string, error) {
	prompt := fmt.Sprintf("Summarize this conversation as a title of 4 to 7 words.\n\nUser: %s\n\nAssistant: %s",
		userText, assistantText)
	raw, err := m.completer.GenerateTitle(ctx, prompt)
	if err != nil {
		return "", err
	}
	title := Clean(raw, maxRefinementWords)
	if title == "" {
		return "", errEmptyTitle
	}
	return title, nil
}

// Turn describes a persisted turn for Finalize.
type Turn struct {
	Session   chat.Session
	Proposal  *Proposal
	FirstTurn bool
	// UserText and AssistantText feed the first-turn refinement.
	UserText      string
	AssistantText string
}

// Finalize runs after the turn is persisted. It settles the proposal, refines the title on a
// first turn, writes the winner once and publishes it.
func (m *Manager) Finalize(ctx context.Context, turn Turn) {
	if m.disabled || (turn.Proposal == nil && !turn.FirstTurn) {
		return
	}

	detached := context.WithoutCancel(ctx)
	m.wg.Go(func() {
		log := m.log.WithField("session_id", turn.Session.ID)

		chosen := turn.Proposal.Result()
		if turn.FirstTurn {
			callCtx, cancel := context.WithTimeout(detached, m.timeout)
			refined, err := m.Refine(callCtx, turn.UserText, turn.AssistantText)
			cancel()
			if err != nil {
				log.WithError(err).Warn("title refinement failed")
			} else {
				chosen = refined
			}
		}

		if chosen == "" || chosen == turn.Session.Title {
			return
		}

		writeCtx, cancel := context.WithTimeout(detached, m.timeout)
		defer cancel()
		if err := m.writer.UpdateTitle(writeCtx, turn.Session.ID, turn.Session.UserID, chosen); err != nil {
			log.WithError(err).Warn("title update failed, keep previous title")
			return
		}

		log.WithField("title", chosen).Debug("title updated")
		if m.broker != nil {
			m.broker.Publish(turn.Session.UserID, Event{
				Event:     EventTitle,
				SessionID: turn.Session.ID,
				Title:     chosen,
			})
		}
	})
}

// Wait blocks until every background title task has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
