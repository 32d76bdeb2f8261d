// Package sms ties inbound calls and texts, which carry only a phone number,
// to the quests of whoever sent them.
package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/audit"
	"github.com/kasuganosora/questline/cache"
	"github.com/kasuganosora/questline/config"
	"github.com/kasuganosora/questline/metrics"
	"github.com/kasuganosora/questline/model"
	"github.com/kasuganosora/questline/quest"
	"go.uber.org/zap"
)

// Directory resolves callers.
type Directory interface {
	ResolveByPhone(ctx context.Context, phone string) ([]model.User, error)
	ExpandToTeams(ctx context.Context, userName string) ([]string, error)
}

// Engine is the part of the quest engine the correlator drives.
type Engine interface {
	ListByAssignees(ctx context.Context, names []string, status model.QuestStatus) ([]model.Quest, error)
	Start(ctx context.Context, name string) (*model.Quest, error)
	SolveByText(ctx context.Context, questName, puzzle, body string) (*quest.SolveResult, error)
}

// Auditor records attempts.
type Auditor interface {
	Record(ctx context.Context, action, quest, puzzle string, err error, detail interface{})
}

const dedupTTL = 24 * time.Hour

// withheld lists the caller values carriers send when caller ID is hidden.
var withheld = map[string]bool{
	"":            true,
	"anonymous":   true,
	"restricted":  true,
	"unknown":     true,
	"private":     true,
	"blocked":     true,
	"+266696687":  true,
	"+7378742833": true,
	"+8656696":    true,
	"+2562533":    true,
}

// VoiceOutcome classifies how a call was answered.
type VoiceOutcome string

// Voice outcomes. Only started and nothing_to_start accept the call.
const (
	VoiceStarted        VoiceOutcome = "started"
	VoiceNothingToStart VoiceOutcome = "nothing_to_start"
	VoiceUnknownCaller  VoiceOutcome = "unknown_caller"
	VoiceWithheldCaller VoiceOutcome = "withheld_caller"
)

// VoiceReply is the answer to an inbound call. Accept is false for unknown
// and withheld callers, whose calls are rejected after Message is spoken.
type VoiceReply struct {
	Outcome VoiceOutcome `json:"outcome"`
	Accept  bool         `json:"accept"`
	Message string       `json:"message"`
	Started []string     `json:"started"`
}

// TextReply is the answer to an inbound SMS. Duplicate marks a redelivered
// message that was not processed again; Message is empty then.
type TextReply struct {
	Matched   bool   `json:"matched"`
	Duplicate bool   `json:"duplicate"`
	Quest     string `json:"quest,omitempty"`
	Puzzle    string `json:"puzzle,omitempty"`
	Message   string `json:"message"`
}

// Correlator maps inbound SMS and calls onto quest transitions by the
// sender's phone number.
type Correlator struct {
	dir    Directory
	eng    Engine
	dedup  cache.Cache
	texts  config.MessagingConfig
	audit  Auditor
	logger *zap.Logger
}

// NewCorrelator wires a Correlator. dedup and auditor may be nil.
func NewCorrelator(dir Directory, eng Engine, dedup cache.Cache, texts config.MessagingConfig, auditor Auditor, logger *zap.Logger) *Correlator {
	return &Correlator{dir: dir, eng: eng, dedup: dedup, texts: texts, audit: auditor, logger: logger}
}

// IsWithheld reports whether from is a hidden caller ID.
func IsWithheld(from string) bool {
	return withheld[strings.ToLower(strings.TrimSpace(from))]
}

// HandleVoiceCall starts every not-started quest owned by the caller, the
// caller's teams, or anyone else registered with the same number.
func (c *Correlator) HandleVoiceCall(ctx context.Context, from string) (*VoiceReply, error) {
	if IsWithheld(from) {
		c.record(ctx, audit.ActionVoice, "", apperr.InvalidRequest("caller id withheld"), from)
		return c.voice(VoiceWithheldCaller, nil), nil
	}
	names, err := c.identities(ctx, from)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		c.record(ctx, audit.ActionVoice, "", apperr.NotFound("unregistered caller"), from)
		return c.voice(VoiceUnknownCaller, nil), nil
	}

	quests, err := c.eng.ListByAssignees(ctx, names, model.QuestNotStarted)
	if err != nil {
		return nil, err
	}
	var started []string
	for _, q := range quests {
		_, err := c.eng.Start(ctx, q.Name)
		c.record(ctx, audit.ActionVoice, q.Name, err, from)
		switch {
		case err == nil:
			started = append(started, q.Name)
		case errors.Is(err, apperr.ErrInvalidState):
			// Started by someone else meanwhile, or has no puzzles.
			c.logger.Info("quest not started from call", zap.String("quest", q.Name), zap.Error(err))
		default:
			return nil, err
		}
	}
	if len(started) == 0 {
		return c.voice(VoiceNothingToStart, nil), nil
	}
	return c.voice(VoiceStarted, started), nil
}

// HandleText matches body against the pending text responses of the
// sender's in-progress quests, in quest order, and solves the first match.
// messageID, when set, suppresses redelivered webhooks. A message that
// fails is released again so the provider's retry is processed.
func (c *Correlator) HandleText(ctx context.Context, from, body, messageID string) (*TextReply, error) {
	claimed := false
	if messageID != "" && c.dedup != nil {
		fresh, err := c.dedup.SetNX(ctx, dedupKey(messageID), "1", dedupTTL)
		switch {
		case err != nil:
			c.logger.Warn("sms dedup check failed", zap.String("message_id", messageID), zap.Error(err))
		case !fresh:
			metrics.Message("inbound_sms", "duplicate")
			return &TextReply{Duplicate: true}, nil
		default:
			claimed = true
		}
	}

	reply, err := c.match(ctx, from, body)
	if err != nil {
		metrics.Message("inbound_sms", "error")
		if claimed {
			if derr := c.dedup.Del(context.WithoutCancel(ctx), dedupKey(messageID)); derr != nil {
				c.logger.Warn("sms dedup release failed", zap.String("message_id", messageID), zap.Error(derr))
			}
		}
		return nil, err
	}
	if reply.Matched {
		metrics.Message("inbound_sms", "matched")
	} else {
		metrics.Message("inbound_sms", "unmatched")
	}
	return reply, nil
}

func dedupKey(messageID string) string { return "sms:" + messageID }

func (c *Correlator) match(ctx context.Context, from, body string) (*TextReply, error) {
	notExpecting := &TextReply{Message: c.texts.SMSNotExpecting}
	if IsWithheld(from) || strings.TrimSpace(body) == "" {
		return notExpecting, nil
	}
	names, err := c.identities(ctx, from)
	if err != nil {
		return nil, err
	}
	quests, err := c.eng.ListByAssignees(ctx, names, model.QuestInProgress)
	if err != nil {
		return nil, err
	}

	for _, q := range quests {
		i := q.Current()
		if i < 0 {
			continue
		}
		p := q.Puzzles[i]
		if p.Status != model.PuzzleInProgress || p.TextResponse == "" {
			continue
		}
		if !quest.MatchKeywords(p.TextResponse, body) {
			continue
		}
		res, err := c.eng.SolveByText(ctx, q.Name, p.PuzzleName, body)
		switch {
		case err == nil:
			c.logger.Info("sms solved puzzle", zap.String("quest", q.Name), zap.String("puzzle", p.PuzzleName))
			return &TextReply{Matched: true, Quest: q.Name, Puzzle: p.PuzzleName, Message: res.Confirmation}, nil
		case errors.Is(err, apperr.ErrInvalidState), errors.Is(err, apperr.ErrInvalidCredential):
			// Lost a race with another message or request for this quest.
			c.logger.Info("sms match went stale", zap.String("quest", q.Name), zap.Error(err))
			return notExpecting, nil
		default:
			return nil, err
		}
	}
	c.record(ctx, audit.ActionSMS, "", apperr.NotFound("no pending response matched"), from)
	return notExpecting, nil
}

// identities returns every user sharing the number plus their teams,
// without duplicates and in a stable order.
func (c *Correlator) identities(ctx context.Context, from string) ([]string, error) {
	users, err := c.dir.ResolveByPhone(ctx, from)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, u := range users {
		expanded, err := c.dir.ExpandToTeams(ctx, u.Name)
		if err != nil {
			return nil, err
		}
		for _, n := range expanded {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names, nil
}

func (c *Correlator) voice(outcome VoiceOutcome, started []string) *VoiceReply {
	metrics.Message("inbound_voice", string(outcome))
	r := &VoiceReply{Outcome: outcome, Started: started}
	switch outcome {
	case VoiceStarted:
		r.Accept = true
		r.Message = c.texts.VoiceStarted
		if strings.Contains(r.Message, "%d") {
			r.Message = fmt.Sprintf(r.Message, len(started))
		}
	case VoiceNothingToStart:
		r.Accept = true
		r.Message = c.texts.VoiceNothingToStart
	case VoiceUnknownCaller:
		r.Message = c.texts.VoiceUnknownCaller
	case VoiceWithheldCaller:
		r.Message = c.texts.VoiceWithheldCaller
	}
	return r
}

func (c *Correlator) record(ctx context.Context, action, questName string, err error, from string) {
	if c.audit == nil {
		return
	}
	c.audit.Record(ctx, action, questName, "", err, map[string]string{"from": from})
}
