// Package agent binds the snapshot engine to document contexts and answers
// the get/set message protocol for them.
package agent

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vincentbai/formshot-agent/internal/models"
	"github.com/vincentbai/formshot-agent/internal/snapshot"
)

type target struct {
	mu   sync.Mutex // one capture or restore at a time per document
	info models.Target
	doc  snapshot.Document
}

type Agent struct {
	logger    *zap.Logger
	confirmer snapshot.Confirmer

	mu      sync.RWMutex
	targets map[string]*target
}

// New returns an agent. confirmer answers length mismatches when a caller does
// not bring its own; nil declines them.
func New(logger *zap.Logger, confirmer snapshot.Confirmer) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if confirmer == nil {
		confirmer = snapshot.NeverConfirm
	}
	return &Agent{
		logger:    logger,
		confirmer: confirmer,
		targets:   make(map[string]*target),
	}
}

// Attach installs the agent on a document context at most once. It returns the
// context id (generated when info.ID is empty) and false if that id was
// already attached, in which case the existing binding is kept.
func (a *Agent) Attach(info models.Target, doc snapshot.Document) (string, bool) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.targets[info.ID]; ok {
		return info.ID, false
	}
	a.targets[info.ID] = &target{info: info, doc: doc}
	a.logger.Info("agent: attached", zap.String("target", info.ID), zap.String("kind", info.Kind), zap.String("url", info.URL))
	return info.ID, true
}

func (a *Agent) Detach(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.targets[id]; !ok {
		return false
	}
	delete(a.targets, id)
	return true
}

func (a *Agent) Targets() []models.Target {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Target, 0, len(a.targets))
	for _, t := range a.targets {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *Agent) Target(id string) (models.Target, bool) {
	t := a.lookup(id)
	if t == nil {
		return models.Target{}, false
	}
	return t.info, true
}

// URL returns the address the target's document currently shows, falling
// back to the one it was attached with.
func (a *Agent) URL(id string) string {
	t := a.lookup(id)
	if t == nil {
		return ""
	}
	if u, ok := t.doc.(interface{ URL() string }); ok {
		if current := u.URL(); current != "" {
			return current
		}
	}
	return t.info.URL
}

func (a *Agent) lookup(id string) *target {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.targets[id]
}

func (a *Agent) Capture(ctx context.Context, id string) (snapshot.Snapshot, error) {
	t := a.lookup(id)
	if t == nil {
		return nil, snapshot.ErrNoTarget
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := snapshot.Capture(ctx, t.doc)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("agent: captured", zap.String("target", id), zap.Int("fields", len(s)))
	return s, nil
}

// Restore applies s to the target. c overrides the agent's confirmer when set.
// Per-record decode failures do not fail the call; they are logged and left in
// the result.
func (a *Agent) Restore(ctx context.Context, id string, s snapshot.Snapshot, c snapshot.Confirmer) (*snapshot.Result, error) {
	t := a.lookup(id)
	if t == nil {
		return nil, snapshot.ErrNoTarget
	}
	if c == nil {
		c = a.confirmer
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	res, err := snapshot.Restore(ctx, t.doc, s, c)
	if errors.Is(err, snapshot.ErrDeclined) {
		a.logger.Info("agent: restore declined",
			zap.String("target", id), zap.Int("saved", res.Saved), zap.Int("live", res.Live))
		return res, err
	}
	if err != nil {
		return res, err
	}
	for _, f := range res.Failures {
		a.logger.Warn("agent: record not restored", zap.String("target", id), zap.Error(f))
	}
	a.logger.Debug("agent: restored",
		zap.String("target", id),
		zap.Int("positional", res.Positional),
		zap.Int("identity", res.Identity),
		zap.Int("dropped", res.Dropped),
		zap.Int("failures", len(res.Failures)))
	return res, nil
}

// Handle answers one protocol message for the target.
func (a *Agent) Handle(ctx context.Context, id string, msg models.Message, c snapshot.Confirmer) models.Message {
	switch msg.Meta {
	case models.MetaGet:
		s, err := a.Capture(ctx, id)
		if err != nil {
			return errorMessage(err)
		}
		data, err := snapshot.Marshal(s)
		if err != nil {
			return errorMessage(err)
		}
		return reply(models.MetaOK, string(data))

	case models.MetaSet:
		if msg.Value == nil {
			break
		}
		s, err := snapshot.Unmarshal([]byte(*msg.Value))
		if err != nil {
			return errorMessage(err)
		}
		if _, err := a.Restore(ctx, id, s, c); err != nil {
			return errorMessage(err)
		}
		return models.Message{Meta: models.MetaOK}
	}

	return models.Message{Meta: models.MetaBadMeta}
}

func reply(meta, value string) models.Message {
	return models.Message{Meta: meta, Value: &value}
}

func errorMessage(err error) models.Message {
	switch {
	case errors.Is(err, snapshot.ErrNoTarget):
		return models.Message{Meta: models.MetaNoTarget}
	case errors.Is(err, snapshot.ErrDeclined):
		return models.Message{Meta: models.MetaDeclined}
	}
	return reply(models.MetaError, err.Error())
}
