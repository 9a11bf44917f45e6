package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/okian/putmeon/internal/adapters/pubsub"
	"github.com/okian/putmeon/internal/adapters/repository"
	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
)

// Participant is one live connection of a signed-in user. It owns the
// presence registration of that connection and every subscription opened
// through it.
type Participant struct {
	Identity model.Identity

	svc    *Service
	conn   *repository.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Join opens a live connection for id and marks the user online.
func (s *Service) Join(ctx context.Context, id model.Identity) (*Participant, error) {
	const op = "service.join"
	if err := s.ready(); err != nil {
		return nil, err
	}
	if id.UID == "" {
		return nil, errs.Newf(op, errs.ErrUnauthorized, "anonymous connection")
	}
	conn, err := s.store.Connect(ctx, uuid.NewString())
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	if err := s.presence.Attach(ctx, conn, id.UID, id.Handle); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &Participant{Identity: id, svc: s, conn: conn, ctx: pctx, cancel: cancel}

	s.partMu.Lock()
	set := s.participants[id.UID]
	if set == nil {
		set = make(map[*Participant]struct{})
		s.participants[id.UID] = set
	}
	set[p] = struct{}{}
	s.partMu.Unlock()
	return p, nil
}

// Context is cancelled when the participant leaves, drops, signs out or the
// service stops.
func (p *Participant) Context() context.Context { return p.ctx }

// ConnID returns the id of the underlying store connection.
func (p *Participant) ConnID() string { return p.conn.ID() }

// Subscribe opens a subscription that lives as long as the participant.
func (p *Participant) Subscribe(prefix string) (*pubsub.Subscription, error) {
	return p.svc.hub.Subscribe(p.ctx, prefix)
}

// Leave ends the connection cleanly and marks the user offline.
func (p *Participant) Leave(ctx context.Context) error {
	if !p.svc.unregister(p) {
		return nil
	}
	defer p.cancel()
	err := p.svc.presence.Detach(ctx, p.conn, p.Identity.UID, p.Identity.Handle)
	if cerr := p.conn.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Drop ends the connection abruptly; the store applies the offline write
// registered for it.
func (p *Participant) Drop(ctx context.Context) error {
	if !p.svc.unregister(p) {
		return nil
	}
	defer p.cancel()
	err := p.conn.Drop(ctx)
	p.svc.presence.Forget(ctx, p.Identity.UID, p.conn)
	return err
}

func (s *Service) unregister(p *Participant) bool {
	s.partMu.Lock()
	defer s.partMu.Unlock()
	set := s.participants[p.Identity.UID]
	if _, ok := set[p]; !ok {
		return false
	}
	delete(set, p)
	if len(set) == 0 {
		delete(s.participants, p.Identity.UID)
	}
	return true
}

func (s *Service) participantsOf(uid string) []*Participant {
	s.partMu.Lock()
	defer s.partMu.Unlock()
	out := make([]*Participant, 0, len(s.participants[uid]))
	for p := range s.participants[uid] {
		out = append(out, p)
	}
	return out
}

func (s *Service) allParticipants() []*Participant {
	s.partMu.Lock()
	defer s.partMu.Unlock()
	var out []*Participant
	for _, set := range s.participants {
		for p := range set {
			out = append(out, p)
		}
	}
	return out
}

// Connections returns the number of live participant connections.
func (s *Service) Connections() int {
	s.partMu.Lock()
	defer s.partMu.Unlock()
	n := 0
	for _, set := range s.participants {
		n += len(set)
	}
	return n
}

func (s *Service) leaveAll(ctx context.Context, uid string) {
	for _, p := range s.participantsOf(uid) {
		if err := p.Leave(ctx); err != nil {
			s.logger.Warn(ctx, "participant leave failed", logger.String("uid", uid), logger.Error(err))
		}
	}
}
