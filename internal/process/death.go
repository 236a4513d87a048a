package process

import (
	"slices"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/thread"
)

// DeathRecipient is notified when the process behind a proxy dies.
type DeathRecipient interface {
	BinderDied(who *binder.Remote)
}

// obituary is the single driver death registration for one handle. The
// driver accepts one registration per reference, so recipients share it.
type obituary struct {
	cookie     uint64
	remote     *binder.Remote
	recipients []DeathRecipient
	clearing   bool
}

// LinkToDeath registers r to hear about the death of remote.
func (s *State) LinkToDeath(t *thread.State, remote *binder.Remote, r DeathRecipient) error {
	if !remote.IsAlive() {
		return binder.DeadObject
	}
	s.mu.Lock()
	ob, ok := s.byHandle[remote.Handle()]
	if ok && !ob.clearing {
		ob.recipients = append(ob.recipients, r)
		s.mu.Unlock()
		return nil
	}
	s.nextCookie++
	ob = &obituary{cookie: s.nextCookie, remote: remote, recipients: []DeathRecipient{r}}
	s.obituaries[ob.cookie] = ob
	s.byHandle[remote.Handle()] = ob
	s.mu.Unlock()

	return t.RequestDeathNotification(remote.Handle(), ob.cookie)
}

// UnlinkToDeath removes r. The driver registration is cleared with the
// last recipient.
func (s *State) UnlinkToDeath(t *thread.State, remote *binder.Remote, r DeathRecipient) error {
	s.mu.Lock()
	ob, ok := s.byHandle[remote.Handle()]
	if !ok || ob.clearing {
		s.mu.Unlock()
		return binder.NameNotFound
	}
	i := slices.Index(ob.recipients, r)
	if i < 0 {
		s.mu.Unlock()
		return binder.NameNotFound
	}
	ob.recipients = slices.Delete(ob.recipients, i, i+1)
	if len(ob.recipients) > 0 {
		s.mu.Unlock()
		return nil
	}
	ob.clearing = true
	delete(s.byHandle, remote.Handle())
	s.mu.Unlock()

	return t.ClearDeathNotification(remote.Handle(), ob.cookie)
}

func (s *State) SendObituary(t *thread.State, cookie uint64) {
	s.mu.Lock()
	ob, ok := s.obituaries[cookie]
	if !ok {
		s.mu.Unlock()
		s.log.Warn().Uint64("cookie", cookie).Msg("obituary for unknown cookie")
		return
	}
	handle := ob.remote.Handle()
	recipients := ob.recipients
	ob.recipients = nil
	wasClearing := ob.clearing
	ob.clearing = true
	if s.byHandle[handle] == ob {
		delete(s.byHandle, handle)
	}
	cached := s.handles[handle] == ob.remote
	if cached {
		delete(s.handles, handle)
	}
	s.mu.Unlock()

	if cached {
		if err := releaseHandle(t, handle); err != nil {
			s.log.Error().Err(err).Uint32("handle", handle).Msg("release dead proxy")
		}
	}
	if !ob.remote.MarkDead() {
		return
	}
	s.log.Info().Uint32("handle", handle).Int("recipients", len(recipients)).Msg("binder died")
	if !wasClearing {
		if err := t.ClearDeathNotification(handle, cookie); err != nil {
			s.log.Error().Err(err).Uint32("handle", handle).Msg("clear death notification")
		}
	}
	for _, r := range recipients {
		r.BinderDied(ob.remote)
	}
}

func (s *State) ClearDeathNotificationDone(cookie uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.obituaries, cookie)
}
