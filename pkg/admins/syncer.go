package admins

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Updater pushes an administrator set to one sibling instance. The rpc
// client satisfies it.
type Updater interface {
	UpdateAdmins(ctx context.Context, admins []string) (bool, error)
}

// Peer is a sibling instance.
type Peer struct {
	Addr    string
	Updater Updater
}

// Syncer pushes the registry's set to sibling instances whenever the
// administrator file changes it. Only an instance that loaded the file
// pushes, and sets received from siblings are not echoed back.
type Syncer struct {
	registry *Registry
	peers    []Peer
	logger   *slog.Logger
}

// NewSyncer returns a syncer for registry and peers.
func NewSyncer(registry *Registry, peers []Peer, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{registry: registry, peers: peers, logger: logger}
}

// Push sends the current set to every peer and returns the number of
// peers that accepted it. At most eight pushes run at once. A peer that
// errors or refuses is logged at warn level and skipped; Push never fails,
// and the next file change retries every peer.
func (s *Syncer) Push(ctx context.Context) int {
	if len(s.peers) == 0 {
		s.logger.InfoContext(ctx, "admins: no sibling instances to update")
		return 0
	}
	admins := s.registry.Admins()
	accepted := make([]bool, len(s.peers))

	var g errgroup.Group
	g.SetLimit(8)
	for i, p := range s.peers {
		g.Go(func() error {
			ok, err := p.Updater.UpdateAdmins(ctx, admins)
			switch {
			case err != nil:
				s.logger.WarnContext(ctx, "admins: unable to update sibling", "peer", p.Addr, "error", err)
			case !ok:
				s.logger.WarnContext(ctx, "admins: sibling refused update", "peer", p.Addr)
			default:
				accepted[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range accepted {
		if ok {
			n++
		}
	}
	s.logger.InfoContext(ctx, "admins: pushed administrators", "admins", len(admins), "peers", len(s.peers), "accepted", n)
	return n
}

// Run pushes once at start and again after every change loaded from the
// file until ctx is done. It pushes nothing while the registry has never
// loaded its file.
func (s *Syncer) Run(ctx context.Context) error {
	for {
		changed := s.registry.FileChanged()
		if s.registry.HasFile() {
			s.Push(ctx)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}
