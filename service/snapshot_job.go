package service

import (
	"context"
	"sort"
	"time"

	"warden/infra/lifetime"
	"warden/snapshot"
)

// Snapshot dumps the tracked blocks and the live owners.
func (w *Warden) Snapshot() *snapshot.Snapshot {
	s := &snapshot.Snapshot{
		Epoch:   w.reclaimer.Epoch(),
		Mode:    w.reclaimer.Mode().String(),
		Created: time.Now(),
	}
	w.tree.Walk(func(n *lifetime.Node) bool {
		s.Blocks = append(s.Blocks, snapshot.BlockEntry{
			Addr:   uint64(n.Addr()),
			Size:   n.Size(),
			Refs:   n.Refs(),
			Root:   n.Root(),
			Expiry: uint64(n.Expiry()),
		})
		return true
	})

	w.mu.RLock()
	w.live.Each(func(slot uint64) bool {
		if o, ok := w.owners[slot]; ok {
			res, fns := o.Len()
			s.Owners = append(s.Owners, snapshot.OwnerEntry{
				Slot:      slot,
				ID:        o.ID().String(),
				Policy:    o.Policy().String(),
				Resources: res,
				Functions: fns,
			})
		}
		return true
	})
	w.mu.RUnlock()

	sort.Slice(s.Owners, func(i, j int) bool { return s.Owners[i].Slot < s.Owners[j].Slot })
	return s
}

// RunSnapshotJob writes a snapshot to dir every interval until ctx is
// done. Write failures are logged and retried on the next tick.
func (w *Warden) RunSnapshotJob(ctx context.Context, dir string, interval time.Duration) error {
	wr := &snapshot.Writer{Dir: dir}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s := w.Snapshot()
			if err := wr.Write(s); err != nil {
				w.log.Error("snapshot failed", "dir", dir, "err", err)
				continue
			}
			w.log.Debug("snapshot written", "epoch", s.Epoch, "blocks", len(s.Blocks), "owners", len(s.Owners))
		}
	}
}
