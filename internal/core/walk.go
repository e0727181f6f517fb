package core

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"metagraph/pkg/domain"
)

// Walk lazily traverses the link graph from start, depth first along the
// first unvisited edge. When a node has nothing left to offer the walk steps
// back along the path it actually took, so only nodes reachable from start in
// the chosen direction are yielded, start excluded and each at most once.
// The walk reads a snapshot taken when iteration begins and stops with a
// warning once it has advanced more than the configured step limit.
func (s *Service) Walk(ctx context.Context, start NodeID, downstreamWalk bool) iter.Seq[NodeID] {
	dir := upstream
	if downstreamWalk {
		dir = downstream
	}
	return func(yield func(NodeID) bool) {
		err := s.view(ctx, func(v TransactionView) error {
			if _, ok := v.FindNode(start); !ok {
				return ErrNotFound{Entity: domain.EntityNode, ID: string(start)}
			}
			w := walker{view: v, dir: dir, visited: map[NodeID]struct{}{start: {}}}
			w.run(start, s.walkLimit, yield, s.logger)
			return nil
		})
		if err != nil {
			s.logger.Warn("walk aborted", zap.String("start", string(start)), zap.Error(err))
		}
	}
}

type walker struct {
	view    TransactionView
	dir     direction
	visited map[NodeID]struct{}
}

func (w *walker) forward(id NodeID) []NodeID { return neighbours(w.view, id, w.dir) }

func (w *walker) firstUnvisited(ids []NodeID) NodeID {
	for _, id := range ids {
		if _, ok := w.visited[id]; !ok {
			return id
		}
	}
	return ""
}

func (w *walker) run(start NodeID, limit int, yield func(NodeID) bool, logger *zap.Logger) {
	path := []NodeID{start}
	steps := 0
	for len(path) > 0 {
		next := w.firstUnvisited(w.forward(path[len(path)-1]))
		if next == "" {
			path = path[:len(path)-1]
			continue
		}
		steps++
		if steps > limit {
			logger.Warn("walk step limit reached", zap.String("start", string(start)), zap.Int("limit", limit))
			return
		}
		w.visited[next] = struct{}{}
		if !yield(next) {
			return
		}
		path = append(path, next)
	}
}
