package rest

import (
	"sync"

	"github.com/norne/arenanav/game/ai"
	"github.com/norne/arenanav/game/world"
)

// plannerPool hands out planners with search buffers already sized for a grid
// shape, so one-shot route requests do not allocate width*height buffers each
// time.
type plannerPool struct {
	opts  []ai.Option
	pools sync.Map // [2]int{width, height} -> *sync.Pool
}

func newPlannerPool(opts []ai.Option) *plannerPool {
	return &plannerPool{opts: opts}
}

func (pp *plannerPool) pool(w *world.WorldModel) *sync.Pool {
	key := [2]int{w.Width(), w.Height()}
	if v, ok := pp.pools.Load(key); ok {
		return v.(*sync.Pool)
	}
	v, _ := pp.pools.LoadOrStore(key, &sync.Pool{})
	return v.(*sync.Pool)
}

// get returns an idle planner for w's grid.
func (pp *plannerPool) get(w *world.WorldModel) *ai.PathPlanner {
	if p, ok := pp.pool(w).Get().(*ai.PathPlanner); ok {
		return p
	}
	return ai.NewPlanner(w, pp.opts...)
}

// put resets p and makes it available again. p must have been used on w.
func (pp *plannerPool) put(w *world.WorldModel, p *ai.PathPlanner) {
	p.Reset()
	pp.pool(w).Put(p)
}
