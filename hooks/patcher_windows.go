//go:build windows && (amd64 || 386)

package hooks

import (
	"runtime"

	"github.com/devolutions/jetify/core"
	"github.com/pkg/errors"
)

// maxPrologue is how much of a function is read to build its trampoline.
const maxPrologue = 64

type patch struct {
	target   uintptr
	attach   bool
	original []byte
	code     []byte
	region   uintptr
	tramp    *Trampoline
}

// inlinePatcher rewrites the first instructions of a function with a jump.
// On x64 the jump goes to a relay placed within 2GB of the function, which
// holds an absolute jump to the callback, and the trampoline follows the
// relay in the same region. Without a free region in reach the function
// gets a 14-byte absolute jump instead.
type inlinePatcher struct {
	mode    int
	log     *core.Logger
	inTx    bool
	pending error
	queue   []*patch
	active  map[uintptr]*patch
}

func NewPatcher(log *core.Logger) Patcher {
	return &inlinePatcher{
		mode:   archMode(),
		log:    log,
		active: make(map[uintptr]*patch),
	}
}

func (p *inlinePatcher) Begin() error {
	if p.inTx {
		return errors.Wrap(ErrInvalidOperation, "transaction already open")
	}
	if err := loadProcs(); err != nil {
		return err
	}
	p.inTx = true
	p.pending = nil
	p.queue = nil
	return nil
}

func (p *inlinePatcher) Attach(target, detour uintptr) (uintptr, error) {
	if !p.inTx {
		return 0, errors.Wrap(ErrInvalidOperation, "no open transaction")
	}
	if p.pending != nil {
		return 0, p.pending
	}
	tramp, err := p.prepare(target, detour)
	if err != nil {
		p.pending = err
		return 0, err
	}
	return tramp, nil
}

func (p *inlinePatcher) prepare(target, detour uintptr) (uintptr, error) {
	if target == 0 || detour == 0 {
		return 0, errors.Wrap(ErrInvalidParameter, "null address")
	}
	if _, ok := p.active[target]; ok {
		return 0, errors.Wrapf(ErrInvalidOperation, "0x%x is already hooked", target)
	}
	code, err := readMemory(target, maxPrologue)
	if err != nil {
		return 0, err
	}

	var region, trampAt, jumpTo uintptr
	var relay []byte
	patchSize := NearJumpSize
	switch {
	case p.mode == 32:
		if region, err = allocAnywhere(); err != nil {
			return 0, err
		}
		trampAt, jumpTo = region, detour
	default:
		if region, err = allocNear(target); err == nil {
			relay = farJump(detour)
			trampAt, jumpTo = region+16, region
		} else {
			p.log.Debugf("hooks: %v, using an absolute jump", err)
			if region, err = allocAnywhere(); err != nil {
				return 0, err
			}
			trampAt, jumpTo = region, detour
			patchSize = FarJumpSize
		}
	}

	t, err := BuildTrampoline(p.mode, code, target, trampAt, patchSize)
	if err != nil {
		freeRegion(region)
		return 0, err
	}
	if relay != nil {
		writeRegion(region, relay)
	}
	writeRegion(trampAt, t.Code)

	p.queue = append(p.queue, &patch{
		target:   target,
		attach:   true,
		original: append([]byte(nil), code[:t.Stolen]...),
		code:     PatchCode(p.mode, target, jumpTo, t.Stolen),
		region:   region,
		tramp:    t,
	})
	p.log.Tracef("hooks: trampoline for 0x%x at 0x%x, %d bytes moved", target, trampAt, t.Stolen)
	return trampAt, nil
}

func (p *inlinePatcher) Detach(target uintptr) error {
	if !p.inTx {
		return errors.Wrap(ErrInvalidOperation, "no open transaction")
	}
	if p.pending != nil {
		return p.pending
	}
	a, ok := p.active[target]
	if !ok {
		p.pending = errors.Wrapf(ErrInvalidHandle, "0x%x is not hooked", target)
		return p.pending
	}
	p.queue = append(p.queue, &patch{
		target:   target,
		original: a.original,
		code:     a.code,
		region:   a.region,
		tramp:    a.tramp,
	})
	return nil
}

// Commit applies the queued patches with every other thread of the process
// suspended, moving threads that stopped inside rewritten code. If a write
// fails the ones already applied are undone. The Go scheduler's monitor
// thread is suspended too, so the OS thread is locked to keep this
// goroutine from being moved mid-way.
func (p *inlinePatcher) Commit() error {
	if !p.inTx {
		return errors.Wrap(ErrInvalidOperation, "no open transaction")
	}
	if p.pending != nil {
		err := p.pending
		p.Abort()
		return err
	}
	defer p.reset()
	if len(p.queue) == 0 {
		return nil
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	threads, err := suspendOtherThreads()
	if err != nil {
		p.release()
		return err
	}

	for i, q := range p.queue {
		if err := writeCode(q.target, q.desired()); err != nil {
			for j := i - 1; j >= 0; j-- {
				writeCode(p.queue[j].target, p.queue[j].previous())
			}
			resumeThreads(threads)
			p.release()
			return errors.Wrapf(err, "patch 0x%x", q.target)
		}
	}
	for _, t := range threads {
		p.moveThread(t)
	}
	resumeThreads(threads)

	for _, q := range p.queue {
		if q.attach {
			p.active[q.target] = q
		} else {
			// a thread may still be returning through the trampoline, so the
			// region is left mapped
			delete(p.active, q.target)
		}
	}
	return nil
}

func (p *inlinePatcher) Abort() error {
	if !p.inTx {
		return errors.Wrap(ErrInvalidOperation, "no open transaction")
	}
	p.release()
	p.reset()
	return nil
}

func (p *inlinePatcher) release() {
	for _, q := range p.queue {
		if q.attach {
			freeRegion(q.region)
		}
	}
	p.queue = nil
}

func (p *inlinePatcher) reset() {
	p.inTx = false
	p.pending = nil
	p.queue = nil
}

// moveThread relocates a thread whose instruction pointer sits in code that
// was just rewritten: into the trampoline on attach, back into the function
// on detach.
func (p *inlinePatcher) moveThread(t *suspendedThread) {
	ip, ok := t.ip()
	if !ok {
		return
	}
	for _, q := range p.queue {
		if q.attach {
			if ip < q.target || ip >= q.target+uintptr(q.tramp.Stolen) {
				continue
			}
			if off, ok := q.tramp.TrampolineOffset(int(ip - q.target)); ok {
				t.setIP(q.tramp.Address + uintptr(off))
			}
			return
		}
		start := q.tramp.Address
		if ip < start || ip >= start+uintptr(len(q.tramp.Code)) {
			continue
		}
		if off, ok := q.tramp.OriginalOffset(int(ip - start)); ok {
			t.setIP(q.target + uintptr(off))
		}
		return
	}
}

func (q *patch) desired() []byte {
	if q.attach {
		return q.code
	}
	return q.original
}

func (q *patch) previous() []byte {
	if q.attach {
		return q.original
	}
	return q.code
}
