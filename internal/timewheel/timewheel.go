// Package timewheel 单层时间轮，用于连接的空闲超时。
//
// 环上有N个桶，游标每tick前进一格。定时器放入 (cursor+ttl) mod N 号桶，
// ttl超过N的定时器记录剩余圈数。同一个id重复添加时旧条目通过代数(generation)作废，
// 不会累积，作废的条目在所在桶被扫描时丢弃。
package timewheel

import "sync"

// DefaultSize 默认桶数
const DefaultSize = 60

// ExpireFunc 定时器到期回调，参数为连接id和定时器的代数
type ExpireFunc func(id, gen uint64)

type entry struct {
	id       uint64
	gen      uint64
	rounds   int
	onExpire ExpireFunc
}

// live 记录每个id当前有效条目的位置
type live struct {
	gen    uint64
	bucket int
	rounds int
}

// Wheel 时间轮，所有方法并发安全
type Wheel struct {
	mu      sync.Mutex
	buckets [][]entry
	cursor  int
	gen     uint64
	index   map[uint64]live
}

// New 创建size个桶的时间轮，size<=0时使用DefaultSize
func New(size int) *Wheel {
	if size <= 0 {
		size = DefaultSize
	}
	return &Wheel{
		buckets: make([][]entry, size),
		index:   make(map[uint64]live),
	}
}

// Size 桶数
func (w *Wheel) Size() int {
	return len(w.buckets)
}

// AddTimer 为id设置ttl个tick后的到期回调，已有的定时器被作废（刷新而不是累加）
func (w *Wheel) AddTimer(id uint64, ttl int, onExpire ExpireFunc) {
	if ttl < 1 {
		ttl = 1
	}
	n := len(w.buckets)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.gen++
	bucket := (w.cursor + ttl) % n
	rounds := (ttl - 1) / n
	w.buckets[bucket] = append(w.buckets[bucket], entry{id: id, gen: w.gen, rounds: rounds, onExpire: onExpire})
	w.index[id] = live{gen: w.gen, bucket: bucket, rounds: rounds}
}

// Remove 作废id的定时器，不存在时什么也不做
func (w *Wheel) Remove(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.index[id]; !ok {
		return false
	}
	delete(w.index, id)
	return true
}

// Tick 游标前进一格并处理新游标所在的桶，返回执行的回调数。
// 回调在释放锁之后执行，回调里可以再调用AddTimer或Remove。
// 执行回调前会再次检查代数，已被刷新或取消的定时器不会触发
func (w *Wheel) Tick() int {
	w.mu.Lock()
	w.cursor = (w.cursor + 1) % len(w.buckets)
	due := w.buckets[w.cursor]
	var keep []entry
	var fired []entry
	for _, e := range due {
		cur, ok := w.index[e.id]
		if !ok || cur.gen != e.gen {
			// 已被刷新或取消
			continue
		}
		if e.rounds > 0 {
			e.rounds--
			cur.rounds = e.rounds
			w.index[e.id] = cur
			keep = append(keep, e)
			continue
		}
		fired = append(fired, e)
	}
	w.buckets[w.cursor] = keep
	w.mu.Unlock()

	n := 0
	for _, e := range fired {
		if !w.current(e.id, e.gen) {
			continue
		}
		if e.onExpire != nil {
			e.onExpire(e.id, e.gen)
			n++
		}
		w.Expire(e.id, e.gen)
	}
	return n
}

// Expire 定时器仍是gen这一代时删除并返回true。
// 回调需要和刷新互斥时，在自己的锁内调用Expire确认定时器没有被刷新
func (w *Wheel) Expire(id, gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, ok := w.index[id]
	if !ok || cur.gen != gen {
		return false
	}
	delete(w.index, id)
	return true
}

func (w *Wheel) current(id, gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, ok := w.index[id]
	return ok && cur.gen == gen
}

// Len 当前有效的定时器数量
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.index)
}

// Deadline 返回id还剩多少个tick到期
func (w *Wheel) Deadline(id uint64) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, ok := w.index[id]
	if !ok {
		return 0, false
	}
	n := len(w.buckets)
	ahead := (cur.bucket - w.cursor + n) % n
	if ahead == 0 {
		ahead = n
	}
	return ahead + cur.rounds*n, true
}
