// Package progress は同期の進捗をユーザーごとのトピックで配信する
// ブロードキャスターを提供する。配信はfire-and-forgetであり、購読者が
// いない・遅いことが発行側を遅らせることはない。
package progress

import (
	"math"
	"sync"
)

// Event は1回の進捗通知。PercentageはNewEventで算出される。
type Event struct {
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
	Error      bool   `json:"error"`
}

// NewEvent は進捗イベントを組み立てる。percentageはround(current/total*100)、
// totalが0の場合は0%と定義する。
func NewEvent(current, total int, message string, isError bool) Event {
	pct := 0
	if total > 0 {
		pct = int(math.Round(float64(current) / float64(total) * 100))
	}
	return Event{
		Current:    current,
		Total:      total,
		Percentage: pct,
		Message:    message,
		Error:      isError,
	}
}

// subscriberBuffer は購読者ごとのチャネル容量。バッファが埋まった場合、
// 以降のイベントはその購読者に対してのみ破棄される。
const subscriberBuffer = 16

// Hub はユーザーIDをキーとするトピックの集合。トピックは最初の購読で
// 生成され、最後の購読者が離脱した時点で破棄される。
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[chan Event]struct{}
}

// NewHub はHubを生成する。
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[chan Event]struct{})}
}

// Subscribe はユーザーのトピックを購読し、イベント受信チャネルを返す。
func (h *Hub) Subscribe(userID string) chan Event {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[userID]
	if !ok {
		subs = make(map[chan Event]struct{})
		h.topics[userID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe は購読を解除しチャネルを閉じる。そのユーザーの最後の
// 購読者だった場合はトピック自体を破棄する。
func (h *Hub) Unsubscribe(userID string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[userID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(h.topics, userID)
	}
}

// Publish はユーザーの全購読者にイベントを配信する。購読者がいなければ
// イベントは破棄され、バッファの埋まった購読者への送信もスキップされる。
// いかなる場合もブロックしない。
func (h *Hub) Publish(userID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.topics[userID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount はユーザーの現在の購読者数を返す。
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[userID])
}
