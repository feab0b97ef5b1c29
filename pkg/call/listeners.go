package call

import "sync"

// listenerSet - потокобезопасное множество подписчиков с семантикой
// снапшота при уведомлении: колбэки вызываются вне блокировки, так что
// подписчик может безопасно добавлять и удалять слушателей из обработчика.
type listenerSet struct {
	mu        sync.Mutex
	listeners []CallListener
}

func newListenerSet() *listenerSet {
	return &listenerSet{}
}

// Add добавляет слушателя. Повторное добавление того же слушателя
// игнорируется.
func (ls *listenerSet) Add(l CallListener) {
	if l == nil {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, existing := range ls.listeners {
		if existing == l {
			return
		}
	}
	ls.listeners = append(ls.listeners, l)
}

// Remove удаляет слушателя по идентичности.
func (ls *listenerSet) Remove(l CallListener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, existing := range ls.listeners {
		if existing == l {
			ls.listeners = append(ls.listeners[:i], ls.listeners[i+1:]...)
			return
		}
	}
}

// snapshot возвращает копию текущего множества слушателей.
func (ls *listenerSet) snapshot() []CallListener {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]CallListener, len(ls.listeners))
	copy(out, ls.listeners)
	return out
}

// notifyCurrentCall уведомляет всех слушателей о смене активного вызова.
func (ls *listenerSet) notifyCurrentCall(session *Session) {
	for _, l := range ls.snapshot() {
		l.OnCurrentCallChanged(session)
	}
}

// notifyAudioRoute уведомляет всех слушателей о смене маршрута аудио.
func (ls *listenerSet) notifyAudioRoute(route AudioRoute) {
	for _, l := range ls.snapshot() {
		l.OnAudioRouteChanged(route)
	}
}
