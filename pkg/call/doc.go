// Package call реализует ядро управления голосовыми и видео вызовами
// поверх сигнального транспорта мессенджера.
//
// Основные компоненты:
//   - Registry: владеет множеством активных сессий вызовов, индексирует их
//     по идентификатору вызова и по идентификатору комнаты, применяет
//     политику допуска (не более MaxConcurrentCalls одновременных вызовов,
//     один активный) и арбитраж активного вызова
//   - Session: конечный автомат одного вызова (looplab/fsm) с независимым
//     hold под-состоянием и привязкой медиа транспорта
//   - Капабилити-интерфейсы внешних коллабораторов: SignalSender (отправка
//     сигнальных событий), MediaProvider (общий медиа движок),
//     PresentationService (системные уведомления о вызовах), AudioRouter,
//     BackgroundSync
//
// Все публичные операции Registry неблокирующие и никогда не паникуют:
// отказ в допуске и сигнальные события для неизвестных вызовов логируются
// и отбрасываются как ожидаемые гонки, а не ошибки.
//
// Пример использования:
//
//	engine := mediaengine.New(mediaengine.DefaultConfig())
//	reg, err := call.NewRegistry(call.DefaultConfig(), call.Deps{
//		Sender: sender,
//		Media:  engine,
//	})
//	if err != nil {
//		return err
//	}
//	defer reg.Close()
//
//	sess := reg.StartOutgoingCall(roomID, calleeID, call.MediaVideo)
//	if sess == nil {
//		// допуск отклонен, причина в логе
//	}
package call
