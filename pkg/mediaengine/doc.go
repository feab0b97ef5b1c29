// Package mediaengine реализует ленивый жизненный цикл WebRTC медиа
// движка и медиа транспорты вызовов поверх pion/webrtc.
//
// Движок не инициализируется при создании: тяжелая инициализация
// (кодеки, перехватчики, WebRTC API) выполняется при первом Acquire и
// переиспользуется всеми вызовами до Release. Вся работа движка
// сериализуется на единственном FIFO воркере, поэтому инициализация,
// создание транспортов и освобождение никогда не гонятся между собой.
//
// Engine реализует интерфейс call.MediaProvider и подключается к
// call.Registry через call.Deps.
package mediaengine
