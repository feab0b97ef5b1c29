package mediaengine

import (
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/arzzra/callkit/pkg/call"
)

// Config - конфигурация медиа движка.
type Config struct {
	// ICEServers - список URL STUN/TURN серверов для устанавливаемых
	// соединений.
	ICEServers []string

	// QueueSize - размер очереди FIFO воркера движка.
	QueueSize int

	// CapabilityCheck выполняется перед инициализацией движка
	// (например, проверка разрешений на микрофон/камеру). Ненулевая
	// ошибка делает движок недоступным для этого Acquire.
	CapabilityCheck func() error
}

// DefaultConfig возвращает конфигурацию движка по умолчанию.
func DefaultConfig() Config {
	return Config{
		QueueSize: 64,
	}
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// Engine - ленивый WebRTC медиа движок. Инициализация откладывается до
// первого Acquire; повторные Acquire переиспользуют уже готовый движок.
// Вся работа сериализуется на единственном воркере.
type Engine struct {
	config Config
	exec   *serialExecutor

	mu         sync.Mutex
	api        *webrtc.API
	transports map[string]*Transport
	closed     bool
}

var _ call.MediaProvider = (*Engine)(nil)

// New создает медиа движок. Тяжелая инициализация не выполняется.
func New(config Config) *Engine {
	config.applyDefaults()
	return &Engine{
		config:     config,
		exec:       newSerialExecutor(config.QueueSize),
		transports: make(map[string]*Transport),
	}
}

// Acquire запрашивает инициализацию движка на контексте сериализации.
// done вызывается с результатом: nil если движок готов (в том числе
// если он уже был готов).
func (e *Engine) Acquire(done func(error)) {
	ok := e.exec.submit(func() {
		err := e.ensureAPI()
		if done != nil {
			done(err)
		}
	})
	if !ok && done != nil {
		done(errors.New("media engine stopped"))
	}
}

// ensureAPI выполняет ленивую инициализацию WebRTC API. Выполняется
// только на воркере.
func (e *Engine) ensureAPI() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("media engine closed")
	}
	if e.api != nil {
		return nil
	}
	if e.config.CapabilityCheck != nil {
		if err := e.config.CapabilityCheck(); err != nil {
			return errors.Wrap(err, "capability check failed")
		}
	}
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return errors.Wrap(err, "register default codecs")
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return errors.Wrap(err, "register default interceptors")
	}
	e.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)
	slog.Info("media engine initialized")
	return nil
}

// NewTransport создает медиа транспорт для вызова. Движок должен быть
// инициализирован предшествующим Acquire.
func (e *Engine) NewTransport(callID string, media call.MediaKind) (call.MediaTransport, error) {
	e.mu.Lock()
	api := e.api
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, errors.New("media engine closed")
	}
	if api == nil {
		return nil, errors.New("media engine not acquired")
	}

	cfg := webrtc.Configuration{}
	for _, u := range e.config.ICEServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create peer connection")
	}
	t := newTransport(callID, pc, media)
	if err := t.init(); err != nil {
		_ = pc.Close()
		return nil, err
	}
	t.onClosed = func() {
		e.forgetTransport(callID)
	}

	e.mu.Lock()
	e.transports[callID] = t
	e.mu.Unlock()

	slog.Debug("media transport created",
		slog.String("callID", callID),
		slog.String("media", string(media)))
	return t, nil
}

func (e *Engine) forgetTransport(callID string) {
	e.mu.Lock()
	delete(e.transports, callID)
	e.mu.Unlock()
}

// Submit выполняет задачу на контексте сериализации движка.
func (e *Engine) Submit(task func()) {
	if !e.exec.submit(task) {
		slog.Debug("media engine task dropped after stop")
	}
}

// Release освобождает движок: закрывает оставшиеся транспорты и
// сбрасывает инициализированное API. Следующий Acquire инициализирует
// движок заново. Выполняется на контексте сериализации.
func (e *Engine) Release() {
	e.exec.submit(func() {
		e.mu.Lock()
		transports := e.transports
		e.transports = make(map[string]*Transport)
		e.api = nil
		e.mu.Unlock()

		for _, t := range transports {
			if err := t.Close(); err != nil {
				slog.Warn("media engine release transport close failed",
					slog.String("callID", t.callID),
					slog.String("error", err.Error()))
			}
		}
		slog.Info("media engine released")
	})
}

// Close полностью останавливает движок и его воркер. После Close движок
// непригоден к использованию.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	transports := e.transports
	e.transports = make(map[string]*Transport)
	e.api = nil
	e.mu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Warn("media engine close transport close failed",
				slog.String("callID", t.callID),
				slog.String("error", err.Error()))
		}
	}
	e.exec.close()
	slog.Info("media engine closed")
	return nil
}
