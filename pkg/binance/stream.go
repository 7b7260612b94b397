package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"candlealert/pkg/market"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	errWatchdog    = errors.New("no stream message within watchdog timeout")
	errPongTimeout = errors.New("no pong within keep-alive timeout")
)

const writeTimeout = 5 * time.Second

// StreamConfig holds the connection timing of a StreamClient.
type StreamConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	ReceiveTimeout   time.Duration // upper bound between watchdog checks
	WatchdogTimeout  time.Duration // max silence before a forced reconnect
}

// Observer receives connection lifecycle events. Implementations must not block.
type Observer interface {
	Connected(url string)
	Disconnected(err error, retryIn time.Duration)
	Accepted(c market.Candle)
	Dropped(err error)
}

type nopObserver struct{}

func (nopObserver) Connected(string)                   {}
func (nopObserver) Disconnected(error, time.Duration) {}
func (nopObserver) Accepted(market.Candle)            {}
func (nopObserver) Dropped(error)                     {}

// StreamClient maintains one combined kline subscription and emits normalized candles.
type StreamClient struct {
	cfg      StreamConfig
	backoff  *Backoff
	dialer   *websocket.Dialer
	observer Observer
	logger   *zap.Logger
}

// NewStreamClient creates a stream client. Zero timings fall back to
// 20s ping / 20s pong / 30s receive / 90s watchdog.
func NewStreamClient(cfg StreamConfig, backoff *Backoff, logger *zap.Logger) *StreamClient {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 20 * time.Second
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = 30 * time.Second
	}
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = 90 * time.Second
	}
	if backoff == nil {
		backoff = NewBackoff(time.Second, 30*time.Second, 0.2)
	}

	return &StreamClient{
		cfg:     cfg,
		backoff: backoff,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            websocket.DefaultDialer.Proxy,
		},
		observer: nopObserver{},
		logger:   logger,
	}
}

// SetObserver registers lifecycle callbacks.
func (c *StreamClient) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// StreamURL builds the combined stream URL, e.g. base?streams=btcusdt@kline_4h/ethusdt@kline_1d.
func StreamURL(base string, subs []market.Series) string {
	streams := make([]string, 0, len(subs))
	for _, s := range subs {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(s.Symbol), s.Interval))
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "streams=" + strings.Join(streams, "/")
}

// Run connects, streams and reconnects with backoff until ctx is cancelled.
// Normalized candles for subscribed series are sent on out.
func (c *StreamClient) Run(ctx context.Context, subs []market.Series, out chan<- market.Candle) error {
	if len(subs) == 0 {
		return errors.New("stream: no subscriptions")
	}

	url := StreamURL(c.cfg.URL, subs)
	wanted := make(map[string]bool, len(subs))
	for _, s := range subs {
		wanted[s.Key()] = true
	}

	for {
		err := c.session(ctx, url, wanted, out)
		if ctx.Err() != nil {
			c.logger.Info("stream stopped")
			return nil
		}

		delay := c.backoff.Next()
		c.logger.Warn("stream disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", delay),
		)
		c.observer.Disconnected(err, delay)

		select {
		case <-ctx.Done():
			c.logger.Info("stream stopped")
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one connection until it fails, goes silent or ctx is cancelled.
func (c *StreamClient) session(ctx context.Context, url string, wanted map[string]bool, out chan<- market.Candle) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.logger.Info("stream connected", zap.Int("streams", len(wanted)))
	c.observer.Connected(url)

	var lastPong atomic.Int64
	lastPong.Store(time.Now().UnixNano())
	conn.SetPongHandler(func(string) error {
		lastPong.Store(time.Now().UnixNano())
		return nil
	})

	done := make(chan struct{})
	defer close(done)

	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			// backstop only; the watchdog below decides liveness
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.WatchdogTimeout + c.cfg.ReceiveTimeout))
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- data:
			case <-done:
				return
			}
		}
	}()

	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()
	lastMessage := time.Now()
	accepted := false

	watchdog := time.NewTimer(c.watchdogWait(0))
	defer watchdog.Stop()
	rearm := func() {
		if !watchdog.Stop() {
			select {
			case <-watchdog.C:
			default:
			}
		}
		watchdog.Reset(c.watchdogWait(time.Since(lastMessage)))
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("read: %w", err)

		case <-ping.C:
			if time.Since(time.Unix(0, lastPong.Load())) > c.cfg.PingInterval+c.cfg.PongTimeout {
				return errPongTimeout
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}

		case <-watchdog.C:
			silence := time.Since(lastMessage)
			if silence >= c.cfg.WatchdogTimeout {
				return errWatchdog
			}
			watchdog.Reset(c.watchdogWait(silence))

		case data := <-msgs:
			lastMessage = time.Now()
			rearm()

			candle, err := ParseStreamMessage(data)
			if errors.Is(err, ErrIrrelevant) {
				continue
			}
			if err != nil {
				c.logger.Warn("dropping stream message", zap.Error(err), zap.Int("bytes", len(data)))
				c.observer.Dropped(err)
				continue
			}
			if !wanted[candle.Key()] {
				continue
			}

			if !accepted {
				accepted = true
				c.backoff.Reset()
			}
			c.observer.Accepted(candle)

			select {
			case out <- candle:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// watchdogWait is how long to sleep before the next liveness check after
// silence has already elapsed since the last message.
func (c *StreamClient) watchdogWait(silence time.Duration) time.Duration {
	wait := c.cfg.WatchdogTimeout - silence
	if wait > c.cfg.ReceiveTimeout {
		wait = c.cfg.ReceiveTimeout
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}
