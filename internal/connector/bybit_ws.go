package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"tradeagent/internal/schema"
)

const (
	bybitDefaultWSURL = "wss://stream.bybit.com/v5/public/spot"

	wsPingInterval  = 20 * time.Second
	wsReadDeadline  = 60 * time.Second
	wsRedialBackoff = 3 * time.Second
)

// BybitStream subscribes to kline topics over the public websocket and
// redials on connection loss until the context ends.
type BybitStream struct {
	url string
}

// NewBybitStream builds a stream for the given endpoint, defaulting to the
// public spot stream.
func NewBybitStream(wsURL string) *BybitStream {
	if wsURL == "" {
		wsURL = bybitDefaultWSURL
	}
	return &BybitStream{url: wsURL}
}

type bybitWSRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type bybitKlineMsg struct {
	Topic string `json:"topic"`
	Data  []struct {
		Start   int64  `json:"start"`
		Open    string `json:"open"`
		High    string `json:"high"`
		Low     string `json:"low"`
		Close   string `json:"close"`
		Volume  string `json:"volume"`
		Confirm bool   `json:"confirm"`
	} `json:"data"`
}

func (s *BybitStream) SubscribeKlines(ctx context.Context, symbol string, timeframes []int, fn func(timeframe int, c TimedCandle)) error {
	topics := make([]string, 0, len(timeframes))
	byTopic := make(map[string]int, len(timeframes))
	for _, tf := range timeframes {
		topic := fmt.Sprintf("kline.%d.%s", tf, symbol)
		topics = append(topics, topic)
		byTopic[topic] = tf
	}

	for {
		if err := s.consume(ctx, topics, byTopic, fn); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logs.Errorf("bybit stream: %s, redialing in %s", err, wsRedialBackoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wsRedialBackoff):
		}
	}
}

// consume runs one connection: subscribe, then pump messages until an error
// or cancellation.
func (s *BybitStream) consume(ctx context.Context, topics []string, byTopic map[string]int, fn func(int, TimedCandle)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(bybitWSRequest{Op: "subscribe", Args: topics}); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				// unblocks the read below
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteJSON(bybitWSRequest{Op: "ping"})
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg bybitKlineMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		tf, subscribed := byTopic[msg.Topic]
		if !subscribed {
			continue
		}
		for _, k := range msg.Data {
			if !k.Confirm {
				// only closed candles feed the table
				continue
			}
			fn(tf, TimedCandle{TS: k.Start, Candle: schema.Candle{
				Open:   parseWS(k.Open),
				High:   parseWS(k.High),
				Low:    parseWS(k.Low),
				Close:  parseWS(k.Close),
				Volume: parseWS(k.Volume),
			}})
		}
	}
}

func parseWS(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

var _ Stream = (*BybitStream)(nil)
