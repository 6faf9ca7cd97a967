package viz

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/norasector/spectra/pkg/spectra"
	"github.com/norasector/spectra/pkg/spectra/frame"
	"github.com/norasector/spectra/pkg/spectra/tuning"
)

const (
	clientSendBuffer = 16
	writeWait        = time.Second
)

type wsClient struct {
	conn *websocket.Conn
	send chan interface{}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*wsClient]struct{})}
}

func (h *hub) add(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn, send: make(chan interface{}, clientSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast never blocks; a client whose buffer is full is dropped.
func (h *hub) broadcast(msg interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

type fieldMessage struct {
	Field string `json:"field"`
	Value string `json:"value"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func fieldMessages(res tuning.AppliedResult) []fieldMessage {
	ret := make([]fieldMessage, 0, len(res.Fields))
	for _, f := range res.Fields {
		m := fieldMessage{
			Field: f.Param.String(),
			Value: f.Text,
			OK:    f.Err == nil,
		}
		if f.Err != nil {
			m.Error = f.Err.Error()
		}
		ret = append(ret, m)
	}
	return ret
}

type emissionMessage struct {
	Type     string     `json:"type"`
	Sequence uint64     `json:"seq"`
	Axis     frame.Axis `json:"axis"`
	Frame    []float32  `json:"frame"`
	PeakHz   float64    `json:"peak_hz"`
	PeakDB   float32    `json:"peak_db"`
	History  int        `json:"history"`
}

type fetchFailedMessage struct {
	Type        string `json:"type"`
	Error       string `json:"error"`
	Consecutive int    `json:"consecutive"`
}

type settingsAppliedMessage struct {
	Type   string          `json:"type"`
	Fields []fieldMessage  `json:"fields"`
	Tuning tuning.Settings `json:"tuning"`
}

func eventMessage(ev spectra.Event) interface{} {
	switch e := ev.(type) {
	case *spectra.Emission:
		bin, level := e.Frame.Peak()
		m := emissionMessage{
			Type:     "emission",
			Sequence: e.Sequence,
			Axis:     e.Axis,
			Frame:    e.Frame,
			PeakDB:   level,
			History:  len(e.Waterfall),
		}
		if bin >= 0 {
			m.PeakHz = e.Axis.FrequencyAt(bin)
		}
		return m
	case *spectra.FrameFetchFailed:
		return fetchFailedMessage{
			Type:        "fetch_failed",
			Error:       e.Err.Error(),
			Consecutive: e.Consecutive,
		}
	case *spectra.SettingsApplied:
		return settingsAppliedMessage{
			Type:   "settings_applied",
			Fields: fieldMessages(e.Result),
			Tuning: e.Tuning,
		}
	}
	return nil
}
