package viz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/spectra/pkg/spectra"
	"github.com/norasector/spectra/pkg/spectra/tuning"
	"golang.org/x/sync/errgroup"
)

const (
	SpectrumImage  = "spectrum.png"
	WaterfallImage = "waterfall.png"

	eventBufferLength = 16
	// Images are rendered only while the page was viewed this recently.
	viewTimeout = time.Second
)

type ImageContainer struct {
	name string
	data []byte
}

type Producer interface {
	Name() string
	Update(em *spectra.Emission)
	GetImage() (*ImageContainer, error)
	AddPlotOption(opt PlotOptions)
}

// Controller applies and reads tuning, normally a *spectra.Analyzer.
type Controller interface {
	Apply(ctx context.Context, changes ...tuning.Change) (tuning.AppliedResult, error)
	Tuning(ctx context.Context) (tuning.Settings, error)
}

// Server serves the spectrum and waterfall images, the settings API and a
// websocket event stream. It is a spectra.Output.
type Server struct {
	recvChan       chan spectra.Event
	images         map[string]*ImageContainer
	producers      map[string]Producer
	mu             sync.RWMutex
	srv            *http.Server
	updateInterval time.Duration
	enabled        bool
	lastViewed     time.Time
	controller     Controller
	hub            *hub
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
}

type ServerOption func(s *Server)

func WithServerLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithLevels sets the dB range shown by the default plotters.
func WithLevels(minDB, maxDB float64) ServerOption {
	return func(s *Server) {
		s.Register(NewSpectrumPlotter(SpectrumImage, minDB, maxDB))
		s.Register(NewWaterfallPlotter(WaterfallImage, minDB, maxDB))
	}
}

func NewServer(port int, updateInterval time.Duration, opts ...ServerOption) *Server {
	s := &Server{
		recvChan:       make(chan spectra.Event, eventBufferLength),
		images:         make(map[string]*ImageContainer),
		producers:      make(map[string]Producer),
		srv:            &http.Server{Addr: fmt.Sprintf(":%d", port)},
		updateInterval: updateInterval,
		enabled:        true,
		hub:            newHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
		logger: log.Logger,
	}

	s.Register(NewSpectrumPlotter(SpectrumImage, -80, 10))
	s.Register(NewWaterfallPlotter(WaterfallImage, -80, 10))

	for _, opt := range opts {
		opt(s)
	}

	s.srv.Handler = s.Handler()
	return s
}

func (s *Server) Enable(enable bool) {
	s.mu.Lock()
	s.enabled = enable
	s.mu.Unlock()
}

func (s *Server) SetController(c Controller) {
	s.mu.Lock()
	s.controller = c
	s.mu.Unlock()
}

func (s *Server) Register(p Producer) {
	s.mu.Lock()
	s.producers[p.Name()] = p
	s.mu.Unlock()
}

func (s *Server) Receive() chan<- spectra.Event {
	return s.recvChan
}

func (s *Server) getController() Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controller
}

func (s *Server) handle(ev spectra.Event) {
	if em, ok := ev.(*spectra.Emission); ok {
		s.mu.RLock()
		for _, p := range s.producers {
			p.Update(em)
		}
		s.mu.RUnlock()
	}

	if msg := eventMessage(ev); msg != nil {
		s.hub.broadcast(msg)
	}
}

func (s *Server) viewed() {
	s.mu.Lock()
	s.lastViewed = time.Now()
	s.mu.Unlock()
}

// render refreshes the image of every producer.
func (s *Server) render() {
	s.mu.RLock()
	producers := make([]Producer, 0, len(s.producers))
	for _, p := range s.producers {
		producers = append(producers, p)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, producer := range producers {
		wg.Add(1)
		go func(p Producer) {
			defer wg.Done()
			s.renderOne(p)
		}(producer)
	}
	wg.Wait()
}

func (s *Server) renderOne(p Producer) *ImageContainer {
	img, err := p.GetImage()
	if err != nil {
		s.logger.Error().Err(err).Str("image", p.Name()).Msg("failed to render image")
		return nil
	}
	if img == nil {
		return nil
	}
	s.mu.Lock()
	s.images[img.name] = img
	s.mu.Unlock()
	return img
}

func (s *Server) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-s.recvChan:
				s.handle(ev)
			}
		}
	})

	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.updateInterval):
				s.mu.RLock()
				active := s.enabled && time.Since(s.lastViewed) < viewTimeout
				s.mu.RUnlock()
				if active {
					s.render()
				}
			}
		}
	})

	eg.Go(func() error {
		<-ctx.Done()
		s.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("viz server listening")
		err := s.srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	return eg.Wait()
}

func (s *Server) Handler() http.Handler {
	handler := httprouter.New()
	handler.GET("/", s.handleIndex)
	handler.GET("/img/:img", s.handleImage)
	handler.GET("/api/tuning", s.handleTuning)
	handler.POST("/api/settings", s.handleSettings)
	handler.GET("/ws", s.handleWebsocket)
	return handler
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.viewed()

	var current tuning.Settings
	if c := s.getController(); c != nil {
		if t, err := c.Tuning(r.Context()); err == nil {
			current = t
		}
	}

	s.mu.RLock()
	names := make([]string, 0, len(s.producers))
	for name := range s.producers {
		names = append(names, name)
	}
	interval := s.updateInterval
	s.mu.RUnlock()
	sort.Strings(names)

	w.Header().Add("Content-Type", "text/html")
	w.Write([]byte(`<html><head><title>Spectra</title></head>`))
	w.Write([]byte(fmt.Sprintf(`
		<script type="text/javascript">
			var toggleRefresh = true;
			function toggleOn() {
				toggleRefresh = !toggleRefresh;
			}

			function applySettings(form) {
				var body = {};
				for (const el of form.elements) {
					if (el.name && el.value !== '') {
						body[el.name] = el.value;
					}
				}
				fetch('/api/settings', {method: 'POST', headers: {'Content-Type': 'application/json'}, body: JSON.stringify(body)})
					.then(function(resp) { return resp.json(); })
					.then(function(res) {
						var failed = (res.fields || []).filter(function(f) { return !f.ok; });
						document.getElementById('status').innerText = failed.length == 0 ? 'applied' :
							failed.map(function(f) { return f.field + ': ' + f.error; }).join('; ');
					});
				return false;
			}

			window.onload = function() {
				var images = document.getElementsByClassName('graph');
				for (var i = 0; i < images.length; i++) {
					setInterval(function(image) {
						if (toggleRefresh) {
							image.src = image.src.split("?")[0] + "?" + new Date().getTime();
						}
					}, %d, images[i]);
				}
				var ws = new WebSocket((location.protocol == 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
				ws.onmessage = function(ev) {
					var msg = JSON.parse(ev.data);
					if (msg.type == 'fetch_failed') {
						document.getElementById('status').innerText = 'fetch failed: ' + msg.error;
					}
				};
			}
		</script>`, interval.Milliseconds())))
	w.Write([]byte(`<body style='background-color: black; color: white'>`))
	w.Write([]byte(fmt.Sprintf(`<form onsubmit="return applySettings(this)">
		Frequency (Hz) <input name="frequency" value="%d" />
		Sample rate (Hz) <input name="sample_rate" value="%d" />
		Bandwidth (Hz) <input name="bandwidth" value="%d" />
		Gain (dB) <input name="gain" value="%d" />
		<button type="submit">Apply</button>
		<span id="status"></span>
	</form>`, current.CenterFrequency, current.SampleRate, current.Bandwidth, current.Gain)))
	w.Write([]byte(`<button onclick="toggleOn()">Refresh?</button>`))

	w.Write([]byte(`<div style="display: flex; flex-direction: column">`))
	for _, name := range names {
		w.Write([]byte(fmt.Sprintf(`<div><img class="graph" src="/img/%s?%d" /></div>`, name, time.Now().UnixMicro())))
	}
	w.Write([]byte(`</div></body></html>`))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.viewed()

	name := params.ByName("img")
	s.mu.RLock()
	img, ok := s.images[name]
	producer, known := s.producers[name]
	s.mu.RUnlock()

	if !known {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	// first view before the render loop caught up
	if !ok {
		img = s.renderOne(producer)
	}
	if img == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Add("Content-Type", "image/png")
	w.Write(img.data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTuning(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	c := s.getController()
	if c == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no analyzer"})
		return
	}
	current, err := c.Tuning(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, current)
}

type settingsResponse struct {
	OK     bool            `json:"ok"`
	Fields []fieldMessage  `json:"fields"`
	Tuning tuning.Settings `json:"tuning"`
}

var paramOrder = []tuning.Param{tuning.Frequency, tuning.SampleRate, tuning.Bandwidth, tuning.Gain}

// parseSettings reads textual fields from a form or JSON body. Blank fields
// are left out.
func parseSettings(r *http.Request) ([]tuning.Change, error) {
	values := map[string]string{}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body := map[string]interface{}{}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid json body: %w", err)
		}
		for k, v := range body {
			switch val := v.(type) {
			case string:
				values[k] = val
			case json.Number:
				values[k] = val.String()
			case nil:
			default:
				values[k] = fmt.Sprint(val)
			}
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k := range r.PostForm {
			values[k] = r.PostForm.Get(k)
		}
	}

	byParam := map[tuning.Param]string{}
	for k, v := range values {
		p, ok := tuning.ParseParam(k)
		if !ok {
			return nil, fmt.Errorf("unknown setting %q", k)
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		byParam[p] = v
	}

	var changes []tuning.Change
	for _, p := range paramOrder {
		if v, ok := byParam[p]; ok {
			changes = append(changes, tuning.Set(p, v))
		}
	}
	if len(changes) == 0 {
		return nil, errors.New("no settings supplied")
	}
	return changes, nil
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	c := s.getController()
	if c == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no analyzer"})
		return
	}

	changes, err := parseSettings(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := c.Apply(r.Context(), changes...)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	status := http.StatusOK
	malformed := 0
	for _, f := range res.Fields {
		if errors.Is(f.Err, tuning.ErrMalformedInput) {
			malformed++
		}
	}
	if malformed == len(res.Fields) {
		status = http.StatusBadRequest
	}

	writeJSON(w, status, settingsResponse{
		OK:     res.OK(),
		Fields: fieldMessages(res),
		Tuning: res.Tuning,
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.viewed()

	client := s.hub.add(conn)
	go client.writePump()

	// reads only detect the client going away
	go func() {
		defer s.hub.remove(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
