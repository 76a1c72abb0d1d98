package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/coder/websocket"

	"github.com/MrWong99/clearvox/internal/app"
	"github.com/MrWong99/clearvox/internal/observe"
	"github.com/MrWong99/clearvox/pkg/audio"
	"github.com/MrWong99/clearvox/pkg/enhance"
)

// Event types sent from server to client as text messages.
const (
	EventStatus = "status"
	EventVAD    = "vad"
	EventError  = "error"
)

// Control message types accepted from the client as text messages.
const (
	ControlSetParameter    = "set_parameter"
	ControlSetVadParameter = "set_vad_parameter"
	ControlReset           = "reset"
)

// StatusEvent is sent once after the upgrade and again whenever the
// license mode changes.
type StatusEvent struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Frames      int    `json:"frames"`
	Variable    bool   `json:"variable"`
	Format      string `json:"format"`
	Delay       int    `json:"delay"`
	LicenseMode string `json:"license_mode"`
}

// VADEvent is sent whenever the speech flag flips.
type VADEvent struct {
	Type   string `json:"type"`
	Speech bool   `json:"speech"`
}

// ErrorEvent reports a failed audio or control message. The stream stays
// open.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ControlMessage is a client request sent as a text message.
type ControlMessage struct {
	Type  string  `json:"type"`
	Name  string  `json:"name,omitempty"`
	Value float32 `json:"value"`
}

// streamConfig derives the processor config and wire format of a stream
// from its query string. Unset values fall back to the processor section of
// the config and then to the model's optimum.
func (s *Server) streamConfig(q url.Values) (enhance.ProcessorConfig, audio.SampleFormat, error) {
	def := s.app.Config().Processor
	model := s.app.Model()

	pcfg := enhance.ProcessorConfig{
		SampleRate:          def.SampleRate,
		NumChannels:         max(def.Channels, 1),
		NumFrames:           def.Frames,
		AllowVariableFrames: def.VariableFrames,
	}
	if pcfg.SampleRate == 0 {
		pcfg.SampleRate = model.OptimalSampleRate()
	}

	var err error
	if v := q.Get("channels"); v != "" {
		if pcfg.NumChannels, err = strconv.Atoi(v); err != nil {
			return pcfg, 0, fmt.Errorf("channels: %w", err)
		}
	}
	if v := q.Get("frames"); v != "" {
		if pcfg.NumFrames, err = strconv.Atoi(v); err != nil {
			return pcfg, 0, fmt.Errorf("frames: %w", err)
		}
	}
	if v := q.Get("variable"); v != "" {
		if pcfg.AllowVariableFrames, err = strconv.ParseBool(v); err != nil {
			return pcfg, 0, fmt.Errorf("variable: %w", err)
		}
	}
	if pcfg.NumFrames == 0 {
		pcfg.NumFrames = model.OptimalNumFrames(pcfg.SampleRate)
	}
	format, err := audio.ParseSampleFormat(q.Get("format"))
	if err != nil {
		return pcfg, 0, err
	}
	return pcfg, format, pcfg.Validate()
}

// handleStream runs one enhancement session over a websocket.
//
// Query parameters: channels, frames, variable and format ("f32" or "s16").
// Binary messages carry interleaved PCM and are answered with the enhanced
// audio in the same format. Text messages carry [ControlMessage] values.
// The server emits [StatusEvent], [VADEvent] and [ErrorEvent] as text.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	pcfg, format, err := s.streamConfig(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := s.app.Sessions().Start(r.Context(), pcfg, r.RemoteAddr)
	switch {
	case errors.Is(err, app.ErrTooManySessions):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case errors.Is(err, enhance.ErrAudioConfigUnsupported):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("failed to start session", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "failed to start session", http.StatusInternalServerError)
		return
	}
	id := sess.Info().SessionID
	defer func() {
		if err := s.app.Sessions().Stop(context.WithoutCancel(r.Context()), id); err != nil {
			slog.Warn("failed to stop session", "session_id", id, "err", err)
		}
	}()

	conn, err := websocket.Accept(w, r, s.accept)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", id, "err", err)
		return
	}
	defer conn.CloseNow()

	samples := pcfg.NumChannels * pcfg.NumFrames
	conn.SetReadLimit(int64(max(samples*format.Size(), 64<<10)))

	sc := &streamConn{
		conn:     conn,
		sess:     sess,
		proc:     sess.Processor(),
		format:   format,
		channels: pcfg.NumChannels,
		buf:      make([]float32, samples),
		mode:     sess.Processor().Context().LicenseMode(),
		log:      observe.Logger(r.Context(), "session_id", id),
	}
	err = sc.run(r.Context())
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		sc.log.Debug("stream closed by client")
	case errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		sc.log.Warn("stream ended", "err", err)
		conn.Close(websocket.StatusInternalError, "stream error")
	}
}

// streamConn holds the per-connection state of one stream. All methods
// run on the connection's read goroutine.
type streamConn struct {
	conn     *websocket.Conn
	sess     *app.Session
	proc     *enhance.Processor
	format   audio.SampleFormat
	channels int
	buf      []float32
	out      []byte
	mode     enhance.LicenseMode
	speech   bool
	log      *slog.Logger
}

func (c *streamConn) run(ctx context.Context) error {
	if err := c.sendStatus(ctx); err != nil {
		return err
	}
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			err = c.handleAudio(ctx, data)
		case websocket.MessageText:
			err = c.handleControl(ctx, data)
		}
		if err != nil {
			return err
		}
	}
}

func (c *streamConn) handleAudio(ctx context.Context, data []byte) error {
	n, err := c.format.Decode(c.buf, data)
	if err != nil {
		return c.sendError(ctx, "invalid_audio", err)
	}
	if n%c.channels != 0 {
		return c.sendError(ctx, "invalid_audio",
			fmt.Errorf("%d samples is not a whole number of %d-channel frames", n, c.channels))
	}

	samples := c.buf[:n]
	perr := c.proc.ProcessInterleaved(samples)
	switch {
	case perr == nil, errors.Is(perr, enhance.ErrEnhancementNotAllowed):
	case errors.Is(perr, enhance.ErrInternal):
		// Output holds the dry signal; deliver it and report the fault.
		if err := c.sendError(ctx, errorCode(perr), perr); err != nil {
			return err
		}
	case errors.Is(perr, enhance.ErrProcessorClosed):
		return perr
	default:
		return c.sendError(ctx, errorCode(perr), perr)
	}

	c.out = c.format.AppendEncode(c.out[:0], samples)
	if err := c.conn.Write(ctx, websocket.MessageBinary, c.out); err != nil {
		return err
	}
	return c.publishChanges(ctx)
}

// publishChanges emits status and vad events for state that changed during
// the last process call.
func (c *streamConn) publishChanges(ctx context.Context) error {
	if mode := c.proc.Context().LicenseMode(); mode != c.mode {
		c.log.Info("license mode changed", "from", c.mode, "to", mode)
		c.mode = mode
		if err := c.sendStatus(ctx); err != nil {
			return err
		}
	}
	if speech := c.proc.VadContext().IsSpeechDetected(); speech != c.speech {
		c.speech = speech
		return c.send(ctx, VADEvent{Type: EventVAD, Speech: speech})
	}
	return nil
}

func (c *streamConn) handleControl(ctx context.Context, data []byte) error {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return c.sendError(ctx, "bad_request", fmt.Errorf("decode control message: %w", err))
	}

	var err error
	switch msg.Type {
	case ControlSetParameter:
		var p enhance.Parameter
		if p, err = enhance.ParseParameter(msg.Name); err == nil {
			err = c.proc.Context().SetParameter(p, msg.Value)
		}
	case ControlSetVadParameter:
		var p enhance.VadParameter
		if p, err = enhance.ParseVadParameter(msg.Name); err == nil {
			err = c.proc.VadContext().SetParameter(p, msg.Value)
		}
	case ControlReset:
		err = c.proc.Context().Reset()
	default:
		return c.sendError(ctx, "bad_request", fmt.Errorf("unknown control message type %q", msg.Type))
	}
	if err != nil {
		return c.sendError(ctx, errorCode(err), err)
	}
	c.log.Debug("control applied", "type", msg.Type, "name", msg.Name, "value", msg.Value)
	return nil
}

func (c *streamConn) sendStatus(ctx context.Context) error {
	cfg := c.sess.Info().Config
	return c.send(ctx, StatusEvent{
		Type:        EventStatus,
		SessionID:   c.sess.Info().SessionID,
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.NumChannels,
		Frames:      cfg.NumFrames,
		Variable:    cfg.AllowVariableFrames,
		Format:      c.format.String(),
		Delay:       c.proc.OutputDelay(),
		LicenseMode: c.mode.String(),
	})
}

func (c *streamConn) sendError(ctx context.Context, code string, err error) error {
	c.log.Debug("stream error", "code", code, "err", err)
	return c.send(ctx, ErrorEvent{Type: EventError, Code: code, Message: err.Error()})
}

func (c *streamConn) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: marshal event: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// errorCode maps engine errors to stable snake_case codes for clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, enhance.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, enhance.ErrAudioConfigMismatch):
		return "audio_config_mismatch"
	case errors.Is(err, enhance.ErrChannelLimitExceeded):
		return "channel_limit_exceeded"
	case errors.Is(err, enhance.ErrParameterOutOfRange):
		return "parameter_out_of_range"
	case errors.Is(err, enhance.ErrParameterFixed):
		return "parameter_fixed"
	case errors.Is(err, enhance.ErrProcessorClosed):
		return "processor_closed"
	case errors.Is(err, enhance.ErrInternal):
		return "internal"
	default:
		return "error"
	}
}
