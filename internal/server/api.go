package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/mode"
	"github.com/GriffinCanCode/hearing-assist/internal/trace"
)

type modeRequest struct {
	Mode string `json:"mode"`
}

type numberRequest struct {
	Volume  *float64 `json:"volume,omitempty"`
	Balance *float64 `json:"balance,omitempty"`
	GainDB  *float64 `json:"gain_db,omitempty"`
	Value   *float64 `json:"value,omitempty"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type microphoneRequest struct {
	Microphone string `json:"microphone"`
}

type outputRequest struct {
	Port string `json:"port"`
}

type recognitionRequest struct {
	Continuous *bool `json:"continuous,omitempty"`
}

type targetRequest struct {
	Locale string `json:"locale"`
}

type translateRequest struct {
	Text   string `json:"text"`
	Target string `json:"target,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.sys.State(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := mode.Parse(req.Mode)
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "switch mode"))
		return
	}
	if err := s.sys.SwitchMode(r.Context(), m); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": m.String()})
}

func (s *Server) handleEngine(on bool) http.HandlerFunc {
	status := "engine_stopped"
	if on {
		status = "engine_started"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.sys.SetRunning(r.Context(), on); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req numberRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Volume == nil {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "volume is required"))
		return
	}
	v, err := s.sys.SetVolume(r.Context(), *req.Volume)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"volume": v})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	var req numberRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Balance == nil {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "balance is required"))
		return
	}
	v, err := s.sys.SetBalance(r.Context(), *req.Balance)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"balance": v})
}

func (s *Server) handleNoiseSuppression(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "enabled is required"))
		return
	}
	if err := s.sys.SetNoiseSuppression(r.Context(), *req.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

func (s *Server) handleBand(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "band index"))
		return
	}
	var req numberRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.GainDB == nil {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "gain_db is required"))
		return
	}
	v, err := s.sys.SetBand(r.Context(), index, *req.GainDB)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": index, "gain_db": v})
}

func (s *Server) handleResetEqualizer(w http.ResponseWriter, r *http.Request) {
	if err := s.sys.ResetEqualizer(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "equalizer_reset"})
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "enabled is required"))
		return
	}
	id := r.PathValue("id")
	if err := s.sys.SetNodeEnabled(r.Context(), id, *req.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": *req.Enabled})
}

func (s *Server) handleParameter(w http.ResponseWriter, r *http.Request) {
	var req numberRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Value == nil {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "value is required"))
		return
	}
	id, name := r.PathValue("id"), r.PathValue("name")
	v, err := s.sys.SetParameter(r.Context(), id, name, *req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "name": name, "value": v})
}

func (s *Server) handleMicrophone(w http.ResponseWriter, r *http.Request) {
	var req microphoneRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.sys.SelectMicrophone(r.Context(), req.Microphone); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"microphone": req.Microphone})
}

func (s *Server) handleOutputPort(w http.ResponseWriter, r *http.Request) {
	var req outputRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.sys.SetOutputPort(r.Context(), req.Port); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"port": req.Port})
}

func (s *Server) handleRecognitionStart(w http.ResponseWriter, r *http.Request) {
	var req recognitionRequest
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, err)
		return
	}
	continuous := true
	if req.Continuous != nil {
		continuous = *req.Continuous
	}
	if err := s.sys.StartRecognition(r.Context(), continuous); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "listening", "continuous": continuous})
}

func (s *Server) handleRecognitionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sys.StopRecognition(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleRecognitionClear(w http.ResponseWriter, r *http.Request) {
	if err := s.sys.ClearRecognition(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleRecognitionClearVisible(w http.ResponseWriter, r *http.Request) {
	if err := s.sys.ClearVisible(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, r, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid limit %q", q))
			return
		}
		limit = min(n, MaxTranscriptLimit)
	}
	entries, err := s.sys.ListTranscripts(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSaveTranscript(w http.ResponseWriter, r *http.Request) {
	e, err := s.sys.SaveTranscript(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleDeleteTranscript(w http.ResponseWriter, r *http.Request) {
	if err := s.sys.DeleteTranscript(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTranslationTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.sys.SetTranslationTarget(r.Context(), req.Locale); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"locale": req.Locale})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	text, err := s.sys.Translate(r.Context(), req.Text, req.Target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// decode reads a size-capped JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

// writeError answers with the error's HTTP status and its ErrorInfo as the body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := toAppError(err)
	status := ae.HTTPStatus()
	if status >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		trace.Logger(r.Context()).Debug("request rejected", "path", r.URL.Path, "error", err)
	}
	body, merr := protojson.Marshal(ae.ToProto())
	if merr != nil {
		body = []byte(`{"reason":"INTERNAL"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func toAppError(err error) *apperrors.AppError {
	if ae, ok := apperrors.As(err); ok {
		return ae
	}
	return apperrors.Wrap(err, apperrors.CodeInternal, "internal error")
}
