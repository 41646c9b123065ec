// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/netpulse-io/netpulse/internal/engine"
	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/model"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Channels())
}

type channelDetail struct {
	Channel model.Channel        `json:"channel"`
	Watch   *model.IndividualWatch `json:"watch,omitempty"`
}

func (s *Server) handleChannelDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ch, err := s.engine.Channel(id)
	if err != nil {
		writeNotFound(w)
		return
	}
	detail := channelDetail{Channel: ch}
	if iw, ok := s.engine.IndividualWatches()[id]; ok {
		detail.Watch = &iw
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleChannelSamples serves the raw sample window for a channel.
// Query params from/to are Unix milliseconds; both optional.
func (s *Server) handleChannelSamples(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	from, err := queryInt64(r, "from", 0)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	to, err := queryInt64(r, "to", time.Now().UnixMilli())
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	samples, err := s.engine.Samples(id, from, to)
	if err != nil {
		writeNotFound(w)
		return
	}
	if samples == nil {
		samples = []model.Sample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleChannelOutages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	since, err := queryInt64(r, "since", 0)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	if _, err := s.engine.Channel(id); err != nil {
		writeNotFound(w)
		return
	}
	outages := s.engine.Outages(id, since)
	if outages == nil {
		outages = []model.Outage{}
	}
	writeJSON(w, http.StatusOK, outages)
}

func (s *Server) handleExplainInterval(w http.ResponseWriter, r *http.Request) {
	expl, err := s.engine.ExplainInterval(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, expl)
}

func (s *Server) handleRegisterChannel(w http.ResponseWriter, r *http.Request) {
	var ch model.Channel
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.engine.RegisterChannel(ch); err != nil {
		if errors.Is(err, engine.ErrChannelExists) {
			writeConflict(w, err)
			return
		}
		writeBadRequest(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleDeregisterChannel(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeregisterChannel(chi.URLParam(r, "id")); err != nil {
		writeNotFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunChannel(w http.ResponseWriter, r *http.Request) {
	sample, err := s.engine.RunChannelNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, engine.ErrChannelNotFound) {
			writeNotFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RunAllNow(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"channels": s.engine.ChannelCount()})
}

type watchRequest struct {
	// Duration accepts "1h", "12h", "forever", or plain milliseconds.
	// Empty falls back to the configured default.
	Duration string `json:"duration,omitempty"`
}

func (s *Server) handleStartWatch(w http.ResponseWriter, r *http.Request) {
	dur, err := decodeWatchDuration(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	session, err := s.engine.StartWatch(r.Context(), dur)
	if err != nil {
		writeConflict(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleStopWatch(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.StopWatch(r.Context())
	if err != nil {
		writeConflict(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handlePauseWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.PauseWatch(r.Context()); err != nil {
		writeConflict(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResumeWatch(r.Context()); err != nil {
		writeConflict(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCurrentWatch(w http.ResponseWriter, r *http.Request) {
	session := s.engine.CurrentWatch()
	if session == nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleWatchHistory(w http.ResponseWriter, r *http.Request) {
	history := s.engine.WatchHistory()
	if history == nil {
		history = []model.WatchSession{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleIndividualWatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.IndividualWatches())
}

func (s *Server) handleWatchChannel(w http.ResponseWriter, r *http.Request) {
	dur, err := decodeWatchDuration(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	iw, err := s.engine.WatchChannel(chi.URLParam(r, "id"), dur)
	if err != nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, iw)
}

func (s *Server) handleUnwatchChannel(w http.ResponseWriter, r *http.Request) {
	s.engine.UnwatchChannel(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGrantScriptConsent(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.GrantScriptConsent(r.Context()); err != nil {
		writeForbidden(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"scriptsAllowed": s.engine.ScriptsAllowed()})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		writeNotFound(w)
		return
	}
	if err := s.reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "api.config_reloaded").
		Msg("configuration reloaded on request")
	writeJSON(w, http.StatusOK, map[string]int{"channels": s.engine.ChannelCount()})
}

// decodeWatchDuration reads the optional duration from the request body.
// An empty body or empty duration selects the configured default.
func decodeWatchDuration(r *http.Request) (model.WatchDuration, error) {
	var req watchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return model.WatchDuration{}, err
		}
	}
	if req.Duration == "" {
		return model.WatchDuration{}, nil
	}
	return model.ParseWatchDuration(req.Duration)
}

func queryInt64(r *http.Request, key string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
