package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"zigbee-go-converters/internal/coordinator"
	"zigbee-go-converters/internal/schedule"
	"zigbee-go-converters/internal/store"
)

const maxBody = 1 << 20

// deviceView is a configured device with its last known state.
type deviceView struct {
	coordinator.Device
	State    map[string]any `json:"state,omitempty"`
	LastSeen *time.Time     `json:"last_seen,omitempty"`
	Transfer *transferView  `json:"transfer,omitempty"`
}

type transferView struct {
	Seq       uint16          `json:"seq"`
	Direction store.Direction `json:"direction"`
	Position  int             `json:"position"`
	Length    int             `json:"length"`
	StartedAt time.Time       `json:"started_at"`
}

func (s *Server) view(dev coordinator.Device) deviceView {
	v := deviceView{Device: dev}
	st, err := s.conv.Store().GetState(dev.Name)
	switch {
	case err == nil:
		v.State = st.Properties
		if !st.LastSeen.IsZero() {
			v.LastSeen = &st.LastSeen
		}
	case !errors.Is(err, store.ErrNotFound):
		s.logger.Warn("load device state", "device", dev.Name, "err", err)
	}
	if dev.Model == coordinator.ModelIRBlaster {
		if sess, ok := s.conv.PendingTransfer(dev.Name); ok {
			tv := &transferView{
				Seq:       sess.Seq,
				Direction: sess.Direction,
				Position:  sess.Position,
				StartedAt: sess.StartedAt,
			}
			if sess.Direction == store.DirectionSend {
				tv.Length = len(sess.Payload)
			} else {
				tv.Length = len(sess.Buffer)
			}
			v.Transfer = tv
		}
	}
	return v
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.conv.Devices().List()
	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, s.view(dev))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.conv.Devices().Get(r.PathValue("name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(dev))
}

type scheduleResponse struct {
	Schedule         schedule.Schedule `json:"schedule"`
	ScheduleSettings string            `json:"schedule_settings"`
}

func (s *Server) handleAPIGetSchedule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	sched, err := s.conv.ReadSchedule(r.Context(), name)
	if err != nil {
		s.writeError(w, "read schedule", name, err)
		return
	}
	s.writeJSON(w, http.StatusOK, scheduleResponse{
		Schedule:         sched,
		ScheduleSettings: schedule.Stringify(sched),
	})
}

// handleAPIPutSchedule accepts {"schedule": "<string form>"}, {"schedule":
// {days, events}} or a bare {days, events} object.
func (s *Server) handleAPIPutSchedule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var body map[string]interface{}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var (
		sched schedule.Schedule
		err   error
	)
	raw, ok := body["schedule"]
	if !ok {
		raw = body
	}
	if str, isStr := raw.(string); isStr {
		sched, err = schedule.Parse(str)
	} else {
		sched, err = schedule.FromValue(raw)
	}
	if err == nil {
		err = s.conv.WriteSchedule(r.Context(), name, sched)
	}
	if err != nil {
		s.writeError(w, "write schedule", name, err)
		return
	}
	s.writeJSON(w, http.StatusOK, scheduleResponse{
		Schedule:         sched,
		ScheduleSettings: schedule.Stringify(sched),
	})
}

type scheduleEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleAPISetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req scheduleEnabledRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "enabled must be a boolean"})
		return
	}
	if err := s.conv.SetScheduleEnabled(r.Context(), name, *req.Enabled); err != nil {
		s.writeError(w, "set schedule enabled", name, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

type sendIRRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleAPISendIR(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req sendIRRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Code == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code is required"})
		return
	}

	seq, err := s.conv.SendIRCode(r.Context(), name, req.Code)
	if err != nil {
		s.writeError(w, "send ir code", name, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"status": "sending", "seq": seq})
}

func (s *Server) handleAPILearnIR(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.conv.LearnIRCode(r.Context(), name); err != nil {
		s.writeError(w, "learn ir code", name, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "learning"})
}

// handleAPIListCodes returns learned codes, optionally filtered by ?device=.
func (s *Server) handleAPIListCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := s.conv.LearnedCodes()
	if err != nil {
		s.logger.Error("list learned codes", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	device := r.URL.Query().Get("device")
	out := make([]*store.LearnedCode, 0, len(codes))
	for _, c := range codes {
		if device == "" || c.Device == device {
			out = append(out, c)
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// writeError maps converter errors onto HTTP statuses. Validation messages
// are returned verbatim.
func (s *Server) writeError(w http.ResponseWriter, op, device string, err error) {
	var ve *schedule.ValidationError
	switch {
	case errors.As(err, &ve):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Msg})
	case errors.Is(err, coordinator.ErrUnknownDevice):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
	case errors.Is(err, coordinator.ErrUnsupportedModel):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, coordinator.ErrScheduleUnset):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		s.logger.Error(op, "device", device, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
