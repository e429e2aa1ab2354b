package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fuelflow/internal/analysis"
	"fuelflow/internal/metrics"
	"fuelflow/internal/session"
	"fuelflow/logger"
	"fuelflow/models"
	"fuelflow/reader"
)

var errBadRequest = errors.New("bad request")

// eventView adds the chart annotation fields to an event.
type eventView struct {
	models.Event
	Label       string    `json:"label"`
	AnchorIndex int       `json:"anchor_index"`
	AnchorTime  time.Time `json:"anchor_time"`
}

type fuelResponse struct {
	DeviceID string                  `json:"device_id,omitempty"`
	From     time.Time               `json:"from"`
	To       time.Time               `json:"to"`
	Volumes  []models.VolumeSample   `json:"volumes"`
	Series   []models.SmoothedSample `json:"series"`
	Events   []eventView             `json:"events"`
}

type speedResponse struct {
	DeviceID string                  `json:"device_id"`
	From     time.Time               `json:"from"`
	To       time.Time               `json:"to"`
	Series   []models.SmoothedSample `json:"series"`
}

type analysisRequest struct {
	Calibration []models.CalibrationPoint `json:"calibration"`
	Samples     []models.RawSample        `json:"samples"`
}

// UnmarshalJSON takes sample timestamps as epoch seconds or RFC3339 strings.
func (r *analysisRequest) UnmarshalJSON(data []byte) error {
	var payload struct {
		Calibration []models.CalibrationPoint `json:"calibration"`
		Samples     []struct {
			Timestamp json.RawMessage `json:"timestamp"`
			RawValue  float64         `json:"raw_value"`
		} `json:"samples"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	samples := make([]models.RawSample, len(payload.Samples))
	for i, s := range payload.Samples {
		raw := strings.Trim(string(s.Timestamp), `"`)
		if raw == "" || raw == "null" {
			return fmt.Errorf("sample %d: missing timestamp", i)
		}
		ts, err := reader.ParseTimestamp(raw)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		samples[i] = models.RawSample{Timestamp: ts, RawValue: s.RawValue}
	}
	r.Calibration = payload.Calibration
	r.Samples = samples
	return nil
}

type rangeRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func newFuelResponse(deviceID string, from, to time.Time, res *analysis.Result) fuelResponse {
	events := make([]eventView, len(res.Events))
	for i, e := range res.Events {
		events[i] = eventView{Event: e, Label: e.Label(), AnchorIndex: e.AnchorIndex(), AnchorTime: e.AnchorTime()}
	}
	return fuelResponse{
		DeviceID: deviceID,
		From:     from,
		To:       to,
		Volumes:  res.Volumes,
		Series:   res.Series,
		Events:   events,
	}
}

// writeError maps pipeline errors onto the statuses collaborators rely on.
func (s *Server) writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, analysis.OutcomeFailed.Message()
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, session.ErrInvalidRange):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, reader.ErrDeviceNotFound), errors.Is(err, session.ErrNotFound):
		status, msg = http.StatusNotFound, analysis.OutcomeNoData.Message()
	default:
		switch analysis.Classify(err) {
		case analysis.OutcomeNoData:
			status, msg = http.StatusNotFound, analysis.OutcomeNoData.Message()
		case analysis.OutcomeCannotCompute:
			status, msg = http.StatusUnprocessableEntity, analysis.OutcomeCannotCompute.Message()
		}
	}
	if status == http.StatusInternalServerError {
		s.log.WithComponent("api").WithError(err).WithFields(logger.Fields{"route": c.FullPath()}).Error("request handling failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// parseTime accepts RFC3339 timestamps and plain dates. A plain date used as
// an upper bound covers the whole day.
func parseTime(v string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: cannot parse time %q", errBadRequest, v)
	}
	if upper {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return t, nil
}

// queryRange reads from/to; to defaults to now and from to to minus the
// configured lookback.
func (s *Server) queryRange(c *gin.Context) (time.Time, time.Time, error) {
	to := s.now().UTC()
	if v := c.Query("to"); v != "" {
		t, err := parseTime(v, true)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	from := to.Add(-s.lookback)
	if v := c.Query("from"); v != "" {
		t, err := parseTime(v, false)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from must be before to", errBadRequest)
	}
	return from, to, nil
}

func (s *Server) analyzeDevice(ctx context.Context, deviceID string, from, to time.Time) (*analysis.Result, error) {
	raw, err := s.store.Samples(ctx, deviceID, models.SignalFuel, from, to)
	if err != nil {
		return nil, err
	}
	points, err := s.store.CalibrationPoints(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := analysis.AnalyzeContext(ctx, points, raw, s.options)
	metrics.ObserveAnalysis(analysis.Classify(err).Message(), time.Since(start))
	if err != nil {
		return nil, err
	}
	for _, e := range res.Events {
		metrics.IncrementEvent(e.Kind.String())
	}
	return res, nil
}

func (s *Server) listDevices(c *gin.Context) {
	page := 0
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(c, fmt.Errorf("%w: page must be a non-negative integer", errBadRequest))
			return
		}
		page = n
	}
	ids, err := s.store.DeviceIDs(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	devices, pages := reader.Page(ids, page)
	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"page":    page,
		"pages":   pages,
		"total":   len(ids),
	})
}

func (s *Server) deviceFuel(c *gin.Context) {
	from, to, err := s.queryRange(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	id := c.Param("id")
	res, err := s.analyzeDevice(c.Request.Context(), id, from, to)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newFuelResponse(id, from, to, res))
}

func (s *Server) deviceSpeed(c *gin.Context) {
	from, to, err := s.queryRange(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	id := c.Param("id")
	raw, err := s.store.Samples(c.Request.Context(), id, models.SignalSpeed, from, to)
	if err != nil {
		s.writeError(c, err)
		return
	}
	series, err := analysis.SmoothSeries(raw, s.options.Smoothing)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, speedResponse{DeviceID: id, From: from, To: to, Series: series})
}

func (s *Server) analyzePayload(c *gin.Context) {
	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	for i := 1; i < len(req.Samples); i++ {
		if req.Samples[i].Timestamp.Before(req.Samples[i-1].Timestamp) {
			s.writeError(c, fmt.Errorf("%w: samples must be in ascending time order", errBadRequest))
			return
		}
	}

	start := time.Now()
	res, err := analysis.AnalyzeContext(c.Request.Context(), req.Calibration, req.Samples, s.options)
	metrics.ObserveAnalysis(analysis.Classify(err).Message(), time.Since(start))
	if err != nil {
		s.writeError(c, err)
		return
	}
	from, to := req.Samples[0].Timestamp, req.Samples[len(req.Samples)-1].Timestamp
	c.JSON(http.StatusOK, newFuelResponse("", from, to, res))
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) putSessionRange(c *gin.Context) {
	var req rangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	from, err := parseTime(req.From, false)
	if err != nil {
		s.writeError(c, err)
		return
	}
	to, err := parseTime(req.To, true)
	if err != nil {
		s.writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	sess, err := session.Load(ctx, s.sessions, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := sess.SetRange(from, to); err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.sessions.Put(ctx, sess); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) queueSessionDevice(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := session.Load(ctx, s.sessions, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	sess.AddPending(c.Param("device"))
	if err := s.sessions.Put(ctx, sess); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// sessionFuel analyses a device over the range stored in the session.
func (s *Server) sessionFuel(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := s.sessions.Get(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !sess.HasRange() {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "set the date range first"})
		return
	}

	device := c.Param("device")
	res, err := s.analyzeDevice(ctx, device, sess.From, sess.To)
	if err != nil {
		s.writeError(c, err)
		return
	}

	sess.Done(device)
	if err := s.sessions.Put(ctx, sess); err != nil {
		s.log.WithComponent("api").WithError(err).WithFields(logger.Fields{"session": sess.ID}).Warn("failed to update session")
	}
	c.JSON(http.StatusOK, newFuelResponse(device, sess.From, sess.To, res))
}
