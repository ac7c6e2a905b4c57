package registry

import (
	"encoding/json"
	"net/http"
	"strconv"

	"oss.nandlabs.io/dispatch/codec"
	"oss.nandlabs.io/dispatch/turbo"
)

// errorCode is the short machine-readable tag carried alongside every JSON
// error response.
type errorCode string

const (
	codeNotFound        errorCode = "not_found"
	codeDisabled        errorCode = "disabled"
	codeOverloaded      errorCode = "overloaded"
	codeInvalidArgument errorCode = "invalid_argument"
)

type errorBody struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Code    errorCode `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	jc := codec.JsonCodec()
	if err := jc.Write(v, w); err != nil {
		logger.ErrorF("registry: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorBody{Status: "error", Message: message, Code: code})
}

func statusFor(err error) (int, errorCode) {
	switch err {
	case ErrNotFound:
		return http.StatusNotFound, codeNotFound
	case ErrDisabled:
		return http.StatusBadRequest, codeDisabled
	case ErrOverloaded:
		return http.StatusTooManyRequests, codeOverloaded
	default:
		return http.StatusBadRequest, codeInvalidArgument
	}
}

type jobView struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Enabled         bool    `json:"enabled"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
	LastExecutionID *string `json:"lastExecutionId,omitempty"`
}

func toJobView(j *Job) jobView {
	v := jobView{
		ID:          j.ID,
		Name:        j.Name,
		Description: j.Description,
		Enabled:     j.Enabled,
		CreatedAt:   j.CreatedAt.Format(timeFormat),
		UpdatedAt:   j.UpdatedAt.Format(timeFormat),
	}
	if j.LastExecutionID != "" {
		id := j.LastExecutionID
		v.LastExecutionID = &id
	}
	return v
}

type executionView struct {
	ID         string  `json:"id"`
	JobID      string  `json:"jobId"`
	Status     string  `json:"status"`
	Parameters any     `json:"parameters,omitempty"`
	Result     any     `json:"result,omitempty"`
	Error      string  `json:"error,omitempty"`
	StartTime  string  `json:"startTime"`
	EndTime    *string `json:"endTime,omitempty"`
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func toExecutionView(e *JobExecution) executionView {
	v := executionView{
		ID:         e.ID,
		JobID:      e.JobID,
		Status:     e.Status.String(),
		Parameters: e.Parameters,
		Result:     e.Result,
		Error:      e.Error,
		StartTime:  e.StartTime.Format(timeFormat),
	}
	if e.EndTime != nil {
		s := e.EndTime.Format(timeFormat)
		v.EndTime = &s
	}
	return v
}

// RegisterRoutes mounts the Job Registry's HTTP surface on router.
func (r *Registry) RegisterRoutes(router *turbo.Router) {
	router.Get("/jobs", func(w http.ResponseWriter, req *http.Request) {
		var filter *bool
		if raw := req.URL.Query().Get("enabled"); raw != "" {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidArgument, "enabled must be a boolean")
				return
			}
			filter = &b
		}
		jobs := r.ListJobs(filter)
		views := make([]jobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, toJobView(j))
		}
		writeJSON(w, http.StatusOK, views)
	})

	router.Get("/jobs/:id", func(w http.ResponseWriter, req *http.Request) {
		id, _ := router.GetPathParams("id", req)
		job, err := r.GetJob(id)
		if err != nil {
			status, code := statusFor(err)
			writeError(w, status, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toJobView(job))
	})

	router.Post("/jobs/:id/run", func(w http.ResponseWriter, req *http.Request) {
		id, _ := router.GetPathParams("id", req)
		var body struct {
			Parameters any `json:"parameters"`
		}
		if req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidArgument, "malformed JSON body")
				return
			}
		}
		execID, err := r.RunJob(id, body.Parameters)
		if err != nil {
			status, code := statusFor(err)
			writeError(w, status, code, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":       "success",
			"execution_id": execID,
		})
	})

	router.Post("/jobs/:id/enable", func(w http.ResponseWriter, req *http.Request) {
		id, _ := router.GetPathParams("id", req)
		if err := r.SetEnabled(id, true); err != nil {
			status, code := statusFor(err)
			writeError(w, status, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	})

	router.Post("/jobs/:id/disable", func(w http.ResponseWriter, req *http.Request) {
		id, _ := router.GetPathParams("id", req)
		if err := r.SetEnabled(id, false); err != nil {
			status, code := statusFor(err)
			writeError(w, status, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	})

	router.Get("/executions/:id", func(w http.ResponseWriter, req *http.Request) {
		id, _ := router.GetPathParams("id", req)
		exec, err := r.GetExecution(id)
		if err != nil {
			status, code := statusFor(err)
			writeError(w, status, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toExecutionView(exec))
	})
}
