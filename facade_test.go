package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"oss.nandlabs.io/dispatch/cron"
	"oss.nandlabs.io/dispatch/registry"
	"oss.nandlabs.io/dispatch/testing/assert"
)

func newTestFacade(t *testing.T, mutate func(*Config)) *Facade {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Cron.Expression = ""
	if mutate != nil {
		mutate(cfg)
	}
	f, err := New(cfg)
	assert.NoError(t, err)
	return f
}

// TestFacade_RegisterAndRun registers a job, runs it over HTTP, and polls
// its execution until it completes.
func TestFacade_RegisterAndRun(t *testing.T) {
	f := newTestFacade(t, nil)
	_, err := f.Registry().Register("greet", "", func(_ context.Context, params any) (any, error) {
		m, _ := params.(map[string]any)
		return map[string]any{"greeting": fmt.Sprintf("Hello, %v!", m["name"])}, nil
	}, true)
	assert.NoError(t, err)

	srv := httptest.NewServer(f.Routes())
	defer srv.Close()

	jobs := doGet(t, srv.URL+"/jobs")
	var jobList []map[string]any
	assert.NoError(t, json.Unmarshal(jobs, &jobList))
	assert.Equal(t, 1, len(jobList))
	id := jobList[0]["id"].(string)

	body, _ := json.Marshal(map[string]any{"parameters": map[string]any{"name": "Alice"}})
	resp := doPost(t, srv.URL+"/jobs/"+id+"/run", body)
	var runResp map[string]any
	assert.NoError(t, json.Unmarshal(resp, &runResp))
	execID, _ := runResp["execution_id"].(string)
	assert.NotNil(t, execID)

	var execResp map[string]any
	for i := 0; i < 50; i++ {
		raw := doGet(t, srv.URL+"/executions/"+execID)
		assert.NoError(t, json.Unmarshal(raw, &execResp))
		if execResp["status"] == "completed" || execResp["status"] == "failed" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, "completed", execResp["status"])
	result, _ := execResp["result"].(map[string]any)
	assert.Equal(t, "Hello, Alice!", result["greeting"])
}

// TestFacade_CronFires checks a job on a 1-second schedule fires a bounded
// number of times over ~3.5 seconds.
func TestFacade_CronFires(t *testing.T) {
	f := newTestFacade(t, func(c *Config) {
		c.Cron.Config = *cron.DefaultConfig()
		c.Cron.Config.TickIntervalMs = 50
	})

	var count int32
	_, err := f.CronEngine().Add("*/1 * * * * *", func() error {
		atomic.AddInt32(&count, 1)
		return nil
	}, true, false)
	assert.NoError(t, err)

	assert.NoError(t, f.Start())
	time.Sleep(3500 * time.Millisecond)
	assert.NoError(t, f.Stop())

	n := atomic.LoadInt32(&count)
	assert.True(t, n >= 3 && n <= 4)
}

// TestFacade_WebhookAuthenticated checks a correctly signed payload
// succeeds and a flipped signature is rejected.
func TestFacade_WebhookAuthenticated(t *testing.T) {
	f := newTestFacade(t, nil)
	_, err := f.Webhooks().Register("pay", func(payload any) (any, error) {
		return payload, nil
	}, "s3cret", true)
	assert.NoError(t, err)

	srv := httptest.NewServer(f.Routes())
	defer srv.Close()

	payload := map[string]any{"amount": float64(100)}
	canonical, _ := json.Marshal(payload)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(canonical)
	sig := hex.EncodeToString(mac.Sum(nil))

	body, _ := json.Marshal(map[string]any{"payload": payload, "signature": sig})
	resp, status := doPostStatus(t, srv.URL+"/webhooks/pay", body)
	assert.Equal(t, http.StatusOK, status)
	var ok map[string]any
	assert.NoError(t, json.Unmarshal(resp, &ok))
	assert.Equal(t, "success", ok["status"])

	flipped := []byte(sig)
	flipped[0] ^= 1
	body2, _ := json.Marshal(map[string]any{"payload": payload, "signature": string(flipped)})
	_, status2 := doPostStatus(t, srv.URL+"/webhooks/pay", body2)
	assert.Equal(t, http.StatusUnauthorized, status2)
}

// TestFacade_HandlerErrorBecomesFailed checks a handler error surfaces as
// a Failed execution, not as an error from RunJob.
func TestFacade_HandlerErrorBecomesFailed(t *testing.T) {
	f := newTestFacade(t, nil)
	id, err := f.Registry().Register("always-fails", "", func(_ context.Context, _ any) (any, error) {
		return nil, fmt.Errorf("nope")
	}, true)
	assert.NoError(t, err)

	execID, err := f.Registry().RunJob(id, nil)
	assert.NoError(t, err)

	var exec *registry.JobExecution
	for i := 0; i < 50; i++ {
		exec, err = f.Registry().GetExecution(execID)
		assert.NoError(t, err)
		if exec.Status == registry.Failed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, registry.Failed, exec.Status)
	assert.Equal(t, "nope", exec.Error)
}

// TestFacade_UnregisterPurgesHistory checks unregistering a job drops its
// execution history with it.
func TestFacade_UnregisterPurgesHistory(t *testing.T) {
	f := newTestFacade(t, nil)
	id, err := f.Registry().Register("noop", "", func(_ context.Context, _ any) (any, error) {
		return "ok", nil
	}, true)
	assert.NoError(t, err)

	for i := 0; i < 3; i++ {
		execID, err := f.Registry().RunJob(id, nil)
		assert.NoError(t, err)
		for j := 0; j < 50; j++ {
			exec, _ := f.Registry().GetExecution(execID)
			if exec != nil && exec.Status == registry.Completed {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	assert.Equal(t, 3, len(f.Registry().ListExecutionsForJob(id)))
	assert.NoError(t, f.Registry().Unregister(id))
	assert.Equal(t, 0, len(f.Registry().ListExecutionsForJob(id)))
}

// TestFacade_Overload checks the concurrency cap rejects a second run while
// the first is still blocked, then admits one once it finishes.
func TestFacade_Overload(t *testing.T) {
	f := newTestFacade(t, func(c *Config) {
		c.API.MaxConcurrentJobs = 1
	})

	release := make(chan struct{})
	id, err := f.Registry().Register("blocker", "", func(ctx context.Context, _ any) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "done", nil
	}, true)
	assert.NoError(t, err)

	first, err := f.Registry().RunJob(id, nil)
	assert.NoError(t, err)

	time.Sleep(50 * time.Millisecond) // let the detached task reach Running
	_, err = f.Registry().RunJob(id, nil)
	assert.Equal(t, registry.ErrOverloaded, err)

	close(release)
	var exec *registry.JobExecution
	for i := 0; i < 50; i++ {
		exec, _ = f.Registry().GetExecution(first)
		if exec.Status == registry.Completed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, registry.Completed, exec.Status)

	var third string
	for i := 0; i < 50; i++ {
		third, err = f.Registry().RunJob(id, nil)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.NoError(t, err)
	assert.NotNil(t, third)
}

func doGet(t *testing.T, url string) []byte {
	t.Helper()
	resp, err := http.Get(url)
	assert.NoError(t, err)
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	assert.NoError(t, err)
	return buf.Bytes()
}

func doPost(t *testing.T, url string, body []byte) []byte {
	t.Helper()
	out, _ := doPostStatus(t, url, body)
	return out
}

func doPostStatus(t *testing.T, url string, body []byte) ([]byte, int) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	assert.NoError(t, err)
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	assert.NoError(t, err)
	return buf.Bytes(), resp.StatusCode
}
