package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"slack_scheduler/internal/models"
	"slack_scheduler/internal/repository"
	"slack_scheduler/internal/service"

	"github.com/rs/zerolog"
)

type fakeMessageService struct {
	scheduled  []models.ScheduleRequest
	scheduleID string
	list       []models.ScheduledMessage
	listSince  time.Time
	deleted    bool
	sendRes    models.DeliveryResult
	channels   []models.Channel
	err        error
}

func (f *fakeMessageService) Schedule(_ context.Context, req models.ScheduleRequest) (models.ScheduledMessage, error) {
	if f.err != nil {
		return models.ScheduledMessage{}, f.err
	}
	f.scheduled = append(f.scheduled, req)
	return models.ScheduledMessage{ID: f.scheduleID}, nil
}

func (f *fakeMessageService) ListScheduled(_ context.Context, _ string, since time.Time) ([]models.ScheduledMessage, error) {
	f.listSince = since
	return f.list, f.err
}

func (f *fakeMessageService) Cancel(context.Context, string) (bool, error) {
	return f.deleted, f.err
}

func (f *fakeMessageService) SendNow(context.Context, models.SendRequest) (models.DeliveryResult, error) {
	return f.sendRes, f.err
}

func (f *fakeMessageService) ListChannels(context.Context, string) ([]models.Channel, error) {
	return f.channels, f.err
}

type fakeInstallService struct {
	url       string
	workspace string
	err       error
	code      string
}

func (f *fakeInstallService) AuthorizeURL() (string, error) { return f.url, f.err }

func (f *fakeInstallService) CompleteInstall(_ context.Context, code string) (string, error) {
	f.code = code
	return f.workspace, f.err
}

func newTestRouter(msgs *fakeMessageService, inst *fakeInstallService) http.Handler {
	return NewRouter(
		NewMessageHandler(msgs, zerolog.Nop()),
		NewAuthHandler(inst, zerolog.Nop()),
		zerolog.Nop(),
	)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestSchedule(t *testing.T) {
	svc := &fakeMessageService{scheduleID: "job-1"}
	h := newTestRouter(svc, &fakeInstallService{})

	rec := do(t, h, http.MethodPost, "/messages/schedule",
		`{"workspace":"acme","channelId":"C1","message":"hi","sendAt":"2026-03-01T12:00:00Z"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if body := decodeBody(t, rec); body["id"] != "job-1" {
		t.Fatalf("body = %v", body)
	}
	if len(svc.scheduled) != 1 || svc.scheduled[0].ChannelID != "C1" {
		t.Fatalf("scheduled = %+v", svc.scheduled)
	}
}

func TestSchedule_BadJSON(t *testing.T) {
	h := newTestRouter(&fakeMessageService{}, &fakeInstallService{})

	for _, body := range []string{
		`{"workspace":`,
		`{"workspace":"acme","unknown":1}`,
		`{"workspace":"acme"}{"workspace":"acme"}`,
	} {
		if rec := do(t, h, http.MethodPost, "/messages/schedule", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d", body, rec.Code)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: sendAt is required", service.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: acme", service.ErrCredentialMissing), http.StatusNotFound},
		{fmt.Errorf("%w: channel_not_found", service.ErrGatewayRejected), http.StatusBadGateway},
		{fmt.Errorf("%w: timeout", service.ErrGatewayUnreachable), http.StatusBadGateway},
		{fmt.Errorf("insert: %w", repository.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newTestRouter(&fakeMessageService{err: tt.err}, &fakeInstallService{})
			rec := do(t, h, http.MethodPost, "/messages/send", `{"workspace":"acme","channelId":"C1","message":"hi"}`)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if _, ok := decodeBody(t, rec)["error"]; !ok {
				t.Fatal("error body missing")
			}
		})
	}
}

func TestSendNow(t *testing.T) {
	svc := &fakeMessageService{sendRes: models.DeliveryResult{OK: true, MessageTS: "123.456"}}
	h := newTestRouter(svc, &fakeInstallService{})

	rec := do(t, h, http.MethodPost, "/messages/send", `{"workspace":"acme","channelId":"C1","message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["ts"] != "123.456" {
		t.Fatalf("body = %v", body)
	}
}

func TestListScheduled(t *testing.T) {
	now := time.Now().UTC()
	svc := &fakeMessageService{list: []models.ScheduledMessage{
		{ID: "a", Workspace: "acme", ChannelID: "C1", Message: "old", SendAt: now.Add(-time.Hour)},
		{ID: "b", Workspace: "acme", ChannelID: "C1", Message: "stuck", SendAt: now.Add(-time.Minute), Locked: true},
		{ID: "c", Workspace: "acme", ChannelID: "C1", Message: "later", SendAt: now.Add(time.Hour)},
	}}
	h := newTestRouter(svc, &fakeInstallService{})

	rec := do(t, h, http.MethodGet, "/messages/scheduled?workspace=acme&since=2026-01-01T00:00:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if !svc.listSince.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("since = %v", svc.listSince)
	}

	var resp models.ScheduledListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 3 {
		t.Fatalf("messages = %+v", resp.Messages)
	}
	wantOverdue := []bool{true, false, false}
	for i, m := range resp.Messages {
		if m.Overdue != wantOverdue[i] {
			t.Errorf("%s overdue = %v, want %v", m.ID, m.Overdue, wantOverdue[i])
		}
	}

	if rec := do(t, h, http.MethodGet, "/messages/scheduled?workspace=acme&since=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since status = %d", rec.Code)
	}
}

func TestListScheduledPost(t *testing.T) {
	svc := &fakeMessageService{}
	h := newTestRouter(svc, &fakeInstallService{})

	rec := do(t, h, http.MethodPost, "/messages/scheduled", `{"workspace":"acme"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// empty list is [], not null
	if !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Fatalf("body = %s", rec.Body)
	}
	if !svc.listSince.IsZero() {
		t.Fatalf("since = %v, want zero", svc.listSince)
	}
}

func TestCancel(t *testing.T) {
	svc := &fakeMessageService{deleted: true}
	h := newTestRouter(svc, &fakeInstallService{})

	if rec := do(t, h, http.MethodDelete, "/messages/job-1", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	svc.deleted = false
	if rec := do(t, h, http.MethodDelete, "/messages/job-1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", rec.Code)
	}
}

func TestListChannels(t *testing.T) {
	h := newTestRouter(&fakeMessageService{}, &fakeInstallService{})

	rec := do(t, h, http.MethodGet, "/channels/list?workspace=acme", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"channels":[]`) {
		t.Fatalf("body = %s", rec.Body)
	}
}

func TestAuth(t *testing.T) {
	inst := &fakeInstallService{url: "https://slack.com/oauth/v2/authorize?client_id=x", workspace: "acme"}
	h := newTestRouter(&fakeMessageService{}, inst)

	rec := do(t, h, http.MethodGet, "/auth/slack", "")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != inst.url {
		t.Fatalf("status = %d location = %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = do(t, h, http.MethodGet, "/auth/slack/callback?code=abc", "")
	if rec.Code != http.StatusOK || inst.code != "abc" {
		t.Fatalf("status = %d code = %q", rec.Code, inst.code)
	}
	if body := decodeBody(t, rec); body["workspace"] != "acme" {
		t.Fatalf("body = %v", body)
	}

	if rec := do(t, h, http.MethodGet, "/auth/slack/callback?error=access_denied", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("declined status = %d", rec.Code)
	}

	inst.err = service.ErrOAuthNotConfigured
	if rec := do(t, h, http.MethodGet, "/auth/slack", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("not configured status = %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestRouter(&fakeMessageService{}, &fakeInstallService{})

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}
