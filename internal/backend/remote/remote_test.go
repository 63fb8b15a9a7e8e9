package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"songbot/internal/events"
)

func TestStatusParsesDeviceState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token: %q", req.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(DeviceState{DeviceID: "d1", IsPlaying: true, ProgressMS: 1500, VolumePercent: 80})
	}))
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL, Token: "tok"})
	state, err := r.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state == nil || state.DeviceID != "d1" || !state.IsPlaying || state.ProgressMS != 1500 {
		t.Fatalf("got %+v", state)
	}
}

func TestStatusReturnsNilOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL})
	state, err := r.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state on 404, got %+v", state)
	}
}

func TestStatusErrorsOnOtherNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL})
	if _, err := r.Status(context.Background()); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestLoadWhileLoadedEmitsPreemptedBeforeStarted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL})
	if err := r.Load(context.Background(), "video_host:1", 0); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	<-r.Events() // Started for the first track

	if err := r.Load(context.Background(), "video_host:2", 0); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	first := <-r.Events()
	if first.Kind != events.Ended || first.EndReason != events.EndReasonPreempted {
		t.Fatalf("expected Ended(Preempted) before the new Started, got %+v", first)
	}
	second := <-r.Events()
	if second.Kind != events.Started {
		t.Fatalf("expected Started after the preemption, got %+v", second)
	}
}

func TestStopEmitsCancelledForDisplacedTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL})
	if err := r.Load(context.Background(), "video_host:1", 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	<-r.Events() // Started

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ev := <-r.Events()
	if ev.Kind != events.Ended || ev.EndReason != events.EndReasonCancelled {
		t.Fatalf("expected Ended(Cancelled), got %+v", ev)
	}

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	select {
	case ev := <-r.Events():
		t.Fatalf("a stop with nothing loaded must not emit, got %+v", ev)
	default:
	}
}

func TestVolumeClampsAndPosts(t *testing.T) {
	var received volumeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewDecoder(req.Body).Decode(&received)
	}))
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL})
	if err := r.Volume(context.Background(), 150); err != nil {
		t.Fatalf("Volume: %v", err)
	}
	if received.VolumePercent != 100 {
		t.Fatalf("expected clamped volume 100, got %d", received.VolumePercent)
	}
}
