package shellcache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	shellmanifest "github.com/shellcache/shellcache/pkg/shell-manifest"
)

func TestHealthz(t *testing.T) {
	counts := map[string]int{}
	origin := httptest.NewServer(shellOrigin(counts))
	defer origin.Close()
	s := newTestCache(t, origin)

	rr := httptest.NewRecorder()
	s.AdminHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
}

func TestReadyzFollowsActivation(t *testing.T) {
	counts := map[string]int{}
	origin := httptest.NewServer(shellOrigin(counts))
	defer origin.Close()
	s := newTestCache(t, origin)
	admin := s.AdminHandler()

	rr := httptest.NewRecorder()
	admin.ServeHTTP(rr, httptest.NewRequest("GET", "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status before activation is %d", rr.Code)
	}

	if err := s.Activate("sar-checkin-cache-v1"); err != nil {
		t.Fatal(err)
	}
	rr = httptest.NewRecorder()
	admin.ServeHTTP(rr, httptest.NewRequest("GET", "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Status after activation is %d", rr.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	counts := map[string]int{}
	origin := httptest.NewServer(shellOrigin(counts))
	defer origin.Close()
	s := newTestCache(t, origin)

	if _, err := s.Install(context.Background(), shellmanifest.Manifest{
		Version: "sar-checkin-cache-v1",
		Assets:  []string{"./", "./manifest.json"},
	}); err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	s.AdminHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}

	var status statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.ActiveVersion != "sar-checkin-cache-v1" {
		t.Fatalf("Active version is %q", status.ActiveVersion)
	}
	if len(status.Stores) != 1 || status.Stores[0].Entries != 2 || !status.Stores[0].Active {
		t.Fatalf("Stores are %+v", status.Stores)
	}
	if status.LastInstall == nil || status.LastInstall.Failed != 0 {
		t.Fatalf("Last install is %+v", status.LastInstall)
	}
}

func TestAdminInstallTrigger(t *testing.T) {
	counts := map[string]int{}
	origin := httptest.NewServer(shellOrigin(counts))
	defer origin.Close()
	s := newTestCache(t, origin)

	if err := s.SetManifest(shellmanifest.Manifest{
		Version: "sar-checkin-cache-v1",
		Assets:  []string{"./", "./manifest.json"},
	}); err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	s.AdminHandler().ServeHTTP(rr, httptest.NewRequest("POST", "/api/install", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Status is %d", rr.Code)
	}

	// the install runs in the background
	waitForEntry(t, s, "sar-checkin-cache-v1", "/")
	waitForEntry(t, s, "sar-checkin-cache-v1", "/manifest.json")
}

func TestAdminInstallWithoutManifest(t *testing.T) {
	counts := map[string]int{}
	origin := httptest.NewServer(shellOrigin(counts))
	defer origin.Close()
	s := newTestCache(t, origin)

	rr := httptest.NewRecorder()
	s.AdminHandler().ServeHTTP(rr, httptest.NewRequest("POST", "/api/install", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("Status is %d", rr.Code)
	}
}

func TestAdminActivate(t *testing.T) {
	counts := map[string]int{}
	origin := httptest.NewServer(shellOrigin(counts))
	defer origin.Close()
	s := newTestCacheConfig(t, origin, Config{ManualActivation: true})

	if err := s.SetManifest(shellmanifest.Manifest{
		Version: "sar-checkin-cache-v1",
		Assets:  []string{"./"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InstallCurrent(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v := s.ActiveVersion(); v != "" {
		t.Fatalf("Active version is %q before activate", v)
	}

	rr := httptest.NewRecorder()
	s.AdminHandler().ServeHTTP(rr, httptest.NewRequest("POST", "/api/activate", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	if v := s.ActiveVersion(); v != "sar-checkin-cache-v1" {
		t.Fatalf("Active version is %q", v)
	}
}

func TestAdminRateLimit(t *testing.T) {
	counts := map[string]int{}
	origin := httptest.NewServer(shellOrigin(counts))
	defer origin.Close()
	s := newTestCache(t, origin)
	admin := s.AdminHandler()

	limited := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rr := httptest.NewRecorder()
		admin.ServeHTTP(rr, httptest.NewRequest("GET", "/api/status", nil))
		if rr.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("Rate limit never kicked in")
	}
}
