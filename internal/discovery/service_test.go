package discovery

import (
	"errors"
	"net"
	"strings"
	"testing"
)

type fakeServer struct{ shutdowns int }

func (f *fakeServer) Shutdown() { f.shutdowns++ }

type registration struct {
	instance, service, domain string
	port                      int
	text                      []string
}

func newTestService(t *testing.T, regErr error) (*Service, *[]registration, *fakeServer) {
	t.Helper()
	s := NewService("bench", 8080, "1.2.0")
	var regs []registration
	fs := &fakeServer{}
	s.localIP = func() (string, error) { return "192.168.4.1", nil }
	s.register = func(instance, service, domain string, port int, text []string, _ []net.Interface) (server, error) {
		regs = append(regs, registration{instance, service, domain, port, text})
		if regErr != nil {
			return nil, regErr
		}
		return fs, nil
	}
	return s, &regs, fs
}

func TestTXTRecords(t *testing.T) {
	got := TXTRecords("1.0", "10.0.0.7")
	want := []string{"version=1.0", "name=" + DisplayName, "ip=10.0.0.7"}
	if len(got) != len(want) {
		t.Fatalf("TXTRecords() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TXTRecords()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestService_StartRegisters(t *testing.T) {
	s, regs, _ := newTestService(t, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(*regs) != 1 {
		t.Fatalf("registrations = %d, want 1", len(*regs))
	}
	r := (*regs)[0]
	if r.instance != "bench" || r.service != ServiceType || r.domain != ServiceDomain || r.port != 8080 {
		t.Errorf("registration = %+v", r)
	}
	if !strings.Contains(strings.Join(r.text, ";"), "ip=192.168.4.1") {
		t.Errorf("TXT = %v, missing ip", r.text)
	}
	if !s.Running() || s.IP() != "192.168.4.1" {
		t.Errorf("Running() = %v, IP() = %q", s.Running(), s.IP())
	}
}

func TestService_StartStopIdempotent(t *testing.T) {
	s, regs, fs := newTestService(t, nil)

	s.Start()
	s.Start()
	if len(*regs) != 1 {
		t.Errorf("second Start registered again (%d registrations)", len(*regs))
	}

	s.Stop()
	s.Stop()
	if fs.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", fs.shutdowns)
	}
	if s.Running() {
		t.Error("Running() after Stop")
	}

	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(*regs) != 2 {
		t.Errorf("restart did not register again")
	}
}

func TestService_RegisterError(t *testing.T) {
	s, _, _ := newTestService(t, errors.New("multicast unavailable"))

	if err := s.Start(); err == nil {
		t.Fatal("Start() expected error")
	}
	if s.Running() {
		t.Error("Running() after failed Start")
	}
	s.Stop() // no-op
}

func TestService_NoAddress(t *testing.T) {
	s, regs, _ := newTestService(t, nil)
	s.localIP = func() (string, error) { return "", errors.New("offline") }

	if err := s.Start(); err == nil {
		t.Fatal("Start() expected error without an address")
	}
	if len(*regs) != 0 {
		t.Error("registered without an address")
	}
}

func TestNewService_DefaultInstance(t *testing.T) {
	s := NewService("", 80, "dev")
	if !strings.HasSuffix(s.Instance(), "-slidego") {
		t.Errorf("Instance() = %q, want <host>-slidego", s.Instance())
	}
}
