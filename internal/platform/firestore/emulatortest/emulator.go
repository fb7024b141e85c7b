//go:build integration

// Package emulatortest starts a throwaway Firestore emulator in Docker for integration tests.
package emulatortest

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	pconfig "github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
)

const (
	image        = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	readyTimeout = 30 * time.Second
)

// Start runs an emulator for project and returns a provider dialing it. The test is skipped
// when Docker is unavailable or -short is set. Container and provider are released on cleanup.
func Start(t testing.TB, project string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	if err := docker(5*time.Second, "info"); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	port := freePort(t)
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		image,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v: %s", err, out)
	}
	container := strings.TrimSpace(string(out))
	t.Cleanup(func() { _ = docker(10*time.Second, "stop", container) })

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	waitForEndpoint(t, endpoint)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func docker(timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return exec.CommandContext(ctx, "docker", args...).Run()
}

func freePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForEndpoint(t testing.TB, endpoint string) {
	t.Helper()
	deadline := time.Now().Add(readyTimeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s not ready after %s", endpoint, readyTimeout)
}
