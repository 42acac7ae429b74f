//go:build linux

package ebpf

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cilium/ebpf/btf"
	"github.com/pkg/errors"
	"github.com/saworbit/framecap/pkg/config"
	"github.com/ulikunitz/xz"
)

var testHost = hostInfo{ID: "ubuntu", Version: "22.04", Arch: "x86_64", Release: "5.15.0-test"}

func TestArchivePath(t *testing.T) {
	want := "ubuntu/22.04/x86_64/5.15.0-test.btf.tar.xz"
	if got := testHost.archivePath(); got != want {
		t.Fatalf("unexpected archive path\nwant: %s\ngot : %s", want, got)
	}
}

func TestParseOSRelease(t *testing.T) {
	meta := parseOSRelease(strings.NewReader("# comment\nID=Ubuntu\nVERSION_ID=\"22.04\"\nbogus\n"))
	if meta["ID"] != "ubuntu" {
		t.Fatalf("expected lowercased ID, got %q", meta["ID"])
	}
	if meta["VERSION_ID"] != "22.04" {
		t.Fatalf("expected unquoted VERSION_ID, got %q", meta["VERSION_ID"])
	}
	if _, ok := meta["bogus"]; ok {
		t.Fatalf("line without separator should be ignored")
	}
}

func TestFetchInstallsBTF(t *testing.T) {
	archive := buildBTFArchive(t, "dummy content")
	var requested string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write(archive)
	}))
	defer server.Close()

	cfg := config.DefaultConfig().EBPF.BTF
	cfg.CacheDir = t.TempDir()
	cfg.AllowDownload = true
	cfg.HubMirror = server.URL + "/"

	loader := NewBTFLoader(&cfg)
	dest := filepath.Join(cfg.CacheDir, testHost.Release+".btf")

	if err := loader.fetch(context.Background(), testHost, dest); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if requested != "/"+testHost.archivePath() {
		t.Fatalf("unexpected request path %s", requested)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("failed to read cached BTF: %v", err)
	}
	if string(data) != "dummy content" {
		t.Fatalf("unexpected BTF contents: %q", string(data))
	}

	leftovers, _ := filepath.Glob(filepath.Join(cfg.CacheDir, ".btf-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestFetchRejectsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	cfg := config.BTFConfig{CacheDir: t.TempDir(), AllowDownload: true, HubMirror: server.URL}
	dest := filepath.Join(cfg.CacheDir, "x.btf")
	if err := NewBTFLoader(&cfg).fetch(context.Background(), testHost, dest); err == nil {
		t.Fatal("expected error for 404 response")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("nothing should be installed on failure, stat err: %v", err)
	}
}

func TestLoadSpecWithoutDownload(t *testing.T) {
	cfg := config.BTFConfig{CacheDir: t.TempDir()}
	loader := NewBTFLoader(&cfg)
	loader.kernel = func() (*btf.Spec, error) { return nil, errors.New("no kernel BTF") }
	loader.host = func() (hostInfo, error) { return testHost, nil }

	if _, _, err := loader.LoadSpec(context.Background()); err == nil || !strings.Contains(err.Error(), "downloads are disabled") {
		t.Fatalf("expected downloads-disabled error, got %v", err)
	}
}

func TestUnpackBTFWithoutMember(t *testing.T) {
	var buf bytes.Buffer
	xzw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	tw := tar.NewWriter(xzw)
	if err := tw.WriteHeader(&tar.Header{Name: "README", Mode: 0o644, Size: 2, Typeflag: tar.TypeReg}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	_, _ = tw.Write([]byte("hi"))
	_ = tw.Close()
	_ = xzw.Close()

	if err := unpackBTF(&buf, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for archive without .btf member")
	}
}

func buildBTFArchive(t *testing.T, payload string) []byte {
	t.Helper()

	var buf bytes.Buffer
	xzw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("failed to create xz writer: %v", err)
	}
	tw := tar.NewWriter(xzw)

	content := []byte(payload)
	if err := tw.WriteHeader(&tar.Header{
		Name:     "5.15.0-test.btf",
		Mode:     0o644,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	}); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	if err := xzw.Close(); err != nil {
		t.Fatalf("failed to close xz writer: %v", err)
	}
	return buf.Bytes()
}
