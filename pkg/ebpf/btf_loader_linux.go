//go:build linux

package ebpf

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cilium/ebpf/btf"
	"github.com/pkg/errors"
	"github.com/saworbit/framecap/pkg/config"
	"github.com/ulikunitz/xz"
)

const (
	systemBTFPath  = "/sys/kernel/btf/vmlinux"
	osReleasePath  = "/etc/os-release"
	defaultHubBase = "https://github.com/aquasecurity/btfhub-archive/raw/main"
)

// hubArch maps GOARCH to the directory names BTFHub uses.
var hubArch = map[string]string{
	"amd64":   "x86_64",
	"arm64":   "arm64",
	"ppc64le": "ppc64le",
	"s390x":   "s390x",
}

// hostInfo identifies a kernel build in the BTFHub archive.
type hostInfo struct {
	ID      string
	Version string
	Arch    string
	Release string
}

func (h hostInfo) archivePath() string {
	return path.Join(h.ID, h.Version, h.Arch, h.Release+".btf.tar.xz")
}

// BTFLoader supplies kernel type information when the program image needs
// CO-RE relocations: the running kernel's BTF if exposed, else a cached
// copy, else a download from a BTFHub mirror.
type BTFLoader struct {
	cache    string
	download bool
	mirror   string
	client   *http.Client
	host     func() (hostInfo, error)
	kernel   func() (*btf.Spec, error)
}

// NewBTFLoader builds a loader from cfg; a nil cfg yields a nil loader.
func NewBTFLoader(cfg *config.BTFConfig) *BTFLoader {
	if cfg == nil {
		return nil
	}

	l := &BTFLoader{
		cache:    cfg.CacheDir,
		download: cfg.AllowDownload,
		mirror:   strings.TrimSuffix(cfg.HubMirror, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		host:     currentHost,
		kernel:   btf.LoadKernelSpec,
	}
	if l.cache == "" {
		l.cache = filepath.Join(os.TempDir(), "framecap", "btf")
	}
	if l.mirror == "" {
		l.mirror = defaultHubBase
	}
	return l
}

// LoadSpec returns a BTF spec and where it came from.
func (l *BTFLoader) LoadSpec(ctx context.Context) (*btf.Spec, string, error) {
	if l == nil {
		return nil, "", errors.New("btf loader not configured")
	}

	if spec, err := l.kernel(); err == nil {
		return spec, systemBTFPath, nil
	}

	h, err := l.host()
	if err != nil {
		return nil, "", err
	}

	cached := filepath.Join(l.cache, h.Release+".btf")
	if _, err := os.Stat(cached); err == nil {
		spec, err := btf.LoadSpec(cached)
		return spec, cached, errors.Wrapf(err, "load cached BTF %s", cached)
	}

	if !l.download {
		return nil, "", errors.Errorf("kernel exposes no BTF and downloads are disabled (looked for %s)", cached)
	}

	if err := l.fetch(ctx, h, cached); err != nil {
		return nil, "", err
	}
	spec, err := btf.LoadSpec(cached)
	return spec, cached, errors.Wrapf(err, "load downloaded BTF %s", cached)
}

// fetch streams the archive for h from the mirror, unpacks its .btf member
// and moves it to dest once complete.
func (l *BTFLoader) fetch(ctx context.Context, h hostInfo, dest string) error {
	url := l.mirror + "/" + h.archivePath()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrapf(err, "build request for %s", url)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "download %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download %s: %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "create btf cache dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".btf-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	err = unpackBTF(resp.Body, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	return errors.Wrap(os.Rename(tmp.Name(), dest), "install cached BTF")
}

// unpackBTF copies the first *.btf member of an xz-compressed tarball to w.
func unpackBTF(r io.Reader, w io.Writer) error {
	zr, err := xz.NewReader(bufio.NewReader(r))
	if err != nil {
		return errors.Wrap(err, "open xz stream")
	}

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return errors.New("archive has no .btf member")
		}
		if err != nil {
			return errors.Wrap(err, "read tar header")
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, ".btf") {
			continue
		}
		_, err = io.Copy(w, tr)
		return errors.Wrapf(err, "extract %s", hdr.Name)
	}
}

func currentHost() (hostInfo, error) {
	arch, ok := hubArch[runtime.GOARCH]
	if !ok {
		return hostInfo{}, errors.Errorf("BTFHub has no archives for %s", runtime.GOARCH)
	}

	h := hostInfo{ID: "unknown", Version: "unknown", Arch: arch, Release: kernelRelease()}
	if f, err := os.Open(osReleasePath); err == nil {
		defer f.Close()
		meta := parseOSRelease(f)
		if v := meta["ID"]; v != "" {
			h.ID = v
		}
		if v := meta["VERSION_ID"]; v != "" {
			h.Version = v
		}
	}
	return h, nil
}

// parseOSRelease reads KEY=value lines, lowercasing and unquoting values.
func parseOSRelease(r io.Reader) map[string]string {
	meta := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		meta[key] = strings.ToLower(strings.Trim(val, `"'`))
	}
	return meta
}
