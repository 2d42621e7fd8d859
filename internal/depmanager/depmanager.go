// Package depmanager locates the extractor and muxer binaries and can install missing ones.
// Discovery order is: configured override, managed bins dir, system PATH, well-known install locations.
package depmanager

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"downloadflow/internal/config"
	"downloadflow/internal/errs"

	"github.com/ulikunitz/xz"
)

// BinaryName represents the name of a binary dependency.
type BinaryName string

// Binary dependency names.
const (
	BinaryYTdlp   BinaryName = "yt-dlp"
	BinaryFFmpeg  BinaryName = "ffmpeg"
	BinaryFFprobe BinaryName = "ffprobe"
)

// Platform operating system names and architectures.
const (
	platformDarwin  = "darwin"
	platformLinux   = "linux"
	platformWindows = "windows"
	archARM64       = "arm64"
)

const (
	// downloadTimeout is the HTTP client timeout for downloading binaries.
	downloadTimeout = 10 * time.Minute
	// filePermExecutable is the file permission for executable binaries.
	filePermExecutable = 0o755
)

// Platform represents the OS and architecture combination.
type Platform struct {
	OS   string
	Arch string
}

// String returns the platform string in format "os/arch".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// Manager resolves binary locations and installs missing binaries. Resolved paths are cached.
type Manager struct {
	log      *slog.Logger
	cfg      *config.Config
	platform Platform
	client   *http.Client
	lookPath func(string) (string, error)
	homeDir  string

	mu        sync.Mutex
	extractor string
	muxerDir  string
	resolved  bool
}

// New creates a new dependency manager.
func New(log *slog.Logger, cfg *config.Config) *Manager {
	home, _ := os.UserHomeDir()

	return &Manager{
		log: log.With(slog.String("package", "depmanager")),
		cfg: cfg,
		platform: Platform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		client: &http.Client{
			Timeout: downloadTimeout,
		},
		lookPath: exec.LookPath,
		homeDir:  home,
	}
}

// Start installs missing binaries when auto install is enabled and logs the resolved locations.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.DepManager.AutoInstall {
		if err := m.InstallMissing(ctx); err != nil {
			m.log.ErrorContext(ctx, "failed to install binaries", slog.Any("error", err))
		}
	}

	m.log.InfoContext(ctx, "binaries resolved",
		slog.String("extractor", m.LocateExtractor()),
		slog.String("muxer_dir", m.LocateMuxerDir()))
}

// LocateExtractor returns the yt-dlp executable to run.
// When nothing is found the bare name is returned and left to the OS to resolve.
func (m *Manager) LocateExtractor() string {
	m.resolve()

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.extractor
}

// LocateMuxerDir returns the directory holding ffmpeg, or "" when it cannot be found.
func (m *Manager) LocateMuxerDir() string {
	m.resolve()

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.muxerDir
}

func (m *Manager) resolve() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolved {
		return
	}

	m.extractor = m.findExtractor()
	m.muxerDir = m.findMuxerDir()
	m.resolved = true
}

// invalidate forces the next lookup to search again.
func (m *Manager) invalidate() {
	m.mu.Lock()
	m.resolved = false
	m.mu.Unlock()
}

func (m *Manager) findExtractor() string {
	if path := m.cfg.Tools.ExtractorPath; path != "" && isFile(path) {
		return path
	}

	if path := m.GetBinaryPath(BinaryYTdlp); isFile(path) {
		return path
	}

	if path, err := m.lookPath(string(BinaryYTdlp)); err == nil {
		return path
	}

	if m.platform.OS == platformWindows && m.homeDir != "" {
		path := filepath.Join(m.wingetLinksDir(), "yt-dlp.exe")
		if isFile(path) {
			return path
		}
	}

	return m.binaryFilename(BinaryYTdlp)
}

func (m *Manager) findMuxerDir() string {
	if dir := m.cfg.Tools.MuxerDir; dir != "" && isDir(dir) {
		return dir
	}

	if isFile(m.GetBinaryPath(BinaryFFmpeg)) {
		return m.cfg.DepManager.BinsDir
	}

	if path, err := m.lookPath(string(BinaryFFmpeg)); err == nil {
		return filepath.Dir(path)
	}

	if m.platform.OS != platformWindows || m.homeDir == "" {
		return ""
	}

	if dir := m.searchWingetPackages(); dir != "" {
		return dir
	}

	return m.wingetLinksDir()
}

func (m *Manager) wingetLinksDir() string {
	return filepath.Join(m.homeDir, "AppData", "Local", "Microsoft", "WinGet", "Links")
}

// searchWingetPackages looks through the ffmpeg packages under the WinGet packages dir
// and returns the directory of the first ffmpeg executable found at any depth.
func (m *Manager) searchWingetPackages() string {
	root := filepath.Join(m.homeDir, "AppData", "Local", "Microsoft", "WinGet", "Packages")
	exe := m.binaryFilename(BinaryFFmpeg)

	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}

	for _, pkg := range entries {
		if !pkg.IsDir() || !strings.Contains(strings.ToLower(pkg.Name()), "ffmpeg") {
			continue
		}

		if dir := findExecutableDir(filepath.Join(root, pkg.Name()), exe); dir != "" {
			return dir
		}
	}

	return ""
}

func findExecutableDir(root, exe string) string {
	var found string

	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable subtrees are skipped
		}

		if !entry.IsDir() && strings.EqualFold(entry.Name(), exe) {
			found = filepath.Dir(path)

			return fs.SkipAll
		}

		return nil
	})

	return found
}

// GetBinaryPath returns the managed path of a binary inside the bins dir.
//   - /home/user/bins + yt-dlp => /home/user/bins/yt-dlp
func (m *Manager) GetBinaryPath(name BinaryName) string {
	return filepath.Join(m.cfg.DepManager.BinsDir, m.binaryFilename(name))
}

func (m *Manager) binaryFilename(name BinaryName) string {
	if m.platform.OS == platformWindows {
		return string(name) + ".exe"
	}

	return string(name)
}

// InstallMissing downloads the binaries that cannot be found anywhere into the bins dir.
func (m *Manager) InstallMissing(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.DepManager.BinsDir, filePermExecutable); err != nil {
		return fmt.Errorf("create bins directory: %w", err)
	}

	m.resolve()

	m.mu.Lock()
	needExtractor := !isFile(m.extractor)
	needMuxer := m.muxerDir == ""
	m.mu.Unlock()

	var errList []error

	if needExtractor {
		if err := m.downloadAndInstall(ctx, BinaryYTdlp); err != nil {
			errList = append(errList, fmt.Errorf("install %s: %w", BinaryYTdlp, err))
		}
	}

	if needMuxer {
		if err := m.downloadAndInstall(ctx, BinaryFFmpeg); err != nil {
			errList = append(errList, fmt.Errorf("install %s: %w", BinaryFFmpeg, err))
		}
	}

	m.invalidate()

	return errors.Join(errList...)
}

// downloadAndInstall downloads and installs a dependency binary.
func (m *Manager) downloadAndInstall(ctx context.Context, name BinaryName) error {
	log := m.log.With(slog.String("binary", string(name)))

	url := m.getBinaryURL(name)
	if url == "" {
		return fmt.Errorf("%w: no download URL for %s on %s", errs.ErrUnsupportedPlatform, name, m.platform)
	}

	log.InfoContext(ctx, "downloading binary", slog.String("url", url))

	binPaths, err := m.downloadDependency(ctx, url, name)
	if err != nil {
		return fmt.Errorf("download dependency: %w", err)
	}

	for _, path := range binPaths {
		if err := os.Chmod(path, filePermExecutable); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}

	log.InfoContext(ctx, "binary installed successfully", slog.Any("paths", binPaths))

	return nil
}

func (m *Manager) getBinaryURL(name BinaryName) string {
	cfg := m.cfg.DepManager

	switch name {
	case BinaryYTdlp:
		switch m.platform.OS {
		case platformDarwin:
			return cfg.YTdlpDarwin
		case platformWindows:
			return cfg.YTdlpWindows
		case platformLinux:
			return m.selectLinuxURL(cfg.YTdlpLinuxARM64, cfg.YTdlpLinuxAMD64)
		}
	case BinaryFFmpeg, BinaryFFprobe:
		switch m.platform.OS {
		case platformWindows:
			return cfg.FFmpegWindows
		case platformLinux:
			return m.selectLinuxURL(cfg.FFmpegLinuxARM64, cfg.FFmpegLinuxAMD64)
		}
	}

	return ""
}

func (m *Manager) selectLinuxURL(linuxARM64, linuxAMD64 string) string {
	if m.platform.Arch == archARM64 && linuxARM64 != "" {
		return linuxARM64
	}

	return linuxAMD64
}

// downloadDependency downloads and installs a binary dependency from a URL. Returns installed paths.
func (m *Manager) downloadDependency(ctx context.Context, url string, name BinaryName) ([]string, error) {
	binPath := m.GetBinaryPath(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	needsExtraction := strings.HasSuffix(url, ".zip") ||
		strings.HasSuffix(url, ".tar.xz") ||
		strings.HasSuffix(url, ".tar.gz")

	destDir := filepath.Dir(binPath)

	tmpFile, err := os.CreateTemp(destDir, "download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmpFile.Name()

	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	if !needsExtraction {
		if err := os.Rename(tmpPath, binPath); err != nil {
			return nil, fmt.Errorf("rename: %w", err)
		}

		return []string{binPath}, nil
	}

	targets := m.getFilesNeeded(name)

	if err := m.extractFiles(tmpPath, destDir, url, targets); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	installedPaths := make([]string, 0, len(targets))

	for target := range targets {
		path := filepath.Join(destDir, target)
		if isFile(path) {
			installedPaths = append(installedPaths, path)
		}
	}

	return installedPaths, nil
}

// getFilesNeeded returns the set of files needed from an archive for a given binary.
func (m *Manager) getFilesNeeded(name BinaryName) map[string]struct{} {
	files := make(map[string]struct{})

	switch name {
	case BinaryFFmpeg, BinaryFFprobe:
		files[m.binaryFilename(BinaryFFmpeg)] = struct{}{}
		files[m.binaryFilename(BinaryFFprobe)] = struct{}{}
	default:
		files[m.binaryFilename(name)] = struct{}{}
	}

	return files
}

func (m *Manager) extractFiles(archivePath, destDir, url string, targets map[string]struct{}) error {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return m.extractFromZip(archivePath, destDir, targets)
	case strings.HasSuffix(url, ".tar.xz"):
		return m.extractFromTarXZ(archivePath, destDir, targets)
	case strings.HasSuffix(url, ".tar.gz"):
		return m.extractFromTarGZ(archivePath, destDir, targets)
	default:
		return errors.New("unsupported archive format")
	}
}

func (m *Manager) extractFromZip(zipPath, destDir string, targets map[string]struct{}) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	extracted := 0

	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}

		filename := file.FileInfo().Name()
		if _, ok := targets[filename]; !ok {
			continue
		}

		fileReader, err := file.Open()
		if err != nil {
			return fmt.Errorf("open file in zip: %w", err)
		}

		err = writeExecutable(filepath.Join(destDir, filename), fileReader)
		fileReader.Close()

		if err != nil {
			return err
		}

		extracted++

		if extracted == len(targets) {
			return nil
		}
	}

	if extracted == 0 {
		return fmt.Errorf("%w in zip archive", errs.ErrBinaryNotFound)
	}

	return nil
}

func (m *Manager) extractFromTarXZ(tarXZPath, destDir string, targets map[string]struct{}) error {
	file, err := os.Open(tarXZPath)
	if err != nil {
		return fmt.Errorf("open tar.xz: %w", err)
	}
	defer file.Close()

	xzReader, err := xz.NewReader(file)
	if err != nil {
		return fmt.Errorf("create xz reader: %w", err)
	}

	return m.extractTarSelected(xzReader, destDir, targets)
}

func (m *Manager) extractFromTarGZ(tarGZPath, destDir string, targets map[string]struct{}) error {
	file, err := os.Open(tarGZPath)
	if err != nil {
		return fmt.Errorf("open tar.gz: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzReader.Close()

	return m.extractTarSelected(gzReader, destDir, targets)
}

func (m *Manager) extractTarSelected(reader io.Reader, destDir string, targets map[string]struct{}) error {
	tarReader := tar.NewReader(reader)
	extracted := 0

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		filename := filepath.Base(header.Name)
		if _, ok := targets[filename]; !ok {
			continue
		}

		if err := writeExecutable(filepath.Join(destDir, filename), tarReader); err != nil {
			return err
		}

		extracted++

		if extracted == len(targets) {
			return nil
		}
	}

	if extracted == 0 {
		return fmt.Errorf("%w in tar archive", errs.ErrBinaryNotFound)
	}

	return nil
}

func writeExecutable(destPath string, src io.Reader) error {
	outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermExecutable)
	if err != nil {
		return fmt.Errorf("create dest file: %w", err)
	}

	_, err = io.Copy(outFile, src)
	closeErr := outFile.Close()

	if err != nil {
		return fmt.Errorf("extract file: %w", err)
	}

	if closeErr != nil {
		return fmt.Errorf("close dest file: %w", closeErr)
	}

	return nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func isDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}
