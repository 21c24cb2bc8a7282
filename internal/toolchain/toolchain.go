// Package toolchain preflight-checks the external binaries and filesystem
// paths the pipeline depends on before accepting a task, adapted from
// diagnostics.Checker's injectable-OS-function pattern: ffmpeg/ffprobe
// resolved from a pinned toolchain directory (or PATH as a dev-mode
// fallback), a usable Python interpreter for the ASR runner, and a writable
// data directory, collapsed into the single runtime_toolchain_status command
// reply shape (§6).
package toolchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"typevoice/internal/domain"
)

// toolchainDirEnvVar points at a directory containing pinned, checksum- and
// version-verified ffmpeg/ffprobe builds. ffmpegEnvVar/ffprobeEnvVar let a
// caller point at an individual binary directly, bypassing the directory.
const (
	toolchainDirEnvVar = "TYPEVOICE_TOOLCHAIN_DIR"
	ffmpegEnvVar       = "TYPEVOICE_FFMPEG"
	ffprobeEnvVar      = "TYPEVOICE_FFPROBE"
)

// platformSpec pins the expected ffmpeg/ffprobe build for one platform: its
// file name, sha256, and the version string its "-version" output must
// contain. Unknown platforms (anything not listed below) skip checksum and
// version verification and fall back to a PATH lookup.
type platformSpec struct {
	id            string
	version       string
	ffmpegFile    string
	ffmpegSHA256  string
	ffprobeFile   string
	ffprobeSHA256 string
}

var platformSpecs = map[string]platformSpec{
	"windows/amd64": {
		id:            "windows-x86_64",
		version:       "7.0.2",
		ffmpegFile:    "ffmpeg.exe",
		ffmpegSHA256:  "33cf0d2a42486a59f74f3b3741d8ff71bed82169db7125e91804cf264b365a4a",
		ffprobeFile:   "ffprobe.exe",
		ffprobeSHA256: "af3c38d4a25acf3bf0f16c3e36b7f0700bbf8fc1159057186a6f3f1fe7cd1611",
	},
	"linux/amd64": {
		id:            "linux-x86_64",
		version:       "7.0.2",
		ffmpegFile:    "ffmpeg",
		ffmpegSHA256:  "e7e7fb30477f717e6f55f9180a70386c62677ef8a4d4d1a5d948f4098aa3eb99",
		ffprobeFile:   "ffprobe",
		ffprobeSHA256: "4f231a1960d83e403d08f7971e271707bec278a9ae18e21b8b5b03186668450d",
	},
}

// ExpectedVersion is the toolchain baseline this build targets, surfaced
// verbatim in runtime_toolchain_status so the UI can show a mismatch hint.
// It falls back to "unknown" off the two pinned platforms above.
var ExpectedVersion = func() string {
	if spec, ok := platformSpecs[runtime.GOOS+"/"+runtime.GOARCH]; ok {
		return spec.version
	}
	return "unknown"
}()

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath    func(string) (string, error)
	stat        func(string) (os.FileInfo, error)
	mkdirAll    func(string, os.FileMode) error
	createTemp  func(string, string) (*os.File, error)
	remove      func(string) error
	hashFile    func(string) (string, error)
	toolVersion func(string) (string, error)
	getenv      func(string) string
	platformKey string
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:    exec.LookPath,
		stat:        os.Stat,
		mkdirAll:    os.MkdirAll,
		createTemp:  os.CreateTemp,
		remove:      os.Remove,
		hashFile:    sha256HexFile,
		toolVersion: runToolVersion,
		getenv:      os.Getenv,
		platformKey: runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// NewCheckerForTests builds a checker with every OS dependency injectable.
// platformKey overrides the runtime.GOOS/GOARCH lookup into platformSpecs
// (pass an unmapped value such as "" to exercise the unpinned-platform path
// regardless of the host the tests run on).
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	hashFile func(string) (string, error),
	toolVersion func(string) (string, error),
	getenv func(string) string,
	platformKey string,
) *Checker {
	return &Checker{
		lookPath:    lookPath,
		stat:        stat,
		mkdirAll:    mkdirAll,
		createTemp:  createTemp,
		remove:      remove,
		hashFile:    hashFile,
		toolVersion: toolVersion,
		getenv:      getenv,
		platformKey: platformKey,
	}
}

// Run executes all startup checks and returns both the detailed report (for
// the diagnostics panel) and the collapsed status (for runtime_toolchain_status).
func (c *Checker) Run(dataDir, pythonBinary string) (domain.DiagnosticReport, domain.ToolchainStatus) {
	spec, specKnown := platformSpecs[c.platformKey]

	items := []domain.DiagnosticItem{
		c.checkPinnedTool("ffmpeg", ffmpegEnvVar, spec.ffmpegFile, spec.ffmpegSHA256, specKnown, spec),
		c.checkPinnedTool("ffprobe", ffprobeEnvVar, spec.ffprobeFile, spec.ffprobeSHA256, specKnown, spec),
		c.checkPython(pythonBinary),
		c.checkDataDir(dataDir),
	}

	hasFailures := false
	var firstFailure domain.DiagnosticItem
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			if !hasFailures {
				firstFailure = item
			}
			hasFailures = true
		}
	}

	report := domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}

	platform := runtime.GOOS
	expectedVersion := ExpectedVersion
	if specKnown {
		platform = spec.id
		expectedVersion = spec.version
	}

	status := domain.ToolchainStatus{
		Ready:           !hasFailures,
		Platform:        platform,
		ExpectedVersion: expectedVersion,
	}
	if hasFailures {
		status.Code = firstFailure.ErrorCode
		status.Message = firstFailure.Message
	}

	return report, status
}

// checkPinnedTool resolves name (ffmpeg or ffprobe) from TYPEVOICE_FFMPEG/
// TYPEVOICE_FFPROBE, then TYPEVOICE_TOOLCHAIN_DIR, falling back to PATH when
// neither is set, then (when the platform is one of the two pinned specs)
// verifies its sha256 and "-version" output against the expected build.
func (c *Checker) checkPinnedTool(name, envVar, fileName, expectedSHA256 string, specKnown bool, spec platformSpec) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "tool_" + name, Name: name}

	path, err := c.resolveToolPath(name, envVar, fileName)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.ErrorCode = "E_TOOLCHAIN_NOT_READY"
		item.Message = err.Error()
		item.Hint = fmt.Sprintf("Set %s, %s, or install %s on PATH.", envVar, toolchainDirEnvVar, name)
		return item
	}

	if specKnown {
		actual, err := c.hashFile(path)
		if err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.ErrorCode = "E_TOOLCHAIN_NOT_READY"
			item.Message = fmt.Sprintf("cannot read %s binary at %s: %v", name, path, err)
			return item
		}
		if !strings.EqualFold(actual, expectedSHA256) {
			item.Status = domain.DiagnosticStatusFail
			item.ErrorCode = "E_TOOLCHAIN_CHECKSUM_MISMATCH"
			item.Message = fmt.Sprintf("%s sha256 mismatch (expected=%s actual=%s path=%s)", name, expectedSHA256, actual, path)
			item.Hint = "Re-download the pinned toolchain build; the binary on disk does not match the expected checksum."
			return item
		}

		firstLine, err := c.toolVersion(path)
		if err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.ErrorCode = "E_TOOLCHAIN_VERSION_MISMATCH"
			item.Message = fmt.Sprintf("%s -version failed: %v", name, err)
			return item
		}
		if !strings.Contains(firstLine, spec.version) {
			item.Status = domain.DiagnosticStatusFail
			item.ErrorCode = "E_TOOLCHAIN_VERSION_MISMATCH"
			item.Message = fmt.Sprintf("%s version mismatch (expected contains=%s got=%s)", name, spec.version, firstLine)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

func (c *Checker) resolveToolPath(name, envVar, fileName string) (string, error) {
	if explicit := strings.TrimSpace(c.getenv(envVar)); explicit != "" {
		if _, err := c.stat(explicit); err != nil {
			return "", fmt.Errorf("%s points to missing file: %s", envVar, explicit)
		}
		return explicit, nil
	}

	if dir := strings.TrimSpace(c.getenv(toolchainDirEnvVar)); dir != "" && fileName != "" {
		candidate := dir + string(os.PathSeparator) + fileName
		if _, err := c.stat(candidate); err == nil {
			return candidate, nil
		}
		return "", fmt.Errorf("missing tool binary %s", candidate)
	}

	path, err := c.lookPath(name)
	if err != nil {
		return "", fmt.Errorf("tool not found in PATH: %s", name)
	}
	return path, nil
}

func (c *Checker) checkPython(pythonBinary string) domain.DiagnosticItem {
	if pythonBinary == "" {
		pythonBinary = "python3"
	}
	path, err := c.lookPath(pythonBinary)
	if err != nil {
		return domain.DiagnosticItem{
			ID:        "python_runtime",
			Name:      "Python runtime",
			Status:    domain.DiagnosticStatusFail,
			ErrorCode: "E_PYTHON_NOT_READY",
			Message:   fmt.Sprintf("Python interpreter not found: %s", pythonBinary),
			Hint:      "Install the ASR runner's Python environment and ensure it is on PATH.",
		}
	}
	return domain.DiagnosticItem{
		ID:      "python_runtime",
		Name:    "Python runtime",
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

func (c *Checker) checkDataDir(dataDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "data_dir", Name: "Data directory"}

	if err := c.mkdirAll(dataDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.ErrorCode = "E_TOOLCHAIN_NOT_READY"
		item.Message = fmt.Sprintf("Cannot create data directory: %s", dataDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dataDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.ErrorCode = "E_TOOLCHAIN_NOT_READY"
		item.Message = fmt.Sprintf("Data directory is not writable: %s", dataDir)
		item.Hint = "Choose a writable directory for settings, history, and traces."
		return item
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dataDir)
	return item
}

func sha256HexFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func runToolVersion(path string) (string, error) {
	out, err := exec.Command(path, "-version").CombinedOutput()
	if err != nil {
		return "", err
	}
	lines := strings.SplitN(string(out), "\n", 2)
	return strings.TrimSpace(lines[0]), nil
}
