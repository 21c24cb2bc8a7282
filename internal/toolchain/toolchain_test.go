package toolchain

import (
	"os"
	"testing"

	"typevoice/internal/domain"
)

// fakeChecker uses an unmapped platformKey so Run never reaches checksum or
// version verification: these tests exercise only the lookup/missing-tool
// path, which is platform independent.
func fakeChecker(lookPath func(string) (string, error)) *Checker {
	return NewCheckerForTests(
		lookPath,
		os.Stat,
		func(string, os.FileMode) error { return nil },
		os.CreateTemp,
		os.Remove,
		func(string) (string, error) { return "", nil },
		func(string) (string, error) { return "", nil },
		func(string) string { return "" },
		"",
	)
}

func TestRunAllPassingYieldsReady(t *testing.T) {
	c := fakeChecker(func(string) (string, error) { return "/usr/bin/tool", nil })

	_, status := c.Run(t.TempDir(), "python3")
	if !status.Ready {
		t.Fatalf("expected ready, got %+v", status)
	}
}

func TestRunMissingFFmpegYieldsNotReady(t *testing.T) {
	c := fakeChecker(func(name string) (string, error) {
		if name == "ffmpeg" {
			return "", os.ErrNotExist
		}
		return "/usr/bin/" + name, nil
	})

	report, status := c.Run(t.TempDir(), "python3")
	if status.Ready {
		t.Fatal("expected not ready when ffmpeg is missing")
	}
	if status.Code != "E_TOOLCHAIN_NOT_READY" {
		t.Fatalf("unexpected code: %s", status.Code)
	}
	if !report.HasFailures {
		t.Fatal("expected report.HasFailures = true")
	}
}

func TestRunMissingPythonYieldsPythonNotReady(t *testing.T) {
	c := fakeChecker(func(name string) (string, error) {
		if name == "python3" {
			return "", os.ErrNotExist
		}
		return "/usr/bin/" + name, nil
	})

	_, status := c.Run(t.TempDir(), "")
	if status.Ready {
		t.Fatal("expected not ready when python is missing")
	}
	if status.Code != "E_PYTHON_NOT_READY" {
		t.Fatalf("unexpected code: %s", status.Code)
	}
}

func TestCheckPinnedToolChecksumMismatchOnKnownPlatform(t *testing.T) {
	c := NewCheckerForTests(
		func(string) (string, error) { return "/usr/bin/tool", nil },
		os.Stat,
		func(string, os.FileMode) error { return nil },
		os.CreateTemp,
		os.Remove,
		func(string) (string, error) { return "deadbeef", nil },
		func(string) (string, error) { return "ffmpeg version 7.0.2", nil },
		func(string) string { return "" },
		"",
	)

	item := c.checkPinnedTool("ffmpeg", ffmpegEnvVar, "ffmpeg", "cafebabe", true, platformSpec{version: "7.0.2"})
	if item.ErrorCode != "E_TOOLCHAIN_CHECKSUM_MISMATCH" {
		t.Fatalf("unexpected code: %s", item.ErrorCode)
	}
}

func TestCheckPinnedToolVersionMismatchOnKnownPlatform(t *testing.T) {
	c := NewCheckerForTests(
		func(string) (string, error) { return "/usr/bin/tool", nil },
		os.Stat,
		func(string, os.FileMode) error { return nil },
		os.CreateTemp,
		os.Remove,
		func(string) (string, error) { return "cafebabe", nil },
		func(string) (string, error) { return "ffmpeg version 6.0.0", nil },
		func(string) string { return "" },
		"",
	)

	item := c.checkPinnedTool("ffmpeg", ffmpegEnvVar, "ffmpeg", "cafebabe", true, platformSpec{version: "7.0.2"})
	if item.ErrorCode != "E_TOOLCHAIN_VERSION_MISMATCH" {
		t.Fatalf("unexpected code: %s", item.ErrorCode)
	}
}

func TestCheckPinnedToolSkipsVerificationOnUnknownPlatform(t *testing.T) {
	c := NewCheckerForTests(
		func(string) (string, error) { return "/usr/bin/tool", nil },
		os.Stat,
		func(string, os.FileMode) error { return nil },
		os.CreateTemp,
		os.Remove,
		func(string) (string, error) { t.Fatal("hashFile should not be called"); return "", nil },
		func(string) (string, error) { t.Fatal("toolVersion should not be called"); return "", nil },
		func(string) string { return "" },
		"",
	)

	item := c.checkPinnedTool("ffmpeg", ffmpegEnvVar, "", "", false, platformSpec{})
	if item.Status != domain.DiagnosticStatusPass {
		t.Fatalf("expected pass on unknown platform, got %+v", item)
	}
}
