// Package builder turns a cloned source tree into a running container,
// dispatching to one of several build strategies depending on an
// Application's BuildType.
package builder

import (
	"os"
	"path/filepath"

	"github.com/rivetr/controlplane/internal/models"
)

// Detection is the result of inspecting a source tree when an application
// does not pin an explicit BuildType.
type Detection struct {
	BuildType      models.BuildType
	DockerfilePath string
	PublishDir     string
	DetectedFrom   string
}

// DetectBuildType inspects sourceDir and picks the most specific build
// strategy available, in the same priority order as a human reviewing the
// repository root would: an explicit Dockerfile beats a compose file beats
// a builder-specific config file beats framework heuristics, falling back
// to Nixpacks auto-detection when nothing else matches.
func DetectBuildType(sourceDir string) Detection {
	if path, ok := findDockerfile(sourceDir); ok {
		return Detection{BuildType: models.BuildDockerfile, DockerfilePath: path, DetectedFrom: path + " found"}
	}
	for _, name := range []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"} {
		if exists(sourceDir, name) {
			return Detection{BuildType: models.BuildDockerCompose, DetectedFrom: name + " found"}
		}
	}
	if exists(sourceDir, "railpack.toml") {
		return Detection{BuildType: models.BuildRailpack, DetectedFrom: "railpack.toml found"}
	}
	if exists(sourceDir, "project.toml") {
		return Detection{BuildType: models.BuildCNB, DetectedFrom: "project.toml found"}
	}
	if exists(sourceDir, "nixpacks.toml") {
		return Detection{BuildType: models.BuildNixpacks, DetectedFrom: "nixpacks.toml found"}
	}
	if dir, ok := detectStaticSite(sourceDir); ok {
		return Detection{BuildType: models.BuildStatic, PublishDir: dir, DetectedFrom: "static site framework detected"}
	}
	if exists(sourceDir, "package.json") || exists(sourceDir, "requirements.txt") ||
		exists(sourceDir, "pyproject.toml") || exists(sourceDir, "go.mod") {
		return Detection{BuildType: models.BuildNixpacks, DetectedFrom: "language file detected"}
	}
	return Detection{BuildType: models.BuildNixpacks, DetectedFrom: "no specific build configuration found, defaulting to nixpacks auto-detection"}
}

func findDockerfile(sourceDir string) (string, bool) {
	names := []string{"Dockerfile", "dockerfile", "Containerfile", "containerfile"}
	for _, name := range names {
		if exists(sourceDir, name) {
			return name, true
		}
	}
	for _, subdir := range []string{"docker", ".docker", "build"} {
		for _, name := range names {
			rel := filepath.Join(subdir, name)
			if exists(sourceDir, rel) {
				return rel, true
			}
		}
	}
	return "", false
}

// detectStaticSite recognizes output directories for frameworks that ship
// as static assets with no server process: a subset of the original
// detector's framework list (Vite, Astro, plain HTML), enough to exercise the
// static build path without re-implementing every framework heuristic.
func detectStaticSite(sourceDir string) (string, bool) {
	if exists(sourceDir, "vite.config.js") || exists(sourceDir, "vite.config.ts") {
		return "dist", true
	}
	if exists(sourceDir, "astro.config.mjs") {
		return "dist", true
	}
	if exists(sourceDir, "index.html") && !exists(sourceDir, "package.json") {
		return ".", true
	}
	return "", false
}

func exists(sourceDir, relPath string) bool {
	_, err := os.Stat(filepath.Join(sourceDir, relPath))
	return err == nil
}
