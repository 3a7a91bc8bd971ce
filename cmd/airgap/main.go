package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/a-h/airgap/artifactcache"
	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/download"
	"github.com/a-h/airgap/events"
	"github.com/a-h/airgap/httpclient"
	"github.com/a-h/airgap/manifest"
	"github.com/a-h/airgap/marker"
	"github.com/a-h/airgap/metadata"
	"github.com/a-h/airgap/metadatacache"
	"github.com/a-h/airgap/metrics"
	"github.com/a-h/airgap/orchestrator"
	"github.com/a-h/airgap/resolve"
	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	v1 "github.com/google/go-containerregistry/pkg/v1"
)

type Globals struct {
	Verbose bool `help:"Enable verbose logging" short:"v" env:"AIRGAP_VERBOSE"`
}

type CLI struct {
	Globals
	Version  VersionCmd  `cmd:"" help:"Show version information"`
	Resolve  ResolveCmd  `cmd:"" help:"Resolve transitive dependencies and print the artifact list"`
	Download DownloadCmd `cmd:"" help:"Resolve and download artifacts into the local cache"`
	Cache    CacheCmd    `cmd:"" help:"Artifact cache operations"`
}

var Version = "dev"

type VersionCmd struct{}

func (cmd *VersionCmd) Run(globals *Globals) error {
	fmt.Printf("%s", Version)
	return nil
}

type S3Flags struct {
	Bucket          string `help:"S3 bucket name (required when storage-type=s3)" env:"AIRGAP_S3_BUCKET"`
	Region          string `help:"S3 region" default:"us-east-1" env:"AIRGAP_S3_REGION"`
	Endpoint        string `help:"S3 endpoint URL (for MinIO/custom endpoints)" env:"AIRGAP_S3_ENDPOINT"`
	AccessKeyID     string `help:"S3 access key ID (uses IAM role if not set)" env:"AIRGAP_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `help:"S3 secret access key (uses IAM role if not set)" env:"AIRGAP_S3_SECRET_ACCESS_KEY"`
	ForcePathStyle  bool   `help:"Use path-style S3 URLs (required for MinIO)" env:"AIRGAP_S3_FORCE_PATH_STYLE"`
}

// TargetFlags describe the platform the bundle is destined for.
type TargetFlags struct {
	OS            string `help:"Target operating system" default:"linux" env:"AIRGAP_TARGET_OS"`
	Arch          string `help:"Target architecture" default:"x86_64" env:"AIRGAP_TARGET_ARCH"`
	PythonVersion string `help:"Target Python version (pip/conda)" default:"3.12" env:"AIRGAP_PYTHON_VERSION"`
}

// EndpointFlags override the default upstream repository endpoints.
type EndpointFlags struct {
	PyPIURL      string `help:"PyPI base URL" default:"https://pypi.org" env:"AIRGAP_PYPI_URL"`
	NPMRegistry  string `help:"npm registry URL" default:"https://registry.npmjs.org" env:"AIRGAP_NPM_REGISTRY"`
	MavenRepoURL string `help:"Maven repository URL" default:"https://repo1.maven.org/maven2" env:"AIRGAP_MAVEN_REPO_URL"`
	CondaChannel string `help:"Conda channel URL" default:"https://conda.anaconda.org/conda-forge" env:"AIRGAP_CONDA_CHANNEL"`
	CondaLabel   string `help:"Anaconda channel label tried when the main index has no match, e.g. rc (empty disables)" default:"rc" env:"AIRGAP_CONDA_LABEL"`
	YUMRepoURL   string `help:"YUM repository URL" env:"AIRGAP_YUM_REPO_URL"`
}

type StoreFlags struct {
	CacheRoot    string  `help:"Root directory for metadata and artifact caches" env:"AIRGAP_CACHE_ROOT"`
	DatabaseType string  `help:"Metadata cache database (sqlite, rqlite or postgres)" default:"sqlite" enum:"sqlite,rqlite,postgres" env:"AIRGAP_DATABASE_TYPE"`
	DatabaseURL  string  `help:"Metadata cache database connection URL" default:"" env:"AIRGAP_DATABASE_URL"`
	MaxCacheSize int64   `help:"Artifact cache size cap in bytes" default:"5368709120" env:"AIRGAP_MAX_CACHE_SIZE"`
	StorageType  string  `help:"Artifact storage backend (fs or s3)" default:"fs" enum:"fs,s3" env:"AIRGAP_STORAGE_TYPE"`
	S3           S3Flags `embed:"" prefix:"s3-"`
}

type ResolveCmd struct {
	Ecosystem    string   `help:"Package ecosystem (pip, conda, maven, npm, yum, docker)" required:"" enum:"pip,conda,maven,npm,yum,docker" env:"AIRGAP_ECOSYSTEM"`
	ManifestFile string   `help:"Manifest file to read roots from (requirements.txt, package.json, pom.xml, environment.yml)" type:"existingfile"`
	MaxDepth     int      `help:"Maximum dependency depth" default:"10"`
	Packages     []string `arg:"" optional:"" help:"Package specs, e.g. flask==2.0.0, express@^4.18, org.springframework:spring-core:5.3.0"`
	Target       TargetFlags   `embed:"" prefix:"target-"`
	Endpoints    EndpointFlags `embed:""`
	Store        StoreFlags    `embed:""`
}

func (cmd *ResolveCmd) Run(globals *Globals) error {
	ctx := context.Background()
	log := newLogger(globals)

	env, closer, err := newEnvironment(ctx, log, cmd.Store, cmd.Endpoints, cmd.Target)
	if err != nil {
		return err
	}
	defer closer()

	roots, err := collectRoots(coordinate.Ecosystem(cmd.Ecosystem), cmd.Packages, cmd.ManifestFile)
	if err != nil {
		return err
	}

	result, err := env.orch.Resolve(ctx, orchestrator.Request{
		Roots:   roots,
		Options: newResolveOptions(cmd.Target, cmd.MaxDepth),
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

type DownloadCmd struct {
	Ecosystem       string   `help:"Package ecosystem (pip, conda, maven, npm, yum, docker)" required:"" enum:"pip,conda,maven,npm,yum,docker" env:"AIRGAP_ECOSYSTEM"`
	ManifestFile    string   `help:"Manifest file to read roots from" type:"existingfile"`
	OutputDir       string   `help:"Directory the bundle is staged into" default:"./airgap-bundle" env:"AIRGAP_OUTPUT_DIR"`
	Concurrency     int      `help:"Concurrent download workers (1-16)" default:"3" env:"AIRGAP_CONCURRENCY"`
	VerifyChecksums bool     `help:"Verify artifact checksums where the index publishes them" default:"true" negatable:""`
	MaxDepth        int      `help:"Maximum dependency depth" default:"10"`
	JSON            bool     `help:"Emit raw JSON events instead of progress lines"`
	MetricsAddr     string   `help:"Address for the Prometheus metrics endpoint (empty disables)" env:"AIRGAP_METRICS_ADDR"`
	Packages        []string `arg:"" optional:"" help:"Package specs"`
	Target          TargetFlags   `embed:"" prefix:"target-"`
	Endpoints       EndpointFlags `embed:""`
	Store           StoreFlags    `embed:""`
}

func (cmd *DownloadCmd) Run(globals *Globals) error {
	ctx := context.Background()
	log := newLogger(globals)

	env, closer, err := newEnvironment(ctx, log, cmd.Store, cmd.Endpoints, cmd.Target)
	if err != nil {
		return err
	}
	defer closer()

	if cmd.MetricsAddr != "" {
		go func() {
			if err := metrics.ListenAndServe(cmd.MetricsAddr); err != nil {
				log.Error("metrics listener failed", slog.String("error", err.Error()))
			}
		}()
	}

	roots, err := collectRoots(coordinate.Ecosystem(cmd.Ecosystem), cmd.Packages, cmd.ManifestFile)
	if err != nil {
		return err
	}

	stream, err := env.orch.Run(ctx, orchestrator.Job{
		Roots:           roots,
		Options:         newResolveOptions(cmd.Target, cmd.MaxDepth),
		OutputDir:       cmd.OutputDir,
		Concurrency:     cmd.Concurrency,
		VerifyChecksums: cmd.VerifyChecksums,
		ResolveFirst:    true,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	var failed int
	for ev := range stream {
		if cmd.JSON {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			continue
		}
		printEvent(ev)
		if ev.Type == events.Complete && !ev.CompleteMsg.Success {
			failed = ev.CompleteMsg.Stats.Failed
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d artifacts failed to download", failed)
	}
	return nil
}

func printEvent(ev events.Event) {
	switch ev.Type {
	case events.Status:
		fmt.Printf("[%s] %s\n", ev.StatusMsg.Phase, ev.StatusMsg.Message)
	case events.DepsResolved:
		fmt.Printf("resolved %d artifacts from %d roots (%d failed)\n", len(ev.DepsMsg.All), len(ev.DepsMsg.Original), len(ev.DepsMsg.Failed))
	case events.Progress:
		p := ev.ProgressMsg
		fmt.Printf("  %s %s: %s / %s (%.0f%%, %s/s)\n", p.Name, p.Version,
			humanize.Bytes(uint64(p.BytesDone)), humanize.Bytes(uint64(p.BytesTotal)), p.Percent, humanize.Bytes(uint64(p.Speed)))
	case events.ItemComplete:
		msg := ev.ItemMsg.Status
		if ev.ItemMsg.Error != "" {
			msg += ": " + ev.ItemMsg.Error
		}
		fmt.Printf("  %s: %s\n", ev.ItemMsg.Coord, msg)
	case events.Complete:
		s := ev.CompleteMsg.Stats
		fmt.Printf("done: success=%t, %d completed, %d failed, %d skipped, %s in %s\n",
			ev.CompleteMsg.Success, s.Completed, s.Failed, s.Skipped,
			humanize.Bytes(uint64(s.TotalBytes)), humanize.RelTime(ev.At.Add(-durationMS(s.DurationMS)), ev.At, "", ""))
	}
}

type CacheCmd struct {
	Stats CacheStatsCmd `cmd:"" help:"Show artifact cache statistics"`
	Clear CacheClearCmd `cmd:"" help:"Remove every cached artifact"`
}

type CacheStatsCmd struct {
	Store StoreFlags `embed:""`
}

func (cmd *CacheStatsCmd) Run(globals *Globals) error {
	ctx := context.Background()
	env, closer, err := newEnvironment(ctx, newLogger(globals), cmd.Store, EndpointFlags{}, TargetFlags{})
	if err != nil {
		return err
	}
	defer closer()
	stats, err := env.orch.CacheStats(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

type CacheClearCmd struct {
	Store StoreFlags `embed:""`
}

func (cmd *CacheClearCmd) Run(globals *Globals) error {
	ctx := context.Background()
	env, closer, err := newEnvironment(ctx, newLogger(globals), cmd.Store, EndpointFlags{}, TargetFlags{})
	if err != nil {
		return err
	}
	defer closer()
	return env.orch.ClearCache(ctx)
}

type environment struct {
	orch *orchestrator.Orchestrator
}

func newLogger(globals *Globals) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if globals.Verbose {
		opts.Level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newEnvironment(ctx context.Context, log *slog.Logger, store StoreFlags, endpoints EndpointFlags, target TargetFlags) (*environment, func(), error) {
	if store.CacheRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		store.CacheRoot = filepath.Join(home, ".airgap")
	}
	if err := os.MkdirAll(store.CacheRoot, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create cache root: %w", err)
	}
	if store.DatabaseURL == "" {
		store.DatabaseURL = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_busy_timeout=5000&_txlock=immediate&_journal_mode=DELETE", filepath.Join(store.CacheRoot, "metadata.db"))
	}

	disk, dbCloser, err := metadatacache.NewDiskStore(ctx, store.DatabaseType, store.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open metadata cache database: %w", err)
	}
	mdcache := metadatacache.New(disk, 0)

	var storage artifactcache.Storage
	switch store.StorageType {
	case "s3":
		if store.S3.Bucket == "" {
			_ = dbCloser()
			return nil, nil, fmt.Errorf("--s3-bucket must also be set when --storage-type=s3")
		}
		storage, err = artifactcache.NewS3(ctx, artifactcache.S3Config{
			Bucket:          store.S3.Bucket,
			Region:          store.S3.Region,
			Endpoint:        store.S3.Endpoint,
			AccessKeyID:     store.S3.AccessKeyID,
			SecretAccessKey: store.S3.SecretAccessKey,
			ForcePathStyle:  store.S3.ForcePathStyle,
		})
		if err != nil {
			_ = dbCloser()
			return nil, nil, fmt.Errorf("failed to create S3 storage: %w", err)
		}
	default:
		storage = artifactcache.NewFileSystem(filepath.Join(store.CacheRoot, "artifacts"))
	}

	client := httpclient.New(httpclient.Config{Log: log})
	cache := artifactcache.New(storage, store.MaxCacheSize)
	downloader := download.NewDownloader(client, cache, filepath.Join(store.CacheRoot, "tmp"))

	m, err := metrics.New()
	if err != nil {
		log.Warn("metrics disabled", slog.String("error", err.Error()))
	}

	env := marker.Environment{
		PythonVersion:      target.PythonVersion,
		PythonFullVersion:  target.PythonVersion + ".0",
		SysPlatform:        sysPlatform(target.OS),
		PlatformSystem:     platformSystem(target.OS),
		PlatformMachine:    target.Arch,
		OSName:             osName(target.OS),
		ImplementationName: "cpython",
	}

	condaFetcher := metadata.NewCondaFetcher(client, mdcache, endpoints.CondaChannel, target.PythonVersion, condaSubdir(target.OS, target.Arch))
	// Anaconda serves channel labels (RC builds etc.) as a channel of their
	// own, at {channel}/label/{label}; the adapter falls back to it when
	// the main index has no match.
	var condaLabelFetcher *metadata.CondaFetcher
	if endpoints.CondaLabel != "" {
		labelChannel := strings.TrimRight(endpoints.CondaChannel, "/") + "/label/" + endpoints.CondaLabel
		condaLabelFetcher = metadata.NewCondaFetcher(client, mdcache, labelChannel, target.PythonVersion, condaSubdir(target.OS, target.Arch))
	}
	resolvers := map[coordinate.Ecosystem]resolve.Adapter{
		coordinate.Pip:   resolve.NewPipAdapter(metadata.NewPyPIFetcher(client, mdcache, endpoints.PyPIURL), env),
		coordinate.NPM:   resolve.NewNPMAdapter(metadata.NewNPMFetcher(client, mdcache, endpoints.NPMRegistry)),
		coordinate.Maven: resolve.NewMavenAdapter(metadata.NewMavenFetcher(client, mdcache, endpoints.MavenRepoURL)),
		coordinate.Conda: resolve.NewCondaAdapter(condaFetcher, condaLabelFetcher),
		coordinate.YUM:   resolve.NewYUMAdapter(metadata.NewYUMFetcher(client, mdcache, endpoints.YUMRepoURL)),
	}

	orch := orchestrator.New(orchestrator.Config{
		Resolvers:  resolvers,
		Cache:      cache,
		Downloader: downloader,
		Metrics:    m,
		Log:        log,
		Docker: metadata.NewDockerFetcher("", &v1.Platform{
			OS:           sysPlatform(target.OS),
			Architecture: dockerArch(target.Arch),
		}),
	})

	return &environment{orch: orch}, func() { _ = dbCloser() }, nil
}

func newResolveOptions(target TargetFlags, maxDepth int) resolve.Options {
	return resolve.Options{
		TargetOS:      target.OS,
		Architecture:  target.Arch,
		PythonVersion: target.PythonVersion,
		MaxDepth:      maxDepth,
	}
}

// collectRoots merges manifest-file roots with command-line package specs.
func collectRoots(eco coordinate.Ecosystem, specs []string, manifestFile string) ([]orchestrator.RootRequest, error) {
	var roots []orchestrator.RootRequest

	if manifestFile != "" {
		parser, ok := manifest.Parsers[manifest.Ecosystem(eco)]
		if !ok {
			return nil, fmt.Errorf("no manifest parser for ecosystem %q", eco)
		}
		body, err := os.ReadFile(manifestFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		parsed, err := parser(string(body))
		if err != nil {
			return nil, err
		}
		for _, r := range parsed {
			roots = append(roots, orchestrator.RootRequest{Ecosystem: eco, Name: r.Name, Constraint: r.Constraint, Hints: r.Hints})
		}
	}

	for _, spec := range specs {
		name, constraint := splitSpec(eco, spec)
		roots = append(roots, orchestrator.RootRequest{Ecosystem: eco, Name: name, Constraint: constraint})
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no packages given: pass package specs or --manifest-file")
	}
	return roots, nil
}

// splitSpec splits a command-line package spec into name and constraint
// using the ecosystem's conventional separator.
func splitSpec(eco coordinate.Ecosystem, spec string) (name, constraint string) {
	switch eco {
	case coordinate.Docker:
		// library/nginx:1.27; the tag follows the last colon.
		if idx := strings.LastIndex(spec, ":"); idx > 0 {
			return spec[:idx], spec[idx+1:]
		}
		return spec, "latest"
	case coordinate.NPM:
		// express@^4.18.2; a leading @ belongs to the scope, not the range.
		if idx := strings.LastIndex(spec, "@"); idx > 0 {
			return spec[:idx], spec[idx+1:]
		}
		return spec, ""
	case coordinate.Maven:
		// group:artifact:version.
		if idx := strings.LastIndex(spec, ":"); idx > 0 && strings.Count(spec, ":") >= 2 {
			return spec[:idx], spec[idx+1:]
		}
		return spec, ""
	default:
		for i, r := range spec {
			switch r {
			case '=', '<', '>', '!', '~':
				return strings.TrimSpace(spec[:i]), strings.TrimSpace(spec[i:])
			}
		}
		return spec, ""
	}
}

func sysPlatform(os string) string {
	switch os {
	case "darwin", "macos":
		return "darwin"
	case "windows":
		return "win32"
	default:
		return "linux"
	}
}

func platformSystem(os string) string {
	switch os {
	case "darwin", "macos":
		return "Darwin"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}

func osName(os string) string {
	if os == "windows" {
		return "nt"
	}
	return "posix"
}

func dockerArch(arch string) string {
	switch arch {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	}
	return arch
}

func condaSubdir(os, arch string) string {
	a := arch
	switch arch {
	case "x86_64", "amd64":
		a = "64"
	case "aarch64", "arm64":
		a = "aarch64"
	}
	switch os {
	case "darwin", "macos":
		return "osx-" + a
	case "windows":
		return "win-" + a
	default:
		return "linux-" + a
	}
}

func durationMS(ms int64) (d time.Duration) {
	return time.Duration(ms) * time.Millisecond
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("airgap"),
		kong.Description("Pre-fetch packages and their transitive dependencies for transfer into air-gapped networks."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
