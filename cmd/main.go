package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/orcastor/vdisk/cache"
	"github.com/orcastor/vdisk/core"
	"github.com/orcastor/vdisk/rpc"
	"github.com/orcastor/vdisk/uploader"
	"github.com/orcastor/vdisk/vfs"
)

var (
	configFile = flag.String("config", "", "Configuration file path (JSON, or YAML with a .yaml extension)")
	action     = flag.String("action", "", "Operation type: mount, checkin, status, recover")
	mountPoint = flag.String("mountpoint", "", "Mount point (for mount)")
	foreground = flag.Bool("foreground", false, "Run in foreground and unmount on SIGINT/SIGTERM (for mount)")
	allowOther = flag.Bool("allow-other", false, "Allow other users to access the mount (for mount)")
	debug      = flag.Bool("debug", false, "Enable debug output with timestamps")

	// Configuration parameters (override the configuration file and VDISK_* variables)
	imageName   = flag.String("image", "", "Image name, also the object prefix in the chunk pool")
	chunkSize   = flag.Int64("chunksize", 0, "Chunk size in bytes (power of two)")
	initialSize = flag.Int64("size", 0, "Initial image size in bytes (default: size of the base image)")
	cacheRoot   = flag.String("cache", "", "Modified chunk cache directory")
	basePath    = flag.String("base", "", "Base image file")
	baseURL     = flag.String("baseurl", "", "Base image URL (HTTP range requests)")
	poolPath    = flag.String("pool", "", "Local chunk pool directory")
	poolURL     = flag.String("poolurl", "", "Remote chunk pool URL")
	uploadRate  = flag.Int64("rate", -1, "Upload rate cap in bytes per second (0 = unlimited)")
	flagStore   = flag.String("flagstore", "", "Where the uploaded flag is kept: mode or xattr")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Debug || *debug {
		core.SetDebugEnabled(true)
	}

	base, err := openBase(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open base image: %v\n", err)
		os.Exit(1)
	}
	if cfg.InitialSize == 0 {
		cfg.InitialSize = base.Size()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch *action {
	case "mount":
		err = runMount(cfg, base)
	case "checkin":
		err = runCheckin(cfg)
	case "status":
		err = runStatus(cfg)
	case "recover":
		err = runRecover(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Error: Must specify operation type (use -action mount, checkin, status or recover)\n")
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", *action, err)
		if errors.Is(err, core.ERR_INVALID_CACHE) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig(*configFile)
	if err != nil {
		return nil, err
	}

	// Command line arguments take precedence
	if *imageName != "" {
		cfg.ImageName = *imageName
	}
	if *chunkSize > 0 {
		cfg.ChunkSize = *chunkSize
	}
	if *initialSize > 0 {
		cfg.InitialSize = *initialSize
	}
	if *cacheRoot != "" {
		cfg.CacheRoot = *cacheRoot
	}
	if *basePath != "" {
		cfg.BasePath = *basePath
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *poolPath != "" {
		cfg.PoolPath = *poolPath
	}
	if *poolURL != "" {
		cfg.PoolURL = *poolURL
	}
	if *uploadRate >= 0 {
		cfg.UploadRate = *uploadRate
	}
	if *flagStore != "" {
		cfg.FlagStore = *flagStore
	}
	if *action == "checkin" {
		cfg.Checkin = true
	}
	return cfg, nil
}

func openBase(cfg *core.Config) (vfs.BaseImage, error) {
	switch {
	case cfg.BasePath != "":
		return vfs.OpenFileBase(cfg.BasePath)
	case cfg.BaseURL != "":
		return vfs.NewHTTPBase(cfg.BaseURL)
	}
	return vfs.ZeroBase{}, nil
}

// openPool returns nil when no pool is configured, the mode without upload
// tracking.
func openPool(cfg *core.Config) core.ChunkPool {
	switch {
	case cfg.PoolPath != "":
		return core.NewDefaultPoolAdapter(cfg.PoolPath)
	case cfg.PoolURL != "":
		return rpc.NewPoolClient(cfg.PoolURL, cfg.PoolSecret)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCheckin(cfg *core.Config) error {
	pool := openPool(cfg)
	if pool == nil {
		return fmt.Errorf("%w: checkin needs pool_path or pool_url", core.ERR_INVALID_CONFIG)
	}
	img, err := cache.Open(cfg)
	if err != nil {
		return err
	}
	defer img.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := uploader.New(img, pool, cfg).RunOnce(ctx)
	printResult(res)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d chunks failed to upload", res.Failed)
	}
	return nil
}

func printResult(res uploader.PassResult) {
	fmt.Printf("Checkin: scanned %d, uploaded %d (%d bytes), skipped %d, failed %d in %v\n",
		res.Scanned, res.Uploaded, res.Bytes, res.Skipped, res.Failed, res.Elapsed)
}

type status struct {
	Image             string `json:"image"`
	ChunkSize         int64  `json:"chunk_size"`
	InitialSize       int64  `json:"initial_size"`
	TotalChunks       uint64 `json:"total_chunks"`
	ChunksModified    int64  `json:"chunks_modified"`
	ChunksNotUploaded int64  `json:"chunks_modified_not_uploaded"`
	UploadDisabled    bool   `json:"upload_disabled,omitempty"`
}

func runStatus(cfg *core.Config) error {
	img, err := cache.Open(cfg)
	if err != nil {
		return err
	}
	defer img.Close()

	out, _ := json.MarshalIndent(status{
		Image:             img.Name(),
		ChunkSize:         img.ChunkSize(),
		InitialSize:       img.InitialSize(),
		TotalChunks:       img.TotalChunks(),
		ChunksModified:    img.Stats().ChunksModified.Value(),
		ChunksNotUploaded: img.Stats().ChunksModifiedNotUploaded.Value(),
		UploadDisabled:    !cfg.UploadEnabled(),
	}, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runRecover(cfg *core.Config) error {
	img, err := cache.Open(cfg)
	if err != nil {
		return err
	}
	defer img.Close()
	fmt.Printf("Cache %s is consistent: %d modified chunks, %d not uploaded\n", cfg.CacheRoot,
		img.Stats().ChunksModified.Value(), img.Stats().ChunksModifiedNotUploaded.Value())
	return nil
}
